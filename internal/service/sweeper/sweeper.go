package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zhouzirui/voice-diary/backend/internal/service/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

// SessionExpirer 结束一个被放弃的会话，通常是 diary.Service。rated 表示是否写入了情绪。
type SessionExpirer interface {
	Expire(ctx context.Context, sessionID string) (rated bool, err error)
}

// Sweeper 定期结束长时间未关闭的会话。有用户发言的会话按最后一条消息的日期计入周报，
// 没有发言的只关闭、不计入。
type Sweeper struct {
	cron       *cron.Cron
	store      store.Store
	expirer    SessionExpirer
	schedule   string
	staleAfter time.Duration
	timeout    time.Duration
	now        func() time.Time
}

// New 创建清理任务。schedule 支持标准 5 段表达式与 @every 描述符。
func New(st store.Store, expirer SessionExpirer, schedule string, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		store:      st,
		expirer:    expirer,
		schedule:   schedule,
		staleAfter: staleAfter,
		timeout:    5 * time.Minute,
		now:        time.Now,
	}
}

// Start 注册并启动定时任务。
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		closed, err := s.RunOnce(ctx)
		if err != nil {
			log.Printf("[sweeper] run failed: %v", err)
			return
		}
		if closed > 0 {
			log.Printf("[sweeper] closed %d stale sessions", closed)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.Printf("[sweeper] started, schedule=%q staleAfter=%s", s.schedule, s.staleAfter)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束。
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	log.Println("[sweeper] stopped")
}

// RunOnce 结束所有开始时间早于 staleAfter 的开放会话，返回成功结束的数量。
// 单个会话失败只记录日志，不影响其他会话。
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	sessions, err := s.store.ListOpenSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	closed := 0
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return closed, err
		}

		rated, err := s.expirer.Expire(ctx, session.ID)
		switch {
		case err == nil:
			closed++
			if !rated {
				log.Printf("[sweeper] session %s had no user turns, closed without emotion", session.ID)
			}
		case errors.Is(err, diary.ErrTurnInProgress), errors.Is(err, diary.ErrSessionClosed):
			// 用户恰好在操作，下一轮再处理
		default:
			log.Printf("[sweeper] close session %s failed: %v", session.ID, err)
		}
	}
	return closed, nil
}
