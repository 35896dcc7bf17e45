package diary

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked 表示同一会话已有进行中的回合。
var ErrLocked = errors.New("turn lock is held")

// TurnLocker 为单个会话提供互斥的回合锁。release 可重复调用。
type TurnLocker interface {
	Acquire(ctx context.Context, sessionID string) (release func(), err error)
}

// MemoryLocker 是进程内实现，单实例部署使用。
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[sessionID]; ok {
		return nil, ErrLocked
	}
	l.held[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, sessionID)
			l.mu.Unlock()
		})
	}, nil
}

// 只有持有者本人的 token 才能删除锁，避免过期后误删他人的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁，多实例部署共享。
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker 解析连接串并检查连通性。
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: "voice-diary:turn:"}, nil
}

func (l *RedisLocker) key(sessionID string) string {
	return l.prefix + sessionID
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := l.key(sessionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 请求 ctx 可能已超时，释放时使用独立的短超时
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				log.Printf("[diary] release turn lock %s failed: %v", sessionID, err)
			}
		})
	}, nil
}

// Close 关闭 Redis 连接。
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
