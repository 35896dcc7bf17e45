package weekly

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	diarymodel "github.com/zhouzirui/voice-diary/backend/internal/model/diary"
	"github.com/zhouzirui/voice-diary/backend/internal/store"
)

// Days 是周报覆盖的天数。
const Days = 7

const dateLayout = "2006-01-02"

var ErrDeviceIDRequired = errors.New("deviceId is required")

// Service 把最近 7 天已结束的会话汇总成按日的情绪序列。
type Service struct {
	store store.Store
	loc   *time.Location
	now   func() time.Time
}

// NewService 创建周报服务。loc 决定日期边界，为空时使用 UTC。
func NewService(st store.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: st, loc: loc, now: time.Now}
}

// Location 返回默认时区。
func (s *Service) Location() *time.Location {
	return s.loc
}

// Week 返回以今天结尾、按日期升序的 7 条记录。loc 为空时使用默认时区。
// 同一天有多次会话时取最后结束的一次；没有数据的日期只有 Date。
func (s *Service) Week(ctx context.Context, deviceID string, loc *time.Location) ([]diarymodel.WeeklyDay, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if loc == nil {
		loc = s.loc
	}

	today := s.now().In(loc)
	from := time.Date(today.Year(), today.Month(), today.Day()-(Days-1), 0, 0, 0, 0, loc)
	to := time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, loc)

	sessions, err := s.store.ListClosedSessions(ctx, deviceID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}

	type latest struct {
		endedAt time.Time
		session diarymodel.Session
	}
	byDate := make(map[string]latest, len(sessions))
	for _, session := range sessions {
		if session.EndedAt == nil {
			continue
		}
		key := session.EndedAt.In(loc).Format(dateLayout)
		if prev, ok := byDate[key]; ok && !session.EndedAt.After(prev.endedAt) {
			continue
		}
		byDate[key] = latest{endedAt: *session.EndedAt, session: session}
	}

	days := make([]diarymodel.WeeklyDay, 0, Days)
	for i := 0; i < Days; i++ {
		date := time.Date(from.Year(), from.Month(), from.Day()+i, 0, 0, 0, 0, loc).Format(dateLayout)

		entry, ok := byDate[date]
		if !ok {
			days = append(days, diarymodel.NewWeeklyDay(date, nil))
			continue
		}
		result, ok := entry.session.Emotion()
		if !ok {
			days = append(days, diarymodel.NewWeeklyDay(date, nil))
			continue
		}
		days = append(days, diarymodel.NewWeeklyDay(date, &result))
	}
	return days, nil
}
