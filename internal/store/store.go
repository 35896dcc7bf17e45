package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

var (
	ErrDeviceIDRequired = errors.New("device id is required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session already closed")
	ErrInvalidRole      = errors.New("invalid message role")
)

// Store persists users, sessions and their messages.
type Store interface {
	// UpsertUser returns the user bound to deviceID, creating it on first use.
	UpsertUser(ctx context.Context, deviceID string) (diary.User, error)
	CreateSession(ctx context.Context, userID string) (diary.Session, error)
	GetSession(ctx context.Context, sessionID string) (diary.Session, error)
	// AppendMessage assigns ID and CreatedAt and stores the message.
	AppendMessage(ctx context.Context, msg diary.Message) (diary.Message, error)
	// ListMessages returns the session's messages in ascending creation order.
	ListMessages(ctx context.Context, sessionID string) ([]diary.Message, error)
	// CloseSession writes the closure onto an open session in a single update.
	CloseSession(ctx context.Context, sessionID string, closure diary.Closure) (diary.Session, error)
	// ListClosedSessions returns sessions of the device closed within [from, to) that carry an emotion.
	ListClosedSessions(ctx context.Context, deviceID string, from, to time.Time) ([]diary.Session, error)
	// ListOpenSessionsBefore returns sessions still open that started before cutoff.
	ListOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]diary.Session, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	clockMu sync.Mutex
	lastTS  time.Time
)

// now returns strictly increasing UTC timestamps at microsecond precision, so messages
// appended back to back never tie on CreatedAt in any backend.
func now() time.Time {
	clockMu.Lock()
	defer clockMu.Unlock()

	ts := time.Now().UTC().Truncate(time.Microsecond)
	if !ts.After(lastTS) {
		ts = lastTS.Add(time.Microsecond)
	}
	lastTS = ts
	return ts
}
