package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

// MemoryStore keeps everything in process memory. Suitable for demo mode and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]diary.User // keyed by device id
	sessions map[string]diary.Session
	messages map[string][]diary.Message
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]diary.User),
		sessions: make(map[string]diary.Session),
		messages: make(map[string][]diary.Message),
	}
}

// UpsertUser returns the existing user for deviceID or creates one.
func (s *MemoryStore) UpsertUser(_ context.Context, deviceID string) (diary.User, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return diary.User{}, ErrDeviceIDRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user, ok := s.users[deviceID]; ok {
		return user, nil
	}
	user := diary.User{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		CreatedAt: now(),
	}
	s.users[deviceID] = user
	return user, nil
}

// CreateSession opens a new session for userID.
func (s *MemoryStore) CreateSession(_ context.Context, userID string) (diary.Session, error) {
	session := diary.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartedAt: now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]diary.Message, 0, 8)
	s.mu.Unlock()

	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (diary.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return diary.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// AppendMessage appends a message to the session history.
func (s *MemoryStore) AppendMessage(_ context.Context, msg diary.Message) (diary.Message, error) {
	if !msg.Role.Valid() {
		return diary.Message{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[msg.SessionID]; !ok {
		return diary.Message{}, ErrSessionNotFound
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = now()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

// ListMessages returns a copy of the stored messages for the session.
func (s *MemoryStore) ListMessages(_ context.Context, sessionID string) ([]diary.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]diary.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// CloseSession closes an open session.
func (s *MemoryStore) CloseSession(_ context.Context, sessionID string, closure diary.Closure) (diary.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return diary.Session{}, ErrSessionNotFound
	}
	if !session.Open() {
		return diary.Session{}, ErrSessionClosed
	}
	if closure.EndedAt.IsZero() {
		closure.EndedAt = now()
	}
	closure.Apply(&session)
	s.sessions[sessionID] = session
	return session, nil
}

// ListClosedSessions returns emotion-tagged sessions of deviceID closed within [from, to).
func (s *MemoryStore) ListClosedSessions(_ context.Context, deviceID string, from, to time.Time) ([]diary.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[deviceID]
	if !ok {
		return nil, nil
	}

	var result []diary.Session
	for _, session := range s.sessions {
		if session.UserID != user.ID || session.EndedAt == nil || session.EmotionLabel == nil {
			continue
		}
		if session.EndedAt.Before(from) || !session.EndedAt.Before(to) {
			continue
		}
		result = append(result, session)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EndedAt.Before(*result[j].EndedAt)
	})
	return result, nil
}

// ListOpenSessionsBefore returns open sessions started before cutoff.
func (s *MemoryStore) ListOpenSessionsBefore(_ context.Context, cutoff time.Time) ([]diary.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []diary.Session
	for _, session := range s.sessions {
		if session.Open() && session.StartedAt.Before(cutoff) {
			result = append(result, session)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
