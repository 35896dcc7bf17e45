package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS diary_sessions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	started_at      INTEGER NOT NULL,
	ended_at        INTEGER,
	transcript      TEXT,
	summary         TEXT,
	emotion_label   TEXT,
	emotion_score   REAL,
	emotion_valence REAL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_ended ON diary_sessions(user_id, ended_at);
CREATE TABLE IF NOT EXISTS session_messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES diary_sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON session_messages(session_id, created_at);
`

const sessionColumns = `s.id, s.user_id, s.started_at, s.ended_at, s.transcript, s.summary,
	s.emotion_label, s.emotion_score, s.emotion_valence`

// SQLiteStore persists diary data in a local SQLite file. Timestamps are unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path with WAL enabled.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// UpsertUser inserts the device when unseen and returns the stored row.
func (s *SQLiteStore) UpsertUser(ctx context.Context, deviceID string) (diary.User, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return diary.User{}, ErrDeviceIDRequired
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, device_id, created_at) VALUES (?, ?, ?) ON CONFLICT(device_id) DO NOTHING`,
		uuid.NewString(), deviceID, toMicros(now()))
	if err != nil {
		return diary.User{}, fmt.Errorf("upsert user: %w", err)
	}

	var user diary.User
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, device_id, created_at FROM users WHERE device_id = ?`, deviceID)
	if err := row.Scan(&user.ID, &user.DeviceID, &createdAt); err != nil {
		return diary.User{}, fmt.Errorf("load user: %w", err)
	}
	user.CreatedAt = fromMicros(createdAt)
	return user, nil
}

// CreateSession opens a new session for userID.
func (s *SQLiteStore) CreateSession(ctx context.Context, userID string) (diary.Session, error) {
	session := diary.Session{ID: uuid.NewString(), UserID: userID, StartedAt: now()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diary_sessions (id, user_id, started_at) VALUES (?, ?, ?)`,
		session.ID, session.UserID, toMicros(session.StartedAt))
	if err != nil {
		return diary.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (diary.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM diary_sessions s WHERE s.id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return diary.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return diary.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// AppendMessage inserts a message row.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg diary.Message) (diary.Message, error) {
	if !msg.Role.Valid() {
		return diary.Message{}, ErrInvalidRole
	}
	if _, err := s.GetSession(ctx, msg.SessionID); err != nil {
		return diary.Message{}, err
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, toMicros(msg.CreatedAt))
	if err != nil {
		return diary.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages ordered by creation time.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]diary.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []diary.Message
	for rows.Next() {
		var msg diary.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = diary.Role(role)
		msg.CreatedAt = fromMicros(createdAt)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CloseSession updates the session only while it is still open.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, closure diary.Closure) (diary.Session, error) {
	if closure.EndedAt.IsZero() {
		closure.EndedAt = now()
	}

	var patch diary.Session
	closure.Apply(&patch)

	// nil 指针写入 NULL
	res, err := s.db.ExecContext(ctx, `
		UPDATE diary_sessions
		SET ended_at = ?, transcript = ?, summary = ?, emotion_label = ?, emotion_score = ?, emotion_valence = ?
		WHERE id = ? AND ended_at IS NULL
	`, toMicros(closure.EndedAt), patch.Transcript, patch.Summary, patch.EmotionLabel,
		patch.EmotionScore, patch.EmotionValence, sessionID)
	if err != nil {
		return diary.Session{}, fmt.Errorf("close session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return diary.Session{}, fmt.Errorf("close session: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return diary.Session{}, err
		}
		return diary.Session{}, ErrSessionClosed
	}
	return s.GetSession(ctx, sessionID)
}

// ListClosedSessions returns emotion-tagged sessions of deviceID closed within [from, to).
func (s *SQLiteStore) ListClosedSessions(ctx context.Context, deviceID string, from, to time.Time) ([]diary.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM diary_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE u.device_id = ? AND s.ended_at >= ? AND s.ended_at < ? AND s.emotion_label IS NOT NULL
		ORDER BY s.ended_at ASC
	`, deviceID, toMicros(from), toMicros(to))
	if err != nil {
		return nil, fmt.Errorf("query closed sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListOpenSessionsBefore returns open sessions started before cutoff.
func (s *SQLiteStore) ListOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]diary.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM diary_sessions s
		WHERE s.ended_at IS NULL AND s.started_at < ?
		ORDER BY s.started_at ASC
	`, toMicros(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query open sessions: %w", err)
	}
	return collectSessions(rows)
}

// Ping verifies the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (diary.Session, error) {
	var (
		session    diary.Session
		startedAt  int64
		endedAt    sql.NullInt64
		transcript sql.NullString
		summary    sql.NullString
		label      sql.NullString
		score      sql.NullFloat64
		valence    sql.NullFloat64
	)
	if err := row.Scan(&session.ID, &session.UserID, &startedAt, &endedAt, &transcript, &summary,
		&label, &score, &valence); err != nil {
		return diary.Session{}, err
	}

	session.StartedAt = fromMicros(startedAt)
	if endedAt.Valid {
		t := fromMicros(endedAt.Int64)
		session.EndedAt = &t
	}
	if transcript.Valid {
		session.Transcript = &transcript.String
	}
	if summary.Valid {
		session.Summary = &summary.String
	}
	if label.Valid && score.Valid && valence.Valid {
		session.EmotionLabel = &label.String
		session.EmotionScore = &score.Float64
		session.EmotionValence = &valence.Float64
	}
	return session, nil
}

func collectSessions(rows *sql.Rows) ([]diary.Session, error) {
	defer rows.Close()

	var sessions []diary.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}
