package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/zhouzirui/voice-diary/backend/internal/model/diary"
)

// GormStore persists diary data in PostgreSQL through GORM.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to PostgreSQL and migrates the schema.
func OpenPostgres(dsn string, verbose bool) (*GormStore, error) {
	gormLogger := logger.Default.LogMode(logger.Error)
	if verbose {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:      gormLogger,
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)

	s := &GormStore{db: db}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Println("[store] connected to PostgreSQL")
	return s, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&diary.User{}, &diary.Session{}, &diary.Message{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// UpsertUser inserts the device when unseen and returns the stored row.
func (s *GormStore) UpsertUser(ctx context.Context, deviceID string) (diary.User, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return diary.User{}, ErrDeviceIDRequired
	}

	db := s.db.WithContext(ctx)
	candidate := diary.User{ID: uuid.NewString(), DeviceID: deviceID, CreatedAt: now()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(&candidate).Error
	if err != nil {
		return diary.User{}, fmt.Errorf("upsert user: %w", err)
	}

	var user diary.User
	if err := db.Where("device_id = ?", deviceID).First(&user).Error; err != nil {
		return diary.User{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// CreateSession opens a new session for userID.
func (s *GormStore) CreateSession(ctx context.Context, userID string) (diary.Session, error) {
	session := diary.Session{ID: uuid.NewString(), UserID: userID, StartedAt: now()}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&session).Error; err != nil {
		return diary.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// GetSession loads a session by id.
func (s *GormStore) GetSession(ctx context.Context, sessionID string) (diary.Session, error) {
	var session diary.Session
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return diary.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return diary.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// AppendMessage inserts a message row.
func (s *GormStore) AppendMessage(ctx context.Context, msg diary.Message) (diary.Message, error) {
	if !msg.Role.Valid() {
		return diary.Message{}, ErrInvalidRole
	}
	if _, err := s.GetSession(ctx, msg.SessionID); err != nil {
		return diary.Message{}, err
	}

	msg.ID = uuid.NewString()
	msg.CreatedAt = now()
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return diary.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages ordered by creation time.
func (s *GormStore) ListMessages(ctx context.Context, sessionID string) ([]diary.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	var messages []diary.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// CloseSession updates the session only while it is still open.
func (s *GormStore) CloseSession(ctx context.Context, sessionID string, closure diary.Closure) (diary.Session, error) {
	if closure.EndedAt.IsZero() {
		closure.EndedAt = now()
	}
	var patch diary.Session
	closure.Apply(&patch)

	res := s.db.WithContext(ctx).
		Model(&diary.Session{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Updates(map[string]any{
			"ended_at":        patch.EndedAt,
			"transcript":      patch.Transcript,
			"summary":         patch.Summary,
			"emotion_label":   patch.EmotionLabel,
			"emotion_score":   patch.EmotionScore,
			"emotion_valence": patch.EmotionValence,
		})
	if res.Error != nil {
		return diary.Session{}, fmt.Errorf("close session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return diary.Session{}, err
		}
		return diary.Session{}, ErrSessionClosed
	}
	return s.GetSession(ctx, sessionID)
}

// ListClosedSessions returns emotion-tagged sessions of deviceID closed within [from, to).
func (s *GormStore) ListClosedSessions(ctx context.Context, deviceID string, from, to time.Time) ([]diary.Session, error) {
	var sessions []diary.Session
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = diary_sessions.user_id").
		Where("users.device_id = ?", deviceID).
		Where("diary_sessions.ended_at >= ? AND diary_sessions.ended_at < ?", from.UTC(), to.UTC()).
		Where("diary_sessions.emotion_label IS NOT NULL").
		Order("diary_sessions.ended_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list closed sessions: %w", err)
	}
	return sessions, nil
}

// ListOpenSessionsBefore returns open sessions started before cutoff.
func (s *GormStore) ListOpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]diary.Session, error) {
	var sessions []diary.Session
	err := s.db.WithContext(ctx).
		Where("ended_at IS NULL AND started_at < ?", cutoff.UTC()).
		Order("started_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	return sessions, nil
}

// Ping verifies the database connection is alive.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
