package diary

import (
	"time"

	"github.com/zhouzirui/voice-diary/backend/internal/analysis/emotion"
)

// User is one app installation, identified by the device id the client generates.
type User struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	DeviceID  string    `json:"deviceId" gorm:"type:varchar(255);not null;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName pins the table name shared by every store backend.
func (User) TableName() string {
	return "users"
}

// Session captures one voice-diary conversation. It is open until EndedAt is set.
// Transcript, Summary and the emotion columns are written together when the session closes.
type Session struct {
	ID             string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID         string     `json:"userId" gorm:"type:varchar(36);not null;index"`
	StartedAt      time.Time  `json:"startedAt" gorm:"not null"`
	EndedAt        *time.Time `json:"endedAt,omitempty" gorm:"index"`
	Transcript     *string    `json:"transcript,omitempty" gorm:"type:text"`
	Summary        *string    `json:"aiSummary,omitempty" gorm:"type:text"`
	EmotionLabel   *string    `json:"emotionLabel,omitempty" gorm:"type:varchar(32)"`
	EmotionScore   *float64   `json:"emotionScore,omitempty"`
	EmotionValence *float64   `json:"emotionValence,omitempty"`

	User     User      `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Messages []Message `json:"-" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// TableName pins the table name shared by every store backend.
func (Session) TableName() string {
	return "diary_sessions"
}

// Open reports whether the session still accepts turns.
func (s Session) Open() bool {
	return s.EndedAt == nil
}

// Emotion returns the persisted emotion result, if the session has been closed with one.
func (s Session) Emotion() (emotion.Result, bool) {
	if s.EmotionLabel == nil || s.EmotionScore == nil || s.EmotionValence == nil {
		return emotion.Result{}, false
	}
	result := emotion.Result{
		Label:   emotion.Label(*s.EmotionLabel),
		Score:   *s.EmotionScore,
		Valence: *s.EmotionValence,
	}
	if s.Summary != nil {
		result.Summary = *s.Summary
	}
	return result, true
}

// Closure is everything written onto a session when it closes.
// A nil Emotion closes the session without a rating; it then never shows up in the weekly review.
type Closure struct {
	EndedAt    time.Time
	Transcript string
	Emotion    *emotion.Result
}

// Apply sets all closing fields at once.
func (c Closure) Apply(s *Session) {
	endedAt := c.EndedAt
	transcript := c.Transcript
	s.EndedAt = &endedAt
	s.Transcript = &transcript

	if c.Emotion == nil {
		s.Summary, s.EmotionLabel, s.EmotionScore, s.EmotionValence = nil, nil, nil, nil
		return
	}

	summary := c.Emotion.Summary
	label := string(c.Emotion.Label)
	score := c.Emotion.Score
	valence := c.Emotion.Valence
	s.Summary = &summary
	s.EmotionLabel = &label
	s.EmotionScore = &score
	s.EmotionValence = &valence
}
