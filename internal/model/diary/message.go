package diary

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message persists individual turns of a session. Messages are append-only.
type Message struct {
	ID        string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	SessionID string    `json:"sessionId" gorm:"type:varchar(36);not null;index:idx_messages_session_created,priority:1"`
	Role      Role      `json:"role" gorm:"type:varchar(16);not null"`
	Content   string    `json:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;index:idx_messages_session_created,priority:2"`
}

// TableName pins the table name shared by every store backend.
func (Message) TableName() string {
	return "session_messages"
}

// Turn is a (role, content) pair as exchanged with the language model and the client.
type Turn struct {
	Role    Role   `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// Turns projects messages to their (role, content) pairs, preserving order.
func Turns(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// CountRole returns how many turns were authored by role.
func CountRole(turns []Turn, role Role) int {
	n := 0
	for _, turn := range turns {
		if turn.Role == role {
			n++
		}
	}
	return n
}
