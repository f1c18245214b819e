package relay

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a queued message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps free text onto a Role, defaulting to assistant.
func ParseRole(s string) Role {
	if Role(s) == RoleUser {
		return RoleUser
	}
	return RoleAssistant
}

// Message sources.
const (
	SourceVapiTool      = "vapi-tool"
	SourceVoiceFunction = "voice-function"
)

// Message is a single pending message addressed to a browser session.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewMessage stamps content with a fresh id and the given time.
func NewMessage(content string, role Role, source string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      role,
		Timestamp: now.UTC(),
		Source:    source,
	}
}
