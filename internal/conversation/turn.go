package conversation

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one message of the conversation. Meta holds the metrics summary of a
// finalized assistant turn.
type Turn struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Meta      string    `json:"meta,omitempty" yaml:"meta,omitempty"`
}

func NewTurn(role Role, content string, at time.Time) Turn {
	return Turn{Role: role, Content: content, Timestamp: at}
}
