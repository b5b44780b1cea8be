package store

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Status is the lifecycle state of a message as observed by the client.
// A user message moves sending -> completed; an assistant placeholder
// moves processing -> completed; error is terminal for either.
type Status string

const (
	StatusSending    Status = "sending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Session is one logical conversation scoped to a notebook.
type Session struct {
	ID            string     `json:"id,omitempty"`
	NotebookID    string     `json:"notebook_id"`
	UserID        string     `json:"user_id,omitempty"`
	Title         string     `json:"title"`
	MessageCount  int        `json:"message_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at,omitempty"`
}

// Message is one turn in a session. Metadata carries structured extras
// such as citations, the model used, processing duration, and the
// recovery markers ("recovered", "origin_id") set on replayed rows.
type Message struct {
	ID        string         `json:"id,omitempty"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Status    Status         `json:"status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// OriginID returns the id of the original row a recovered message was
// replayed from, or the empty string.
func (m *Message) OriginID() string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata["origin_id"].(string); ok {
		return v
	}
	return ""
}

// Recovered reports whether the message was replayed by recovery.
func (m *Message) Recovered() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["recovered"].(bool)
	return ok && v
}
