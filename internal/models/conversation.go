package models

import "time"

// MessageRole identifies who authored a stored message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// MessageSource identifies how the inbound content arrived.
const (
	SourceText        = "text"
	SourceAudio       = "audio"
	SourceAudioFailed = "audio_failed"
	SourceUnsupported = "unsupported"
)

// Conversation is the canonical per-contact thread. Exactly one row
// exists per (channel account, contact phone); creation is idempotent.
type Conversation struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	AccountID         string    `json:"account_id"`
	ContactPhone      string    `json:"contact_phone"`
	ContactName       string    `json:"contact_name"`
	Opaque            bool      `json:"opaque"`
	Stage             Node      `json:"stage"`
	Language          string    `json:"language"`
	LastMessageAt     time.Time `json:"last_message_at"`
	ReengagementCount int       `json:"reengagement_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Message is an immutable append-only row belonging to a Conversation.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	Metadata       MessageMetadata `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

// MessageMetadata is structured per-message context stored as JSON.
// Model/token/cost fields are set only on assistant messages.
type MessageMetadata struct {
	Source       string  `json:"source,omitempty"`
	Forwarded    bool    `json:"forwarded,omitempty"`
	DisplayName  string  `json:"display_name,omitempty"`
	Model        string  `json:"model,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	LastError    string  `json:"last_error,omitempty"`
}
