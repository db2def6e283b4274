package models

import "time"

// Event types published to the message event bus.
const (
	EventMessageSent   = "MESSAGE_SENT"
	EventMessageFailed = "MESSAGE_FAILED"
)

// MessageEvent is the envelope published for UI and notification consumers
// after every send attempt settles.
type MessageEvent struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"message_id"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Channel    string    `json:"channel"`
	ExternalID string    `json:"external_id,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
