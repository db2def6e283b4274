package models

import "time"

// Conversation status values. CLOSED is an archival state reached only via
// an explicit archive action.
const (
	ConversationStatusOpen     = "OPEN"
	ConversationStatusPending  = "PENDING"
	ConversationStatusResolved = "RESOLVED"
	ConversationStatusClosed   = "CLOSED"
)

// Conversation tracks an ongoing exchange with a single contact on one
// channel.
type Conversation struct {
	ID           string     `db:"id" json:"id"`
	TenantID     string     `db:"tenant_id" json:"tenant_id"`
	ContactID    string     `db:"contact_id" json:"contact_id"`
	ChannelType  string     `db:"channel_type" json:"channel_type"`
	Status       string     `db:"status" json:"status"`
	UnreadCount  int        `db:"unread_count" json:"unread_count"`
	AssignedToID string     `db:"assigned_to_id" json:"assigned_to_id,omitempty"`
	ClosedAt     *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
