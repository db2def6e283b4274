package models

import "time"

// Message direction values.
const (
	DirectionInbound  = "IN"
	DirectionOutbound = "OUT"
)

// Content types carried by a normalized message.
const (
	ContentTypeText     = "text"
	ContentTypeRichText = "rich_text"
	ContentTypeImage    = "image"
	ContentTypeDocument = "document"
	ContentTypeTemplate = "template"
)

// Message status values derived from delivery timestamps.
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// NormalizedMessage is the provider-agnostic envelope produced and consumed
// by channel adapters. Adapters own the translation between this shape and
// each provider's wire format.
type NormalizedMessage struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	TenantID    string            `json:"tenant_id,omitempty"`
	ChannelType string            `json:"channel_type"`
	Direction   string            `json:"direction"`
	ContentType string            `json:"content_type"`
	Content     string            `json:"content"`
	Recipient   string            `json:"recipient,omitempty"`
	Sender      string            `json:"sender,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
}

// StoredMessage is a conversation message row. Per-message status is never
// stored directly; it is derived from the timestamp columns, highest
// priority first: FailedAt > ReadAt > DeliveredAt > SentAt > pending.
type StoredMessage struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	ChannelType    string     `db:"channel_type" json:"channel_type"`
	Direction      string     `db:"direction" json:"direction"`
	ContentType    string     `db:"content_type" json:"content_type"`
	ExternalID     string     `db:"external_id" json:"external_id,omitempty"`
	FeedbackTagged bool       `db:"feedback_tagged" json:"feedback_tagged"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
	FailedAt       *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	FailureReason  string     `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Status derives the externally visible message status from the timestamp
// slots.
func (m *StoredMessage) Status() string {
	switch {
	case m.FailedAt != nil:
		return MessageStatusFailed
	case m.ReadAt != nil:
		return MessageStatusRead
	case m.DeliveredAt != nil:
		return MessageStatusDelivered
	case m.SentAt != nil:
		return MessageStatusSent
	default:
		return MessageStatusPending
	}
}

// StatusUpdate is the canonical status-webhook tuple every adapter
// normalizes provider callbacks into, regardless of provider response
// variance.
type StatusUpdate struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	ErrorCode string    `json:"error_code,omitempty"`
	ErrorText string    `json:"error_text,omitempty"`
}
