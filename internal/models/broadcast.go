package models

import "time"

// Broadcast status values.
const (
	BroadcastStatusDraft     = "DRAFT"
	BroadcastStatusScheduled = "SCHEDULED"
	BroadcastStatusSending   = "SENDING"
	BroadcastStatusCompleted = "COMPLETED"
	BroadcastStatusFailed    = "FAILED"
	BroadcastStatusCancelled = "CANCELLED"
)

// Recipient status values. Transitions are monotonic in the order
// PENDING -> SENT -> {DELIVERED -> READ} | FAILED.
const (
	RecipientStatusPending   = "PENDING"
	RecipientStatusSent      = "SENT"
	RecipientStatusDelivered = "DELIVERED"
	RecipientStatusRead      = "READ"
	RecipientStatusFailed    = "FAILED"
)

// Audience spec kinds accepted by the dispatcher.
const (
	AudienceAllContacts = "ALL_CONTACTS"
	AudienceSegment     = "SEGMENT"
	AudienceFilter      = "FILTER"
	AudienceContacts    = "CONTACTS"
)

// AudienceSpec describes the target population of a broadcast. Exactly one
// selector is meaningful for each kind.
type AudienceSpec struct {
	Kind       string            `json:"kind"`
	SegmentID  string            `json:"segment_id,omitempty"`
	Filter     map[string]string `json:"filter,omitempty"`
	ContactIDs []string          `json:"contact_ids,omitempty"`
}

// Broadcast is a bulk send campaign targeting a resolved audience.
type Broadcast struct {
	ID              string        `db:"id" json:"id"`
	TenantID        string        `db:"tenant_id" json:"tenant_id"`
	AccountID       string        `db:"account_id" json:"account_id"`
	Name            string        `db:"name" json:"name"`
	Channel         string        `db:"channel" json:"channel"`
	Template        string        `db:"template" json:"template"`
	TemplateID      string        `db:"template_id" json:"template_id,omitempty"`
	Audience        AudienceSpec  `db:"-" json:"audience"`
	Status          string        `db:"status" json:"status"`
	TotalRecipients int           `db:"total_recipients" json:"total_recipients"`
	SentCount       int           `db:"sent_count" json:"sent_count"`
	FailedCount     int           `db:"failed_count" json:"failed_count"`
	ScheduledAt     *time.Time    `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt       *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// BroadcastRecipient is created exactly once per resolved contact when a
// broadcast transitions to SENDING, and is never re-created.
type BroadcastRecipient struct {
	ID                string            `db:"id" json:"id"`
	BroadcastID       string            `db:"broadcast_id" json:"broadcast_id"`
	ContactID         string            `db:"contact_id" json:"contact_id"`
	RecipientAddress  string            `db:"recipient_address" json:"recipient_address"`
	Variables         map[string]string `db:"-" json:"variables,omitempty"`
	Status            string            `db:"status" json:"status"`
	ProviderMessageID string            `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ErrorMessage      string            `db:"error_message" json:"error_message,omitempty"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// BroadcastStats aggregates recipient outcomes for the analytics surface.
type BroadcastStats struct {
	Total               int     `json:"total"`
	Pending             int     `json:"pending"`
	Sent                int     `json:"sent"`
	Delivered           int     `json:"delivered"`
	Read                int     `json:"read"`
	Failed              int     `json:"failed"`
	DeliveryRate        float64 `json:"delivery_rate"`
	ReadRate            float64 `json:"read_rate"`
	FailureRate         float64 `json:"failure_rate"`
	CompletedWithErrors bool    `json:"completed_with_errors"`
}

// Contact is the audience-resolution collaborator's view of a recipient.
// Attributes feed template variable substitution.
type Contact struct {
	ID         string            `json:"id"`
	Phone      string            `json:"phone,omitempty"`
	Email      string            `json:"email,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// recipientRank orders recipient statuses for monotonic merge checks.
var recipientRank = map[string]int{
	RecipientStatusPending:   0,
	RecipientStatusSent:      1,
	RecipientStatusDelivered: 2,
	RecipientStatusRead:      3,
	RecipientStatusFailed:    4,
}

// RecipientStatusAdvances reports whether moving from to next is a forward
// transition. FAILED is terminal and branches off before delivery: a
// recipient already DELIVERED or READ cannot fail retroactively.
func RecipientStatusAdvances(from, next string) bool {
	fromRank, ok := recipientRank[from]
	if !ok {
		return false
	}
	nextRank, ok := recipientRank[next]
	if !ok {
		return false
	}
	if from == RecipientStatusFailed {
		return false
	}
	if next == RecipientStatusFailed {
		return from == RecipientStatusPending || from == RecipientStatusSent
	}
	return nextRank > fromRank
}
