// Package collab declares the call boundaries of external collaborators
// the dispatch engine consumes. These systems (accounts, billing, contact
// management, suppression lists) are ordinary CRUD surfaces owned
// elsewhere; the engine only ever sees these interfaces.
package collab

import (
	"context"
	"time"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

// AccountStore resolves channel accounts and persists health/token updates.
type AccountStore interface {
	GetChannelAccount(ctx context.Context, id string) (*models.ChannelAccount, error)
	UpdateHealthStatus(ctx context.Context, id, health string) error
	UpdateTokenExpiry(ctx context.Context, id string, expiresAt time.Time) error
}

// ContactStore resolves an audience specification into concrete contacts.
type ContactStore interface {
	ResolveAudience(ctx context.Context, tenantID string, spec models.AudienceSpec) ([]models.Contact, error)
}

// BalanceCheck is the usage ledger's answer to a pre-send balance probe.
type BalanceCheck struct {
	Sufficient bool
	Balance    float64
	Required   float64
	Detail     string
}

// UsageEvent records one billable action.
type UsageEvent struct {
	TenantID  string
	EventType string
	Quantity  int
	Cost      float64
	Timestamp time.Time
}

// UsageLedger answers balance checks and records usage after sends.
type UsageLedger interface {
	CheckBalance(ctx context.Context, tenantID, eventType string) (BalanceCheck, error)
	RecordUsage(ctx context.Context, event UsageEvent) error
}

// OptOutStore answers recipient-level suppression checks.
type OptOutStore interface {
	IsOptedOut(ctx context.Context, channel, identifier string) (bool, error)
}
