package models

import "time"

// Account status values. Accounts are never deleted, only disabled.
const (
	AccountStatusActive   = "active"
	AccountStatusDisabled = "disabled"
)

// Health status values reported by adapter probes.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// ChannelAccount is a tenant-owned credential and configuration bundle that
// enables sends on a single channel. Created when a tenant connects a
// channel; updated by health checks and token refresh.
type ChannelAccount struct {
	ID             string            `db:"id" json:"id"`
	TenantID       string            `db:"tenant_id" json:"tenant_id"`
	ChannelType    string            `db:"channel_type" json:"channel_type"`
	Credentials    map[string]string `db:"-" json:"-"`
	Status         string            `db:"status" json:"status"`
	HealthStatus   string            `db:"health_status" json:"health_status"`
	TokenExpiresAt *time.Time        `db:"token_expires_at" json:"token_expires_at,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// TokenExpiresWithin reports whether the account's token expires before
// now+threshold. Accounts without an expiry never report true.
func (a *ChannelAccount) TokenExpiresWithin(now time.Time, threshold time.Duration) bool {
	if a.TokenExpiresAt == nil {
		return false
	}
	return a.TokenExpiresAt.Before(now.Add(threshold))
}
