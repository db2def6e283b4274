// Package ratelimit implements tiered fixed-window rate limiting for
// tenants, channel-account actions and sensitive HTTP endpoints.
//
// Fixed-window counters trade request-boundary burst tolerance for
// implementation simplicity and O(1) memory per key. The Limiter interface
// is injected so single-instance deployments can use the in-process map
// while multi-instance deployments can swap in a shared cache.
package ratelimit

import (
	"fmt"
	"time"
)

// Limit describes one fixed-window quota.
type Limit struct {
	Window time.Duration
	Max    int
}

// Unlimited reports whether the limit disables counting entirely.
func (l Limit) Unlimited() bool { return l.Max <= 0 }

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds returns the retry delay rounded up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

// Stats reports current usage for a key.
type Stats struct {
	Used      int
	Remaining int
	ResetTime time.Time
}

// Limiter is a keyed fixed-window counter. Allow performs an atomic
// check-and-increment: once a key is at its limit no interleaving of
// concurrent calls admits one over the limit.
type Limiter interface {
	Allow(key string, limit Limit) (Decision, error)
	Record(key string, limit Limit) error
	Reset(key string) bool
	Stats(key string, limit Limit) (Stats, error)
}

// Subscription tiers.
const (
	TierFree         = "FREE"
	TierStarter      = "STARTER"
	TierProfessional = "PROFESSIONAL"
	TierEnterprise   = "ENTERPRISE"
	TierUnlimited    = "UNLIMITED"
)

// TierLimits maps each subscription tier onto its request quota.
var TierLimits = map[string]Limit{
	TierFree:         {Window: time.Minute, Max: 100},
	TierStarter:      {Window: time.Minute, Max: 500},
	TierProfessional: {Window: time.Minute, Max: 2000},
	TierEnterprise:   {Window: time.Minute, Max: 10000},
	TierUnlimited:    {Window: 0, Max: 0},
}

// TierLimit resolves a tier name to its limit, defaulting to FREE for
// unknown tiers.
func TierLimit(tier string) Limit {
	if l, ok := TierLimits[tier]; ok {
		return l
	}
	return TierLimits[TierFree]
}

// Per-channel-account action names.
const (
	ActionMessage  = "message"
	ActionTemplate = "template"
)

// ActionLimits gives each channel-account action its own window, isolating
// one channel's quota from another's.
var ActionLimits = map[string]Limit{
	ActionMessage:  {Window: time.Minute, Max: 60},
	ActionTemplate: {Window: time.Hour, Max: 250},
}

// AccountActionKey builds the limiter key for a channel-account action
// counter.
func AccountActionKey(accountID, action string) string {
	return fmt.Sprintf("account:%s:%s", accountID, action)
}

// TenantKey builds the limiter key for tenant-scoped request limiting.
func TenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

// EndpointRule pairs a sensitive route with its stricter limit.
type EndpointRule struct {
	Name  string
	Limit Limit
}

// EndpointRules for sensitive routes, keyed independently from tier quotas.
var EndpointRules = map[string]EndpointRule{
	"/auth/login":          {Name: "login", Limit: Limit{Window: 15 * time.Minute, Max: 5}},
	"/auth/register":       {Name: "register", Limit: Limit{Window: time.Hour, Max: 3}},
	"/auth/password-reset": {Name: "password_reset", Limit: Limit{Window: time.Hour, Max: 3}},
}

// EndpointKey builds the limiter key for a sensitive endpoint hit.
func EndpointKey(name, caller string) string {
	return fmt.Sprintf("endpoint:%s:%s", name, caller)
}
