package collab

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

// ErrAccountNotFound is returned when a channel account id is unknown.
var ErrAccountNotFound = errors.New("channel account not found")

// MemoryAccounts is an in-memory AccountStore used in tests and local
// development.
type MemoryAccounts struct {
	mu       sync.RWMutex
	accounts map[string]*models.ChannelAccount
}

// NewMemoryAccounts builds an account store seeded with the supplied
// accounts.
func NewMemoryAccounts(accounts ...*models.ChannelAccount) *MemoryAccounts {
	m := &MemoryAccounts{accounts: make(map[string]*models.ChannelAccount)}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

// Put inserts or replaces an account.
func (m *MemoryAccounts) Put(a *models.ChannelAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

// GetChannelAccount returns a copy of the stored account.
func (m *MemoryAccounts) GetChannelAccount(_ context.Context, id string) (*models.ChannelAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	clone := *a
	return &clone, nil
}

// UpdateHealthStatus records a health probe outcome.
func (m *MemoryAccounts) UpdateHealthStatus(_ context.Context, id, health string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.HealthStatus = health
	a.UpdatedAt = time.Now()
	return nil
}

// UpdateTokenExpiry records a refreshed token lifetime.
func (m *MemoryAccounts) UpdateTokenExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.TokenExpiresAt = &expiresAt
	a.UpdatedAt = time.Now()
	return nil
}

// MemoryContacts is an in-memory ContactStore.
type MemoryContacts struct {
	mu       sync.RWMutex
	contacts map[string][]models.Contact // tenant id -> contacts
}

// NewMemoryContacts builds a contact store.
func NewMemoryContacts() *MemoryContacts {
	return &MemoryContacts{contacts: make(map[string][]models.Contact)}
}

// Seed replaces the contact list for a tenant.
func (m *MemoryContacts) Seed(tenantID string, contacts []models.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[tenantID] = contacts
}

// ResolveAudience resolves the audience selection against the seeded contact list.
func (m *MemoryContacts) ResolveAudience(_ context.Context, tenantID string, spec models.AudienceSpec) ([]models.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.contacts[tenantID]
	switch spec.Kind {
	case models.AudienceAllContacts:
		return append([]models.Contact(nil), all...), nil
	case models.AudienceContacts:
		wanted := make(map[string]bool, len(spec.ContactIDs))
		for _, id := range spec.ContactIDs {
			wanted[id] = true
		}
		var out []models.Contact
		for _, c := range all {
			if wanted[c.ID] {
				out = append(out, c)
			}
		}
		return out, nil
	case models.AudienceSegment:
		var out []models.Contact
		for _, c := range all {
			if c.Attributes["segment"] == spec.SegmentID {
				out = append(out, c)
			}
		}
		return out, nil
	case models.AudienceFilter:
		var out []models.Contact
		for _, c := range all {
			if matchesFilter(c, spec.Filter) {
				out = append(out, c)
			}
		}
		return out, nil
	default:
		return nil, errors.New("unknown audience kind: " + spec.Kind)
	}
}

func matchesFilter(c models.Contact, filter map[string]string) bool {
	for key, want := range filter {
		if !strings.EqualFold(c.Attributes[key], want) {
			return false
		}
	}
	return true
}

// MemoryLedger is an in-memory UsageLedger with a per-tenant balance.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]float64
	costs    map[string]float64
	events   []UsageEvent
}

// NewMemoryLedger builds a ledger with per-event-type costs.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]float64),
		costs: map[string]float64{
			models.ChannelWhatsApp: 0.005,
			models.ChannelSMS:      0.01,
			models.ChannelEmail:    0.001,
		},
	}
}

// Credit adds funds for a tenant.
func (m *MemoryLedger) Credit(tenantID string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[tenantID] += amount
}

// CheckBalance reports whether the tenant can afford one event.
func (m *MemoryLedger) CheckBalance(_ context.Context, tenantID, eventType string) (BalanceCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	required := m.costs[eventType]
	balance := m.balances[tenantID]
	if balance < required {
		return BalanceCheck{
			Sufficient: false,
			Balance:    balance,
			Required:   required,
			Detail:     "insufficient balance for " + eventType,
		}, nil
	}
	return BalanceCheck{Sufficient: true, Balance: balance, Required: required}, nil
}

// RecordUsage debits the tenant and retains the event.
func (m *MemoryLedger) RecordUsage(_ context.Context, event UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[event.TenantID] -= event.Cost
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of recorded usage events.
func (m *MemoryLedger) Events() []UsageEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UsageEvent(nil), m.events...)
}

// MemoryOptOuts is an in-memory OptOutStore.
type MemoryOptOuts struct {
	mu       sync.RWMutex
	optedOut map[string]bool // channel + ":" + identifier
}

// NewMemoryOptOuts builds an empty suppression list.
func NewMemoryOptOuts() *MemoryOptOuts {
	return &MemoryOptOuts{optedOut: make(map[string]bool)}
}

// Add suppresses an identifier on a channel.
func (m *MemoryOptOuts) Add(channel, identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.optedOut[channel+":"+identifier] = true
}

// IsOptedOut reports whether the identifier is suppressed.
func (m *MemoryOptOuts) IsOptedOut(_ context.Context, channel, identifier string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.optedOut[channel+":"+identifier], nil
}
