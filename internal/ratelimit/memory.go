package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type record struct {
	count int
	reset time.Time
	limit int
}

// MemoryLimiter is an in-process fixed-window Limiter. It holds exactly one
// live record per key; expired records are purged by the periodic sweep
// rather than synchronously on reads, bounding sweep cost.
//
// This is the single-instance backend. Multi-instance deployments should
// inject a shared-cache implementation of Limiter instead.
type MemoryLimiter struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
	logger  zerolog.Logger
}

// Option customises the limiter.
type Option func(*MemoryLimiter)

// WithClock overrides the clock, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(m *MemoryLimiter) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryLimiter constructs an empty in-process limiter.
func NewMemoryLimiter(logger zerolog.Logger, opts ...Option) *MemoryLimiter {
	m := &MemoryLimiter{
		records: make(map[string]*record),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Allow performs the atomic check-and-increment for key under limit.
// Unlimited limits are admitted without touching state.
func (m *MemoryLimiter) Allow(key string, limit Limit) (Decision, error) {
	if limit.Unlimited() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.records[key]
	if !ok || !rec.reset.After(now) {
		rec = &record{count: 1, reset: now.Add(limit.Window), limit: limit.Max}
		m.records[key] = rec
		return Decision{Allowed: true, Remaining: limit.Max - 1, ResetTime: rec.reset}, nil
	}

	if rec.count >= limit.Max {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  rec.reset,
			RetryAfter: rec.reset.Sub(now),
		}, nil
	}

	rec.count++
	return Decision{Allowed: true, Remaining: limit.Max - rec.count, ResetTime: rec.reset}, nil
}

// Record increments the counter for key without enforcing the limit,
// opening a fresh window when none is live.
func (m *MemoryLimiter) Record(key string, limit Limit) error {
	if limit.Unlimited() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.records[key]
	if !ok || !rec.reset.After(now) {
		m.records[key] = &record{count: 1, reset: now.Add(limit.Window), limit: limit.Max}
		return nil
	}
	rec.count++
	return nil
}

// Reset drops the record for key. It reports whether a record existed and
// is idempotent: a second call on the same key returns false and leaves
// the same empty state.
func (m *MemoryLimiter) Reset(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.records[key]
	delete(m.records, key)
	return ok
}

// Stats reports usage for key under limit without mutating the counter.
func (m *MemoryLimiter) Stats(key string, limit Limit) (Stats, error) {
	if limit.Unlimited() {
		return Stats{Remaining: -1}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.records[key]
	if !ok || !rec.reset.After(now) {
		return Stats{Used: 0, Remaining: limit.Max}, nil
	}

	remaining := limit.Max - rec.count
	if remaining < 0 {
		remaining = 0
	}
	return Stats{Used: rec.count, Remaining: remaining, ResetTime: rec.reset}, nil
}

// Sweep removes expired records and returns how many were purged.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for key, rec := range m.records {
		if !rec.reset.After(now) {
			delete(m.records, key)
			purged++
		}
	}
	return purged
}

// StartSweeper purges expired windows every interval until ctx is done.
func (m *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if purged := m.Sweep(); purged > 0 {
					m.logger.Debug().Int("purged", purged).Msg("rate limit sweep completed")
				}
			}
		}
	}()
}
