// Package oauth serializes provider token refreshes. Only one refresh may
// be in flight per channel account; concurrent senders that observe an
// expiring token await the same in-progress refresh instead of each
// invoking the provider's refresh endpoint, which would race and
// invalidate refresh tokens.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/omnidesk/dispatch-engine/internal/adapters/common"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/models"
)

// DefaultThreshold is how close to expiry a token may get before a send
// triggers a proactive refresh.
const DefaultThreshold = 5 * time.Minute

// RefreshFunc performs the provider-specific token exchange and returns the
// new expiry.
type RefreshFunc func(ctx context.Context) (expiresAt time.Time, err error)

// Option customises the refresher.
type Option func(*Refresher)

// WithThreshold overrides the proactive refresh threshold.
func WithThreshold(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.threshold = d
		}
	}
}

// WithClock overrides the clock, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// Refresher deduplicates concurrent token refreshes per account.
type Refresher struct {
	accounts  collab.AccountStore
	group     singleflight.Group
	threshold time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRefresher constructs a Refresher persisting expiries through accounts.
func NewRefresher(accounts collab.AccountStore, logger zerolog.Logger, opts ...Option) (*Refresher, error) {
	if accounts == nil {
		return nil, errors.New("oauth refresher: account store dependency is required")
	}
	r := &Refresher{
		accounts:  accounts,
		threshold: DefaultThreshold,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// EnsureFresh refreshes the account token when it expires within the
// threshold. A refresh failure aborts the caller's send with
// ErrTokenRefreshFailed rather than retrying silently.
func (r *Refresher) EnsureFresh(ctx context.Context, account *models.ChannelAccount, refresh RefreshFunc) error {
	if refresh == nil {
		return nil
	}
	if !account.TokenExpiresWithin(r.now(), r.threshold) {
		return nil
	}

	result, err, shared := r.group.Do(account.ID, func() (any, error) {
		expiresAt, err := refresh(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.accounts.UpdateTokenExpiry(ctx, account.ID, expiresAt); err != nil {
			r.logger.Error().Err(err).Str("account_id", account.ID).Msg("failed to persist refreshed token expiry")
		}
		return expiresAt, nil
	})
	if err != nil {
		return fmt.Errorf("%w: account %s: %v", common.ErrTokenRefreshFailed, account.ID, err)
	}

	expiresAt := result.(time.Time)
	account.TokenExpiresAt = &expiresAt

	r.logger.Debug().
		Str("account_id", account.ID).
		Time("expires_at", expiresAt).
		Bool("shared", shared).
		Msg("token refreshed")
	return nil
}
