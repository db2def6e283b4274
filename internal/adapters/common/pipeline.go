package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
)

// DefaultProviderTimeout bounds every provider call.
const DefaultProviderTimeout = 10 * time.Second

// EventSink receives MESSAGE_SENT / MESSAGE_FAILED events.
type EventSink interface {
	Publish(ctx context.Context, event models.MessageEvent) error
}

// ProviderCall performs the channel-specific wire exchange and returns the
// provider-assigned external id.
type ProviderCall func(ctx context.Context) (externalID string, err error)

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithProviderTimeout overrides the per-call provider timeout.
func WithProviderTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithClock overrides the pipeline clock, useful in tests.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline runs the checks every adapter shares before and after the
// provider call: account action rate limit, usage balance, opt-out, the
// bounded provider exchange, then usage recording and event emission.
// Concrete adapters own only wire-format translation.
type Pipeline struct {
	limiter ratelimit.Limiter
	ledger  collab.UsageLedger
	optOuts collab.OptOutStore
	events  EventSink
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewPipeline assembles the shared send pipeline.
func NewPipeline(limiter ratelimit.Limiter, ledger collab.UsageLedger, optOuts collab.OptOutStore, events EventSink, logger zerolog.Logger, opts ...PipelineOption) (*Pipeline, error) {
	if limiter == nil {
		return nil, errors.New("pipeline: rate limiter dependency is required")
	}
	if ledger == nil {
		return nil, errors.New("pipeline: usage ledger dependency is required")
	}
	if optOuts == nil {
		return nil, errors.New("pipeline: opt-out store dependency is required")
	}

	p := &Pipeline{
		limiter: limiter,
		ledger:  ledger,
		optOuts: optOuts,
		events:  events,
		logger:  logger,
		timeout: DefaultProviderTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// OptedOut reports whether the recipient has suppressed the channel. Used
// by bulk senders to screen every entry before the provider call; Run only
// checks the message's own recipient. Store faults fail open, matching Run.
func (p *Pipeline) OptedOut(ctx context.Context, channelType, recipient string) bool {
	optedOut, err := p.optOuts.IsOptedOut(ctx, channelType, recipient)
	if err != nil {
		p.logger.Error().Err(err).Str("recipient", recipient).Msg("opt-out check fault, failing open")
		return false
	}
	return optedOut
}

// Run executes the shared send path for one message. Failures are returned
// as a settled SendResult, never as a panic or bare error, so batch callers
// keep processing remaining recipients.
func (p *Pipeline) Run(ctx context.Context, account *models.ChannelAccount, msg *models.NormalizedMessage, action string, cost float64, call ProviderCall) SendResult {
	limit, ok := ratelimit.ActionLimits[action]
	if !ok {
		limit = ratelimit.ActionLimits[ratelimit.ActionMessage]
	}

	decision, err := p.limiter.Allow(ratelimit.AccountActionKey(account.ID, action), limit)
	if err != nil {
		// limiter faults fail open: availability over strict quota enforcement
		p.logger.Error().Err(err).Str("account_id", account.ID).Msg("rate limiter fault, failing open")
	} else if !decision.Allowed {
		result := SendResult{
			Success:    false,
			ErrorCode:  CodeRateLimited,
			Error:      fmt.Sprintf("%v: account %s action %s", ErrRateLimited, account.ID, action),
			RetryAfter: decision.RetryAfterSeconds(),
		}
		p.emitFailed(ctx, msg, result)
		return result
	}

	balance, err := p.ledger.CheckBalance(ctx, account.TenantID, msg.ChannelType)
	if err != nil {
		p.logger.Error().Err(err).Str("tenant_id", account.TenantID).Msg("balance check fault, failing open")
	} else if !balance.Sufficient {
		result := Failure(fmt.Errorf("%w: %s", ErrInsufficientBalance, balance.Detail))
		p.emitFailed(ctx, msg, result)
		return result
	}

	optedOut, err := p.optOuts.IsOptedOut(ctx, msg.ChannelType, msg.Recipient)
	if err != nil {
		p.logger.Error().Err(err).Str("recipient", msg.Recipient).Msg("opt-out check fault, failing open")
	} else if optedOut {
		result := Failure(fmt.Errorf("%w: %s", ErrRecipientOptedOut, msg.Recipient))
		p.emitFailed(ctx, msg, result)
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	externalID, err := call(callCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: provider call exceeded %s", ErrTimeout, p.timeout)
		}
		result := Failure(err)
		p.logger.Warn().
			Str("message_id", msg.ID).
			Str("channel", msg.ChannelType).
			Str("error_code", result.ErrorCode).
			Err(err).
			Msg("send failed")
		p.emitFailed(ctx, msg, result)
		return result
	}

	if err := p.ledger.RecordUsage(ctx, collab.UsageEvent{
		TenantID:  account.TenantID,
		EventType: msg.ChannelType,
		Quantity:  1,
		Cost:      cost,
		Timestamp: p.now(),
	}); err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("failed to record usage")
	}

	p.emit(ctx, models.MessageEvent{
		Type:       models.EventMessageSent,
		MessageID:  msg.ID,
		TenantID:   account.TenantID,
		Channel:    msg.ChannelType,
		ExternalID: externalID,
		Timestamp:  p.now(),
	})

	p.logger.Debug().
		Str("message_id", msg.ID).
		Str("channel", msg.ChannelType).
		Str("external_id", externalID).
		Msg("send succeeded")

	return SendResult{Success: true, ExternalID: externalID}
}

func (p *Pipeline) emitFailed(ctx context.Context, msg *models.NormalizedMessage, result SendResult) {
	p.emit(ctx, models.MessageEvent{
		Type:      models.EventMessageFailed,
		MessageID: msg.ID,
		TenantID:  msg.TenantID,
		Channel:   msg.ChannelType,
		ErrorCode: result.ErrorCode,
		Error:     result.Error,
		Timestamp: p.now(),
	})
}

func (p *Pipeline) emit(ctx context.Context, event models.MessageEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, event); err != nil {
		p.logger.Error().
			Str("message_id", event.MessageID).
			Str("event", event.Type).
			Err(err).
			Msg("failed to publish message event")
	}
}
