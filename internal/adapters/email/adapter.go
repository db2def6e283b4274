package email

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	"github.com/omnidesk/dispatch-engine/internal/models"
	emailprovider "github.com/omnidesk/dispatch-engine/internal/providers/email"
	"github.com/omnidesk/dispatch-engine/internal/util"
)

const costPerEmail = 0.001

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithClock overrides the adapter clock, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter implements common.ChannelAdapter for transactional email.
type Adapter struct {
	logger   zerolog.Logger
	account  *models.ChannelAccount
	provider emailprovider.Provider
	pipeline *common.Pipeline
	now      func() time.Time
}

// NewAdapter constructs an email adapter bound to one channel account.
func NewAdapter(account *models.ChannelAccount, provider emailprovider.Provider, pipeline *common.Pipeline, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if account == nil {
		return nil, errors.New("email adapter: channel account is required")
	}
	if provider == nil {
		return nil, errors.New("email adapter: provider dependency is required")
	}
	if pipeline == nil {
		return nil, errors.New("email adapter: pipeline dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:   logger,
		account:  account,
		provider: provider,
		pipeline: pipeline,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// ChannelType identifies the adapter's channel.
func (a *Adapter) ChannelType() string { return models.ChannelEmail }

// Capabilities advertises the email feature set. Read receipts map onto
// open tracking.
func (a *Adapter) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityText,
		models.CapabilityRichText,
		models.CapabilityDocuments,
		models.CapabilityReadReceipts,
		models.CapabilityReplies,
	)
}

// SendMessage delivers a single normalized message. Subject, reply-to and
// plain-text alternatives travel in the message metadata.
func (a *Adapter) SendMessage(ctx context.Context, msg *models.NormalizedMessage) common.SendResult {
	if msg == nil {
		return common.Failure(common.WrapProvider("", "message is nil"))
	}
	if _, err := util.NormalizeEmail(msg.Recipient); err != nil {
		return common.Failure(common.WrapProvider("", err.Error()))
	}

	req := &emailprovider.SendRequest{
		From:    a.account.Credentials["from_address"],
		To:      []string{msg.Recipient},
		Subject: msg.Metadata["subject"],
		HTML:    msg.Content,
		Text:    msg.Metadata["text"],
		ReplyTo: msg.Metadata["reply_to"],
	}

	return a.pipeline.Run(ctx, a.account, msg, "message", costPerEmail, func(callCtx context.Context) (string, error) {
		raw, err := a.provider.Send(callCtx, req)
		if err != nil {
			return "", classify(raw, err)
		}
		return raw.ID, nil
	})
}

// SendTemplate is unsupported pending template storage for email.
func (a *Adapter) SendTemplate(_ context.Context, templateID string, _ map[string]string, _ string) common.SendResult {
	return common.Failure(common.WrapProvider("UNSUPPORTED", fmt.Sprintf("email channel does not support provider templates (template %s)", templateID)))
}

// ValidateCredentials probes the provider with the account's credentials.
func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	if err := a.provider.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialInvalid, err)
	}
	return nil
}

// HealthStatus reports provider reachability.
func (a *Adapter) HealthStatus(ctx context.Context) common.HealthReport {
	report := common.HealthReport{Status: models.HealthHealthy, CheckedAt: a.now()}
	if err := a.provider.Ping(ctx); err != nil {
		report.Status = models.HealthUnhealthy
		report.Detail = err.Error()
	}
	return report
}

// RefreshTokens is a no-op: email providers use static API keys.
func (a *Adapter) RefreshTokens(_ context.Context) error { return nil }

// EstimateCost prices one email.
func (a *Adapter) EstimateCost(_ *models.NormalizedMessage) common.CostEstimate {
	return common.CostEstimate{Amount: costPerEmail, Currency: "USD", Units: 1}
}

func classify(raw *emailprovider.RawResponse, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if raw == nil {
		return common.WrapProvider("", err.Error())
	}
	return common.WrapProvider(fmt.Sprintf("%d", raw.Code), err.Error())
}
