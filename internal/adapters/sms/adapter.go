package sms

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	"github.com/omnidesk/dispatch-engine/internal/models"
	smsprovider "github.com/omnidesk/dispatch-engine/internal/providers/sms"
)

const (
	costPerSegment = 0.01
	segmentLength  = 160

	minOTPExpiryMinutes = 1
	maxOTPExpiryMinutes = 30
)

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

// Adapter implements common.ChannelAdapter for SMS.
type Adapter struct {
	logger   zerolog.Logger
	account  *models.ChannelAccount
	provider smsprovider.Provider
	pipeline *common.Pipeline
	now      func() time.Time
}

// NewAdapter constructs an SMS adapter bound to one channel account.
func NewAdapter(account *models.ChannelAccount, provider smsprovider.Provider, pipeline *common.Pipeline, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if account == nil {
		return nil, errors.New("sms adapter: channel account is required")
	}
	if provider == nil {
		return nil, errors.New("sms adapter: provider dependency is required")
	}
	if pipeline == nil {
		return nil, errors.New("sms adapter: pipeline dependency is required")
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
func (a *Adapter) ChannelType() string { return models.ChannelSMS }

// Capabilities advertises the SMS feature set.
func (a *Adapter) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityText,
		models.CapabilityDeliveryReceipts,
	)
}

// SendMessage delivers a single normalized message.
func (a *Adapter) SendMessage(ctx context.Context, msg *models.NormalizedMessage) common.SendResult {
	if msg == nil {
		return common.Failure(common.WrapProvider("", "message is nil"))
	}

	req := &smsprovider.BulkRequest{
		Phones:  []string{msg.Recipient},
		Message: msg.Content,
	}

	return a.pipeline.Run(ctx, a.account, msg, "message", a.costOf(msg.Content), func(callCtx context.Context) (string, error) {
		raw, err := a.provider.SendBulk(callCtx, req)
		if err != nil {
			return "", classify(raw, err)
		}
		return raw.ID, nil
	})
}

// SendBulk delivers one body to a batch of phones in a single provider
// call, used by the broadcast dispatcher for non-templated bodies.
func (a *Adapter) SendBulk(ctx context.Context, phones []string, message string) common.SendResult {
	if len(phones) == 0 {
		return common.Failure(common.WrapProvider("", "no phones supplied"))
	}

	msg := &models.NormalizedMessage{
		ID:          uuid.NewString(),
		AccountID:   a.account.ID,
		TenantID:    a.account.TenantID,
		ChannelType: models.ChannelSMS,
		Direction:   models.DirectionOutbound,
		ContentType: models.ContentTypeText,
		Content:     message,
		Recipient:   phones[0],
		SentAt:      a.now(),
	}

	req := &smsprovider.BulkRequest{Phones: phones, Message: message}

	return a.pipeline.Run(ctx, a.account, msg, "message", a.costOf(message)*float64(len(phones)), func(callCtx context.Context) (string, error) {
		raw, err := a.provider.SendBulk(callCtx, req)
		if err != nil {
			return "", classify(raw, err)
		}
		return raw.ID, nil
	})
}

// SendOTP delivers a one-time password. Expiry is clamped to the
// provider's accepted 1-30 minute range.
func (a *Adapter) SendOTP(ctx context.Context, phone, otp string, expiryMinutes int) common.SendResult {
	if expiryMinutes < minOTPExpiryMinutes {
		expiryMinutes = minOTPExpiryMinutes
	}
	if expiryMinutes > maxOTPExpiryMinutes {
		expiryMinutes = maxOTPExpiryMinutes
	}

	msg := &models.NormalizedMessage{
		ID:          uuid.NewString(),
		AccountID:   a.account.ID,
		TenantID:    a.account.TenantID,
		ChannelType: models.ChannelSMS,
		Direction:   models.DirectionOutbound,
		ContentType: models.ContentTypeText,
		Recipient:   phone,
		SentAt:      a.now(),
	}

	req := &smsprovider.OTPRequest{Phone: phone, OTP: otp, ExpiryMinutes: expiryMinutes}

	return a.pipeline.Run(ctx, a.account, msg, "message", costPerSegment, func(callCtx context.Context) (string, error) {
		raw, err := a.provider.SendOTP(callCtx, req)
		if err != nil {
			return "", classify(raw, err)
		}
		return raw.ID, nil
	})
}

// SendTemplate is unsupported: SMS carries rendered bodies, not approved
// provider templates.
func (a *Adapter) SendTemplate(_ context.Context, templateID string, _ map[string]string, _ string) common.SendResult {
	return common.Failure(common.WrapProvider("UNSUPPORTED", fmt.Sprintf("sms channel does not support provider templates (template %s)", templateID)))
}

// ValidateCredentials probes the gateway with the account's credentials.
func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	if err := a.provider.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialInvalid, err)
	}
	return nil
}

// HealthStatus reports gateway reachability.
func (a *Adapter) HealthStatus(ctx context.Context) common.HealthReport {
	report := common.HealthReport{Status: models.HealthHealthy, CheckedAt: a.now()}
	if err := a.provider.Ping(ctx); err != nil {
		report.Status = models.HealthUnhealthy
		report.Detail = err.Error()
	}
	return report
}

// RefreshTokens is a no-op: SMS gateways use static API keys.
func (a *Adapter) RefreshTokens(_ context.Context) error { return nil }

// EstimateCost prices a message by its segment count.
func (a *Adapter) EstimateCost(msg *models.NormalizedMessage) common.CostEstimate {
	units := 1
	if msg != nil {
		units = segments(msg.Content)
	}
	return common.CostEstimate{Amount: costPerSegment * float64(units), Currency: "USD", Units: units}
}

func (a *Adapter) costOf(body string) float64 {
	return costPerSegment * float64(segments(body))
}

func segments(body string) int {
	if body == "" {
		return 1
	}
	n := (len(body) + segmentLength - 1) / segmentLength
	if n < 1 {
		n = 1
	}
	return n
}

func classify(raw *smsprovider.RawResponse, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if raw == nil {
		return common.WrapProvider("", err.Error())
	}
	code := fmt.Sprintf("%d", raw.Code)
	_, detail := extractGatewayError(raw.Body)
	if detail == "" {
		detail = err.Error()
	}
	return common.WrapProvider(code, detail)
}
