package whatsapp

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
	"github.com/omnidesk/dispatch-engine/internal/oauth"
	waprovider "github.com/omnidesk/dispatch-engine/internal/providers/whatsapp"
)

const (
	deterministicPolicy = "deterministic"
	messagingProduct    = "whatsapp"
	defaultLanguage     = "en"
	costPerMessage      = 0.005
)

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithLanguage overrides the template language code.
func WithLanguage(code string) Option {
	return func(a *Adapter) {
		if code != "" {
			a.language = code
		}
	}
}

// WithClock overrides the adapter clock, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter implements common.ChannelAdapter for WhatsApp. It owns only the
// wire-format translation for its provider; the shared pipeline performs
// the rate-limit, balance and opt-out checks.
type Adapter struct {
	logger    zerolog.Logger
	account   *models.ChannelAccount
	provider  waprovider.Provider
	pipeline  *common.Pipeline
	refresher *oauth.Refresher
	language  string
	now       func() time.Time
}

// NewAdapter constructs a WhatsApp adapter bound to one channel account.
func NewAdapter(account *models.ChannelAccount, provider waprovider.Provider, pipeline *common.Pipeline, refresher *oauth.Refresher, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if account == nil {
		return nil, errors.New("whatsapp adapter: channel account is required")
	}
	if provider == nil {
		return nil, errors.New("whatsapp adapter: provider dependency is required")
	}
	if pipeline == nil {
		return nil, errors.New("whatsapp adapter: pipeline dependency is required")
	}
	if refresher == nil {
		return nil, errors.New("whatsapp adapter: token refresher is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:    logger,
		account:   account,
		provider:  provider,
		pipeline:  pipeline,
		refresher: refresher,
		language:  defaultLanguage,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// ChannelType identifies the adapter's channel.
func (a *Adapter) ChannelType() string { return models.ChannelWhatsApp }

// Capabilities advertises the WhatsApp feature set.
func (a *Adapter) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(
		models.CapabilityText,
		models.CapabilityRichText,
		models.CapabilityImages,
		models.CapabilityDocuments,
		models.CapabilityTemplates,
		models.CapabilityDeliveryReceipts,
		models.CapabilityReadReceipts,
		models.CapabilityReplies,
	)
}

// SendMessage delivers a single normalized message.
func (a *Adapter) SendMessage(ctx context.Context, msg *models.NormalizedMessage) common.SendResult {
	if msg == nil {
		return common.Failure(common.WrapProvider("", "message is nil"))
	}
	if err := a.refresher.EnsureFresh(ctx, a.account, a.provider.RefreshToken); err != nil {
		return common.Failure(err)
	}

	req := &waprovider.TextRequest{
		IntegratedNumber: a.integratedNumber(),
		ContentType:      "text",
		RecipientNumber:  msg.Recipient,
		Payload: waprovider.TextPayload{
			Type:             "text",
			Text:             msg.Content,
			MessagingProduct: messagingProduct,
		},
	}

	return a.pipeline.Run(ctx, a.account, msg, actionFor(msg.ContentType), costPerMessage, func(callCtx context.Context) (string, error) {
		raw, err := a.provider.SendText(callCtx, req)
		if err != nil {
			return "", classify(raw, err)
		}
		return raw.ID, nil
	})
}

// SendTemplate delivers an approved template to one recipient.
func (a *Adapter) SendTemplate(ctx context.Context, templateID string, variables map[string]string, recipient string) common.SendResult {
	entries := []BatchEntry{{Recipient: recipient, Components: componentsFor(variables)}}
	results := a.SendTemplateBatch(ctx, templateID, entries)
	return results[0]
}

// BatchEntry binds one broadcast recipient to its component values.
type BatchEntry struct {
	Recipient  string
	Components map[string]any
}

// SendTemplateBatch delivers a template to every entry in ONE provider
// bulk call. A batch-level provider error fails every entry with the
// provider's error string; success marks every entry sent.
func (a *Adapter) SendTemplateBatch(ctx context.Context, templateID string, entries []BatchEntry) []common.SendResult {
	results := make([]common.SendResult, len(entries))
	if len(entries) == 0 {
		return results
	}

	fail := func(err error) []common.SendResult {
		failure := common.Failure(err)
		for i := range results {
			results[i] = failure
		}
		return results
	}

	if err := a.refresher.EnsureFresh(ctx, a.account, a.provider.RefreshToken); err != nil {
		return fail(err)
	}

	// Every entry is screened against the suppression list; the pipeline's
	// own check only sees one recipient per call.
	included := make([]int, 0, len(entries))
	toAndComponents := make([]waprovider.ToAndComponents, 0, len(entries))
	for i, e := range entries {
		if a.pipeline.OptedOut(ctx, models.ChannelWhatsApp, e.Recipient) {
			results[i] = common.Failure(fmt.Errorf("%w: %s", common.ErrRecipientOptedOut, e.Recipient))
			continue
		}
		included = append(included, i)
		toAndComponents = append(toAndComponents, waprovider.ToAndComponents{
			To:         []string{e.Recipient},
			Components: e.Components,
		})
	}
	if len(included) == 0 {
		return results
	}

	req := &waprovider.TemplateRequest{
		IntegratedNumber: a.integratedNumber(),
		ContentType:      "template",
		Payload: waprovider.TemplatePayload{
			Template: waprovider.Template{
				Name:            templateID,
				Language:        waprovider.Language{Code: a.language, Policy: deterministicPolicy},
				ToAndComponents: toAndComponents,
			},
			MessagingProduct: messagingProduct,
		},
	}

	msg := &models.NormalizedMessage{
		ID:          uuid.NewString(),
		AccountID:   a.account.ID,
		TenantID:    a.account.TenantID,
		ChannelType: models.ChannelWhatsApp,
		Direction:   models.DirectionOutbound,
		ContentType: models.ContentTypeTemplate,
		Content:     templateID,
		Recipient:   entries[included[0]].Recipient,
		SentAt:      a.now(),
	}

	result := a.pipeline.Run(ctx, a.account, msg, "template", costPerMessage*float64(len(included)), func(callCtx context.Context) (string, error) {
		raw, err := a.provider.SendTemplate(callCtx, req)
		if err != nil {
			return "", classify(raw, err)
		}
		return raw.ID, nil
	})

	for _, i := range included {
		results[i] = result
	}
	return results
}

// ValidateCredentials probes the provider with the account's credentials.
func (a *Adapter) ValidateCredentials(ctx context.Context) error {
	if err := a.provider.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCredentialInvalid, err)
	}
	return nil
}

// HealthStatus reports provider reachability for the account.
func (a *Adapter) HealthStatus(ctx context.Context) common.HealthReport {
	report := common.HealthReport{Status: models.HealthHealthy, CheckedAt: a.now()}
	if err := a.provider.Ping(ctx); err != nil {
		report.Status = models.HealthUnhealthy
		report.Detail = err.Error()
	}
	return report
}

// RefreshTokens forces a proactive token refresh check.
func (a *Adapter) RefreshTokens(ctx context.Context) error {
	return a.refresher.EnsureFresh(ctx, a.account, a.provider.RefreshToken)
}

// EstimateCost prices one message.
func (a *Adapter) EstimateCost(_ *models.NormalizedMessage) common.CostEstimate {
	return common.CostEstimate{Amount: costPerMessage, Currency: "USD", Units: 1}
}

func (a *Adapter) integratedNumber() string {
	return a.account.Credentials["integrated_number"]
}

func actionFor(contentType string) string {
	if contentType == models.ContentTypeTemplate {
		return "template"
	}
	return "message"
}

// componentsFor translates a flat variable binding into the template
// component shape: positional keys become body parameters in order.
func componentsFor(variables map[string]string) map[string]any {
	if len(variables) == 0 {
		return nil
	}
	body := make(map[string]any, len(variables))
	for key, value := range variables {
		body[key] = map[string]any{"type": "text", "value": value}
	}
	return map[string]any{"body": body}
}

func classify(raw *waprovider.RawResponse, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if raw == nil {
		return common.WrapProvider("", err.Error())
	}
	code, title := extractError(raw.Body)
	if title == "" {
		title = err.Error()
	}
	return common.WrapProvider(code, title)
}
