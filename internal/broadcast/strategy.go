package broadcast

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	whatsappadapter "github.com/omnidesk/dispatch-engine/internal/adapters/whatsapp"
	"github.com/omnidesk/dispatch-engine/internal/models"
)

// Outcome is one recipient's settled dispatch result.
type Outcome struct {
	RecipientID       string
	Sent              bool
	ProviderMessageID string
	ErrorMessage      string
}

// Strategy dispatches one broadcast's recipients using channel-specific
// batching. Implementations never return early on per-recipient failures;
// every recipient gets an Outcome.
type Strategy interface {
	Dispatch(ctx context.Context, b *models.Broadcast, recipients []*models.BroadcastRecipient, stop func() bool) []Outcome
}

// TemplateBatchSender is the WhatsApp adapter surface the strategy needs.
type TemplateBatchSender interface {
	SendTemplateBatch(ctx context.Context, templateID string, entries []whatsappadapter.BatchEntry) []common.SendResult
}

// WhatsAppStrategy sends the whole audience in one provider bulk call
// carrying per-recipient component bindings.
type WhatsAppStrategy struct {
	sender TemplateBatchSender
	logger zerolog.Logger
}

// NewWhatsAppStrategy constructs the WhatsApp dispatch strategy.
func NewWhatsAppStrategy(sender TemplateBatchSender, logger zerolog.Logger) *WhatsAppStrategy {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &WhatsAppStrategy{sender: sender, logger: logger}
}

// Dispatch issues a single template batch call. One batch means the stop
// flag is consulted once, before the call.
func (s *WhatsAppStrategy) Dispatch(ctx context.Context, b *models.Broadcast, recipients []*models.BroadcastRecipient, stop func() bool) []Outcome {
	outcomes := make([]Outcome, 0, len(recipients))
	if stop != nil && stop() {
		return outcomes
	}

	entries := make([]whatsappadapter.BatchEntry, len(recipients))
	for i, r := range recipients {
		components := make(map[string]any, len(r.Variables))
		for k, v := range r.Variables {
			components[k] = v
		}
		entries[i] = whatsappadapter.BatchEntry{Recipient: r.RecipientAddress, Components: components}
	}

	results := s.sender.SendTemplateBatch(ctx, b.TemplateID, entries)
	for i, r := range recipients {
		outcomes = append(outcomes, outcomeFrom(r.ID, results[i]))
	}
	return outcomes
}

// BulkTextSender is the SMS adapter surface the strategy needs.
type BulkTextSender interface {
	SendBulk(ctx context.Context, phones []string, message string) common.SendResult
	SendMessage(ctx context.Context, msg *models.NormalizedMessage) common.SendResult
}

// SMSStrategy sends in fixed-size chunks with a pacer between batches. A
// batch failure is contained to that batch; later batches still run.
type SMSStrategy struct {
	sender    BulkTextSender
	batchSize int
	pacer     *rate.Limiter
	logger    zerolog.Logger
}

// NewSMSStrategy constructs the SMS dispatch strategy. pause is expressed
// as a rate limit so waiting never holds a lock.
func NewSMSStrategy(sender BulkTextSender, batchSize int, pacer *rate.Limiter, logger zerolog.Logger) *SMSStrategy {
	if batchSize <= 0 {
		batchSize = 50
	}
	if pacer == nil {
		pacer = rate.NewLimiter(rate.Limit(1), 1)
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &SMSStrategy{sender: sender, batchSize: batchSize, pacer: pacer, logger: logger}
}

// Dispatch chunks the audience. When the template binds per-recipient
// variables each recipient gets an individual send; a placeholder-free
// template goes out as one bulk call per chunk.
func (s *SMSStrategy) Dispatch(ctx context.Context, b *models.Broadcast, recipients []*models.BroadcastRecipient, stop func() bool) []Outcome {
	outcomes := make([]Outcome, 0, len(recipients))
	personalized := HasPlaceholders(b.Template)

	// The pacer starts with a full burst token; consume it up front so the
	// wait before the second batch is a real pause, not an instant pass.
	s.pacer.Allow()

	for start := 0; start < len(recipients); start += s.batchSize {
		if stop != nil && stop() {
			return outcomes
		}
		if start > 0 {
			if err := s.pacer.Wait(ctx); err != nil {
				return outcomes
			}
		}

		end := start + s.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		if personalized {
			for _, r := range batch {
				body := RenderTemplate(b.Template, r.Variables)
				res := s.sender.SendMessage(ctx, &models.NormalizedMessage{
					ChannelType: models.ChannelSMS,
					Direction:   models.DirectionOutbound,
					ContentType: models.ContentTypeText,
					Content:     body,
					Recipient:   r.RecipientAddress,
				})
				outcomes = append(outcomes, outcomeFrom(r.ID, res))
			}
			continue
		}

		phones := make([]string, len(batch))
		for i, r := range batch {
			phones[i] = r.RecipientAddress
		}
		res := s.sender.SendBulk(ctx, phones, b.Template)
		for _, r := range batch {
			outcomes = append(outcomes, outcomeFrom(r.ID, res))
		}
	}
	return outcomes
}

// EmailStrategy fails every recipient: email broadcasts are not wired to a
// bulk provider yet.
type EmailStrategy struct{}

// NewEmailStrategy constructs the email stub strategy.
func NewEmailStrategy() *EmailStrategy { return &EmailStrategy{} }

// Dispatch marks every recipient failed.
func (s *EmailStrategy) Dispatch(_ context.Context, _ *models.Broadcast, recipients []*models.BroadcastRecipient, _ func() bool) []Outcome {
	outcomes := make([]Outcome, len(recipients))
	for i, r := range recipients {
		outcomes[i] = Outcome{RecipientID: r.ID, ErrorMessage: "email broadcast not implemented"}
	}
	return outcomes
}

func outcomeFrom(recipientID string, res common.SendResult) Outcome {
	out := Outcome{RecipientID: recipientID, Sent: res.Success, ProviderMessageID: res.ExternalID}
	if !res.Success {
		out.ErrorMessage = res.Error
	}
	return out
}
