package broadcast

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/models"
)

// Engine-level sentinel errors.
var (
	ErrInvalidStateTransition = errors.New("broadcast: invalid state transition")
	ErrAudienceEmpty          = errors.New("broadcast: audience resolution returned no recipients")
	ErrUnsupportedChannel     = errors.New("broadcast: unsupported channel")
)

const defaultMaxConcurrentDispatches = 4

// Repository is the persistence surface the engine requires.
type Repository interface {
	CreateBroadcast(ctx context.Context, b *models.Broadcast) error
	GetBroadcast(ctx context.Context, id string) (*models.Broadcast, error)
	ListBroadcasts(ctx context.Context, tenantID, status string) ([]*models.Broadcast, error)
	ListDueBroadcasts(ctx context.Context, now time.Time) ([]*models.Broadcast, error)
	UpdateBroadcast(ctx context.Context, b *models.Broadcast) error
	InsertRecipients(ctx context.Context, recipients []*models.BroadcastRecipient) error
	ListRecipients(ctx context.Context, broadcastID, status string) ([]*models.BroadcastRecipient, error)
	UpdateRecipient(ctx context.Context, r *models.BroadcastRecipient) error
	GetRecipientByProviderID(ctx context.Context, providerMessageID string) (*models.BroadcastRecipient, error)
	RecipientCounts(ctx context.Context, broadcastID string) (map[string]int, error)
}

// Option customises the engine.
type Option func(*Engine)

// WithClock overrides the engine clock, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxConcurrentDispatches bounds how many broadcasts dispatch at once.
func WithMaxConcurrentDispatches(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithOptOuts wires the suppression list. Opted-out recipients are settled
// FAILED before the channel strategy runs, so they never reach a provider
// even inside a bulk call.
func WithOptOuts(store collab.OptOutStore) Option {
	return func(e *Engine) {
		e.optOuts = store
	}
}

// Engine owns the broadcast lifecycle: draft, schedule, dispatch, retry and
// analytics.
type Engine struct {
	repo       Repository
	contacts   collab.ContactStore
	strategies map[string]Strategy
	optOuts    collab.OptOutStore
	logger     zerolog.Logger
	sem        *semaphore.Weighted
	now        func() time.Time

	mu    sync.Mutex
	stops map[string]*atomic.Bool
}

// NewEngine constructs a broadcast engine.
func NewEngine(repo Repository, contacts collab.ContactStore, strategies map[string]Strategy, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("broadcast: repository dependency is required")
	}
	if contacts == nil {
		return nil, errors.New("broadcast: contact store dependency is required")
	}
	if len(strategies) == 0 {
		return nil, errors.New("broadcast: at least one channel strategy is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	e := &Engine{
		repo:       repo,
		contacts:   contacts,
		strategies: strategies,
		logger:     logger,
		sem:        semaphore.NewWeighted(defaultMaxConcurrentDispatches),
		now:        time.Now,
		stops:      make(map[string]*atomic.Bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// CreateInput carries the draft broadcast fields.
type CreateInput struct {
	TenantID   string
	AccountID  string
	Name       string
	Channel    string
	Template   string
	TemplateID string
	Audience   models.AudienceSpec
}

// Create persists a new DRAFT broadcast.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Broadcast, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, errors.New("broadcast: tenant id is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.New("broadcast: name is required")
	}
	if strings.TrimSpace(in.Template) == "" {
		return nil, errors.New("broadcast: template body is required")
	}
	if _, ok := e.strategies[in.Channel]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, in.Channel)
	}

	now := e.now()
	b := &models.Broadcast{
		ID:         uuid.NewString(),
		TenantID:   in.TenantID,
		AccountID:  in.AccountID,
		Name:       in.Name,
		Channel:    in.Channel,
		Template:   in.Template,
		TemplateID: in.TemplateID,
		Audience:   in.Audience,
		Status:     models.BroadcastStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.repo.CreateBroadcast(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Update mutates a broadcast's content. Only DRAFT broadcasts are mutable.
func (e *Engine) Update(ctx context.Context, id string, in CreateInput) (*models.Broadcast, error) {
	b, err := e.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastStatusDraft {
		return nil, fmt.Errorf("%w: cannot mutate %s broadcast", ErrInvalidStateTransition, b.Status)
	}
	if in.Channel != "" {
		if _, ok := e.strategies[in.Channel]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, in.Channel)
		}
		b.Channel = in.Channel
	}
	if in.Name != "" {
		b.Name = in.Name
	}
	if in.Template != "" {
		b.Template = in.Template
	}
	if in.TemplateID != "" {
		b.TemplateID = in.TemplateID
	}
	if in.Audience.Kind != "" {
		b.Audience = in.Audience
	}
	b.UpdatedAt = e.now()
	if err := e.repo.UpdateBroadcast(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Schedule moves a DRAFT broadcast to SCHEDULED at the supplied instant.
func (e *Engine) Schedule(ctx context.Context, id string, at time.Time) (*models.Broadcast, error) {
	b, err := e.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastStatusDraft {
		return nil, fmt.Errorf("%w: schedule from %s", ErrInvalidStateTransition, b.Status)
	}
	b.Status = models.BroadcastStatusScheduled
	b.ScheduledAt = &at
	b.UpdatedAt = e.now()
	if err := e.repo.UpdateBroadcast(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Cancel aborts a SCHEDULED broadcast. For a broadcast already SENDING it
// raises the stop flag instead: the dispatch loop honours it between
// batches and never interrupts an in-flight provider call.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Broadcast, error) {
	b, err := e.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case models.BroadcastStatusScheduled:
		b.Status = models.BroadcastStatusCancelled
		b.UpdatedAt = e.now()
		if err := e.repo.UpdateBroadcast(ctx, b); err != nil {
			return nil, err
		}
		return b, nil
	case models.BroadcastStatusSending:
		e.stopFlag(id).Store(true)
		return b, nil
	default:
		return nil, fmt.Errorf("%w: cancel from %s", ErrInvalidStateTransition, b.Status)
	}
}

// Send resolves the audience, creates the PENDING recipient rows and
// dispatches the broadcast through its channel strategy. The call blocks
// until dispatch settles.
func (e *Engine) Send(ctx context.Context, id string) (*models.Broadcast, error) {
	b, err := e.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastStatusDraft && b.Status != models.BroadcastStatusScheduled {
		return nil, fmt.Errorf("%w: send from %s", ErrInvalidStateTransition, b.Status)
	}
	strategy, ok := e.strategies[b.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, b.Channel)
	}

	contacts, err := e.contacts.ResolveAudience(ctx, b.TenantID, b.Audience)
	if err != nil {
		return nil, fmt.Errorf("broadcast: resolve audience: %w", err)
	}
	if len(contacts) == 0 {
		return nil, ErrAudienceEmpty
	}

	now := e.now()
	recipients := make([]*models.BroadcastRecipient, 0, len(contacts))
	for _, c := range contacts {
		recipients = append(recipients, &models.BroadcastRecipient{
			ID:               uuid.NewString(),
			BroadcastID:      b.ID,
			ContactID:        c.ID,
			RecipientAddress: addressFor(b.Channel, c),
			Variables:        c.Attributes,
			Status:           models.RecipientStatusPending,
			UpdatedAt:        now,
		})
	}
	if err := e.repo.InsertRecipients(ctx, recipients); err != nil {
		return nil, err
	}

	b.Status = models.BroadcastStatusSending
	b.TotalRecipients = len(recipients)
	b.StartedAt = &now
	b.UpdatedAt = now
	if err := e.repo.UpdateBroadcast(ctx, b); err != nil {
		return nil, err
	}

	// Dispatch outlives the caller: a client disconnect must not interrupt
	// in-flight provider calls or strand the broadcast in SENDING. Only the
	// stop flag may halt dispatch, and only between batches.
	dispatchCtx := context.WithoutCancel(ctx)
	if err := e.dispatch(dispatchCtx, b, strategy, recipients); err != nil {
		return nil, err
	}
	return e.repo.GetBroadcast(dispatchCtx, b.ID)
}

// RetryFailed re-dispatches only the FAILED recipients of a settled
// broadcast. This is an explicit operator action, never automatic.
func (e *Engine) RetryFailed(ctx context.Context, id string) (*models.Broadcast, error) {
	b, err := e.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BroadcastStatusCompleted && b.Status != models.BroadcastStatusFailed {
		return nil, fmt.Errorf("%w: retry from %s", ErrInvalidStateTransition, b.Status)
	}
	strategy, ok := e.strategies[b.Channel]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChannel, b.Channel)
	}

	failed, err := e.repo.ListRecipients(ctx, b.ID, models.RecipientStatusFailed)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return b, nil
	}

	for _, r := range failed {
		r.Status = models.RecipientStatusPending
		r.ErrorMessage = ""
		r.UpdatedAt = e.now()
		if err := e.repo.UpdateRecipient(ctx, r); err != nil {
			return nil, err
		}
	}

	b.Status = models.BroadcastStatusSending
	b.UpdatedAt = e.now()
	if err := e.repo.UpdateBroadcast(ctx, b); err != nil {
		return nil, err
	}

	dispatchCtx := context.WithoutCancel(ctx)
	if err := e.dispatch(dispatchCtx, b, strategy, failed); err != nil {
		return nil, err
	}
	return e.repo.GetBroadcast(dispatchCtx, b.ID)
}

// DispatchDue sends every SCHEDULED broadcast whose scheduled time has
// passed. Used by the worker loop.
func (e *Engine) DispatchDue(ctx context.Context) (int, error) {
	due, err := e.repo.ListDueBroadcasts(ctx, e.now())
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, b := range due {
		if _, err := e.Send(ctx, b.ID); err != nil {
			e.logger.Error().Err(err).Str("broadcast_id", b.ID).Msg("scheduled dispatch failed")
			continue
		}
		dispatched++
	}
	return dispatched, nil
}

// Get returns one broadcast.
func (e *Engine) Get(ctx context.Context, id string) (*models.Broadcast, error) {
	return e.repo.GetBroadcast(ctx, id)
}

// List returns a tenant's broadcasts, optionally filtered by status.
func (e *Engine) List(ctx context.Context, tenantID, status string) ([]*models.Broadcast, error) {
	return e.repo.ListBroadcasts(ctx, tenantID, status)
}

// Recipients returns a broadcast's recipients, optionally filtered.
func (e *Engine) Recipients(ctx context.Context, id, status string) ([]*models.BroadcastRecipient, error) {
	return e.repo.ListRecipients(ctx, id, status)
}

// Stats aggregates recipient outcomes into the analytics view.
func (e *Engine) Stats(ctx context.Context, id string) (*models.BroadcastStats, error) {
	b, err := e.repo.GetBroadcast(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := e.repo.RecipientCounts(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &models.BroadcastStats{
		Pending:   counts[models.RecipientStatusPending],
		Sent:      counts[models.RecipientStatusSent],
		Delivered: counts[models.RecipientStatusDelivered],
		Read:      counts[models.RecipientStatusRead],
		Failed:    counts[models.RecipientStatusFailed],
	}
	stats.Total = stats.Pending + stats.Sent + stats.Delivered + stats.Read + stats.Failed
	if stats.Total > 0 {
		stats.DeliveryRate = percentage(stats.Delivered+stats.Read, stats.Total)
		stats.ReadRate = percentage(stats.Read, stats.Total)
		stats.FailureRate = percentage(stats.Failed, stats.Total)
	}
	stats.CompletedWithErrors = b.Status == models.BroadcastStatusCompleted && stats.Failed > 0
	return stats, nil
}

// ApplyStatusUpdate advances a recipient when a status webhook references
// its provider message ID. Transitions are monotonic; stale lower-rank
// events are dropped.
func (e *Engine) ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) error {
	r, err := e.repo.GetRecipientByProviderID(ctx, upd.MessageID)
	if err != nil {
		return err
	}
	next := recipientStatusFor(upd.Status)
	if next == "" || !models.RecipientStatusAdvances(r.Status, next) {
		return nil
	}
	r.Status = next
	if next == models.RecipientStatusFailed {
		r.ErrorMessage = upd.ErrorText
	}
	r.UpdatedAt = e.now()
	return e.repo.UpdateRecipient(ctx, r)
}

func (e *Engine) dispatch(ctx context.Context, b *models.Broadcast, strategy Strategy, recipients []*models.BroadcastRecipient) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("broadcast: acquire dispatch slot: %w", err)
	}
	defer e.sem.Release(1)

	stop := e.stopFlag(b.ID)
	defer e.clearStopFlag(b.ID)

	recipients = e.failOptedOut(ctx, b, recipients)

	outcomes := strategy.Dispatch(ctx, b, recipients, stop.Load)

	for _, out := range outcomes {
		r := findRecipient(recipients, out.RecipientID)
		if r == nil {
			continue
		}
		if out.Sent {
			r.Status = models.RecipientStatusSent
			r.ProviderMessageID = out.ProviderMessageID
		} else {
			r.Status = models.RecipientStatusFailed
			r.ErrorMessage = out.ErrorMessage
		}
		r.UpdatedAt = e.now()
		if err := e.repo.UpdateRecipient(ctx, r); err != nil {
			e.logger.Error().Err(err).Str("recipient_id", r.ID).Msg("persist recipient outcome failed")
		}
	}

	return e.settle(ctx, b)
}

// settle recomputes counters and applies the completion policy: FAILED only
// when every recipient failed, COMPLETED otherwise.
func (e *Engine) settle(ctx context.Context, b *models.Broadcast) error {
	counts, err := e.repo.RecipientCounts(ctx, b.ID)
	if err != nil {
		return err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	failed := counts[models.RecipientStatusFailed]
	sent := total - failed - counts[models.RecipientStatusPending]

	now := e.now()
	b.SentCount = sent
	b.FailedCount = failed
	b.TotalRecipients = total
	if failed == total && total > 0 {
		b.Status = models.BroadcastStatusFailed
	} else {
		b.Status = models.BroadcastStatusCompleted
	}
	b.CompletedAt = &now
	b.UpdatedAt = now
	return e.repo.UpdateBroadcast(ctx, b)
}

// failOptedOut settles suppressed recipients as FAILED and returns the
// rest. Suppression store faults fail open, matching the send pipeline.
func (e *Engine) failOptedOut(ctx context.Context, b *models.Broadcast, recipients []*models.BroadcastRecipient) []*models.BroadcastRecipient {
	if e.optOuts == nil {
		return recipients
	}
	kept := make([]*models.BroadcastRecipient, 0, len(recipients))
	for _, r := range recipients {
		optedOut, err := e.optOuts.IsOptedOut(ctx, b.Channel, r.RecipientAddress)
		if err != nil {
			e.logger.Error().Err(err).Str("recipient_id", r.ID).Msg("opt-out check fault, failing open")
			kept = append(kept, r)
			continue
		}
		if !optedOut {
			kept = append(kept, r)
			continue
		}
		r.Status = models.RecipientStatusFailed
		r.ErrorMessage = fmt.Sprintf("%v: %s", common.ErrRecipientOptedOut, r.RecipientAddress)
		r.UpdatedAt = e.now()
		if err := e.repo.UpdateRecipient(ctx, r); err != nil {
			e.logger.Error().Err(err).Str("recipient_id", r.ID).Msg("persist opt-out outcome failed")
		}
	}
	return kept
}

func (e *Engine) stopFlag(id string) *atomic.Bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	flag, ok := e.stops[id]
	if !ok {
		flag = &atomic.Bool{}
		e.stops[id] = flag
	}
	return flag
}

func (e *Engine) clearStopFlag(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stops, id)
}

func addressFor(channel string, c models.Contact) string {
	if channel == models.ChannelEmail {
		return c.Email
	}
	return c.Phone
}

func findRecipient(recipients []*models.BroadcastRecipient, id string) *models.BroadcastRecipient {
	for _, r := range recipients {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func recipientStatusFor(messageStatus string) string {
	switch messageStatus {
	case models.MessageStatusSent:
		return models.RecipientStatusSent
	case models.MessageStatusDelivered:
		return models.RecipientStatusDelivered
	case models.MessageStatusRead:
		return models.RecipientStatusRead
	case models.MessageStatusFailed:
		return models.RecipientStatusFailed
	default:
		return ""
	}
}

func percentage(part, total int) float64 {
	return float64(part) / float64(total) * 100
}
