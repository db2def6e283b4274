package conversation

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/store"
)

// Engine-level sentinel errors.
var (
	ErrNoOutboundMessage = errors.New("conversation: resolve requires at least one outbound message")
	ErrFeedbackPending   = errors.New("conversation: last outbound message is not feedback-tagged")
	ErrAlreadyClosed     = errors.New("conversation: already closed")
)

// messageRank orders derived message statuses for the monotonic merge.
var messageRank = map[string]int{
	models.MessageStatusPending:   0,
	models.MessageStatusSent:      1,
	models.MessageStatusDelivered: 2,
	models.MessageStatusRead:      3,
	models.MessageStatusFailed:    4,
}

// Repository is the persistence surface the engine requires.
type Repository interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindConversation(ctx context.Context, tenantID, contactID, channelType string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, c *models.Conversation) error
	InsertMessage(ctx context.Context, m *models.StoredMessage) error
	GetMessageByExternalID(ctx context.Context, externalID string) (*models.StoredMessage, error)
	UpdateMessage(ctx context.Context, m *models.StoredMessage) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.StoredMessage, error)
	LastOutboundMessage(ctx context.Context, conversationID string) (*models.StoredMessage, error)
	CountOutbound(ctx context.Context, conversationID string) (int, error)
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

// Engine owns conversation lifecycle and per-message status merging.
type Engine struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// NewEngine constructs a conversation engine.
func NewEngine(repo Repository, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("conversation: repository dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	e := &Engine{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// EnsureConversation returns the conversation for the natural key, creating
// an OPEN one when absent.
func (e *Engine) EnsureConversation(ctx context.Context, tenantID, contactID, channelType string) (*models.Conversation, error) {
	c, err := e.repo.FindConversation(ctx, tenantID, contactID, channelType)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrConversationNotFound) {
		return nil, err
	}

	now := e.now()
	c = &models.Conversation{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ContactID:   contactID,
		ChannelType: channelType,
		Status:      models.ConversationStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordOutbound appends an outbound message to the conversation. A failed
// send is stored with its failure slot populated.
func (e *Engine) RecordOutbound(ctx context.Context, conversationID, contentType, externalID string, sent bool, failureReason string, feedbackTagged bool) (*models.StoredMessage, error) {
	c, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	m := &models.StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		ChannelType:    c.ChannelType,
		Direction:      models.DirectionOutbound,
		ContentType:    contentType,
		ExternalID:     externalID,
		FeedbackTagged: feedbackTagged,
		CreatedAt:      now,
	}
	if sent {
		m.SentAt = &now
	} else {
		m.FailedAt = &now
		m.FailureReason = failureReason
	}
	if err := e.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordInbound appends an inbound message, bumps the unread count and
// moves the conversation to PENDING until it is read.
func (e *Engine) RecordInbound(ctx context.Context, tenantID, contactID string, msg *models.NormalizedMessage) (*models.StoredMessage, error) {
	c, err := e.EnsureConversation(ctx, tenantID, contactID, msg.ChannelType)
	if err != nil {
		return nil, err
	}

	now := e.now()
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}
	m := &models.StoredMessage{
		ID:             uuid.NewString(),
		ConversationID: c.ID,
		ChannelType:    msg.ChannelType,
		Direction:      models.DirectionInbound,
		ContentType:    msg.ContentType,
		ExternalID:     msg.ID,
		SentAt:         &sentAt,
		CreatedAt:      now,
	}
	if err := e.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}

	c.UnreadCount++
	if c.Status == models.ConversationStatusOpen || c.Status == models.ConversationStatusResolved {
		c.Status = models.ConversationStatusPending
	}
	c.UpdatedAt = now
	if err := e.repo.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return m, nil
}

// ApplyStatusUpdate merges a status webhook into the referenced message's
// timestamp slots. The merge is monotonic: an update only changes the
// derived status when it advances the rank; a late lower-rank event fills
// its empty slot but never regresses what callers observe.
func (e *Engine) ApplyStatusUpdate(ctx context.Context, upd models.StatusUpdate) (*models.StoredMessage, error) {
	m, err := e.repo.GetMessageByExternalID(ctx, upd.MessageID)
	if err != nil {
		return nil, err
	}

	nextRank, ok := messageRank[upd.Status]
	if !ok {
		return m, nil
	}
	currentRank := messageRank[m.Status()]

	ts := upd.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	slot := slotFor(m, upd.Status)
	if slot == nil {
		return m, nil
	}
	if nextRank > currentRank {
		*slot = &ts
		if upd.Status == models.MessageStatusFailed {
			m.FailureReason = firstNonEmpty(upd.ErrorText, upd.ErrorCode)
		}
	} else if *slot == nil {
		// Stale event: keep the timestamp for the record, derived status
		// is unaffected because higher-priority slots are already set.
		*slot = &ts
	} else {
		return m, nil
	}

	if err := e.repo.UpdateMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarkRead clears the unread count and returns a PENDING conversation to
// OPEN.
func (e *Engine) MarkRead(ctx context.Context, conversationID string) (*models.Conversation, error) {
	c, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	c.UnreadCount = 0
	if c.Status == models.ConversationStatusPending {
		c.Status = models.ConversationStatusOpen
	}
	c.UpdatedAt = e.now()
	if err := e.repo.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Resolve marks a conversation RESOLVED. The guard requires at least one
// outbound message and a feedback-tagged last outbound message; force
// bypasses the feedback requirement only.
func (e *Engine) Resolve(ctx context.Context, conversationID string, force bool) (*models.Conversation, error) {
	c, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.ConversationStatusClosed {
		return nil, ErrAlreadyClosed
	}

	n, err := e.repo.CountOutbound(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoOutboundMessage
	}
	if !force {
		last, err := e.repo.LastOutboundMessage(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if !last.FeedbackTagged {
			return nil, ErrFeedbackPending
		}
	}

	c.Status = models.ConversationStatusResolved
	c.UpdatedAt = e.now()
	if err := e.repo.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Reopen returns any conversation to OPEN and clears the archival
// timestamp.
func (e *Engine) Reopen(ctx context.Context, conversationID string) (*models.Conversation, error) {
	c, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatusOpen
	c.ClosedAt = nil
	c.UpdatedAt = e.now()
	if err := e.repo.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Archive closes a conversation. CLOSED is reached only through this
// explicit action.
func (e *Engine) Archive(ctx context.Context, conversationID string) (*models.Conversation, error) {
	c, err := e.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.ConversationStatusClosed {
		return nil, ErrAlreadyClosed
	}
	now := e.now()
	c.Status = models.ConversationStatusClosed
	c.ClosedAt = &now
	c.UpdatedAt = now
	if err := e.repo.UpdateConversation(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Messages lists a conversation's messages in order.
func (e *Engine) Messages(ctx context.Context, conversationID string) ([]*models.StoredMessage, error) {
	return e.repo.ListMessages(ctx, conversationID)
}

// Get returns one conversation.
func (e *Engine) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	return e.repo.GetConversation(ctx, conversationID)
}

func slotFor(m *models.StoredMessage, status string) **time.Time {
	switch status {
	case models.MessageStatusSent:
		return &m.SentAt
	case models.MessageStatusDelivered:
		return &m.DeliveredAt
	case models.MessageStatusRead:
		return &m.ReadAt
	case models.MessageStatusFailed:
		return &m.FailedAt
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
