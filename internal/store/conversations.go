package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	_, err := s.db.ExecContext(ctx, `insert into conversations
		(id, tenant_id, contact_id, channel_type, status, unread_count,
		 assigned_to_id, closed_at, created_at, updated_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.ContactID, c.ChannelType, c.Status, c.UnreadCount,
		c.AssignedToID, c.ClosedAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: insert conversation: %w", err)
	}
	return nil
}

// GetConversation fetches one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.GetContext(ctx, &c, `select * from conversations where id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch conversation: %w", err)
	}
	return &c, nil
}

// FindConversation looks a conversation up by its natural key.
func (s *Store) FindConversation(ctx context.Context, tenantID, contactID, channelType string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.GetContext(ctx, &c,
		`select * from conversations where tenant_id = ? and contact_id = ? and channel_type = ?`,
		tenantID, contactID, channelType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find conversation: %w", err)
	}
	return &c, nil
}

// UpdateConversation rewrites a conversation's mutable fields.
func (s *Store) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	res, err := s.db.ExecContext(ctx, `update conversations set
		status = ?, unread_count = ?, assigned_to_id = ?, closed_at = ?, updated_at = ?
		where id = ?`,
		c.Status, c.UnreadCount, c.AssignedToID, c.ClosedAt, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("store: update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// InsertMessage appends a message to a conversation.
func (s *Store) InsertMessage(ctx context.Context, m *models.StoredMessage) error {
	_, err := s.db.ExecContext(ctx, `insert into messages
		(id, conversation_id, channel_type, direction, content_type, external_id,
		 feedback_tagged, sent_at, delivered_at, read_at, failed_at, failure_reason, created_at)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.ChannelType, m.Direction, m.ContentType, m.ExternalID,
		m.FeedbackTagged, m.SentAt, m.DeliveredAt, m.ReadAt, m.FailedAt, m.FailureReason, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}
	return nil
}

// GetMessage fetches one message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.StoredMessage, error) {
	var m models.StoredMessage
	err := s.db.GetContext(ctx, &m, `select * from messages where id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch message: %w", err)
	}
	return &m, nil
}

// GetMessageByExternalID fetches a message by the provider-assigned ID
// carried in status webhooks.
func (s *Store) GetMessageByExternalID(ctx context.Context, externalID string) (*models.StoredMessage, error) {
	var m models.StoredMessage
	err := s.db.GetContext(ctx, &m, `select * from messages where external_id = ? limit 1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch message by external id: %w", err)
	}
	return &m, nil
}

// UpdateMessage rewrites a message's delivery timestamps.
func (s *Store) UpdateMessage(ctx context.Context, m *models.StoredMessage) error {
	res, err := s.db.ExecContext(ctx, `update messages set
		external_id = ?, feedback_tagged = ?, sent_at = ?, delivered_at = ?,
		read_at = ?, failed_at = ?, failure_reason = ?
		where id = ?`,
		m.ExternalID, m.FeedbackTagged, m.SentAt, m.DeliveredAt,
		m.ReadAt, m.FailedAt, m.FailureReason, m.ID)
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListMessages returns a conversation's messages in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*models.StoredMessage, error) {
	var rows []models.StoredMessage
	err := s.db.SelectContext(ctx, &rows,
		`select * from messages where conversation_id = ? order by created_at asc, id asc`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	out := make([]*models.StoredMessage, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// LastOutboundMessage returns the most recent outbound message of a
// conversation, or ErrMessageNotFound when none exists.
func (s *Store) LastOutboundMessage(ctx context.Context, conversationID string) (*models.StoredMessage, error) {
	var m models.StoredMessage
	err := s.db.GetContext(ctx, &m,
		`select * from messages where conversation_id = ? and direction = ?
		 order by created_at desc, id desc limit 1`,
		conversationID, models.DirectionOutbound)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch last outbound message: %w", err)
	}
	return &m, nil
}

// CountOutbound counts a conversation's outbound messages.
func (s *Store) CountOutbound(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`select count(*) from messages where conversation_id = ? and direction = ?`,
		conversationID, models.DirectionOutbound)
	if err != nil {
		return 0, fmt.Errorf("store: count outbound messages: %w", err)
	}
	return n, nil
}
