package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/util"
)

// Email providers post one JSON object per engagement event.

type inboundPayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	HTML      string `json:"html"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type eventPayload struct {
	Event     string `json:"event"`
	MessageID string `json:"message_id"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
}

// ParseInboundWebhook normalizes an inbound email (a reply routed back by
// the provider).
func (a *Adapter) ParseInboundWebhook(payload []byte) (*models.NormalizedMessage, error) {
	var p inboundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("email webhook: decode inbound payload: %w", err)
	}
	if p.From == "" {
		return nil, errors.New("email webhook: missing sender")
	}

	content := p.HTML
	contentType := models.ContentTypeRichText
	if content == "" {
		content = p.Text
		contentType = models.ContentTypeText
	}

	sentAt := a.now()
	if ts, err := util.ParseRFC3339(p.Timestamp); err == nil {
		sentAt = ts
	}

	return &models.NormalizedMessage{
		ID:          p.MessageID,
		AccountID:   a.account.ID,
		TenantID:    a.account.TenantID,
		ChannelType: models.ChannelEmail,
		Direction:   models.DirectionInbound,
		ContentType: contentType,
		Content:     content,
		Sender:      p.From,
		SentAt:      sentAt,
		Metadata:    map[string]string{"subject": p.Subject},
	}, nil
}

// ParseStatusWebhook normalizes an engagement event. Opens count as reads;
// bounces and drops count as failures.
func (a *Adapter) ParseStatusWebhook(payload []byte) ([]models.StatusUpdate, error) {
	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("email webhook: decode event payload: %w", err)
	}
	if p.MessageID == "" {
		return nil, errors.New("email webhook: missing message_id")
	}

	ts := a.now()
	if parsed, err := util.ParseRFC3339(p.Timestamp); err == nil {
		ts = parsed
	}

	return []models.StatusUpdate{{
		MessageID: p.MessageID,
		Status:    normalizeEvent(p.Event),
		Timestamp: ts,
		ErrorText: p.Reason,
	}}, nil
}

func normalizeEvent(event string) string {
	switch strings.ToLower(event) {
	case "processed", "sent", "accepted":
		return models.MessageStatusSent
	case "delivered":
		return models.MessageStatusDelivered
	case "open", "opened", "click", "clicked":
		return models.MessageStatusRead
	case "bounce", "bounced", "dropped", "deferred_final", "spamreport":
		return models.MessageStatusFailed
	default:
		return event
	}
}
