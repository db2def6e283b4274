package sms

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/util"
)

// Gateway webhook wire shapes. Field-path variants are normalized here.

type inboundPayload struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type statusPayload struct {
	Reports []statusReport `json:"reports"`
	statusReport
}

type statusReport struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
}

// ParseInboundWebhook normalizes an inbound SMS callback.
func (a *Adapter) ParseInboundWebhook(payload []byte) (*models.NormalizedMessage, error) {
	var p inboundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("sms webhook: decode inbound payload: %w", err)
	}

	id := p.ID
	if id == "" {
		id = p.MessageID
	}
	body := p.Message
	if body == "" {
		body = p.Text
	}
	if p.From == "" {
		return nil, errors.New("sms webhook: missing sender")
	}

	sentAt := a.now()
	if ts, err := util.ParseRFC3339(p.Timestamp); err == nil {
		sentAt = ts
	}

	return &models.NormalizedMessage{
		ID:          id,
		AccountID:   a.account.ID,
		TenantID:    a.account.TenantID,
		ChannelType: models.ChannelSMS,
		Direction:   models.DirectionInbound,
		ContentType: models.ContentTypeText,
		Content:     body,
		Sender:      p.From,
		SentAt:      sentAt,
	}, nil
}

// ParseStatusWebhook normalizes a delivery-report callback. Gateways send
// either a single report or a reports[] batch.
func (a *Adapter) ParseStatusWebhook(payload []byte) ([]models.StatusUpdate, error) {
	var p statusPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("sms webhook: decode status payload: %w", err)
	}

	reports := p.Reports
	if len(reports) == 0 && (p.ID != "" || p.MessageID != "") {
		reports = []statusReport{p.statusReport}
	}
	if len(reports) == 0 {
		return nil, errors.New("sms webhook: no reports in payload")
	}

	updates := make([]models.StatusUpdate, 0, len(reports))
	for _, r := range reports {
		id := r.ID
		if id == "" {
			id = r.MessageID
		}
		ts := a.now()
		if parsed, err := util.ParseRFC3339(r.Timestamp); err == nil {
			ts = parsed
		}
		updates = append(updates, models.StatusUpdate{
			MessageID: id,
			Status:    normalizeStatus(r.Status),
			Timestamp: ts,
			ErrorText: r.Error,
		})
	}
	return updates, nil
}

func normalizeStatus(status string) string {
	switch status {
	case "sent", "accepted", "submitted":
		return models.MessageStatusSent
	case "delivered", "delivrd":
		return models.MessageStatusDelivered
	case "failed", "undelivered", "rejected", "expired":
		return models.MessageStatusFailed
	default:
		return status
	}
}

func extractGatewayError(body string) (status, detail string) {
	if body == "" {
		return "", ""
	}
	var parsed struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", ""
	}
	return parsed.Status, parsed.Error
}
