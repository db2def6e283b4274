package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

// Provider webhook wire shapes. All known field-path variants are decoded
// here and nowhere else, confining wire-format instability to this seam.

type webhookEnvelope struct {
	Messages []inboundMessage `json:"messages"`
	Statuses []statusEntry    `json:"statuses"`
	Entry    []webhookEntry   `json:"entry"`
}

type webhookEntry struct {
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []inboundMessage `json:"messages"`
	Statuses []statusEntry    `json:"statuses"`
}

type inboundMessage struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      inboundText `json:"text"`
}

type inboundText struct {
	Body string `json:"body"`
}

type statusEntry struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Errors    []statusError `json:"errors"`
}

type statusError struct {
	Code  json.Number `json:"code"`
	Title string      `json:"title"`
}

// ParseInboundWebhook normalizes an inbound-message callback. Messages may
// arrive at the top level or nested under entry[].changes[].value.
func (a *Adapter) ParseInboundWebhook(payload []byte) (*models.NormalizedMessage, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("whatsapp webhook: decode inbound payload: %w", err)
	}

	messages := envelope.Messages
	if len(messages) == 0 {
		for _, entry := range envelope.Entry {
			for _, change := range entry.Changes {
				messages = append(messages, change.Value.Messages...)
			}
		}
	}
	if len(messages) == 0 {
		return nil, errors.New("whatsapp webhook: no messages in payload")
	}

	first := messages[0]
	contentType := models.ContentTypeText
	if first.Type != "" && first.Type != "text" {
		contentType = first.Type
	}

	return &models.NormalizedMessage{
		ID:          first.ID,
		AccountID:   a.account.ID,
		TenantID:    a.account.TenantID,
		ChannelType: models.ChannelWhatsApp,
		Direction:   models.DirectionInbound,
		ContentType: contentType,
		Content:     first.Text.Body,
		Sender:      first.From,
		SentAt:      parseEpoch(first.Timestamp, a.now()),
	}, nil
}

// ParseStatusWebhook normalizes a delivery-status callback into the
// canonical {messageId, status, timestamp} tuples.
func (a *Adapter) ParseStatusWebhook(payload []byte) ([]models.StatusUpdate, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("whatsapp webhook: decode status payload: %w", err)
	}

	statuses := envelope.Statuses
	if len(statuses) == 0 {
		for _, entry := range envelope.Entry {
			for _, change := range entry.Changes {
				statuses = append(statuses, change.Value.Statuses...)
			}
		}
	}
	if len(statuses) == 0 {
		return nil, errors.New("whatsapp webhook: no statuses in payload")
	}

	updates := make([]models.StatusUpdate, 0, len(statuses))
	for _, s := range statuses {
		update := models.StatusUpdate{
			MessageID: s.ID,
			Status:    normalizeStatus(s.Status),
			Timestamp: parseEpoch(s.Timestamp, a.now()),
		}
		if len(s.Errors) > 0 {
			update.ErrorCode = s.Errors[0].Code.String()
			update.ErrorText = s.Errors[0].Title
		}
		updates = append(updates, update)
	}
	return updates, nil
}

func normalizeStatus(status string) string {
	switch status {
	case "sent", "submitted":
		return models.MessageStatusSent
	case "delivered":
		return models.MessageStatusDelivered
	case "read":
		return models.MessageStatusRead
	case "failed", "undelivered":
		return models.MessageStatusFailed
	default:
		return status
	}
}

func parseEpoch(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}

// extractError pulls the first provider error code/title out of a raw
// response body.
func extractError(body string) (code, title string) {
	if body == "" {
		return "", ""
	}
	var parsed struct {
		Errors  []statusError `json:"errors"`
		Error   string        `json:"error"`
		Message string        `json:"message"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return "", ""
	}
	if len(parsed.Errors) > 0 {
		return parsed.Errors[0].Code.String(), parsed.Errors[0].Title
	}
	if parsed.Error != "" {
		return "", parsed.Error
	}
	return "", parsed.Message
}
