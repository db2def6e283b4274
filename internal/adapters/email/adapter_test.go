package email_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	emailadapter "github.com/omnidesk/dispatch-engine/internal/adapters/email"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/models"
	emailprovider "github.com/omnidesk/dispatch-engine/internal/providers/email"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
)

type fakeSender struct {
	requests []*emailprovider.SendRequest
	sendErr  error
}

func (f *fakeSender) Send(_ context.Context, req *emailprovider.SendRequest) (*emailprovider.RawResponse, error) {
	f.requests = append(f.requests, req)
	if f.sendErr != nil {
		return &emailprovider.RawResponse{Code: 400}, f.sendErr
	}
	return &emailprovider.RawResponse{ID: "em-1", Code: 202, Status: "queued"}, nil
}

func (f *fakeSender) Ping(_ context.Context) error { return nil }

func newAdapter(t *testing.T, sender *fakeSender) *emailadapter.Adapter {
	t.Helper()

	account := &models.ChannelAccount{
		ID:          "acct-email",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelEmail,
		Credentials: map[string]string{"api_key": "k", "from_address": "support@omnidesk.io"},
	}
	ledger := collab.NewMemoryLedger()
	ledger.Credit("tenant-1", 100)
	pipeline, err := common.NewPipeline(ratelimit.NewMemoryLimiter(zerolog.Nop()), ledger, collab.NewMemoryOptOuts(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	adapter, err := emailadapter.NewAdapter(account, sender, pipeline, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build adapter: %v", err)
	}
	return adapter
}

func TestSendMessageWireShape(t *testing.T) {
	sender := &fakeSender{}
	adapter := newAdapter(t, sender)

	result := adapter.SendMessage(context.Background(), &models.NormalizedMessage{
		ID:          "msg-1",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelEmail,
		ContentType: models.ContentTypeRichText,
		Content:     "<p>your invoice is attached</p>",
		Recipient:   "customer@example.com",
		Metadata: map[string]string{
			"subject":  "Invoice #42",
			"text":     "your invoice is attached",
			"reply_to": "billing@omnidesk.io",
		},
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if result.ExternalID != "em-1" {
		t.Fatalf("external id = %q", result.ExternalID)
	}
	if len(sender.requests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(sender.requests))
	}
	req := sender.requests[0]
	if req.From != "support@omnidesk.io" {
		t.Fatalf("from = %q, want account from_address", req.From)
	}
	if len(req.To) != 1 || req.To[0] != "customer@example.com" {
		t.Fatalf("to = %v", req.To)
	}
	if req.Subject != "Invoice #42" || req.ReplyTo != "billing@omnidesk.io" {
		t.Fatalf("metadata not mapped: %+v", req)
	}
	if req.HTML != "<p>your invoice is attached</p>" || req.Text != "your invoice is attached" {
		t.Fatalf("bodies not mapped: %+v", req)
	}
}

func TestSendMessageRejectsInvalidAddress(t *testing.T) {
	sender := &fakeSender{}
	adapter := newAdapter(t, sender)

	result := adapter.SendMessage(context.Background(), &models.NormalizedMessage{
		ID:          "msg-1",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelEmail,
		Content:     "hi",
		Recipient:   "not-an-address",
	})

	if result.Success {
		t.Fatal("expected failure for malformed address")
	}
	if len(sender.requests) != 0 {
		t.Fatal("provider must not be called for a malformed address")
	}
}

func TestSendTemplateIsUnsupported(t *testing.T) {
	adapter := newAdapter(t, &fakeSender{})

	result := adapter.SendTemplate(context.Background(), "tpl-1", nil, "customer@example.com")
	if result.Success {
		t.Fatal("expected template sends to be rejected")
	}
}

func TestParseStatusWebhookNormalizesEvents(t *testing.T) {
	adapter := newAdapter(t, &fakeSender{})

	cases := []struct {
		event string
		want  string
	}{
		{"processed", models.MessageStatusSent},
		{"delivered", models.MessageStatusDelivered},
		{"open", models.MessageStatusRead},
		{"click", models.MessageStatusRead},
		{"bounce", models.MessageStatusFailed},
		{"spamreport", models.MessageStatusFailed},
	}
	for _, tc := range cases {
		payload := []byte(`{"event":"` + tc.event + `","message_id":"em-7","email":"customer@example.com"}`)
		updates, err := adapter.ParseStatusWebhook(payload)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.event, err)
		}
		if len(updates) != 1 {
			t.Fatalf("%s: updates = %d, want 1", tc.event, len(updates))
		}
		if updates[0].Status != tc.want {
			t.Fatalf("%s: status = %q, want %q", tc.event, updates[0].Status, tc.want)
		}
		if updates[0].MessageID != "em-7" {
			t.Fatalf("%s: message id = %q", tc.event, updates[0].MessageID)
		}
	}
}

func TestParseInboundWebhookPrefersHTML(t *testing.T) {
	adapter := newAdapter(t, &fakeSender{})

	msg, err := adapter.ParseInboundWebhook([]byte(`{
		"message_id": "in-9",
		"from": "customer@example.com",
		"subject": "re: order",
		"html": "<p>thanks!</p>",
		"text": "thanks!"
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentType != models.ContentTypeRichText {
		t.Fatalf("content type = %q, want rich_text when html present", msg.ContentType)
	}
	if msg.Content != "<p>thanks!</p>" {
		t.Fatalf("content = %q", msg.Content)
	}

	msg, err = adapter.ParseInboundWebhook([]byte(`{
		"message_id": "in-10",
		"from": "customer@example.com",
		"text": "plain reply"
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ContentType != models.ContentTypeText || msg.Content != "plain reply" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
