package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	"github.com/omnidesk/dispatch-engine/internal/broadcast"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/conversation"
	"github.com/omnidesk/dispatch-engine/internal/httpapi"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
	"github.com/omnidesk/dispatch-engine/internal/store"
)

// sentStrategy marks every recipient sent with a predictable provider id.
type sentStrategy struct{}

func (sentStrategy) Dispatch(_ context.Context, _ *models.Broadcast, recipients []*models.BroadcastRecipient, _ func() bool) []broadcast.Outcome {
	out := make([]broadcast.Outcome, len(recipients))
	for i, r := range recipients {
		out[i] = broadcast.Outcome{RecipientID: r.ID, Sent: true, ProviderMessageID: "ext-" + r.ID}
	}
	return out
}

// webhookAdapter implements just enough of common.ChannelAdapter for the
// webhook routes.
type webhookAdapter struct {
	inbound *models.NormalizedMessage
	updates []models.StatusUpdate
}

func (a *webhookAdapter) ChannelType() string                  { return models.ChannelWhatsApp }
func (a *webhookAdapter) Capabilities() models.CapabilitySet   { return models.NewCapabilitySet() }
func (a *webhookAdapter) SendMessage(context.Context, *models.NormalizedMessage) common.SendResult {
	return common.SendResult{}
}
func (a *webhookAdapter) SendTemplate(context.Context, string, map[string]string, string) common.SendResult {
	return common.SendResult{}
}
func (a *webhookAdapter) ParseInboundWebhook([]byte) (*models.NormalizedMessage, error) {
	return a.inbound, nil
}
func (a *webhookAdapter) ParseStatusWebhook([]byte) ([]models.StatusUpdate, error) {
	return a.updates, nil
}
func (a *webhookAdapter) ValidateCredentials(context.Context) error { return nil }
func (a *webhookAdapter) HealthStatus(context.Context) common.HealthReport {
	return common.HealthReport{Status: models.HealthHealthy}
}
func (a *webhookAdapter) RefreshTokens(context.Context) error { return nil }
func (a *webhookAdapter) EstimateCost(*models.NormalizedMessage) common.CostEstimate {
	return common.CostEstimate{}
}

type fixture struct {
	server  *httptest.Server
	adapter *webhookAdapter
	store   *store.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	contacts := collab.NewMemoryContacts()
	contacts.Seed("tenant-1", []models.Contact{
		{ID: "c1", Phone: "+15550000001"},
		{ID: "c2", Phone: "+15550000002"},
	})

	broadcasts, err := broadcast.NewEngine(s, contacts, map[string]broadcast.Strategy{
		models.ChannelWhatsApp: sentStrategy{},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("broadcast engine: %v", err)
	}

	conversations, err := conversation.NewEngine(s, zerolog.Nop())
	if err != nil {
		t.Fatalf("conversation engine: %v", err)
	}

	adapter := &webhookAdapter{}
	srv, err := httpapi.NewServer(
		broadcasts,
		conversations,
		map[string]common.ChannelAdapter{models.ChannelWhatsApp: adapter},
		ratelimit.NewMemoryLimiter(zerolog.Nop()),
		func(string) string { return ratelimit.TierUnlimited },
		zerolog.Nop(),
	)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{server: ts, adapter: adapter, store: s}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("X-Tenant-ID", "tenant-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func createDraft(t *testing.T, f *fixture) string {
	resp, body := f.do(t, http.MethodPost, "/api/broadcasts", map[string]any{
		"name":     "launch",
		"channel":  models.ChannelWhatsApp,
		"template": "we are live",
		"audience": map[string]string{"kind": models.AudienceAllContacts},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	var b models.Broadcast
	if err := json.Unmarshal(body["data"], &b); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	return b.ID
}

func TestBroadcastLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	id := createDraft(t, f)

	resp, body := f.do(t, http.MethodPost, "/api/broadcasts/"+id+"/send", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send returned %d", resp.StatusCode)
	}
	var b models.Broadcast
	if err := json.Unmarshal(body["data"], &b); err != nil {
		t.Fatalf("decode broadcast: %v", err)
	}
	if b.Status != models.BroadcastStatusCompleted || b.SentCount != 2 {
		t.Fatalf("unexpected broadcast after send: %+v", b)
	}

	resp, body = f.do(t, http.MethodGet, "/api/broadcasts/"+id+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats returned %d", resp.StatusCode)
	}
	var stats models.BroadcastStats
	if err := json.Unmarshal(body["data"], &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.Sent != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	// Sending twice conflicts with the state machine.
	resp, _ = f.do(t, http.MethodPost, "/api/broadcasts/"+id+"/send", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second send returned %d, want 409", resp.StatusCode)
	}
}

func TestBroadcastNotFound(t *testing.T) {
	f := newFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/api/broadcasts/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInboundWebhookCreatesConversation(t *testing.T) {
	f := newFixture(t)
	f.adapter.inbound = &models.NormalizedMessage{
		ID:          "in-1",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelWhatsApp,
		ContentType: models.ContentTypeText,
		Content:     "hi there",
		Sender:      "+15550000001",
	}

	resp, body := f.do(t, http.MethodPost, "/webhooks/whatsapp/inbound", map[string]string{"raw": "payload"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inbound webhook returned %d", resp.StatusCode)
	}
	var stored models.StoredMessage
	if err := json.Unmarshal(body["data"], &stored); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if stored.Direction != models.DirectionInbound {
		t.Fatalf("expected inbound message, got %+v", stored)
	}

	conv, err := f.store.FindConversation(context.Background(), "tenant-1", "+15550000001", models.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("conversation not created: %v", err)
	}
	if conv.Status != models.ConversationStatusPending || conv.UnreadCount != 1 {
		t.Fatalf("expected PENDING/1, got %s/%d", conv.Status, conv.UnreadCount)
	}
}

func TestStatusWebhookUpdatesBroadcastRecipients(t *testing.T) {
	f := newFixture(t)
	id := createDraft(t, f)
	if resp, _ := f.do(t, http.MethodPost, "/api/broadcasts/"+id+"/send", nil); resp.StatusCode != http.StatusOK {
		t.Fatal("send failed")
	}

	recipients, err := f.store.ListRecipients(context.Background(), id, "")
	if err != nil || len(recipients) == 0 {
		t.Fatalf("list recipients: %v", err)
	}

	f.adapter.updates = []models.StatusUpdate{
		{MessageID: recipients[0].ProviderMessageID, Status: models.MessageStatusDelivered},
		{MessageID: "unknown-id", Status: models.MessageStatusDelivered},
	}

	resp, body := f.do(t, http.MethodPost, "/webhooks/whatsapp/status", map[string]string{"raw": "payload"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status webhook returned %d", resp.StatusCode)
	}
	var counts map[string]int
	if err := json.Unmarshal(body["data"], &counts); err != nil {
		t.Fatalf("decode counts: %v", err)
	}
	if counts["received"] != 2 || counts["applied"] != 1 {
		t.Fatalf("expected 2 received / 1 applied, got %v", counts)
	}

	updated, err := f.store.GetRecipientByProviderID(context.Background(), recipients[0].ProviderMessageID)
	if err != nil {
		t.Fatalf("fetch recipient: %v", err)
	}
	if updated.Status != models.RecipientStatusDelivered {
		t.Fatalf("expected DELIVERED, got %s", updated.Status)
	}
}

func TestHealthExemptFromRateLimiting(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		resp, _ := f.do(t, http.MethodGet, "/health", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("health check %d returned %d", i, resp.StatusCode)
		}
	}
}
