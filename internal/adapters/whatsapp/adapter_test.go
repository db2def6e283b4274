package whatsapp_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	whatsappadapter "github.com/omnidesk/dispatch-engine/internal/adapters/whatsapp"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/oauth"
	waprovider "github.com/omnidesk/dispatch-engine/internal/providers/whatsapp"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
)

type fakeProvider struct {
	textRequests     []*waprovider.TextRequest
	templateRequests []*waprovider.TemplateRequest
	refreshCalls     int
	refreshExpiry    time.Time
	sendErr          error
	sendErrBody      string
}

func (f *fakeProvider) SendText(_ context.Context, req *waprovider.TextRequest) (*waprovider.RawResponse, error) {
	f.textRequests = append(f.textRequests, req)
	if f.sendErr != nil {
		return &waprovider.RawResponse{Code: 400, Body: f.sendErrBody}, f.sendErr
	}
	return &waprovider.RawResponse{ID: "wa-msg-1", Code: 200, Status: "success"}, nil
}

func (f *fakeProvider) SendTemplate(_ context.Context, req *waprovider.TemplateRequest) (*waprovider.RawResponse, error) {
	f.templateRequests = append(f.templateRequests, req)
	if f.sendErr != nil {
		return &waprovider.RawResponse{Code: 400, Body: f.sendErrBody}, f.sendErr
	}
	return &waprovider.RawResponse{ID: "wa-batch-1", Code: 200, Status: "success"}, nil
}

func (f *fakeProvider) RefreshToken(_ context.Context) (time.Time, error) {
	f.refreshCalls++
	return f.refreshExpiry, nil
}

func (f *fakeProvider) Ping(_ context.Context) error { return nil }

func newAdapter(t *testing.T, provider *fakeProvider, account *models.ChannelAccount) *whatsappadapter.Adapter {
	return newAdapterWithOptOuts(t, provider, account, collab.NewMemoryOptOuts())
}

func newAdapterWithOptOuts(t *testing.T, provider *fakeProvider, account *models.ChannelAccount, optOuts *collab.MemoryOptOuts) *whatsappadapter.Adapter {
	t.Helper()

	limiter := ratelimit.NewMemoryLimiter(zerolog.Nop())
	ledger := collab.NewMemoryLedger()
	ledger.Credit(account.TenantID, 1000)
	pipeline, err := common.NewPipeline(limiter, ledger, optOuts, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	refresher, err := oauth.NewRefresher(collab.NewMemoryAccounts(account), zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build refresher: %v", err)
	}
	adapter, err := whatsappadapter.NewAdapter(account, provider, pipeline, refresher, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build adapter: %v", err)
	}
	return adapter
}

func account() *models.ChannelAccount {
	return &models.ChannelAccount{
		ID:          "acct-wa",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelWhatsApp,
		Credentials: map[string]string{"integrated_number": "15550009999"},
	}
}

func TestSendMessageWireShape(t *testing.T) {
	provider := &fakeProvider{}
	adapter := newAdapter(t, provider, account())

	result := adapter.SendMessage(context.Background(), &models.NormalizedMessage{
		ID:          "msg-1",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelWhatsApp,
		ContentType: models.ContentTypeText,
		Content:     "hello there",
		Recipient:   "15551230000",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if result.ExternalID != "wa-msg-1" {
		t.Fatalf("external id = %q, want wa-msg-1", result.ExternalID)
	}
	if len(provider.textRequests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(provider.textRequests))
	}
	req := provider.textRequests[0]
	if req.IntegratedNumber != "15550009999" {
		t.Fatalf("integrated number = %q, want account credential", req.IntegratedNumber)
	}
	if req.RecipientNumber != "15551230000" {
		t.Fatalf("recipient = %q", req.RecipientNumber)
	}
	if req.Payload.Text != "hello there" || req.Payload.MessagingProduct != "whatsapp" {
		t.Fatalf("unexpected payload: %+v", req.Payload)
	}
}

func TestSendTemplateBatchMakesOneProviderCall(t *testing.T) {
	provider := &fakeProvider{}
	adapter := newAdapter(t, provider, account())

	entries := make([]whatsappadapter.BatchEntry, 80)
	for i := range entries {
		entries[i] = whatsappadapter.BatchEntry{Recipient: "1555000" + string(rune('0'+i%10))}
	}

	results := adapter.SendTemplateBatch(context.Background(), "welcome_offer", entries)

	if len(provider.templateRequests) != 1 {
		t.Fatalf("provider calls = %d, want one bulk call", len(provider.templateRequests))
	}
	req := provider.templateRequests[0]
	if got := len(req.Payload.Template.ToAndComponents); got != 80 {
		t.Fatalf("recipients in bulk call = %d, want 80", got)
	}
	if req.Payload.Template.Name != "welcome_offer" {
		t.Fatalf("template name = %q", req.Payload.Template.Name)
	}
	if req.Payload.Template.Language.Policy != "deterministic" {
		t.Fatalf("language policy = %q", req.Payload.Template.Language.Policy)
	}

	if len(results) != 80 {
		t.Fatalf("results = %d, want 80", len(results))
	}
	for i, r := range results {
		if !r.Success || r.ExternalID != "wa-batch-1" {
			t.Fatalf("result %d = %+v, want uniform success", i, r)
		}
	}
}

func TestSendTemplateBatchScreensOptedOutEntries(t *testing.T) {
	provider := &fakeProvider{}
	optOuts := collab.NewMemoryOptOuts()
	optOuts.Add(models.ChannelWhatsApp, "15550000002")
	adapter := newAdapterWithOptOuts(t, provider, account(), optOuts)

	entries := []whatsappadapter.BatchEntry{
		{Recipient: "15550000001"},
		{Recipient: "15550000002"},
		{Recipient: "15550000003"},
	}
	results := adapter.SendTemplateBatch(context.Background(), "welcome_offer", entries)

	if len(provider.templateRequests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(provider.templateRequests))
	}
	sentTo := provider.templateRequests[0].Payload.Template.ToAndComponents
	if len(sentTo) != 2 {
		t.Fatalf("recipients in bulk call = %d, want the two clean entries", len(sentTo))
	}
	for _, tc := range sentTo {
		if tc.To[0] == "15550000002" {
			t.Fatal("suppressed recipient reached the provider")
		}
	}

	if results[1].Success || results[1].ErrorCode != common.CodeRecipientOptedOut {
		t.Fatalf("suppressed entry result = %+v, want opted-out failure", results[1])
	}
	if !results[0].Success || !results[2].Success {
		t.Fatalf("clean entries must succeed: %+v / %+v", results[0], results[2])
	}
}

func TestSendTemplateBatchErrorFailsAllEntries(t *testing.T) {
	provider := &fakeProvider{
		sendErr:     common.WrapProvider("", "bad request"),
		sendErrBody: `{"errors":[{"code":131026,"title":"recipient not on whatsapp"}]}`,
	}
	adapter := newAdapter(t, provider, account())

	entries := []whatsappadapter.BatchEntry{
		{Recipient: "15550000001"},
		{Recipient: "15550000002"},
		{Recipient: "15550000003"},
	}
	results := adapter.SendTemplateBatch(context.Background(), "welcome_offer", entries)

	for i, r := range results {
		if r.Success {
			t.Fatalf("result %d succeeded, want uniform failure", i)
		}
		if r.ErrorCode != common.CodeProviderError {
			t.Fatalf("result %d error code = %q, want %q", i, r.ErrorCode, common.CodeProviderError)
		}
	}
}

func TestExpiringTokenIsRefreshedBeforeSend(t *testing.T) {
	acct := account()
	soon := time.Now().Add(time.Minute)
	acct.TokenExpiresAt = &soon

	provider := &fakeProvider{refreshExpiry: time.Now().Add(time.Hour)}
	adapter := newAdapter(t, provider, acct)

	result := adapter.SendMessage(context.Background(), &models.NormalizedMessage{
		ID:          "msg-1",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelWhatsApp,
		ContentType: models.ContentTypeText,
		Content:     "hi",
		Recipient:   "15551230000",
	})

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if provider.refreshCalls != 1 {
		t.Fatalf("refresh calls = %d, want 1", provider.refreshCalls)
	}
	if acct.TokenExpiresAt == nil || !acct.TokenExpiresAt.Equal(provider.refreshExpiry) {
		t.Fatalf("token expiry not updated on the account: %v", acct.TokenExpiresAt)
	}
}

func TestParseStatusWebhookNormalizesStatuses(t *testing.T) {
	adapter := newAdapter(t, &fakeProvider{}, account())

	payload := []byte(`{
		"entry": [{"changes": [{"value": {"statuses": [
			{"id": "wa-1", "status": "delivered", "timestamp": "1717243200"},
			{"id": "wa-2", "status": "undelivered", "timestamp": "1717243260",
			 "errors": [{"code": 131026, "title": "recipient not on whatsapp"}]}
		]}}]}]
	}`)

	updates, err := adapter.ParseStatusWebhook(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[0].MessageID != "wa-1" || updates[0].Status != models.MessageStatusDelivered {
		t.Fatalf("unexpected first update: %+v", updates[0])
	}
	if updates[0].Timestamp != time.Unix(1717243200, 0).UTC() {
		t.Fatalf("timestamp = %v, want epoch parse", updates[0].Timestamp)
	}
	if updates[1].Status != models.MessageStatusFailed {
		t.Fatalf("status = %q, want failed for undelivered", updates[1].Status)
	}
	if updates[1].ErrorCode != "131026" || updates[1].ErrorText != "recipient not on whatsapp" {
		t.Fatalf("error fields not carried: %+v", updates[1])
	}
}

func TestParseInboundWebhookNestedEnvelope(t *testing.T) {
	adapter := newAdapter(t, &fakeProvider{}, account())

	payload := []byte(`{
		"entry": [{"changes": [{"value": {"messages": [
			{"id": "in-1", "from": "15557654321", "timestamp": "1717243200",
			 "type": "text", "text": {"body": "is my order shipped?"}}
		]}}]}]
	}`)

	msg, err := adapter.ParseInboundWebhook(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Direction != models.DirectionInbound {
		t.Fatalf("direction = %q, want inbound", msg.Direction)
	}
	if msg.Sender != "15557654321" || msg.Content != "is my order shipped?" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.TenantID != "tenant-1" {
		t.Fatalf("tenant = %q, want bound account tenant", msg.TenantID)
	}
}
