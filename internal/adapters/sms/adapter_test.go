package sms_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	smsadapter "github.com/omnidesk/dispatch-engine/internal/adapters/sms"
	"github.com/omnidesk/dispatch-engine/internal/collab"
	"github.com/omnidesk/dispatch-engine/internal/models"
	smsprovider "github.com/omnidesk/dispatch-engine/internal/providers/sms"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
)

type fakeGateway struct {
	bulkRequests []*smsprovider.BulkRequest
	otpRequests  []*smsprovider.OTPRequest
	sendErr      error
	errBody      string
}

func (f *fakeGateway) SendBulk(_ context.Context, req *smsprovider.BulkRequest) (*smsprovider.RawResponse, error) {
	f.bulkRequests = append(f.bulkRequests, req)
	if f.sendErr != nil {
		return &smsprovider.RawResponse{Code: 400, Body: f.errBody}, f.sendErr
	}
	return &smsprovider.RawResponse{ID: "sms-1", Code: 200, Status: "success"}, nil
}

func (f *fakeGateway) SendOTP(_ context.Context, req *smsprovider.OTPRequest) (*smsprovider.RawResponse, error) {
	f.otpRequests = append(f.otpRequests, req)
	return &smsprovider.RawResponse{ID: "otp-1", Code: 200, Status: "success"}, nil
}

func (f *fakeGateway) Ping(_ context.Context) error { return nil }

func fixture(t *testing.T, gateway *fakeGateway) (*smsadapter.Adapter, *collab.MemoryLedger) {
	t.Helper()

	account := &models.ChannelAccount{
		ID:          "acct-sms",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelSMS,
		Credentials: map[string]string{"api_key": "k", "sender_id": "OMNIDK"},
	}
	ledger := collab.NewMemoryLedger()
	ledger.Credit("tenant-1", 1000)
	pipeline, err := common.NewPipeline(ratelimit.NewMemoryLimiter(zerolog.Nop()), ledger, collab.NewMemoryOptOuts(), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	adapter, err := smsadapter.NewAdapter(account, gateway, pipeline, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build adapter: %v", err)
	}
	return adapter, ledger
}

func TestSendBulkSingleProviderCall(t *testing.T) {
	gateway := &fakeGateway{}
	adapter, ledger := fixture(t, gateway)

	phones := []string{"+15550000001", "+15550000002", "+15550000003"}
	result := adapter.SendBulk(context.Background(), phones, "flash sale today")

	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
	if len(gateway.bulkRequests) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(gateway.bulkRequests))
	}
	if got := len(gateway.bulkRequests[0].Phones); got != 3 {
		t.Fatalf("phones in bulk call = %d, want 3", got)
	}

	usage := ledger.Events()
	if len(usage) != 1 {
		t.Fatalf("usage events = %d, want 1", len(usage))
	}
	if usage[0].Cost != 0.01*3 {
		t.Fatalf("cost = %v, want one segment per phone", usage[0].Cost)
	}
}

func TestSendBulkRejectsEmptyPhones(t *testing.T) {
	gateway := &fakeGateway{}
	adapter, _ := fixture(t, gateway)

	result := adapter.SendBulk(context.Background(), nil, "hi")
	if result.Success {
		t.Fatal("expected failure for empty phone list")
	}
	if len(gateway.bulkRequests) != 0 {
		t.Fatal("provider must not be called with no phones")
	}
}

func TestMultiSegmentBodyIsPricedPerSegment(t *testing.T) {
	adapter, _ := fixture(t, &fakeGateway{})

	long := strings.Repeat("x", 321) // 3 segments at 160 chars each
	estimate := adapter.EstimateCost(&models.NormalizedMessage{Content: long})

	if estimate.Units != 3 {
		t.Fatalf("units = %d, want 3", estimate.Units)
	}
	if estimate.Amount != 0.03 {
		t.Fatalf("amount = %v, want 0.03", estimate.Amount)
	}
}

func TestSendOTPClampsExpiry(t *testing.T) {
	gateway := &fakeGateway{}
	adapter, _ := fixture(t, gateway)

	adapter.SendOTP(context.Background(), "+15550000001", "123456", 0)
	adapter.SendOTP(context.Background(), "+15550000001", "123456", 90)

	if len(gateway.otpRequests) != 2 {
		t.Fatalf("otp calls = %d, want 2", len(gateway.otpRequests))
	}
	if gateway.otpRequests[0].ExpiryMinutes != 1 {
		t.Fatalf("low expiry = %d, want clamped to 1", gateway.otpRequests[0].ExpiryMinutes)
	}
	if gateway.otpRequests[1].ExpiryMinutes != 30 {
		t.Fatalf("high expiry = %d, want clamped to 30", gateway.otpRequests[1].ExpiryMinutes)
	}
}

func TestSendTemplateIsUnsupported(t *testing.T) {
	adapter, _ := fixture(t, &fakeGateway{})

	result := adapter.SendTemplate(context.Background(), "tpl-1", nil, "+15550000001")
	if result.Success {
		t.Fatal("expected template sends to be rejected")
	}
	if result.ErrorCode != common.CodeProviderError {
		t.Fatalf("error code = %q", result.ErrorCode)
	}
}

func TestGatewayErrorCarriesDetail(t *testing.T) {
	gateway := &fakeGateway{
		sendErr: common.WrapProvider("", "bad request"),
		errBody: `{"status":"error","error":"invalid destination number"}`,
	}
	adapter, ledger := fixture(t, gateway)

	result := adapter.SendMessage(context.Background(), &models.NormalizedMessage{
		ID:          "msg-1",
		TenantID:    "tenant-1",
		ChannelType: models.ChannelSMS,
		ContentType: models.ContentTypeText,
		Content:     "hello",
		Recipient:   "+0",
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "invalid destination number") {
		t.Fatalf("error = %q, want gateway detail carried through", result.Error)
	}
	if len(ledger.Events()) != 0 {
		t.Fatal("no usage should be recorded on failure")
	}
}

func TestParseStatusWebhookSingleAndBatch(t *testing.T) {
	adapter, _ := fixture(t, &fakeGateway{})

	single := []byte(`{"message_id":"sms-9","status":"delivrd","timestamp":"2025-06-01T12:00:00Z"}`)
	updates, err := adapter.ParseStatusWebhook(single)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 || updates[0].MessageID != "sms-9" {
		t.Fatalf("unexpected updates: %+v", updates)
	}
	if updates[0].Status != models.MessageStatusDelivered {
		t.Fatalf("status = %q, want delivered for delivrd", updates[0].Status)
	}
	if updates[0].Timestamp != time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("timestamp = %v", updates[0].Timestamp)
	}

	batch := []byte(`{"reports":[
		{"id":"sms-1","status":"delivered"},
		{"id":"sms-2","status":"expired","error":"handset unreachable"}
	]}`)
	updates, err = adapter.ParseStatusWebhook(batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(updates))
	}
	if updates[1].Status != models.MessageStatusFailed || updates[1].ErrorText != "handset unreachable" {
		t.Fatalf("unexpected failure update: %+v", updates[1])
	}
}

func TestParseInboundWebhookFieldVariants(t *testing.T) {
	adapter, _ := fixture(t, &fakeGateway{})

	msg, err := adapter.ParseInboundWebhook([]byte(`{"message_id":"in-1","from":"+15557654321","text":"STOP"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ID != "in-1" || msg.Content != "STOP" || msg.Sender != "+15557654321" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := adapter.ParseInboundWebhook([]byte(`{"text":"no sender"}`)); err == nil {
		t.Fatal("expected error for missing sender")
	}
}
