package broadcast_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	whatsappadapter "github.com/omnidesk/dispatch-engine/internal/adapters/whatsapp"
	"github.com/omnidesk/dispatch-engine/internal/broadcast"
	"github.com/omnidesk/dispatch-engine/internal/models"
)

type fakeBulkSender struct {
	bulkCalls   [][]string
	singleCalls []string
	failBulk    bool
}

func (f *fakeBulkSender) SendBulk(_ context.Context, phones []string, _ string) common.SendResult {
	f.bulkCalls = append(f.bulkCalls, phones)
	if f.failBulk {
		return common.SendResult{Success: false, ErrorCode: common.CodeProviderError, Error: "gateway down"}
	}
	return common.SendResult{Success: true, ExternalID: fmt.Sprintf("bulk-%d", len(f.bulkCalls))}
}

func (f *fakeBulkSender) SendMessage(_ context.Context, msg *models.NormalizedMessage) common.SendResult {
	f.singleCalls = append(f.singleCalls, msg.Content)
	return common.SendResult{Success: true, ExternalID: fmt.Sprintf("msg-%d", len(f.singleCalls))}
}

func makeRecipients(n int) []*models.BroadcastRecipient {
	out := make([]*models.BroadcastRecipient, n)
	for i := range out {
		out[i] = &models.BroadcastRecipient{
			ID:               fmt.Sprintf("r%03d", i),
			RecipientAddress: fmt.Sprintf("+1555000%04d", i),
			Status:           models.RecipientStatusPending,
		}
	}
	return out
}

func TestSMSStrategyChunksOf50(t *testing.T) {
	sender := &fakeBulkSender{}
	strategy := broadcast.NewSMSStrategy(sender, 50, rate.NewLimiter(rate.Inf, 1), zerolog.Nop())

	b := &models.Broadcast{Channel: models.ChannelSMS, Template: "flash sale today"}
	outcomes := strategy.Dispatch(context.Background(), b, makeRecipients(120), nil)

	if len(sender.bulkCalls) != 3 {
		t.Fatalf("expected 3 bulk calls, got %d", len(sender.bulkCalls))
	}
	sizes := []int{len(sender.bulkCalls[0]), len(sender.bulkCalls[1]), len(sender.bulkCalls[2])}
	if sizes[0] != 50 || sizes[1] != 50 || sizes[2] != 20 {
		t.Fatalf("expected batch sizes 50/50/20, got %v", sizes)
	}
	if len(outcomes) != 120 {
		t.Fatalf("expected 120 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Sent {
			t.Fatalf("expected every recipient sent, %s failed: %s", o.RecipientID, o.ErrorMessage)
		}
	}
}

func TestSMSStrategyPersonalizedSendsIndividually(t *testing.T) {
	sender := &fakeBulkSender{}
	strategy := broadcast.NewSMSStrategy(sender, 50, rate.NewLimiter(rate.Inf, 1), zerolog.Nop())

	recipients := makeRecipients(3)
	recipients[0].Variables = map[string]string{"name": "Ada"}
	recipients[1].Variables = map[string]string{"name": "Grace"}
	recipients[2].Variables = map[string]string{"name": "Edsger"}

	b := &models.Broadcast{Channel: models.ChannelSMS, Template: "Hi {{name}}"}
	outcomes := strategy.Dispatch(context.Background(), b, recipients, nil)

	if len(sender.bulkCalls) != 0 {
		t.Fatalf("personalized template must not use bulk calls, got %d", len(sender.bulkCalls))
	}
	if len(sender.singleCalls) != 3 {
		t.Fatalf("expected 3 individual sends, got %d", len(sender.singleCalls))
	}
	if sender.singleCalls[0] != "Hi Ada" || sender.singleCalls[1] != "Hi Grace" {
		t.Fatalf("rendered bodies wrong: %v", sender.singleCalls)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
}

func TestSMSStrategyBatchFailureIsContained(t *testing.T) {
	sender := &fakeBulkSender{failBulk: true}
	strategy := broadcast.NewSMSStrategy(sender, 50, rate.NewLimiter(rate.Inf, 1), zerolog.Nop())

	b := &models.Broadcast{Channel: models.ChannelSMS, Template: "same for all"}
	outcomes := strategy.Dispatch(context.Background(), b, makeRecipients(70), nil)

	// Both batches attempted even though the first failed.
	if len(sender.bulkCalls) != 2 {
		t.Fatalf("expected 2 bulk attempts, got %d", len(sender.bulkCalls))
	}
	if len(outcomes) != 70 {
		t.Fatalf("expected 70 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Sent || o.ErrorMessage == "" {
			t.Fatalf("expected failed outcome with message, got %+v", o)
		}
	}
}

func TestSMSStrategyStopsBetweenBatches(t *testing.T) {
	sender := &fakeBulkSender{}
	strategy := broadcast.NewSMSStrategy(sender, 50, rate.NewLimiter(rate.Inf, 1), zerolog.Nop())

	var calls atomic.Int32
	stop := func() bool { return calls.Add(1) > 1 }

	b := &models.Broadcast{Channel: models.ChannelSMS, Template: "same for all"}
	outcomes := strategy.Dispatch(context.Background(), b, makeRecipients(120), stop)

	if len(sender.bulkCalls) != 1 {
		t.Fatalf("expected dispatch to stop after first batch, got %d calls", len(sender.bulkCalls))
	}
	if len(outcomes) != 50 {
		t.Fatalf("expected outcomes only for the dispatched batch, got %d", len(outcomes))
	}
}

type timedBulkSender struct {
	calledAt []time.Time
}

func (f *timedBulkSender) SendBulk(_ context.Context, _ []string, _ string) common.SendResult {
	f.calledAt = append(f.calledAt, time.Now())
	return common.SendResult{Success: true, ExternalID: fmt.Sprintf("bulk-%d", len(f.calledAt))}
}

func (f *timedBulkSender) SendMessage(_ context.Context, _ *models.NormalizedMessage) common.SendResult {
	return common.SendResult{Success: true}
}

func TestSMSStrategyPausesBeforeSecondBatch(t *testing.T) {
	const pause = 150 * time.Millisecond
	sender := &timedBulkSender{}
	strategy := broadcast.NewSMSStrategy(sender, 2, rate.NewLimiter(rate.Every(pause), 1), zerolog.Nop())

	b := &models.Broadcast{Channel: models.ChannelSMS, Template: "same for all"}
	strategy.Dispatch(context.Background(), b, makeRecipients(4), nil)

	if len(sender.calledAt) != 2 {
		t.Fatalf("expected 2 bulk calls, got %d", len(sender.calledAt))
	}
	// The very first inter-batch gap must honour the pause; a limiter
	// carrying its initial burst token would make it near zero.
	if gap := sender.calledAt[1].Sub(sender.calledAt[0]); gap < pause-20*time.Millisecond {
		t.Fatalf("gap between first and second batch was %s, want at least %s", gap, pause)
	}
}

type fakeBatchSender struct {
	templateID string
	entries    []whatsappadapter.BatchEntry
	calls      int
	fail       bool
}

func (f *fakeBatchSender) SendTemplateBatch(_ context.Context, templateID string, entries []whatsappadapter.BatchEntry) []common.SendResult {
	f.calls++
	f.templateID = templateID
	f.entries = entries
	results := make([]common.SendResult, len(entries))
	for i := range results {
		if f.fail {
			results[i] = common.SendResult{Success: false, ErrorCode: common.CodeProviderError, Error: "template rejected"}
		} else {
			results[i] = common.SendResult{Success: true, ExternalID: fmt.Sprintf("wa-%d", i)}
		}
	}
	return results
}

func TestWhatsAppStrategySingleBulkCall(t *testing.T) {
	sender := &fakeBatchSender{}
	strategy := broadcast.NewWhatsAppStrategy(sender, zerolog.Nop())

	recipients := makeRecipients(75)
	recipients[0].Variables = map[string]string{"1": "Ada"}

	b := &models.Broadcast{Channel: models.ChannelWhatsApp, TemplateID: "promo_template"}
	outcomes := strategy.Dispatch(context.Background(), b, recipients, nil)

	if sender.calls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", sender.calls)
	}
	if sender.templateID != "promo_template" {
		t.Fatalf("unexpected template id %q", sender.templateID)
	}
	if len(sender.entries) != 75 {
		t.Fatalf("expected 75 entries in the bulk call, got %d", len(sender.entries))
	}
	if sender.entries[0].Components["1"] != "Ada" {
		t.Fatalf("component bindings not forwarded: %+v", sender.entries[0].Components)
	}
	for _, o := range outcomes {
		if !o.Sent {
			t.Fatalf("expected all sent, %s failed", o.RecipientID)
		}
	}
}

func TestWhatsAppStrategyBatchErrorFailsAll(t *testing.T) {
	sender := &fakeBatchSender{fail: true}
	strategy := broadcast.NewWhatsAppStrategy(sender, zerolog.Nop())

	b := &models.Broadcast{Channel: models.ChannelWhatsApp, TemplateID: "promo_template"}
	outcomes := strategy.Dispatch(context.Background(), b, makeRecipients(10), nil)

	if len(outcomes) != 10 {
		t.Fatalf("expected 10 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Sent || o.ErrorMessage != "template rejected" {
			t.Fatalf("expected uniform failure, got %+v", o)
		}
	}
}

func TestEmailStrategyIsStubbed(t *testing.T) {
	strategy := broadcast.NewEmailStrategy()
	outcomes := strategy.Dispatch(context.Background(), &models.Broadcast{Channel: models.ChannelEmail}, makeRecipients(4), nil)
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.Sent || o.ErrorMessage != "email broadcast not implemented" {
			t.Fatalf("expected stub failure, got %+v", o)
		}
	}
}
