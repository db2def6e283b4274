package conversation_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/dispatch-engine/internal/conversation"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/store"
)

func newEngine(t *testing.T) (*conversation.Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	engine, err := conversation.NewEngine(s, zerolog.Nop())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, s
}

func TestEnsureConversationIsIdempotent(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	c1, err := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	c2, err := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if c1.ID != c2.ID {
		t.Fatalf("expected the same conversation, got %s and %s", c1.ID, c2.ID)
	}
	if c1.Status != models.ConversationStatusOpen {
		t.Fatalf("new conversation should be OPEN, got %s", c1.Status)
	}
}

func TestStatusMergeIsMonotonic(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	c, _ := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelWhatsApp)
	m, err := engine.RecordOutbound(ctx, c.ID, models.ContentTypeText, "wa-100", true, "", false)
	if err != nil {
		t.Fatalf("record outbound: %v", err)
	}
	if m.Status() != models.MessageStatusSent {
		t.Fatalf("expected sent, got %s", m.Status())
	}

	base := time.Now().UTC().Truncate(time.Second)

	// Read receipt arrives before the delivery report.
	got, err := engine.ApplyStatusUpdate(ctx, models.StatusUpdate{
		MessageID: "wa-100", Status: models.MessageStatusRead, Timestamp: base.Add(2 * time.Second),
	})
	if err != nil {
		t.Fatalf("apply read: %v", err)
	}
	if got.Status() != models.MessageStatusRead {
		t.Fatalf("expected read, got %s", got.Status())
	}

	// Late delivery report fills its slot but the derived status stays.
	got, err = engine.ApplyStatusUpdate(ctx, models.StatusUpdate{
		MessageID: "wa-100", Status: models.MessageStatusDelivered, Timestamp: base.Add(time.Second),
	})
	if err != nil {
		t.Fatalf("apply late delivered: %v", err)
	}
	if got.Status() != models.MessageStatusRead {
		t.Fatalf("late delivered regressed status to %s", got.Status())
	}
	if got.DeliveredAt == nil {
		t.Fatal("late delivered should still fill its empty slot")
	}

	// A second delivery report is dropped entirely.
	before := *got.DeliveredAt
	got, err = engine.ApplyStatusUpdate(ctx, models.StatusUpdate{
		MessageID: "wa-100", Status: models.MessageStatusDelivered, Timestamp: base.Add(10 * time.Second),
	})
	if err != nil {
		t.Fatalf("apply duplicate delivered: %v", err)
	}
	if !got.DeliveredAt.Equal(before) {
		t.Fatal("duplicate delivered overwrote the recorded timestamp")
	}
}

func TestFailedStatusAdvances(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	c, _ := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelSMS)
	if _, err := engine.RecordOutbound(ctx, c.ID, models.ContentTypeText, "sms-9", true, "", false); err != nil {
		t.Fatalf("record outbound: %v", err)
	}

	got, err := engine.ApplyStatusUpdate(ctx, models.StatusUpdate{
		MessageID: "sms-9", Status: models.MessageStatusFailed, ErrorText: "number unreachable", Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got.Status() != models.MessageStatusFailed {
		t.Fatalf("expected failed, got %s", got.Status())
	}
	if got.FailureReason != "number unreachable" {
		t.Fatalf("expected failure reason, got %q", got.FailureReason)
	}
}

func TestInboundTogglesPendingAndMarkRead(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	msg := &models.NormalizedMessage{
		ID:          "in-1",
		ChannelType: models.ChannelWhatsApp,
		ContentType: models.ContentTypeText,
		Content:     "hello?",
		SentAt:      time.Now(),
	}
	if _, err := engine.RecordInbound(ctx, "tenant-1", "contact-1", msg); err != nil {
		t.Fatalf("record inbound: %v", err)
	}

	c, err := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelWhatsApp)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if c.Status != models.ConversationStatusPending || c.UnreadCount != 1 {
		t.Fatalf("expected PENDING with 1 unread, got %s/%d", c.Status, c.UnreadCount)
	}

	c, err = engine.MarkRead(ctx, c.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if c.Status != models.ConversationStatusOpen || c.UnreadCount != 0 {
		t.Fatalf("expected OPEN with 0 unread, got %s/%d", c.Status, c.UnreadCount)
	}
}

func TestResolveGuard(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	c, _ := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelWhatsApp)

	if _, err := engine.Resolve(ctx, c.ID, false); !errors.Is(err, conversation.ErrNoOutboundMessage) {
		t.Fatalf("expected ErrNoOutboundMessage, got %v", err)
	}

	if _, err := engine.RecordOutbound(ctx, c.ID, models.ContentTypeText, "wa-1", true, "", false); err != nil {
		t.Fatalf("record outbound: %v", err)
	}
	if _, err := engine.Resolve(ctx, c.ID, false); !errors.Is(err, conversation.ErrFeedbackPending) {
		t.Fatalf("expected ErrFeedbackPending, got %v", err)
	}

	// Force bypasses the feedback requirement.
	resolved, err := engine.Resolve(ctx, c.ID, true)
	if err != nil {
		t.Fatalf("force resolve: %v", err)
	}
	if resolved.Status != models.ConversationStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
}

func TestResolveWithFeedbackTaggedMessage(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	c, _ := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelWhatsApp)
	if _, err := engine.RecordOutbound(ctx, c.ID, models.ContentTypeTemplate, "wa-2", true, "", true); err != nil {
		t.Fatalf("record outbound: %v", err)
	}

	resolved, err := engine.Resolve(ctx, c.ID, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != models.ConversationStatusResolved {
		t.Fatalf("expected RESOLVED, got %s", resolved.Status)
	}
}

func TestArchiveAndReopen(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	c, _ := engine.EnsureConversation(ctx, "tenant-1", "contact-1", models.ChannelEmail)

	archived, err := engine.Archive(ctx, c.ID)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != models.ConversationStatusClosed || archived.ClosedAt == nil {
		t.Fatalf("expected CLOSED with timestamp, got %+v", archived)
	}

	if _, err := engine.Archive(ctx, c.ID); !errors.Is(err, conversation.ErrAlreadyClosed) {
		t.Fatalf("expected ErrAlreadyClosed, got %v", err)
	}

	reopened, err := engine.Reopen(ctx, c.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != models.ConversationStatusOpen || reopened.ClosedAt != nil {
		t.Fatalf("expected OPEN with cleared ClosedAt, got %+v", reopened)
	}
}
