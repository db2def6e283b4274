package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scenario enumerates the mock behaviours supported by the provider.
type Scenario string

const (
	ScenarioSuccess       Scenario = "success"
	ScenarioFailure       Scenario = "failure"
	ScenarioTimeout       Scenario = "timeout"
	ScenarioRefreshFailed Scenario = "refresh_failed"
)

// MockOption customises the mock provider.
type MockOption func(*MockProvider)

// WithScenario sets the behaviour the mock simulates.
func WithScenario(s Scenario) MockOption {
	return func(p *MockProvider) { p.scenario = s }
}

// WithMockClock overrides the clock used to timestamp responses.
func WithMockClock(now func() time.Time) MockOption {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider is a deterministic WhatsApp provider used in tests.
type MockProvider struct {
	logger   zerolog.Logger
	scenario Scenario
	now      func() time.Time

	sendCalls    atomic.Int64
	refreshCalls atomic.Int64
}

// NewMockProvider constructs a mock WhatsApp provider.
func NewMockProvider(logger zerolog.Logger, opts ...MockOption) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:   logger,
		scenario: ScenarioSuccess,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// SendCalls reports how many send operations were attempted.
func (p *MockProvider) SendCalls() int64 { return p.sendCalls.Load() }

// RefreshCalls reports how many token refreshes were attempted.
func (p *MockProvider) RefreshCalls() int64 { return p.refreshCalls.Load() }

// SendTemplate simulates a bulk template send.
func (p *MockProvider) SendTemplate(ctx context.Context, req *TemplateRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("whatsapp mock: template request is required")
	}
	if len(req.Payload.Template.ToAndComponents) == 0 {
		return nil, errors.New("whatsapp mock: at least one recipient is required")
	}
	return p.respond(ctx)
}

// SendText simulates a single text send.
func (p *MockProvider) SendText(ctx context.Context, req *TextRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("whatsapp mock: text request is required")
	}
	if req.RecipientNumber == "" {
		return nil, errors.New("whatsapp mock: recipient is required")
	}
	return p.respond(ctx)
}

// RefreshToken simulates a token exchange.
func (p *MockProvider) RefreshToken(ctx context.Context) (time.Time, error) {
	p.refreshCalls.Add(1)
	if p.scenario == ScenarioRefreshFailed {
		return time.Time{}, errors.New("whatsapp mock: refresh rejected")
	}
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	return p.now().Add(time.Hour), nil
}

// Ping always succeeds unless the scenario is failure.
func (p *MockProvider) Ping(ctx context.Context) error {
	if p.scenario == ScenarioFailure {
		return errors.New("whatsapp mock: unreachable")
	}
	return ctx.Err()
}

func (p *MockProvider) respond(ctx context.Context) (*RawResponse, error) {
	p.sendCalls.Add(1)

	switch p.scenario {
	case ScenarioTimeout:
		<-ctx.Done()
		return nil, ctx.Err()
	case ScenarioFailure:
		raw := &RawResponse{
			Code:      400,
			Status:    "failed",
			Body:      `{"status":"failed","errors":[{"code":"131026","title":"Message undeliverable"}]}`,
			Timestamp: p.now(),
		}
		return raw, fmt.Errorf("whatsapp mock: request failed with status %d", raw.Code)
	default:
		id := uuid.NewString()
		return &RawResponse{
			ID:        id,
			Code:      200,
			Status:    "queued",
			Body:      fmt.Sprintf(`{"request_id":%q,"status":"queued"}`, id),
			Timestamp: p.now(),
		}, nil
	}
}
