package email

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Scenario enumerates the mock behaviours supported by the email provider.
type Scenario string

const (
	ScenarioSuccess Scenario = "success"
	ScenarioFailure Scenario = "failure"
	ScenarioTimeout Scenario = "timeout"
)

// MockOption customises the mock provider.
type MockOption func(*MockProvider)

// WithScenario sets the behaviour the mock simulates.
func WithScenario(s Scenario) MockOption {
	return func(p *MockProvider) { p.scenario = s }
}

// MockProvider is a deterministic email provider used in tests.
type MockProvider struct {
	logger   zerolog.Logger
	scenario Scenario
	now      func() time.Time

	mu    sync.Mutex
	sends []SendRequest
}

// NewMockProvider constructs a mock email provider.
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

// Sends returns a copy of the recorded send requests.
func (p *MockProvider) Sends() []SendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SendRequest(nil), p.sends...)
}

// Send simulates sending one email.
func (p *MockProvider) Send(ctx context.Context, req *SendRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("email mock: send request is required")
	}
	if len(req.To) == 0 {
		return nil, errors.New("email mock: at least one recipient is required")
	}

	p.mu.Lock()
	p.sends = append(p.sends, *req)
	p.mu.Unlock()

	switch p.scenario {
	case ScenarioTimeout:
		<-ctx.Done()
		return nil, ctx.Err()
	case ScenarioFailure:
		raw := &RawResponse{
			Code:      550,
			Status:    "rejected",
			Body:      `{"status":"rejected","error":"mailbox unavailable"}`,
			Timestamp: p.now(),
		}
		return raw, fmt.Errorf("email mock: request failed with status %d", raw.Code)
	default:
		id := uuid.NewString()
		return &RawResponse{
			ID:        id,
			Code:      200,
			Status:    "accepted",
			Body:      fmt.Sprintf(`{"id":%q,"status":"accepted"}`, id),
			Timestamp: p.now(),
		}, nil
	}
}

// Ping always succeeds unless the scenario is failure.
func (p *MockProvider) Ping(ctx context.Context) error {
	if p.scenario == ScenarioFailure {
		return errors.New("email mock: unreachable")
	}
	return ctx.Err()
}
