package sms

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

// Scenario enumerates the mock behaviours supported by the SMS provider.
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

// WithFailPhones marks specific phones whose batch should fail.
func WithFailPhones(phones ...string) MockOption {
	return func(p *MockProvider) {
		for _, ph := range phones {
			p.failPhones[ph] = true
		}
	}
}

// WithMockClock overrides the response timestamp clock.
func WithMockClock(now func() time.Time) MockOption {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider is a deterministic SMS provider used in tests. It records
// every bulk request so batching behaviour can be asserted.
type MockProvider struct {
	logger     zerolog.Logger
	scenario   Scenario
	now        func() time.Time
	failPhones map[string]bool

	mu    sync.Mutex
	bulks []BulkRequest
	otps  []OTPRequest
}

// NewMockProvider constructs a mock SMS provider.
func NewMockProvider(logger zerolog.Logger, opts ...MockOption) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:     logger,
		scenario:   ScenarioSuccess,
		now:        time.Now,
		failPhones: make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// BulkRequests returns a copy of the recorded bulk sends.
func (p *MockProvider) BulkRequests() []BulkRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BulkRequest(nil), p.bulks...)
}

// OTPRequests returns a copy of the recorded OTP sends.
func (p *MockProvider) OTPRequests() []OTPRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OTPRequest(nil), p.otps...)
}

// SendBulk simulates a bulk send.
func (p *MockProvider) SendBulk(ctx context.Context, req *BulkRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("sms mock: bulk request is required")
	}
	if len(req.Phones) == 0 {
		return nil, errors.New("sms mock: at least one phone is required")
	}

	p.mu.Lock()
	p.bulks = append(p.bulks, *req)
	p.mu.Unlock()

	for _, phone := range req.Phones {
		if p.failPhones[phone] {
			raw := &RawResponse{
				Code:      422,
				Status:    "rejected",
				Body:      fmt.Sprintf(`{"status":"rejected","error":"undeliverable number %s"}`, phone),
				Timestamp: p.now(),
			}
			return raw, fmt.Errorf("sms mock: request failed with status %d", raw.Code)
		}
	}

	return p.respond(ctx)
}

// SendOTP simulates a one-time-password send.
func (p *MockProvider) SendOTP(ctx context.Context, req *OTPRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("sms mock: otp request is required")
	}

	p.mu.Lock()
	p.otps = append(p.otps, *req)
	p.mu.Unlock()

	return p.respond(ctx)
}

// Ping always succeeds unless the scenario is failure.
func (p *MockProvider) Ping(ctx context.Context) error {
	if p.scenario == ScenarioFailure {
		return errors.New("sms mock: unreachable")
	}
	return ctx.Err()
}

func (p *MockProvider) respond(ctx context.Context) (*RawResponse, error) {
	switch p.scenario {
	case ScenarioTimeout:
		<-ctx.Done()
		return nil, ctx.Err()
	case ScenarioFailure:
		raw := &RawResponse{
			Code:      502,
			Status:    "failed",
			Body:      `{"status":"failed","error":"gateway unavailable"}`,
			Timestamp: p.now(),
		}
		return raw, fmt.Errorf("sms mock: request failed with status %d", raw.Code)
	default:
		id := uuid.NewString()
		return &RawResponse{
			ID:        id,
			Code:      200,
			Status:    "accepted",
			Body:      fmt.Sprintf(`{"bulk_id":%q,"status":"accepted"}`, id),
			Timestamp: p.now(),
		}, nil
	}
}
