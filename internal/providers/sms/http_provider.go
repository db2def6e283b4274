package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnidesk/dispatch-engine/internal/config"
)

// HTTPClient abstracts the http.Client Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOption customises the HTTP provider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient overrides the HTTP client used to talk to the provider.
func WithHTTPClient(client HTTPClient) HTTPOption {
	return func(p *HTTPProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) HTTPOption {
	return func(p *HTTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// HTTPProvider talks to an SMS gateway over HTTP.
type HTTPProvider struct {
	logger       zerolog.Logger
	baseURL      string
	apiKey       string
	senderID     string
	httpClient   HTTPClient
	now          func() time.Time
	maxBodyBytes int64
}

// NewHTTPProvider constructs an HTTP-backed SMS provider.
func NewHTTPProvider(cfg config.SMSConfig, logger zerolog.Logger, opts ...HTTPOption) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("sms provider: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sms provider: api key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &HTTPProvider{
		logger:       logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		senderID:     strings.TrimSpace(cfg.SenderID),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		now:          time.Now,
		maxBodyBytes: 16 * 1024,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// SendBulk posts one message to a list of phones.
func (p *HTTPProvider) SendBulk(ctx context.Context, req *BulkRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("sms provider: bulk request is required")
	}
	if len(req.Phones) == 0 {
		return nil, errors.New("sms provider: at least one phone is required")
	}
	return p.post(ctx, "/sms/bulk", req)
}

// SendOTP posts a one-time password send.
func (p *HTTPProvider) SendOTP(ctx context.Context, req *OTPRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("sms provider: otp request is required")
	}
	return p.post(ctx, "/sms/otp", req)
}

// Ping probes provider reachability.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("sms provider: health probe returned %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload any) (*RawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("sms provider: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sms provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.senderID != "" {
		req.Header.Set("X-Sender-ID", p.senderID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("sms provider: read response: %w", err)
	}

	raw := &RawResponse{
		Code:      resp.StatusCode,
		Body:      string(respBody),
		Timestamp: p.now(),
	}

	var parsed struct {
		ID     string `json:"id"`
		BulkID string `json:"bulk_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		raw.ID = parsed.ID
		if raw.ID == "" {
			raw.ID = parsed.BulkID
		}
		raw.Status = parsed.Status
	}

	if resp.StatusCode >= 400 {
		return raw, fmt.Errorf("sms provider: request failed with status %d", resp.StatusCode)
	}
	return raw, nil
}
