package email

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

// HTTPProvider talks to a transactional email API over HTTP.
type HTTPProvider struct {
	logger       zerolog.Logger
	baseURL      string
	apiKey       string
	httpClient   HTTPClient
	now          func() time.Time
	maxBodyBytes int64
}

// NewHTTPProvider constructs an HTTP-backed email provider.
func NewHTTPProvider(cfg config.EmailConfig, logger zerolog.Logger, opts ...HTTPOption) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("email provider: base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("email provider: api key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &HTTPProvider{
		logger:       logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
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

// Send posts one email.
func (p *HTTPProvider) Send(ctx context.Context, req *SendRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("email provider: send request is required")
	}
	if len(req.To) == 0 {
		return nil, errors.New("email provider: at least one recipient is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("email provider: marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("email provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("email provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("email provider: read response: %w", err)
	}

	raw := &RawResponse{
		Code:      resp.StatusCode,
		Body:      string(respBody),
		Timestamp: p.now(),
	}

	var parsed struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		raw.ID = parsed.ID
		raw.Status = parsed.Status
	}

	if resp.StatusCode >= 400 {
		return raw, fmt.Errorf("email provider: request failed with status %d", resp.StatusCode)
	}
	return raw, nil
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
		return fmt.Errorf("email provider: health probe returned %d", resp.StatusCode)
	}
	return nil
}
