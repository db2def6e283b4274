package whatsapp

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

// HTTPProvider talks to the WhatsApp business API over HTTP.
type HTTPProvider struct {
	logger       zerolog.Logger
	baseURL      string
	authKey      string
	httpClient   HTTPClient
	now          func() time.Time
	maxBodyBytes int64
}

// NewHTTPProvider constructs an HTTP-backed WhatsApp provider.
func NewHTTPProvider(cfg config.WhatsAppConfig, logger zerolog.Logger, opts ...HTTPOption) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("whatsapp provider: base URL is required")
	}
	if strings.TrimSpace(cfg.AuthKey) == "" {
		return nil, errors.New("whatsapp provider: auth key is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &HTTPProvider{
		logger:       logger,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		authKey:      strings.TrimSpace(cfg.AuthKey),
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

// SendTemplate posts a bulk template request.
func (p *HTTPProvider) SendTemplate(ctx context.Context, req *TemplateRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("whatsapp provider: template request is required")
	}
	return p.post(ctx, "/whatsapp-outbound-message/bulk/", req)
}

// SendText posts a single text message.
func (p *HTTPProvider) SendText(ctx context.Context, req *TextRequest) (*RawResponse, error) {
	if req == nil {
		return nil, errors.New("whatsapp provider: text request is required")
	}
	return p.post(ctx, "/whatsapp-outbound-message/", req)
}

// RefreshToken exchanges the auth key for a fresh session token.
func (p *HTTPProvider) RefreshToken(ctx context.Context) (time.Time, error) {
	raw, err := p.post(ctx, "/token/refresh/", map[string]string{"authkey": p.authKey})
	if err != nil {
		return time.Time{}, err
	}

	var body struct {
		ExpiresIn int `json:"expires_in"`
	}
	if err := json.Unmarshal([]byte(raw.Body), &body); err != nil || body.ExpiresIn <= 0 {
		// providers that omit expiry get the documented default session
		return p.now().Add(time.Hour), nil
	}
	return p.now().Add(time.Duration(body.ExpiresIn) * time.Second), nil
}

// Ping probes provider reachability.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("authkey", p.authKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("whatsapp provider: health probe returned %d", resp.StatusCode)
	}
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, payload any) (*RawResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("whatsapp provider: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp provider: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("authkey", p.authKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("whatsapp provider: read response: %w", err)
	}

	raw := &RawResponse{
		Code:      resp.StatusCode,
		Body:      string(respBody),
		Timestamp: p.now(),
	}
	raw.ID, raw.Status = extractIDAndStatus(respBody)

	if resp.StatusCode >= 400 {
		return raw, fmt.Errorf("whatsapp provider: request failed with status %d", resp.StatusCode)
	}
	return raw, nil
}

// extractIDAndStatus normalizes the provider's id/status fields into one
// canonical pair. All known response field variants are handled here so
// wire-format instability stays confined to this seam.
func extractIDAndStatus(body []byte) (id, status string) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}

	for _, key := range []string{"request_id", "message_id", "id"} {
		if v, ok := payload[key].(string); ok && v != "" {
			id = v
			break
		}
	}
	if id == "" {
		if data, ok := payload["data"].(map[string]any); ok {
			if v, ok := data["id"].(string); ok {
				id = v
			}
		}
	}

	for _, key := range []string{"status", "type"} {
		if v, ok := payload[key].(string); ok && v != "" {
			status = v
			break
		}
	}
	return id, status
}
