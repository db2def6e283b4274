package common

import (
	"context"
	"time"

	"github.com/omnidesk/dispatch-engine/internal/models"
)

// SendResult is the settled outcome of one send attempt. Failures are
// captured here rather than returned as errors so batch callers can
// continue processing remaining recipients.
type SendResult struct {
	Success    bool   `json:"success"`
	ExternalID string `json:"external_id,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Failure builds a failed SendResult from a taxonomy error.
func Failure(err error) SendResult {
	return SendResult{Success: false, ErrorCode: CodeFor(err), Error: err.Error()}
}

// HealthReport is the adapter's view of a channel account's health.
type HealthReport struct {
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// CostEstimate prices one message before it is sent.
type CostEstimate struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Units    int     `json:"units"`
}

// ChannelAdapter unifies send-and-receive semantics across heterogeneous
// providers. One adapter instance is constructed per channel account;
// channel selection happens once at construction, never per call.
type ChannelAdapter interface {
	ChannelType() string
	Capabilities() models.CapabilitySet

	SendMessage(ctx context.Context, msg *models.NormalizedMessage) SendResult
	SendTemplate(ctx context.Context, templateID string, variables map[string]string, recipient string) SendResult

	ParseInboundWebhook(payload []byte) (*models.NormalizedMessage, error)
	ParseStatusWebhook(payload []byte) ([]models.StatusUpdate, error)

	ValidateCredentials(ctx context.Context) error
	HealthStatus(ctx context.Context) HealthReport
	RefreshTokens(ctx context.Context) error
	EstimateCost(msg *models.NormalizedMessage) CostEstimate
}
