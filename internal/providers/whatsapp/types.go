package whatsapp

import (
	"context"
	"time"
)

// TemplateRequest is the provider's bulk template-send wire format. One
// request carries every recipient's component bindings.
type TemplateRequest struct {
	IntegratedNumber string          `json:"integrated_number"`
	ContentType      string          `json:"content_type"`
	Payload          TemplatePayload `json:"payload"`
}

// TemplatePayload nests the template definition and messaging product.
type TemplatePayload struct {
	Template         Template `json:"template"`
	MessagingProduct string   `json:"messaging_product"`
}

// Template names the approved template and binds recipients to components.
type Template struct {
	Name            string            `json:"name"`
	Language        Language          `json:"language"`
	ToAndComponents []ToAndComponents `json:"to_and_components"`
}

// Language selects the template translation deterministically.
type Language struct {
	Code   string `json:"code"`
	Policy string `json:"policy"`
}

// ToAndComponents binds one recipient group to its component values.
type ToAndComponents struct {
	To         []string       `json:"to"`
	Components map[string]any `json:"components,omitempty"`
}

// TextRequest is the provider's single text-message wire format.
type TextRequest struct {
	IntegratedNumber string      `json:"integrated_number"`
	ContentType      string      `json:"content_type"`
	RecipientNumber  string      `json:"recipient_number"`
	Payload          TextPayload `json:"payload"`
}

// TextPayload carries the message body.
type TextPayload struct {
	Type             string `json:"type"`
	Text             string `json:"text"`
	MessagingProduct string `json:"messaging_product"`
}

// RawResponse describes the low-level provider response.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider is an outbound WhatsApp provider.
type Provider interface {
	SendText(ctx context.Context, req *TextRequest) (*RawResponse, error)
	SendTemplate(ctx context.Context, req *TemplateRequest) (*RawResponse, error)
	RefreshToken(ctx context.Context) (time.Time, error)
	Ping(ctx context.Context) error
}
