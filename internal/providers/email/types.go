package email

import (
	"context"
	"time"
)

// Attachment is one base64-encoded file carried with an email.
type Attachment struct {
	Filename      string `json:"filename"`
	Base64Content string `json:"base64Content"`
	MimeType      string `json:"mimeType"`
}

// SendRequest is the provider's email send wire format.
type SendRequest struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	HTML        string       `json:"html"`
	Text        string       `json:"text,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	CC          []string     `json:"cc,omitempty"`
	BCC         []string     `json:"bcc,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// RawResponse describes the low-level provider response.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider is an outbound email provider.
type Provider interface {
	Send(ctx context.Context, req *SendRequest) (*RawResponse, error)
	Ping(ctx context.Context) error
}
