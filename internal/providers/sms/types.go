package sms

import (
	"context"
	"time"
)

// BulkRequest is the provider's bulk send wire format: one message body
// delivered to every phone in the list.
type BulkRequest struct {
	Phones  []string `json:"phones"`
	Message string   `json:"message"`
}

// OTPRequest is the provider's one-time-password wire format. Expiry is
// bounded to 1-30 minutes by the adapter.
type OTPRequest struct {
	Phone         string `json:"phone"`
	OTP           string `json:"otp"`
	ExpiryMinutes int    `json:"expiryMinutes"`
}

// RawResponse describes the low-level provider response.
type RawResponse struct {
	ID        string
	Code      int
	Status    string
	Body      string
	Timestamp time.Time
}

// Provider is an outbound SMS provider.
type Provider interface {
	SendBulk(ctx context.Context, req *BulkRequest) (*RawResponse, error)
	SendOTP(ctx context.Context, req *OTPRequest) (*RawResponse, error)
	Ping(ctx context.Context) error
}
