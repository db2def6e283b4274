package common

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the dispatch failure taxonomy. Callers classify
// wrapped errors with errors.Is.
var (
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRecipientOptedOut   = errors.New("recipient opted out")
	ErrCredentialInvalid   = errors.New("credential invalid")
	ErrTokenRefreshFailed  = errors.New("token refresh failed")
	ErrProvider            = errors.New("provider error")
	ErrTimeout             = errors.New("provider timeout")
)

// Machine-readable error codes surfaced in SendResult and message events.
const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeRecipientOptedOut   = "RECIPIENT_OPTED_OUT"
	CodeCredentialInvalid   = "CREDENTIAL_INVALID"
	CodeTokenRefreshFailed  = "TOKEN_REFRESH_FAILED"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeTimeout             = "TIMEOUT"
)

// ProviderError carries the provider's own failure code and message through
// the taxonomy.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v: %s", ErrProvider, e.Message)
	}
	return fmt.Sprintf("%v: [%s] %s", ErrProvider, e.Code, e.Message)
}

// Unwrap ties ProviderError into the sentinel taxonomy.
func (e *ProviderError) Unwrap() error { return ErrProvider }

// WrapProvider builds a ProviderError from a provider failure.
func WrapProvider(code, message string) error {
	return &ProviderError{Code: code, Message: message}
}

// CodeFor maps a taxonomy error onto its machine-readable code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrRecipientOptedOut):
		return CodeRecipientOptedOut
	case errors.Is(err, ErrCredentialInvalid):
		return CodeCredentialInvalid
	case errors.Is(err, ErrTokenRefreshFailed):
		return CodeTokenRefreshFailed
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeProviderError
	}
}
