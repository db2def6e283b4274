package util

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidTimestamp indicates the value could not be parsed as RFC3339.
	ErrInvalidTimestamp = errors.New("invalid rfc3339 timestamp")
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPhone is returned when a phone number is not E.164 compliant.
	ErrInvalidPhone = errors.New("invalid e164 phone number")
	// ErrInvalidTemplateID indicates a template identifier is malformed.
	ErrInvalidTemplateID = errors.New("invalid template id")
)

var (
	e164Pattern       = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)
)

// NormalizePhone validates an E.164 phone number, tolerating surrounding
// whitespace and an omitted leading plus.
func NormalizePhone(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidPhone)
	}
	if !strings.HasPrefix(trimmed, "+") {
		trimmed = "+" + trimmed
	}
	if !e164Pattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, value)
	}
	return trimmed, nil
}

// NormalizeEmail validates and normalizes an email address. The returned
// value is lowercased and stripped of surrounding whitespace.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	if addr.Name != "" || addr.Address == "" {
		return "", fmt.Errorf("%w: must not include display name", ErrInvalidEmail)
	}

	return strings.ToLower(addr.Address), nil
}

// ValidateTemplateID checks a template identifier against the allowed
// character set and length.
func ValidateTemplateID(value string) error {
	if !templateIDPattern.MatchString(strings.TrimSpace(value)) {
		return fmt.Errorf("%w: %q", ErrInvalidTemplateID, value)
	}
	return nil
}

// ParseRFC3339 parses a timestamp string using RFC3339Nano for maximum
// fidelity.
func ParseRFC3339(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("%w: value is empty", ErrInvalidTimestamp)
	}

	ts, err := time.Parse(time.RFC3339Nano, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
	}

	return ts, nil
}
