package util_test

import (
	"errors"
	"testing"
	"time"

	"github.com/omnidesk/dispatch-engine/internal/util"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "valid e164", in: "+15551234567", want: "+15551234567"},
		{name: "missing plus is tolerated", in: "15551234567", want: "+15551234567"},
		{name: "surrounding whitespace", in: "  +447911123456 ", want: "+447911123456"},
		{name: "empty", in: "", wantErr: true},
		{name: "letters", in: "+1555CALLNOW", wantErr: true},
		{name: "leading zero", in: "+0551234567", wantErr: true},
		{name: "too long", in: "+123456789012345678", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := util.NormalizePhone(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NormalizePhone(%q) succeeded, want error", tc.in)
				}
				if !errors.Is(err, util.ErrInvalidPhone) {
					t.Fatalf("error = %v, want ErrInvalidPhone", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	got, err := util.NormalizeEmail("  Customer@Example.COM ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "customer@example.com" {
		t.Fatalf("got %q, want lowercased address", got)
	}

	for _, bad := range []string{"", "not-an-address", "Jane Doe <jane@example.com>"} {
		if _, err := util.NormalizeEmail(bad); !errors.Is(err, util.ErrInvalidEmail) {
			t.Fatalf("NormalizeEmail(%q) error = %v, want ErrInvalidEmail", bad, err)
		}
	}
}

func TestValidateTemplateID(t *testing.T) {
	if err := util.ValidateTemplateID("welcome_offer.v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "ab", "has spaces", "emoji😀"} {
		if err := util.ValidateTemplateID(bad); !errors.Is(err, util.ErrInvalidTemplateID) {
			t.Fatalf("ValidateTemplateID(%q) error = %v, want ErrInvalidTemplateID", bad, err)
		}
	}
}

func TestParseRFC3339(t *testing.T) {
	ts, err := util.ParseRFC3339("2025-06-01T12:00:00.5Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 500000000, time.UTC)
	if !ts.Equal(want) {
		t.Fatalf("got %v, want %v", ts, want)
	}

	if _, err := util.ParseRFC3339("yesterday"); !errors.Is(err, util.ErrInvalidTimestamp) {
		t.Fatalf("error = %v, want ErrInvalidTimestamp", err)
	}
	if _, err := util.ParseRFC3339(""); !errors.Is(err, util.ErrInvalidTimestamp) {
		t.Fatalf("error = %v, want ErrInvalidTimestamp", err)
	}
}
