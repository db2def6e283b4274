package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Header names exposed on every limited response.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"
)

var healthPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/ready":   true,
}

type rejectionBody struct {
	Success bool           `json:"success"`
	Error   rejectionError `json:"error"`
}

type rejectionError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// TierResolver maps a tenant id to its subscription tier.
type TierResolver func(tenantID string) string

// Middleware enforces the request-scoped limiter on every route. The key
// precedence is tenant:user, then tenant alone, then source IP. Health
// check paths are always exempt, and limiter faults fail open so a broken
// limiter never blocks traffic.
func Middleware(limiter Limiter, resolveTier TierResolver, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key, tenantID := RequestKey(r)
			limit := TierLimits[TierFree]
			if tenantID != "" && resolveTier != nil {
				limit = TierLimit(resolveTier(tenantID))
			}

			if rule, ok := EndpointRules[r.URL.Path]; ok {
				key = EndpointKey(rule.Name, key)
				limit = rule.Limit
			}

			decision, err := limiter.Allow(key, limit)
			if err != nil {
				logger.Error().Err(err).Str("key", key).Msg("rate limiter fault; failing open")
				next.ServeHTTP(w, r)
				return
			}

			writeLimitHeaders(w, limit, decision)

			if !decision.Allowed {
				reject(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestKey extracts the limiter key for a request and the tenant id when
// one is present.
func RequestKey(r *http.Request) (key, tenantID string) {
	tenantID = r.Header.Get("X-Tenant-ID")
	userID := r.Header.Get("X-User-ID")

	switch {
	case tenantID != "" && userID != "":
		return tenantID + ":" + userID, tenantID
	case tenantID != "":
		return TenantKey(tenantID), tenantID
	default:
		return "ip:" + clientIP(r), ""
	}
}

func writeLimitHeaders(w http.ResponseWriter, limit Limit, d Decision) {
	if limit.Unlimited() {
		return
	}
	w.Header().Set(HeaderLimit, strconv.Itoa(limit.Max))
	remaining := d.Remaining
	if remaining < 0 {
		remaining = 0
	}
	w.Header().Set(HeaderRemaining, strconv.Itoa(remaining))
	if !d.ResetTime.IsZero() {
		w.Header().Set(HeaderReset, d.ResetTime.UTC().Format(time.RFC3339))
	}
}

func reject(w http.ResponseWriter, d Decision) {
	retry := d.RetryAfterSeconds()
	w.Header().Set(HeaderRetry, strconv.Itoa(retry))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Success: false,
		Error: rejectionError{
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    "rate limit exceeded, slow down",
			RetryAfter: retry,
		},
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// proxy chains append hops; the first entry is the client
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
