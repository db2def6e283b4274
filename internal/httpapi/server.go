package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	common "github.com/omnidesk/dispatch-engine/internal/adapters/common"
	"github.com/omnidesk/dispatch-engine/internal/broadcast"
	"github.com/omnidesk/dispatch-engine/internal/conversation"
	"github.com/omnidesk/dispatch-engine/internal/ratelimit"
)

// Server exposes the dispatch engine over HTTP.
type Server struct {
	broadcasts    *broadcast.Engine
	conversations *conversation.Engine
	adapters      map[string]common.ChannelAdapter
	limiter       ratelimit.Limiter
	resolveTier   ratelimit.TierResolver
	logger        zerolog.Logger
}

// NewServer constructs the HTTP server.
func NewServer(
	broadcasts *broadcast.Engine,
	conversations *conversation.Engine,
	adapters map[string]common.ChannelAdapter,
	limiter ratelimit.Limiter,
	resolveTier ratelimit.TierResolver,
	logger zerolog.Logger,
) (*Server, error) {
	if broadcasts == nil {
		return nil, errors.New("httpapi: broadcast engine dependency is required")
	}
	if conversations == nil {
		return nil, errors.New("httpapi: conversation engine dependency is required")
	}
	if limiter == nil {
		return nil, errors.New("httpapi: rate limiter dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Server{
		broadcasts:    broadcasts,
		conversations: conversations,
		adapters:      adapters,
		limiter:       limiter,
		resolveTier:   resolveTier,
		logger:        logger,
	}, nil
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(ratelimit.Middleware(s.limiter, s.resolveTier, s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleHealth)

	r.Route("/api/broadcasts", func(r chi.Router) {
		r.Post("/", s.handleCreateBroadcast)
		r.Get("/", s.handleListBroadcasts)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetBroadcast)
			r.Put("/", s.handleUpdateBroadcast)
			r.Post("/schedule", s.handleScheduleBroadcast)
			r.Post("/send", s.handleSendBroadcast)
			r.Post("/cancel", s.handleCancelBroadcast)
			r.Post("/retry", s.handleRetryBroadcast)
			r.Get("/stats", s.handleBroadcastStats)
			r.Get("/recipients", s.handleBroadcastRecipients)
		})
	})

	r.Route("/api/conversations/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetConversation)
		r.Get("/messages", s.handleConversationMessages)
		r.Post("/read", s.handleMarkRead)
		r.Post("/resolve", s.handleResolveConversation)
		r.Post("/reopen", s.handleReopenConversation)
		r.Post("/archive", s.handleArchiveConversation)
	})

	r.Route("/webhooks/{channel}", func(r chi.Router) {
		r.Post("/inbound", s.handleInboundWebhook)
		r.Post("/status", s.handleStatusWebhook)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Success: false, Error: err.Error()})
}

// statusFor maps engine sentinels onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, broadcast.ErrInvalidStateTransition),
		errors.Is(err, conversation.ErrNoOutboundMessage),
		errors.Is(err, conversation.ErrFeedbackPending),
		errors.Is(err, conversation.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, broadcast.ErrAudienceEmpty),
		errors.Is(err, broadcast.ErrUnsupportedChannel):
		return http.StatusUnprocessableEntity
	case isNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
