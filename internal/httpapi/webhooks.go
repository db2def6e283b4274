package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/omnidesk/dispatch-engine/internal/store"
)

const maxWebhookBody = 1 << 20

// handleInboundWebhook ingests a provider callback carrying an inbound
// message. The payload is normalized by the channel adapter and recorded
// against the contact's conversation.
func (s *Server) handleInboundWebhook(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	adapter, ok := s.adapters[channel]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown channel: "+channel))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	msg, err := adapter.ParseInboundWebhook(body)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Msg("inbound webhook rejected")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stored, err := s.conversations.RecordInbound(r.Context(), msg.TenantID, msg.Sender, msg)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, stored)
}

// handleStatusWebhook ingests delivery/read/failure callbacks. Every update
// is offered to both the conversation engine and the broadcast engine; a
// provider message ID unknown to either side is not an error.
func (s *Server) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	adapter, ok := s.adapters[channel]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown channel: "+channel))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updates, err := adapter.ParseStatusWebhook(body)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", channel).Msg("status webhook rejected")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	applied := 0
	for _, upd := range updates {
		matched := false

		if _, err := s.conversations.ApplyStatusUpdate(r.Context(), upd); err == nil {
			matched = true
		} else if !errors.Is(err, store.ErrMessageNotFound) {
			writeError(w, statusFor(err), err)
			return
		}

		if err := s.broadcasts.ApplyStatusUpdate(r.Context(), upd); err == nil {
			matched = true
		} else if !errors.Is(err, store.ErrRecipientNotFound) {
			writeError(w, statusFor(err), err)
			return
		}

		if matched {
			applied++
		} else {
			s.logger.Debug().
				Str("channel", channel).
				Str("message_id", upd.MessageID).
				Msg("status update matched nothing")
		}
	}

	writeData(w, http.StatusOK, map[string]int{"received": len(updates), "applied": applied})
}
