package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/omnidesk/dispatch-engine/internal/broadcast"
	"github.com/omnidesk/dispatch-engine/internal/models"
	"github.com/omnidesk/dispatch-engine/internal/store"
)

type broadcastRequest struct {
	TenantID   string              `json:"tenant_id"`
	AccountID  string              `json:"account_id"`
	Name       string              `json:"name"`
	Channel    string              `json:"channel"`
	Template   string              `json:"template"`
	TemplateID string              `json:"template_id"`
	Audience   models.AudienceSpec `json:"audience"`
}

func (p broadcastRequest) toInput() broadcast.CreateInput {
	return broadcast.CreateInput{
		TenantID:   p.TenantID,
		AccountID:  p.AccountID,
		Name:       p.Name,
		Channel:    p.Channel,
		Template:   p.Template,
		TemplateID: p.TemplateID,
		Audience:   p.Audience,
	}
}

func (s *Server) handleCreateBroadcast(w http.ResponseWriter, r *http.Request) {
	var payload broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.TenantID == "" {
		payload.TenantID = r.Header.Get("X-Tenant-ID")
	}

	b, err := s.broadcasts.Create(r.Context(), payload.toInput())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusCreated, b)
}

func (s *Server) handleListBroadcasts(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	list, err := s.broadcasts.List(r.Context(), tenantID, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) handleGetBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.broadcasts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBroadcast(w http.ResponseWriter, r *http.Request) {
	var payload broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.broadcasts.Update(r.Context(), chi.URLParam(r, "id"), payload.toInput())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleScheduleBroadcast(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		At time.Time `json:"at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.At.IsZero() {
		writeError(w, http.StatusBadRequest, errors.New("schedule time is required"))
		return
	}
	b, err := s.broadcasts.Schedule(r.Context(), chi.URLParam(r, "id"), payload.At)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleSendBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.broadcasts.Send(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleCancelBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.broadcasts.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleRetryBroadcast(w http.ResponseWriter, r *http.Request) {
	b, err := s.broadcasts.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, b)
}

func (s *Server) handleBroadcastStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.broadcasts.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleBroadcastRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := s.broadcasts.Recipients(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, recipients)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrBroadcastNotFound) ||
		errors.Is(err, store.ErrRecipientNotFound) ||
		errors.Is(err, store.ErrConversationNotFound) ||
		errors.Is(err, store.ErrMessageNotFound)
}
