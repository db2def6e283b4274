package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.conversations.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, msgs)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	c, err := s.conversations.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	c, err := s.conversations.Resolve(r.Context(), chi.URLParam(r, "id"), force)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleReopenConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.conversations.Reopen(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) handleArchiveConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.conversations.Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusOK, c)
}
