package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
	"github.com/ozgurkarahan/simple-order-agent/store"
)

// CreateConversationRequest creates a conversation, optionally titled.
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// UpdateConversationRequest renames a conversation and/or bumps its
// message count.
type UpdateConversationRequest struct {
	Title                 *string `json:"title,omitempty"`
	IncrementMessageCount bool    `json:"increment_message_count,omitempty"`
}

func (s *Server) requireConversations(w http.ResponseWriter) bool {
	if s.conversations == nil {
		writeError(w, http.StatusServiceUnavailable, a2a.ErrorResponse{
			Error: "Conversation store not initialized",
		})
		return false
	}
	return true
}

func writeConversationError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, a2a.ErrorResponse{Error: "Conversation not found"})
		return
	}
	writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.conversations.List())
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}

	var body CreateConversationRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	conv, err := s.conversations.Create(body.Title)
	if err != nil {
		writeConversationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}

	conv, err := s.conversations.Get(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeConversationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}

	var body UpdateConversationRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	conv, err := s.conversations.Update(
		chi.URLParam(r, "conversationID"), body.Title, body.IncrementMessageCount)
	if err != nil {
		writeConversationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if !s.requireConversations(w) {
		return
	}

	if err := s.conversations.Delete(chi.URLParam(r, "conversationID")); err != nil {
		writeConversationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
