package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
)

// ChatRequest is the body of /api/chat and /api/chat/sync.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatSyncResponse is the body returned by /api/chat/sync.
type ChatSyncResponse struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) requireAgent(w http.ResponseWriter) bool {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, a2a.ErrorResponse{
			Error: "Agent not initialized",
		})
		return false
	}
	return true
}

// touchConversation bumps the conversation's message count and recency.
func (s *Server) touchConversation(conversationID string) {
	if s.conversations == nil || conversationID == "" {
		return
	}
	if _, err := s.conversations.Update(conversationID, nil, true); err != nil {
		slog.Warn("Failed to update conversation", "conversationID", conversationID, "error", err)
	}
}

// chatEventName maps an agent chat event onto its SSE event name.
func chatEventName(t a2a.ChatEventType) string {
	switch t {
	case a2a.ChatEventText:
		return "message"
	case a2a.ChatEventToolUse:
		return "tool_use"
	case a2a.ChatEventToolResult:
		return "tool_result"
	default:
		return "error"
	}
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.requireAgent(w) {
		return
	}

	var body ChatRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	events, err := s.agent.Chat(r.Context(), body.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to encode chat event", "error", err)
			continue
		}
		if err := stream.send(chatEventName(ev.Type), data); err != nil {
			slog.Debug("Chat client disconnected", "error", err)
			return
		}
	}
	stream.done()

	s.touchConversation(body.ConversationID)
}

func (s *Server) handleChatSync(w http.ResponseWriter, r *http.Request) {
	if !s.requireAgent(w) {
		return
	}

	var body ChatRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	response, err := s.agent.ChatSync(r.Context(), body.Message)
	if err != nil {
		slog.Error("Chat error", "error", err)
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}

	s.touchConversation(body.ConversationID)

	writeJSON(w, http.StatusOK, ChatSyncResponse{
		Message:        response,
		ConversationID: body.ConversationID,
	})
}
