package server

import (
	"net/http"
	"regexp"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
)

var httpURLPattern = regexp.MustCompile(`(?i)^https?://`)

// UpdateA2AConfigRequest replaces the A2A endpoint configuration.
type UpdateA2AConfigRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// UpdateMCPConfigRequest replaces the MCP server configuration.
type UpdateMCPConfigRequest struct {
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (s *Server) requireConfigStore(w http.ResponseWriter) bool {
	if s.configs == nil {
		writeError(w, http.StatusServiceUnavailable, a2a.ErrorResponse{
			Error: "Config store not initialized",
		})
		return false
	}
	return true
}

func validURL(w http.ResponseWriter, url string) bool {
	if !httpURLPattern.MatchString(url) {
		writeError(w, http.StatusBadRequest, a2a.ErrorResponse{
			Error: "URL must start with http:// or https://",
		})
		return false
	}
	return true
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfigStore(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.configs.Load().Masked())
}

func (s *Server) handleUpdateA2AConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfigStore(w) {
		return
	}

	var body UpdateA2AConfigRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validURL(w, body.URL) {
		return
	}

	cfg, err := s.configs.UpdateA2A(body.URL, body.Headers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg.Masked())
}

func (s *Server) handleUpdateMCPConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfigStore(w) {
		return
	}

	var body UpdateMCPConfigRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validURL(w, body.URL) {
		return
	}

	cfg, err := s.configs.UpdateMCP(body.Name, body.URL, body.Headers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg.Masked())
}

func (s *Server) handleResetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireConfigStore(w) {
		return
	}

	if err := s.configs.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
