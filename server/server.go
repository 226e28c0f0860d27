// Package server exposes the orders agent over HTTP: direct chat with SSE
// streaming, the A2A task protocol, conversation and runtime-config APIs.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
	"github.com/ozgurkarahan/simple-order-agent/config"
	"github.com/ozgurkarahan/simple-order-agent/observability"
	"github.com/ozgurkarahan/simple-order-agent/store"
)

const (
	serviceName    = "orders-analytics-agent"
	serviceVersion = "1.0.0"
)

// ChatAgent is the slice of the agent the chat endpoints need.
type ChatAgent interface {
	Chat(ctx context.Context, message string) (<-chan a2a.ChatEvent, error)
	ChatSync(ctx context.Context, message string) (string, error)
}

// Server wires the task manager, agent and stores into an HTTP API.
type Server struct {
	settings      *config.Settings
	manager       *a2a.Manager
	agent         ChatAgent
	conversations *store.ConversationStore
	configs       *store.ConfigStore
	metrics       *observability.Metrics

	httpServer *http.Server
}

// New creates a server. manager and agent may be nil (endpoints answer 503
// until they are available); stores and metrics are optional.
func New(settings *config.Settings, manager *a2a.Manager, agent ChatAgent,
	conversations *store.ConversationStore, configs *store.ConfigStore,
	metrics *observability.Metrics) *Server {
	return &Server{
		settings:      settings,
		manager:       manager,
		agent:         agent,
		conversations: conversations,
		configs:       configs,
		metrics:       metrics,
	}
}

// Router builds the route tree with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.metricsMiddleware)
	r.Use(requestLogger)
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/.well-known/agent.json", s.handleAgentCard)

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/sync", s.handleChatSync)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.handleListConversations)
			r.Post("/", s.handleCreateConversation)
			r.Get("/{conversationID}", s.handleGetConversation)
			r.Put("/{conversationID}", s.handleUpdateConversation)
			r.Delete("/{conversationID}", s.handleDeleteConversation)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Put("/a2a", s.handleUpdateA2AConfig)
			r.Put("/mcp", s.handleUpdateMCPConfig)
			r.Post("/reset", s.handleResetConfig)
		})
	})

	r.Route("/a2a/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/{taskID}", s.handleGetTask)
		r.Post("/{taskID}/cancel", s.handleCancelTask)
		r.Post("/{taskID}/message", s.handleSendMessage)
		r.Post("/{taskID}/approve", s.handleApprovePlan)
		r.Post("/{taskID}/reject", s.handleRejectPlan)
		r.Post("/{taskID}/pause", s.handlePauseTask)
		r.Post("/{taskID}/resume", s.handleResumeTask)
		r.Get("/{taskID}/stream", s.handleStreamTask)
	})

	return r
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.settings.Address(),
		Handler:     s.Router(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE streams stay open for the task lifetime.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.settings.Address())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	writeJSON(w, http.StatusOK, a2a.GetAgentCard(scheme+"://"+r.Host))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, resp a2a.ErrorResponse) {
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, a2a.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
		})
		return false
	}
	return true
}
