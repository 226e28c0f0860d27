package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
)

func (s *Server) requireManager(w http.ResponseWriter) bool {
	if s.manager == nil {
		writeError(w, http.StatusServiceUnavailable, a2a.ErrorResponse{
			Error: "Task manager not initialized",
		})
		return false
	}
	return true
}

// writeTaskError maps manager errors onto HTTP statuses: unknown task is
// 404, a state-precondition violation is 400, anything else 500.
func writeTaskError(w http.ResponseWriter, taskID string, err error) {
	switch {
	case errors.Is(err, a2a.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, a2a.ErrorResponse{
			Error:  "Task not found",
			TaskID: taskID,
		})
	case errors.Is(err, a2a.ErrInvalidTaskState):
		writeError(w, http.StatusBadRequest, a2a.ErrorResponse{
			Error:  err.Error(),
			TaskID: taskID,
		})
	default:
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{
			Error:  err.Error(),
			TaskID: taskID,
		})
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	var body a2a.CreateTaskRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	task := s.manager.CreateTask(body.Message, body.Metadata)
	slog.Info("Created task", "taskID", task.ID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.GetTask(taskID)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.CancelTask(taskID)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	slog.Info("Canceled task", "taskID", taskID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	var body a2a.SendMessageRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	task, err := s.manager.SendMessage(taskID, body.Message)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.ApprovePlan(taskID)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	slog.Info("Approved plan", "taskID", taskID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleRejectPlan(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	var body a2a.RejectPlanRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	task, err := s.manager.RejectPlan(taskID, body.Feedback)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	slog.Info("Rejected plan", "taskID", taskID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.PauseTask(taskID)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	slog.Info("Paused task", "taskID", taskID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	task, err := s.manager.ResumeTask(taskID)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}
	slog.Info("Resumed task", "taskID", taskID)
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleStreamTask(w http.ResponseWriter, r *http.Request) {
	if !s.requireManager(w) {
		return
	}

	taskID := chi.URLParam(r, "taskID")
	events, err := s.manager.StreamTask(r.Context(), taskID)
	if err != nil {
		writeTaskError(w, taskID, err)
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, a2a.ErrorResponse{Error: err.Error()})
		return
	}

	for ev := range events {
		if err := stream.send(string(ev.Type), ev.MarshalData()); err != nil {
			slog.Debug("Stream client disconnected", "taskID", taskID, "error", err)
			return
		}
	}
	stream.done()
}
