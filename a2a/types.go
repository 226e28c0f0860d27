// Package a2a implements the Agent-to-Agent (A2A) task protocol: the task
// data model, the lifecycle state machine with planning and approval, and
// per-task event streaming.
package a2a

import (
	"time"
)

// ============================================================================
// TASK - Unit of Work in A2A Protocol
// ============================================================================

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	TaskStateSubmitted        TaskState = "submitted"
	TaskStatePlanning         TaskState = "planning"
	TaskStateAwaitingApproval TaskState = "awaiting-approval"
	TaskStateExecuting        TaskState = "executing"
	TaskStatePaused           TaskState = "paused"
	TaskStateCompleted        TaskState = "completed"
	TaskStateCanceled         TaskState = "canceled"
	TaskStateFailed           TaskState = "failed"

	// TaskStateWorking is the legacy state used by non-planning flows.
	TaskStateWorking TaskState = "working"

	// TaskStateInputRequired means the task is waiting for user input.
	TaskStateInputRequired TaskState = "input-required"
)

// IsTerminal returns whether this state admits no further transitions.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	}
	return false
}

// TaskStatus is an immutable status snapshot, replaced wholesale on each
// transition so concurrent readers never observe a half-updated status.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Part is one piece of a message: text, or binary/structured content
// referenced by mime type and data or URI.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64 for binary content
	URI      string `json:"uri,omitempty"`
}

// TextPart builds a plain text part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// Message is a conversation entry. Role is "user" or "agent".
type Message struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Text returns the first text part of the message.
func (m Message) Text() string {
	for _, part := range m.Parts {
		if part.Text != "" {
			return part.Text
		}
	}
	return ""
}

// Artifact is a durable output produced during task execution, typically
// from a tool result. Artifacts are append-only.
type Artifact struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType"`
	Parts       []Part `json:"parts"`
}

// Task is the A2A unit of work. Mutated exclusively by the Manager.
type Task struct {
	ID        string                 `json:"id"`
	Status    TaskStatus             `json:"status"`
	Plan      *Plan                  `json:"plan,omitempty"`
	Artifacts []Artifact             `json:"artifacts,omitempty"`
	History   []Message              `json:"history,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ============================================================================
// PLAN - User-Approvable Execution Decomposition
// ============================================================================

// ItemStatus tracks progress of a plan phase or task item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
)

// TaskItem is one executable step inside a phase. Items run strictly
// sequentially; a failed item is recorded and does not abort the phase.
type TaskItem struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      ItemStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
}

// Phase is an ordered group of task items. Phases run strictly sequentially.
type Phase struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Tasks       []TaskItem `json:"tasks"`
	Status      ItemStatus `json:"status"`
}

// Plan is the structured decomposition of a request, produced during
// planning and held for approval before execution. A rejected plan is
// discarded and replaced, never revised.
type Plan struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Phases      []Phase    `json:"phases"`
	CreatedAt   time.Time  `json:"createdAt"`
	ApprovedAt  *time.Time `json:"approvedAt,omitempty"`
}

// ============================================================================
// REQUEST / RESPONSE PAYLOADS
// ============================================================================

// CreateTaskRequest creates a new task from an initial message.
type CreateTaskRequest struct {
	Message  Message                `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SendMessageRequest sends a follow-up message to an existing task.
type SendMessageRequest struct {
	Message Message `json:"message"`
}

// RejectPlanRequest rejects the pending plan with user feedback.
type RejectPlanRequest struct {
	Feedback string `json:"feedback"`
}

// ErrorResponse is the error payload returned by the HTTP API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
}
