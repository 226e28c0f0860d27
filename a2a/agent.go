package a2a

import (
	"context"
)

// PlanData is the raw plan structure returned by the planning collaborator,
// before it is converted into an approvable Plan.
type PlanData struct {
	Description string      `json:"description"`
	Phases      []PhaseData `json:"phases"`
}

// PhaseData is one phase of a raw plan.
type PhaseData struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Tasks       []TaskItemData `json:"tasks"`
}

// TaskItemData is one task of a raw plan phase.
type TaskItemData struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// ChatEventType identifies an agent chat stream event.
type ChatEventType string

const (
	ChatEventText       ChatEventType = "text"
	ChatEventToolUse    ChatEventType = "tool_use"
	ChatEventToolResult ChatEventType = "tool_result"
	ChatEventError      ChatEventType = "error"
)

// ChatEvent is one event emitted by the agent while handling a chat turn.
// Agent failures arrive as error events rather than stream termination, so
// the consuming loop handles them uniformly.
type ChatEvent struct {
	Type    ChatEventType          `json:"type"`
	Text    string                 `json:"content,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Input   map[string]interface{} `json:"input,omitempty"`
	Result  string                 `json:"result,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// Agent is the collaborator that produces plans and executes chat turns.
// The Manager drives the task lifecycle; the Agent does the actual thinking
// and tool calling.
type Agent interface {
	// GeneratePlan produces a plan for the given request text. On internal
	// failure implementations should return a safe fallback plan rather
	// than an error, to avoid stalling the state machine.
	GeneratePlan(ctx context.Context, request string) (*PlanData, error)

	// Chat handles one message and streams typed events. The returned
	// channel is closed when the turn completes.
	Chat(ctx context.Context, message string) (<-chan ChatEvent, error)
}
