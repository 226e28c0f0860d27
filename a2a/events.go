package a2a

import (
	"encoding/json"
)

// EventType identifies a stream event variant.
type EventType string

const (
	EventTypeStatus     EventType = "status"
	EventTypePlanUpdate EventType = "plan_update"
	EventTypeMessage    EventType = "message"
	EventTypeToolUse    EventType = "tool_use"
	EventTypeArtifact   EventType = "artifact"
	EventTypeKeepalive  EventType = "keepalive"
	EventTypeDone       EventType = "done"
)

// EventData is the closed set of event payloads. Each event type carries
// exactly one payload variant.
type EventData interface {
	eventData()
}

// StatusUpdate is the payload for status, plan_update and artifact events.
type StatusUpdate struct {
	TaskID   string     `json:"taskId"`
	Status   TaskStatus `json:"status"`
	Plan     *Plan      `json:"plan,omitempty"`
	Artifact *Artifact  `json:"artifact,omitempty"`
}

// MessageEvent is the payload for a streamed agent message fragment.
type MessageEvent struct {
	TaskID  string  `json:"taskId"`
	Message Message `json:"message"`
}

// ToolUseEvent announces a tool invocation during execution. Informational
// only; the result arrives later as an artifact.
type ToolUseEvent struct {
	TaskID string                 `json:"taskId"`
	Tool   string                 `json:"tool"`
	Input  map[string]interface{} `json:"input,omitempty"`
}

// Empty is the payload of keepalive and done events.
type Empty struct{}

func (StatusUpdate) eventData() {}
func (MessageEvent) eventData() {}
func (ToolUseEvent) eventData() {}
func (Empty) eventData()        {}

// Event is one entry in a task's event stream.
type Event struct {
	Type EventType
	Data EventData
}

// MarshalData renders the payload as the JSON carried on the wire.
func (e Event) MarshalData() []byte {
	if e.Data == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return []byte("{}")
	}
	return data
}
