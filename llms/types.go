// Package llms provides LLM provider clients for the orders agent.
package llms

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// ToolResult carries the outcome of an executed tool call back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolDefinition describes a callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Turn is one entry of a conversation sent to the provider.
// Role is "user" or "assistant". A user turn may instead carry tool results;
// an assistant turn may carry the tool calls it made.
type Turn struct {
	Role        string
	Text        string
	ToolCalls   []*ToolCall
	ToolResults []*ToolResult
}

// StreamChunk is one unit of streaming provider output.
// Type is one of "text", "tool_call", "done", "error".
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Tokens   int
	Error    error
}

// Provider generates completions with optional tool calling.
type Provider interface {
	GetModelName() string
	Generate(system string, turns []Turn, tools []ToolDefinition) (string, []*ToolCall, int, error)
	GenerateStreaming(system string, turns []Turn, tools []ToolDefinition) (<-chan StreamChunk, error)
	Close() error
}
