// Package agent implements the orders analytics agent: an agentic loop
// over an LLM provider with tools served by the orders MCP server.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
	"github.com/ozgurkarahan/simple-order-agent/llms"
	"github.com/ozgurkarahan/simple-order-agent/observability"
)

const systemPrompt = `You are an intelligent Orders Analytics Agent. Your role is to help users query, analyze, and manage order data.

You have access to the following tools from the orders MCP server:
1. **get-all-orders** - Retrieve all orders from the system. Use this for overview queries or when no specific customer is mentioned.
2. **get-orders-by-customer-id** - Get orders for a specific customer by their ID. Use this when the user asks about a particular customer's orders.
3. **create-order** - Create a new order. Requires customer ID, customer name, product name, price, and order date.

When users ask about orders, you should:
- Use the appropriate tool to fetch data
- Analyze the results and provide clear, actionable insights
- Format monetary values properly (e.g., $1,234.56)
- Summarize large datasets with key statistics
- Ask clarifying questions if the request is ambiguous

For analytics queries:
- Calculate totals, averages, and trends when relevant
- Highlight important patterns or anomalies
- Suggest follow-up analyses that might be useful

For order creation:
- Ensure all required fields are provided
- Use ISO 8601 format for dates (YYYY-MM-DDTHH:MM:SS)
- Confirm the order details with the user before creating

Be conversational but concise. Focus on delivering value through actionable insights.`

const planSystemPrompt = `You are a planning assistant for an orders analytics agent. Decompose the user's request into a short execution plan.

Respond with JSON only, no prose, using exactly this structure:
{
  "description": "<one-line plan summary>",
  "phases": [
    {
      "id": "phase-1",
      "name": "<phase name>",
      "description": "<what this phase achieves>",
      "tasks": [
        {"id": "task-1", "description": "<concrete action>"}
      ]
    }
  ]
}

Keep plans small: 1-2 phases, 1-3 tasks per phase. Every task description must be a single concrete action the agent can perform with its order tools.`

// DefaultMaxTurns bounds the tool-calling loop for one chat turn.
const DefaultMaxTurns = 10

// ToolCaller is the slice of the MCP client the agent needs.
type ToolCaller interface {
	ListTools(ctx context.Context) ([]llms.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error)
}

// OrdersAgent answers order questions by looping an LLM over MCP tools.
// It implements a2a.Agent.
type OrdersAgent struct {
	provider llms.Provider
	tools    ToolCaller
	maxTurns int
	metrics  *observability.Metrics

	mu         sync.Mutex
	toolCache  []llms.ToolDefinition
	toolsReady bool
}

// Option configures an OrdersAgent.
type Option func(*OrdersAgent)

// WithMaxTurns overrides the tool-calling loop bound.
func WithMaxTurns(n int) Option {
	return func(a *OrdersAgent) {
		if n > 0 {
			a.maxTurns = n
		}
	}
}

// WithMetrics wires tool-call counters into the agent.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *OrdersAgent) {
		a.metrics = m
	}
}

// New creates an orders agent over the given provider and tool source.
func New(provider llms.Provider, tools ToolCaller, opts ...Option) *OrdersAgent {
	a := &OrdersAgent{
		provider: provider,
		tools:    tools,
		maxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(a)
	}
	slog.Info("Orders Agent initialized", "model", provider.GetModelName())
	return a
}

// listTools returns the MCP tool definitions, cached after first success.
func (a *OrdersAgent) listTools(ctx context.Context) ([]llms.ToolDefinition, error) {
	a.mu.Lock()
	if a.toolsReady {
		cached := a.toolCache
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	tools, err := a.tools.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.toolCache = tools
	a.toolsReady = true
	a.mu.Unlock()

	slog.Debug("Discovered MCP tools", "count", len(tools))
	return tools, nil
}

// GeneratePlan asks the model for a JSON execution plan. Any failure
// (provider error, malformed JSON, empty plan) degrades to a one-phase
// fallback plan so the task pipeline never stalls on planning.
func (a *OrdersAgent) GeneratePlan(ctx context.Context, request string) (*a2a.PlanData, error) {
	turns := []llms.Turn{{Role: "user", Text: request}}

	text, _, _, err := a.provider.Generate(planSystemPrompt, turns, nil)
	if err != nil {
		slog.Warn("Plan generation failed, using fallback plan", "error", err)
		return fallbackPlan(request), nil
	}

	plan, err := parsePlanJSON(text)
	if err != nil {
		slog.Warn("Plan response was not valid JSON, using fallback plan", "error", err)
		return fallbackPlan(request), nil
	}
	return plan, nil
}

// parsePlanJSON extracts and validates the plan structure from model
// output, tolerating surrounding prose or code fences.
func parsePlanJSON(text string) (*a2a.PlanData, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan response")
	}

	var plan a2a.PlanData
	if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if len(plan.Phases) == 0 {
		return nil, fmt.Errorf("plan has no phases")
	}
	for i, phase := range plan.Phases {
		if len(phase.Tasks) == 0 {
			return nil, fmt.Errorf("phase %d has no tasks", i)
		}
	}
	return &plan, nil
}

func fallbackPlan(request string) *a2a.PlanData {
	return &a2a.PlanData{
		Description: "Execution plan",
		Phases: []a2a.PhaseData{
			{
				ID:   "phase-1",
				Name: "Execution",
				Tasks: []a2a.TaskItemData{
					{ID: "task-1", Description: fmt.Sprintf("Process request: %s", request)},
				},
			},
		},
	}
}

// Chat runs one agentic turn: the model may call order tools any number of
// times up to the loop bound, and every intermediate step is streamed as a
// typed event. Failures surface as error events, not channel errors, so
// consumers handle them in-stream.
func (a *OrdersAgent) Chat(ctx context.Context, message string) (<-chan a2a.ChatEvent, error) {
	out := make(chan a2a.ChatEvent)

	go func() {
		defer close(out)
		a.runChat(ctx, message, out)
	}()

	return out, nil
}

func (a *OrdersAgent) runChat(ctx context.Context, message string, out chan<- a2a.ChatEvent) {
	emit := func(ev a2a.ChatEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	tools, err := a.listTools(ctx)
	if err != nil {
		slog.Error("Tool discovery failed", "error", err)
		emit(a2a.ChatEvent{Type: a2a.ChatEventError, Message: fmt.Sprintf("tool discovery failed: %s", err)})
		return
	}

	turns := []llms.Turn{{Role: "user", Text: message}}

	for turn := 0; turn < a.maxTurns; turn++ {
		stream, err := a.provider.GenerateStreaming(systemPrompt, turns, tools)
		if err != nil {
			emit(a2a.ChatEvent{Type: a2a.ChatEventError, Message: err.Error()})
			return
		}

		var text strings.Builder
		var toolCalls []*llms.ToolCall

		for chunk := range stream {
			switch chunk.Type {
			case "text":
				text.WriteString(chunk.Text)
				if !emit(a2a.ChatEvent{Type: a2a.ChatEventText, Text: chunk.Text}) {
					return
				}
			case "tool_call":
				toolCalls = append(toolCalls, chunk.ToolCall)
			case "error":
				emit(a2a.ChatEvent{Type: a2a.ChatEventError, Message: chunk.Error.Error()})
				return
			}
		}

		turns = append(turns, llms.Turn{
			Role:      "assistant",
			Text:      text.String(),
			ToolCalls: toolCalls,
		})

		if len(toolCalls) == 0 {
			return
		}

		var results []*llms.ToolResult
		for _, call := range toolCalls {
			if !emit(a2a.ChatEvent{Type: a2a.ChatEventToolUse, Tool: call.Name, Input: call.Args}) {
				return
			}

			content, err := a.tools.CallTool(ctx, call.Name, call.Args)
			isError := false
			if err != nil {
				slog.Warn("Tool call failed", "tool", call.Name, "error", err)
				content = fmt.Sprintf("Error: %s", err)
				isError = true
			}
			if a.metrics != nil {
				outcome := "ok"
				if isError {
					outcome = "error"
				}
				a.metrics.ToolCalls.WithLabelValues(call.Name, outcome).Inc()
			}

			// Tool failures go back to the model so it can recover or
			// explain; only provider failures abort the turn.
			if !emit(a2a.ChatEvent{Type: a2a.ChatEventToolResult, Tool: call.Name, Result: content}) {
				return
			}

			results = append(results, &llms.ToolResult{
				ToolCallID: call.ID,
				Content:    content,
				IsError:    isError,
			})
		}

		turns = append(turns, llms.Turn{Role: "user", ToolResults: results})
	}

	slog.Warn("Chat turn limit reached", "maxTurns", a.maxTurns)
}

// ChatSync runs Chat to completion and returns the concatenated text.
func (a *OrdersAgent) ChatSync(ctx context.Context, message string) (string, error) {
	events, err := a.Chat(ctx, message)
	if err != nil {
		return "", err
	}

	var parts []string
	var chatErr error
	for ev := range events {
		switch ev.Type {
		case a2a.ChatEventText:
			parts = append(parts, ev.Text)
		case a2a.ChatEventError:
			chatErr = fmt.Errorf("%s", ev.Message)
		}
	}
	if chatErr != nil {
		return "", chatErr
	}
	return strings.Join(parts, ""), nil
}
