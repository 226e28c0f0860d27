package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozgurkarahan/simple-order-agent/a2a"
	"github.com/ozgurkarahan/simple-order-agent/llms"
)

// scriptedProvider replays one scripted response per Generate call.
type scriptedResponse struct {
	text      string
	toolCalls []*llms.ToolCall
	err       error
}

type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
	systems   []string
	lastTurns []llms.Turn
}

func (p *scriptedProvider) GetModelName() string { return "test-model" }

func (p *scriptedProvider) next(system string, turns []llms.Turn) (scriptedResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.systems = append(p.systems, system)
	p.lastTurns = append([]llms.Turn{}, turns...)
	if p.calls >= len(p.responses) {
		return scriptedResponse{}, errors.New("no scripted response left")
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

func (p *scriptedProvider) Generate(system string, turns []llms.Turn, tools []llms.ToolDefinition) (string, []*llms.ToolCall, int, error) {
	resp, err := p.next(system, turns)
	if err != nil {
		return "", nil, 0, err
	}
	return resp.text, resp.toolCalls, 0, resp.err
}

func (p *scriptedProvider) GenerateStreaming(system string, turns []llms.Turn, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	resp, err := p.next(system, turns)
	if err != nil {
		return nil, err
	}
	if resp.err != nil {
		return nil, resp.err
	}

	out := make(chan llms.StreamChunk)
	go func() {
		defer close(out)
		if resp.text != "" {
			out <- llms.StreamChunk{Type: "text", Text: resp.text}
		}
		for _, call := range resp.toolCalls {
			out <- llms.StreamChunk{Type: "tool_call", ToolCall: call}
		}
		out <- llms.StreamChunk{Type: "done"}
	}()
	return out, nil
}

func (p *scriptedProvider) Close() error { return nil }

type fakeTools struct {
	mu       sync.Mutex
	calls    []string
	result   string
	callErr  error
	listErr  error
	toolList []llms.ToolDefinition
}

func (f *fakeTools) ListTools(ctx context.Context) ([]llms.ToolDefinition, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.toolList, nil
}

func (f *fakeTools) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.callErr != nil {
		return "", f.callErr
	}
	return f.result, nil
}

func collect(t *testing.T, events <-chan a2a.ChatEvent) []a2a.ChatEvent {
	t.Helper()
	var out []a2a.ChatEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestGeneratePlan_ParsesModelJSON(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{
			{text: `Here is the plan:
{
  "description": "Fetch and analyze orders",
  "phases": [
    {"id": "phase-1", "name": "Fetch", "tasks": [{"id": "task-1", "description": "Get all orders"}]},
    {"id": "phase-2", "name": "Analyze", "tasks": [{"id": "task-2", "description": "Compute totals"}]}
  ]
}`},
		},
	}
	a := New(provider, &fakeTools{})

	plan, err := a.GeneratePlan(context.Background(), "Show totals")
	require.NoError(t, err)
	assert.Equal(t, "Fetch and analyze orders", plan.Description)
	require.Len(t, plan.Phases, 2)
	assert.Equal(t, "Get all orders", plan.Phases[0].Tasks[0].Description)
}

func TestGeneratePlan_FallsBackOnProviderError(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{{err: errors.New("api unavailable")}},
	}
	a := New(provider, &fakeTools{})

	plan, err := a.GeneratePlan(context.Background(), "Show all orders")
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	require.Len(t, plan.Phases[0].Tasks, 1)
	assert.Contains(t, plan.Phases[0].Tasks[0].Description, "Show all orders")
}

func TestGeneratePlan_FallsBackOnMalformedJSON(t *testing.T) {
	for _, text := range []string{
		"no json here",
		`{"description": "x", "phases": []}`,
		`{"description": "x", "phases": [{"id": "p", "name": "p", "tasks": []}]}`,
		`{"description": broken`,
	} {
		provider := &scriptedProvider{responses: []scriptedResponse{{text: text}}}
		a := New(provider, &fakeTools{})

		plan, err := a.GeneratePlan(context.Background(), "request")
		require.NoError(t, err)
		require.Len(t, plan.Phases, 1, "input %q", text)
		assert.Equal(t, "phase-1", plan.Phases[0].ID)
	}
}

func TestChat_PlainTextResponse(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{{text: "You have 12 orders."}},
	}
	a := New(provider, &fakeTools{})

	events, err := a.Chat(context.Background(), "How many orders?")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, a2a.ChatEventText, got[0].Type)
	assert.Equal(t, "You have 12 orders.", got[0].Text)
}

func TestChat_ToolCallLoop(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{
			{
				text: "Let me check.",
				toolCalls: []*llms.ToolCall{
					{ID: "call-1", Name: "get-all-orders", Args: map[string]interface{}{}},
				},
			},
			{text: "Found 2 orders totaling $150."},
		},
	}
	tools := &fakeTools{result: `[{"id": 1}, {"id": 2}]`}
	a := New(provider, tools)

	events, err := a.Chat(context.Background(), "Show me all orders")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, a2a.ChatEventText, got[0].Type)
	assert.Equal(t, a2a.ChatEventToolUse, got[1].Type)
	assert.Equal(t, "get-all-orders", got[1].Tool)
	assert.Equal(t, a2a.ChatEventToolResult, got[2].Type)
	assert.Equal(t, `[{"id": 1}, {"id": 2}]`, got[2].Result)
	assert.Equal(t, a2a.ChatEventText, got[3].Type)

	assert.Equal(t, []string{"get-all-orders"}, tools.calls)

	// Second provider call carries the tool result back.
	require.GreaterOrEqual(t, provider.calls, 2)
	last := provider.lastTurns[len(provider.lastTurns)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call-1", last.ToolResults[0].ToolCallID)
}

func TestChat_ToolErrorFedBackToModel(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{
			{
				toolCalls: []*llms.ToolCall{
					{ID: "call-1", Name: "create-order", Args: map[string]interface{}{"price": -1}},
				},
			},
			{text: "That order could not be created: price must be positive."},
		},
	}
	tools := &fakeTools{callErr: errors.New("price must be positive")}
	a := New(provider, tools)

	events, err := a.Chat(context.Background(), "Create a bad order")
	require.NoError(t, err)

	got := collect(t, events)

	var sawResult, sawError bool
	for _, ev := range got {
		if ev.Type == a2a.ChatEventToolResult {
			sawResult = true
			assert.Contains(t, ev.Result, "price must be positive")
		}
		if ev.Type == a2a.ChatEventError {
			sawError = true
		}
	}
	assert.True(t, sawResult, "tool error should surface as a tool_result")
	assert.False(t, sawError, "tool error must not abort the turn")

	last := provider.lastTurns[len(provider.lastTurns)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
}

func TestChat_ProviderErrorEmitsErrorEvent(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{{err: errors.New("rate limited")}},
	}
	a := New(provider, &fakeTools{})

	events, err := a.Chat(context.Background(), "hello")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, a2a.ChatEventError, got[0].Type)
	assert.Contains(t, got[0].Message, "rate limited")
}

func TestChat_ToolDiscoveryErrorEmitsErrorEvent(t *testing.T) {
	provider := &scriptedProvider{}
	a := New(provider, &fakeTools{listErr: errors.New("mcp unreachable")})

	events, err := a.Chat(context.Background(), "hello")
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, a2a.ChatEventError, got[0].Type)
	assert.Contains(t, got[0].Message, "tool discovery failed")
}

func TestChat_TurnLimitStopsLoop(t *testing.T) {
	// Every turn requests another tool call; the loop must stop at the bound.
	loop := scriptedResponse{
		toolCalls: []*llms.ToolCall{
			{ID: "c", Name: "get-all-orders", Args: map[string]interface{}{}},
		},
	}
	provider := &scriptedProvider{
		responses: []scriptedResponse{loop, loop, loop, loop, loop},
	}
	tools := &fakeTools{result: "[]"}
	a := New(provider, tools, WithMaxTurns(3))

	events, err := a.Chat(context.Background(), "loop forever")
	require.NoError(t, err)
	collect(t, events)

	assert.Equal(t, 3, provider.calls)
	assert.Len(t, tools.calls, 3)
}

func TestChatSync_JoinsText(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{{text: "Total revenue is $4,200."}},
	}
	a := New(provider, &fakeTools{})

	text, err := a.ChatSync(context.Background(), "revenue?")
	require.NoError(t, err)
	assert.Equal(t, "Total revenue is $4,200.", text)
}

func TestChatSync_ReturnsError(t *testing.T) {
	provider := &scriptedProvider{
		responses: []scriptedResponse{{err: errors.New("boom")}},
	}
	a := New(provider, &fakeTools{})

	_, err := a.ChatSync(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
