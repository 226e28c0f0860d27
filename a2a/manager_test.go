package a2a

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is a scriptable Agent for exercising the task lifecycle
// without an LLM or MCP server.
type fakeAgent struct {
	mu           sync.Mutex
	plan         *PlanData
	planErr      error
	planRequests []string

	chatEvents   []ChatEvent
	chatErr      error
	chatRequests []string

	// When set, GeneratePlan signals each call on planStarted and blocks
	// until a value arrives on planRelease before returning.
	planStarted chan string
	planRelease chan struct{}

	// When set, Chat signals each call on chatStarted and blocks until a
	// value arrives on chatRelease before emitting events.
	chatStarted chan string
	chatRelease chan struct{}
}

func (f *fakeAgent) GeneratePlan(ctx context.Context, request string) (*PlanData, error) {
	f.mu.Lock()
	f.planRequests = append(f.planRequests, request)
	plan, err := f.plan, f.planErr
	started, release := f.planStarted, f.planRelease
	f.mu.Unlock()
	if started != nil {
		started <- request
		<-release
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (f *fakeAgent) setPlanErr(err error) {
	f.mu.Lock()
	f.planErr = err
	f.mu.Unlock()
}

func (f *fakeAgent) Chat(ctx context.Context, message string) (<-chan ChatEvent, error) {
	f.mu.Lock()
	f.chatRequests = append(f.chatRequests, message)
	events, err := f.chatEvents, f.chatErr
	started, release := f.chatStarted, f.chatRelease
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan ChatEvent)
	go func() {
		defer close(out)
		if started != nil {
			started <- message
			<-release
		}
		for _, ev := range events {
			out <- ev
		}
	}()
	return out, nil
}

func (f *fakeAgent) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.planRequests...)
}

func twoItemPlan() *PlanData {
	return &PlanData{
		Description: "Analyze order data",
		Phases: []PhaseData{
			{
				ID:          "phase-1",
				Name:        "Analysis",
				Description: "Fetch and summarize orders",
				Tasks: []TaskItemData{
					{ID: "task-1", Description: "Fetch all orders"},
					{ID: "task-2", Description: "Summarize the results"},
				},
			},
		},
	}
}

func userMessage(text string) Message {
	return Message{Role: "user", Parts: []Part{TextPart(text)}}
}

func waitForState(t *testing.T, m *Manager, taskID string, state TaskState) *Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := m.GetTask(taskID)
		require.NoError(t, err)
		if task.Status.State == state {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := m.GetTask(taskID)
	t.Fatalf("task %s never reached %s, stuck in %s (%s)",
		taskID, state, task.Status.State, task.Status.Message)
	return nil
}

func TestManager_FullLifecycle(t *testing.T) {
	agent := &fakeAgent{
		plan: twoItemPlan(),
		chatEvents: []ChatEvent{
			{Type: ChatEventText, Text: "Looking at the orders now."},
			{Type: ChatEventToolUse, Tool: "get-all-orders", Input: map[string]interface{}{}},
			{Type: ChatEventToolResult, Result: `[{"id": 1, "product": "Widget"}]`},
		},
	}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	require.True(t, strings.HasPrefix(task.ID, "task-"))
	assert.Equal(t, TaskStateSubmitted, task.Status.State)
	assert.Equal(t, "Task created", task.Status.Message)
	require.Len(t, task.History, 1)

	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	pending, err := m.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, pending.Plan)
	assert.True(t, strings.HasPrefix(pending.Plan.ID, "plan-"))
	assert.Equal(t, "Plan ready for approval", pending.Status.Message)
	assert.Nil(t, pending.Plan.ApprovedAt)
	require.Len(t, pending.Plan.Phases, 1)
	assert.Equal(t, ItemStatusPending, pending.Plan.Phases[0].Status)

	approved, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan approved, starting execution", approved.Status.Message)
	require.NotNil(t, approved.Plan.ApprovedAt)

	done := waitForState(t, m, task.ID, TaskStateCompleted)
	assert.Equal(t, "All tasks completed successfully", done.Status.Message)

	for _, phase := range done.Plan.Phases {
		assert.Equal(t, ItemStatusCompleted, phase.Status)
		for _, item := range phase.Tasks {
			assert.Equal(t, ItemStatusCompleted, item.Status)
		}
	}

	// Two items, one tool result each.
	require.Len(t, done.Artifacts, 2)
	assert.True(t, strings.HasPrefix(done.Artifacts[0].ID, "artifact-"))
	assert.Equal(t, "Result: Fetch all orders", done.Artifacts[0].Name)
	assert.Equal(t, "application/json", done.Artifacts[0].MimeType)

	// Agent responses are recorded into history.
	assert.Greater(t, len(done.History), 1)
	last := done.History[len(done.History)-1]
	assert.Equal(t, "agent", last.Role)
}

func TestManager_TaskWithoutUserMessageFails(t *testing.T) {
	m := NewManager(&fakeAgent{plan: twoItemPlan()})

	task := m.CreateTask(Message{Role: "agent", Parts: []Part{TextPart("hi")}}, nil)

	failed := waitForState(t, m, task.ID, TaskStateFailed)
	assert.Equal(t, "No user message found", failed.Status.Message)
}

func TestManager_PlanGenerationFailure(t *testing.T) {
	m := NewManager(&fakeAgent{planErr: context.DeadlineExceeded})

	task := m.CreateTask(userMessage("Show me all orders"), nil)

	failed := waitForState(t, m, task.ID, TaskStateFailed)
	assert.Contains(t, failed.Status.Message, "Processing failed:")
	assert.Contains(t, failed.Status.Message, "plan generation failed")
}

func TestManager_RejectPlanRegeneratesWithFeedback(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	first := waitForState(t, m, task.ID, TaskStateAwaitingApproval)
	firstPlanID := first.Plan.ID

	rejected, err := m.RejectPlan(task.ID, "Too many steps")
	require.NoError(t, err)
	assert.Equal(t, TaskStatePlanning, rejected.Status.State)
	assert.Equal(t, "Plan rejected, creating new plan", rejected.Status.Message)

	// Feedback is recorded in history as a user message.
	last := rejected.History[len(rejected.History)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Text(), "Plan rejected. Feedback: Too many steps")

	second := waitForState(t, m, task.ID, TaskStateAwaitingApproval)
	assert.NotEqual(t, firstPlanID, second.Plan.ID)

	requests := agent.requests()
	require.Len(t, requests, 2)
	assert.Contains(t, requests[1], "Previous plan was rejected. User feedback: Too many steps")

	// Approving the regenerated plan runs it to completion.
	_, err = m.ApprovePlan(task.ID)
	require.NoError(t, err)
	waitForState(t, m, task.ID, TaskStateCompleted)
}

func TestManager_ApproveRequiresAwaitingApproval(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	_, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)
	waitForState(t, m, task.ID, TaskStateCompleted)

	_, err = m.ApprovePlan(task.ID)
	assert.ErrorIs(t, err, ErrInvalidTaskState)

	_, err = m.RejectPlan(task.ID, "nope")
	assert.ErrorIs(t, err, ErrInvalidTaskState)
}

func TestManager_UnknownTask(t *testing.T) {
	m := NewManager(&fakeAgent{})

	_, err := m.GetTask("task-missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = m.ApprovePlan("task-missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = m.CancelTask("task-missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = m.StreamTask(context.Background(), "task-missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestManager_CancelTask(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	canceled, err := m.CancelTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCanceled, canceled.Status.State)
	assert.Equal(t, "Task canceled by user", canceled.Status.Message)

	// Terminal states stay put.
	_, err = m.CancelTask(task.ID)
	assert.ErrorIs(t, err, ErrInvalidTaskState)

	got, err := m.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCanceled, got.Status.State)
}

func TestManager_ItemFailureIsNonFatal(t *testing.T) {
	agent := &fakeAgent{
		plan: twoItemPlan(),
		chatEvents: []ChatEvent{
			{Type: ChatEventError, Message: "tool exploded"},
		},
	}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	_, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)

	done := waitForState(t, m, task.ID, TaskStateCompleted)
	for _, item := range done.Plan.Phases[0].Tasks {
		assert.Equal(t, ItemStatusFailed, item.Status)
		assert.Contains(t, item.Error, "tool exploded")
	}
}

func TestManager_PauseBlocksNextItem(t *testing.T) {
	agent := &fakeAgent{
		plan: twoItemPlan(),
		chatEvents: []ChatEvent{
			{Type: ChatEventText, Text: "working"},
		},
		chatStarted: make(chan string),
		chatRelease: make(chan struct{}),
	}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	_, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)

	// First item is now in flight; pause takes effect before the second.
	<-agent.chatStarted

	paused, err := m.PauseTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatePaused, paused.Status.State)
	assert.Equal(t, "Task paused by user", paused.Status.Message)

	agent.chatRelease <- struct{}{}

	// The second item must not start while paused.
	assert.Never(t, func() bool {
		got, err := m.GetTask(task.ID)
		require.NoError(t, err)
		return got.Plan.Phases[0].Tasks[1].Status != ItemStatusPending
	}, 200*time.Millisecond, 20*time.Millisecond)

	resumed, err := m.ResumeTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateExecuting, resumed.Status.State)
	assert.Equal(t, "Task resumed", resumed.Status.Message)

	<-agent.chatStarted
	agent.chatRelease <- struct{}{}

	waitForState(t, m, task.ID, TaskStateCompleted)
}

func TestManager_PauseRequiresExecuting(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	_, err := m.PauseTask(task.ID)
	assert.ErrorIs(t, err, ErrInvalidTaskState)

	_, err = m.ResumeTask(task.ID)
	assert.ErrorIs(t, err, ErrInvalidTaskState)
}

func TestManager_StreamTaskDeliversOrderedEvents(t *testing.T) {
	agent := &fakeAgent{
		plan: twoItemPlan(),
		chatEvents: []ChatEvent{
			{Type: ChatEventText, Text: "Looking at the orders."},
			{Type: ChatEventToolUse, Tool: "get-all-orders", Input: map[string]interface{}{}},
			{Type: ChatEventToolResult, Result: `[]`},
		},
	}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := m.StreamTask(ctx, task.ID)
	require.NoError(t, err)

	_, err = m.ApprovePlan(task.ID)
	require.NoError(t, err)

	var events []Event
	for ev := range stream {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)

	// Streams always open with a status snapshot.
	assert.Equal(t, EventTypeStatus, events[0].Type)

	seen := map[EventType]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}
	assert.True(t, seen[EventTypePlanUpdate], "expected plan_update events")
	assert.True(t, seen[EventTypeMessage], "expected message events")
	assert.True(t, seen[EventTypeToolUse], "expected tool_use events")
	assert.True(t, seen[EventTypeArtifact], "expected artifact events")

	// The last status event carries the terminal state.
	var lastStatus *StatusUpdate
	for _, ev := range events {
		if ev.Type == EventTypeStatus {
			update := ev.Data.(StatusUpdate)
			lastStatus = &update
		}
	}
	require.NotNil(t, lastStatus)
	assert.Equal(t, TaskStateCompleted, lastStatus.Status.State)
}

func TestManager_StreamTaskStopsOnContextCancel(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := m.StreamTask(ctx, task.ID)
	require.NoError(t, err)

	// Consume the initial snapshot, then hang up.
	<-stream
	cancel()

	select {
	case _, open := <-stream:
		if open {
			// One buffered event may slip through; the channel must
			// close right after.
			_, open = <-stream
			assert.False(t, open)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after context cancellation")
	}
}

func TestManager_ApprovalGateExistsBeforePlanReady(t *testing.T) {
	agent := &fakeAgent{
		plan:        twoItemPlan(),
		planStarted: make(chan string, 1),
		planRelease: make(chan struct{}, 1),
		chatEvents:  []ChatEvent{{Type: ChatEventText, Text: "done"}},
	}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)

	// Plan generation is still in flight, so an approval arriving the
	// instant the task reports AWAITING_APPROVAL must already have a gate
	// to open.
	<-agent.planStarted
	m.mu.Lock()
	approval := m.approvals[task.ID]
	m.mu.Unlock()
	require.NotNil(t, approval)

	agent.planRelease <- struct{}{}
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	_, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)
	waitForState(t, m, task.ID, TaskStateCompleted)
}

func TestManager_PauseClosesResumeGateBeforeReturning(t *testing.T) {
	agent := &fakeAgent{
		plan:        twoItemPlan(),
		chatStarted: make(chan string, 2),
		chatRelease: make(chan struct{}, 2),
		chatEvents:  []ChatEvent{{Type: ChatEventText, Text: "working"}},
	}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	_, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)

	// First item is mid-execution; pause lands before the next item.
	<-agent.chatStarted

	paused, err := m.PauseTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatePaused, paused.Status.State)

	m.mu.Lock()
	resume := m.resumes[task.ID]
	isPaused := m.paused[task.ID]
	m.mu.Unlock()
	require.NotNil(t, resume)
	require.True(t, isPaused)
	assert.False(t, resume.IsOpen(),
		"resume gate still open after PauseTask returned")

	agent.chatRelease <- struct{}{}
	_, err = m.ResumeTask(task.ID)
	require.NoError(t, err)
	agent.chatRelease <- struct{}{}
	waitForState(t, m, task.ID, TaskStateCompleted)
}

func TestManager_SendMessageRequiresInputRequiredOrWorking(t *testing.T) {
	m := NewManager(&fakeAgent{plan: twoItemPlan()})

	// Seed the task directly so its state cannot drift under the test.
	taskID := "task-abcdef123456"
	m.mu.Lock()
	m.tasks[taskID] = &Task{
		ID:     taskID,
		Status: TaskStatus{State: TaskStateSubmitted, Message: "Task created"},
	}
	m.queues[taskID] = newEventQueue()
	m.mu.Unlock()

	_, err := m.SendMessage(taskID, userMessage("hello"))
	assert.ErrorIs(t, err, ErrInvalidTaskState)

	m.mu.Lock()
	m.tasks[taskID].Status.State = TaskStateInputRequired
	m.mu.Unlock()

	updated, err := m.SendMessage(taskID, userMessage("hello"))
	require.NoError(t, err)
	require.Len(t, updated.History, 1)
}

func TestManager_RegenerationFailureUnparksPipeline(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	agent.setPlanErr(errors.New("model unavailable"))
	_, err := m.RejectPlan(task.ID, "try again")
	require.NoError(t, err)

	failed := waitForState(t, m, task.ID, TaskStateFailed)
	assert.Contains(t, failed.Status.Message, "Processing failed:")

	// The goroutine parked on the approval gate must exit and release the
	// processing guard.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		busy := m.processing[task.ID]
		m.mu.Unlock()
		if !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("pipeline goroutine did not exit after regeneration failure")
}

func TestManager_ProcessingIsNotReentrant(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	// The pipeline goroutine is parked waiting for approval; a second
	// invocation for the same task must return without replanning.
	m.processTask(task.ID)
	assert.Len(t, agent.requests(), 1)

	_, err := m.ApprovePlan(task.ID)
	require.NoError(t, err)
	waitForState(t, m, task.ID, TaskStateCompleted)
	assert.Len(t, agent.requests(), 1)
}

func TestManager_CancelBeforeApprovalEndsStream(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := m.StreamTask(ctx, task.ID)
	require.NoError(t, err)

	canceled, err := m.CancelTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCanceled, canceled.Status.State)

	var lastStatus *StatusUpdate
	for ev := range stream {
		if ev.Type == EventTypeStatus {
			update := ev.Data.(StatusUpdate)
			lastStatus = &update
		}
	}
	require.NotNil(t, lastStatus)
	assert.Equal(t, TaskStateCanceled, lastStatus.Status.State)
	assert.Equal(t, "Task canceled by user", lastStatus.Status.Message)
}

func TestManager_SnapshotsAreIsolated(t *testing.T) {
	agent := &fakeAgent{plan: twoItemPlan()}
	m := NewManager(agent)

	task := m.CreateTask(userMessage("Show me all orders"), nil)
	waitForState(t, m, task.ID, TaskStateAwaitingApproval)

	snapshot, err := m.GetTask(task.ID)
	require.NoError(t, err)

	snapshot.Status.Message = "mutated"
	snapshot.Plan.Phases[0].Tasks[0].Description = "mutated"
	snapshot.History = append(snapshot.History, userMessage("mutated"))

	fresh, err := m.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plan ready for approval", fresh.Status.Message)
	assert.Equal(t, "Fetch all orders", fresh.Plan.Phases[0].Tasks[0].Description)
	require.Len(t, fresh.History, 1)
}
