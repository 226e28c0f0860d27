package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ozgurkarahan/simple-order-agent/observability"
)

// streamPollTimeout is how long StreamTask waits for the next event before
// emitting a keepalive.
const streamPollTimeout = 30 * time.Second

// Manager owns the authoritative task state machine and orchestrates
// planning, approval, execution, pause/resume and cancellation.
//
// All registries are keyed by task ID so distinct tasks never contend.
// Tasks live for the Manager's lifetime; there is no persistence.
type Manager struct {
	agent   Agent
	metrics *observability.Metrics

	mu         sync.Mutex
	tasks      map[string]*Task
	queues     map[string]*eventQueue
	processing map[string]bool
	paused     map[string]bool
	approvals  map[string]*gate
	resumes    map[string]*gate
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMetrics wires Prometheus instruments into the Manager.
func WithMetrics(m *observability.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// NewManager creates a task manager driving the given agent.
func NewManager(agent Agent, opts ...ManagerOption) *Manager {
	m := &Manager{
		agent:      agent,
		tasks:      make(map[string]*Task),
		queues:     make(map[string]*eventQueue),
		processing: make(map[string]bool),
		paused:     make(map[string]bool),
		approvals:  make(map[string]*gate),
		resumes:    make(map[string]*gate),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func generateTaskID() string {
	return "task-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func generatePlanID() string {
	return "plan-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func generateArtifactID() string {
	return "artifact-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateTask registers a new task in SUBMITTED state and schedules the
// processing pipeline in the background. Returns an immediate snapshot.
func (m *Manager) CreateTask(message Message, metadata map[string]interface{}) *Task {
	taskID := generateTaskID()

	task := &Task{
		ID: taskID,
		Status: TaskStatus{
			State:     TaskStateSubmitted,
			Message:   "Task created",
			Timestamp: time.Now().UTC(),
		},
		Artifacts: []Artifact{},
		History:   []Message{message},
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.tasks[taskID] = task
	m.queues[taskID] = newEventQueue()
	snapshot := cloneTask(task)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.TasksCreated.Inc()
	}

	go m.processTask(taskID)

	return snapshot
}

// GetTask returns a snapshot of the task, or ErrTaskNotFound.
func (m *Manager) GetTask(taskID string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return cloneTask(task), nil
}

// CancelTask marks a non-terminal task as canceled. Cancellation is
// advisory: an in-flight agent call is not interrupted, it just can no
// longer move the recorded state forward past the terminal transition.
func (m *Manager) CancelTask(taskID string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.State.IsTerminal() {
		current := task.Status.State
		m.mu.Unlock()
		return nil, invalidStateErr(taskID, current, "any non-terminal state")
	}

	m.setStatusLocked(task, TaskStateCanceled, "Task canceled by user")
	update := StatusUpdate{TaskID: taskID, Status: task.Status}
	approval := m.approvals[taskID]
	resume := m.resumes[taskID]
	delete(m.paused, taskID)
	snapshot := cloneTask(task)
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	// Unpark the pipeline so its goroutine can observe the terminal state
	// and exit instead of waiting forever.
	if approval != nil {
		approval.Open()
	}
	if resume != nil {
		resume.Open()
	}

	return snapshot, nil
}

// SendMessage appends a follow-up message and re-enters the processing
// pipeline. Valid while the task is waiting for input or working.
func (m *Manager) SendMessage(taskID string, message Message) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	state := task.Status.State
	if state != TaskStateInputRequired && state != TaskStateWorking {
		m.mu.Unlock()
		return nil, invalidStateErr(taskID, state, "input-required or working")
	}

	task.History = append(task.History, message)
	snapshot := cloneTask(task)
	m.mu.Unlock()

	go m.processTask(taskID)

	return snapshot, nil
}

// ApprovePlan approves the pending plan and starts execution.
func (m *Manager) ApprovePlan(taskID string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.State != TaskStateAwaitingApproval {
		current := task.Status.State
		m.mu.Unlock()
		return nil, invalidStateErr(taskID, current, string(TaskStateAwaitingApproval))
	}

	if task.Plan != nil {
		now := time.Now().UTC()
		task.Plan.ApprovedAt = &now
	}
	m.setStatusLocked(task, TaskStateExecuting, "Plan approved, starting execution")

	update := StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
	approval := m.approvals[taskID]
	snapshot := cloneTask(task)
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	// Wake the pipeline parked on the approval gate.
	if approval != nil {
		approval.Open()
	}

	return snapshot, nil
}

// RejectPlan discards the pending plan and schedules regeneration with the
// user's feedback attached. The pipeline stays parked on the approval gate,
// which is reset so a later approval applies to the regenerated plan.
func (m *Manager) RejectPlan(taskID string, feedback string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.State != TaskStateAwaitingApproval {
		current := task.Status.State
		m.mu.Unlock()
		return nil, invalidStateErr(taskID, current, string(TaskStateAwaitingApproval))
	}

	task.History = append(task.History, Message{
		Role:  "user",
		Parts: []Part{TextPart(fmt.Sprintf("Plan rejected. Feedback: %s", feedback))},
	})
	m.setStatusLocked(task, TaskStatePlanning, "Plan rejected, creating new plan")

	update := StatusUpdate{TaskID: taskID, Status: task.Status}
	approval := m.approvals[taskID]
	snapshot := cloneTask(task)
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	if approval != nil {
		approval.Reset()
	}

	go func() {
		if err := m.generatePlan(context.Background(), taskID, feedback); err != nil {
			m.failTask(taskID, err)
		}
	}()

	return snapshot, nil
}

// PauseTask pauses an executing task before its next task item.
func (m *Manager) PauseTask(taskID string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.State != TaskStateExecuting {
		current := task.Status.State
		m.mu.Unlock()
		return nil, invalidStateErr(taskID, current, string(TaskStateExecuting))
	}

	m.paused[taskID] = true
	// Reset under the same lock as the paused-set insertion: the pipeline
	// checks paused and then waits on the gate, so the gate must never
	// still be open while the task is marked paused.
	if resume := m.resumes[taskID]; resume != nil {
		resume.Reset()
	}
	m.setStatusLocked(task, TaskStatePaused, "Task paused by user")

	update := StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
	snapshot := cloneTask(task)
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	return snapshot, nil
}

// ResumeTask resumes a paused task.
func (m *Manager) ResumeTask(taskID string) (*Task, error) {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status.State != TaskStatePaused {
		current := task.Status.State
		m.mu.Unlock()
		return nil, invalidStateErr(taskID, current, string(TaskStatePaused))
	}

	delete(m.paused, taskID)
	m.setStatusLocked(task, TaskStateExecuting, "Task resumed")

	update := StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
	resume := m.resumes[taskID]
	snapshot := cloneTask(task)
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	if resume != nil {
		resume.Open()
	}

	return snapshot, nil
}

// ============================================================================
// PROCESSING PIPELINE
// ============================================================================

// processTask runs the planning-first pipeline:
// SUBMITTED -> PLANNING -> AWAITING_APPROVAL -> EXECUTING -> COMPLETED.
// Re-entrant calls for a task already being processed are no-ops.
func (m *Manager) processTask(taskID string) {
	m.mu.Lock()
	if m.processing[taskID] {
		m.mu.Unlock()
		return
	}
	m.processing[taskID] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.processing, taskID)
		m.mu.Unlock()
	}()

	ctx := context.Background()

	if m.lastUserText(taskID) == "" {
		m.mu.Lock()
		task := m.tasks[taskID]
		m.setStatusLocked(task, TaskStateFailed, "No user message found")
		update := StatusUpdate{TaskID: taskID, Status: task.Status}
		m.mu.Unlock()
		m.emit(taskID, EventTypeStatus, update)
		return
	}

	// The approval gate must be registered before the task is ever
	// reported as AWAITING_APPROVAL, so an approval racing the plan-ready
	// transition always finds a gate to open. It survives RejectPlan
	// cycles via Reset, so this single park covers any number of plan
	// regenerations.
	approval := newGate(false)
	m.mu.Lock()
	m.approvals[taskID] = approval
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.approvals, taskID)
		m.mu.Unlock()
	}()

	if err := m.generatePlan(ctx, taskID, ""); err != nil {
		m.failTask(taskID, err)
		return
	}

	if err := approval.Wait(ctx); err != nil {
		m.failTask(taskID, err)
		return
	}

	if err := m.executePlan(ctx, taskID); err != nil {
		m.failTask(taskID, err)
	}
}

// failTask records a pipeline-fatal error and notifies streaming clients.
func (m *Manager) failTask(taskID string, err error) {
	slog.Error("Task processing failed", "taskID", taskID, "error", err)

	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(task, TaskStateFailed, fmt.Sprintf("Processing failed: %s", err))
	update := StatusUpdate{TaskID: taskID, Status: task.Status}
	approval := m.approvals[taskID]
	resume := m.resumes[taskID]
	delete(m.paused, taskID)
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	// A failure recorded outside the pipeline (plan regeneration) must
	// also unpark the pipeline goroutine so it observes the terminal
	// state instead of waiting forever.
	if approval != nil {
		approval.Open()
	}
	if resume != nil {
		resume.Open()
	}
}

// generatePlan asks the agent for a plan and parks the task in
// AWAITING_APPROVAL. feedback carries the user's rejection notes when a
// previous plan was discarded.
func (m *Manager) generatePlan(ctx context.Context, taskID string, feedback string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	m.setStatusLocked(task, TaskStatePlanning, "Generating execution plan")
	update := StatusUpdate{TaskID: taskID, Status: task.Status}
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)

	request := m.lastUserText(taskID)
	if feedback != "" {
		request = fmt.Sprintf("%s\n\nPrevious plan was rejected. User feedback: %s", request, feedback)
	}

	planData, err := m.agent.GeneratePlan(ctx, request)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	plan := &Plan{
		ID:          generatePlanID(),
		Description: planData.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if plan.Description == "" {
		plan.Description = "Execution plan"
	}
	for _, phaseData := range planData.Phases {
		phase := Phase{
			ID:          phaseData.ID,
			Name:        phaseData.Name,
			Description: phaseData.Description,
			Status:      ItemStatusPending,
		}
		for _, itemData := range phaseData.Tasks {
			phase.Tasks = append(phase.Tasks, TaskItem{
				ID:          itemData.ID,
				Description: itemData.Description,
				Status:      ItemStatusPending,
			})
		}
		plan.Phases = append(plan.Phases, phase)
	}

	m.mu.Lock()
	task.Plan = plan
	m.setStatusLocked(task, TaskStateAwaitingApproval, "Plan ready for approval")
	update = StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(plan)}
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)
	return nil
}

// executePlan runs the approved plan phase by phase, item by item, strictly
// sequentially. Item failures are recorded and non-fatal.
func (m *Manager) executePlan(ctx context.Context, taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok || task.Plan == nil {
		m.mu.Unlock()
		return fmt.Errorf("no plan to execute for task %s", taskID)
	}
	numPhases := len(task.Plan.Phases)

	resume := newGate(true) // initially not paused
	m.resumes[taskID] = resume
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.resumes, taskID)
		m.mu.Unlock()
	}()

	for phaseIdx := 0; phaseIdx < numPhases; phaseIdx++ {
		if m.isTerminal(taskID) {
			return nil
		}

		m.mu.Lock()
		phase := &task.Plan.Phases[phaseIdx]
		phase.Status = ItemStatusInProgress
		numItems := len(phase.Tasks)
		update := StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
		m.mu.Unlock()

		m.emit(taskID, EventTypePlanUpdate, update)

		for itemIdx := 0; itemIdx < numItems; itemIdx++ {
			if m.isTerminal(taskID) {
				return nil
			}

			m.mu.Lock()
			isPaused := m.paused[taskID]
			m.mu.Unlock()
			if isPaused {
				if err := resume.Wait(ctx); err != nil {
					return err
				}
			}

			m.mu.Lock()
			item := &task.Plan.Phases[phaseIdx].Tasks[itemIdx]
			item.Status = ItemStatusInProgress
			description := item.Description
			update = StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
			m.mu.Unlock()

			m.emit(taskID, EventTypePlanUpdate, update)

			err := m.executeTaskItem(ctx, taskID, description)

			m.mu.Lock()
			item = &task.Plan.Phases[phaseIdx].Tasks[itemIdx]
			if err != nil {
				slog.Error("Task item execution failed", "taskID", taskID, "item", item.ID, "error", err)
				item.Status = ItemStatusFailed
				item.Error = err.Error()
			} else {
				item.Status = ItemStatusCompleted
			}
			update = StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
			m.mu.Unlock()

			m.emit(taskID, EventTypePlanUpdate, update)
		}

		m.mu.Lock()
		task.Plan.Phases[phaseIdx].Status = ItemStatusCompleted
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.setStatusLocked(task, TaskStateCompleted, "All tasks completed successfully")
	update := StatusUpdate{TaskID: taskID, Status: task.Status, Plan: clonePlan(task.Plan)}
	m.mu.Unlock()

	m.emit(taskID, EventTypeStatus, update)
	return nil
}

// executeTaskItem runs one plan item through the agent, converting chat
// events into stream events and tool results into artifacts.
func (m *Manager) executeTaskItem(ctx context.Context, taskID string, description string) error {
	instruction := fmt.Sprintf(
		"You are executing a plan. Current task: %s\n\nOriginal request: %s\n\nExecute this task and provide results.",
		description, m.firstUserText(taskID),
	)

	events, err := m.agent.Chat(ctx, instruction)
	if err != nil {
		return err
	}

	var responseParts []Part

	for ev := range events {
		switch ev.Type {
		case ChatEventText:
			responseParts = append(responseParts, TextPart(ev.Text))
			m.emit(taskID, EventTypeMessage, MessageEvent{
				TaskID: taskID,
				Message: Message{
					Role:  "agent",
					Parts: []Part{TextPart(ev.Text)},
				},
			})

		case ChatEventToolUse:
			m.emit(taskID, EventTypeToolUse, ToolUseEvent{
				TaskID: taskID,
				Tool:   ev.Tool,
				Input:  ev.Input,
			})

		case ChatEventToolResult:
			artifact := Artifact{
				ID:          generateArtifactID(),
				Name:        fmt.Sprintf("Result: %s", description),
				Description: fmt.Sprintf("Result from: %s", description),
				MimeType:    "application/json",
				Parts:       []Part{TextPart(ev.Result)},
			}

			m.mu.Lock()
			task := m.tasks[taskID]
			task.Artifacts = append(task.Artifacts, artifact)
			update := StatusUpdate{TaskID: taskID, Status: task.Status, Artifact: &artifact}
			m.mu.Unlock()

			m.emit(taskID, EventTypeArtifact, update)

		case ChatEventError:
			// Drain the remainder so the agent goroutine can exit, then
			// fail this item.
			for range events {
			}
			return fmt.Errorf("agent error: %s", ev.Message)
		}
	}

	if len(responseParts) > 0 {
		m.mu.Lock()
		task := m.tasks[taskID]
		task.History = append(task.History, Message{Role: "agent", Parts: responseParts})
		m.mu.Unlock()
	}

	return nil
}

// ============================================================================
// STREAMING
// ============================================================================

// StreamTask returns an ordered event stream for the task. The stream opens
// with a synthesized status snapshot, interleaves keepalives while idle,
// and closes after the task reaches a terminal state and any residual
// queued events have been drained. The caller cancels via ctx.
func (m *Manager) StreamTask(ctx context.Context, taskID string) (<-chan Event, error) {
	m.mu.Lock()
	queue, ok := m.queues[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task := m.tasks[taskID]
	initial := StatusUpdate{TaskID: taskID, Status: task.Status}
	m.mu.Unlock()

	out := make(chan Event)

	go func() {
		defer close(out)

		// Late subscribers may have missed earlier events; always lead
		// with the current snapshot.
		if !send(ctx, out, Event{Type: EventTypeStatus, Data: initial}) {
			return
		}

		for !m.isTerminal(taskID) {
			ev, ok := queue.Get(ctx, streamPollTimeout)
			if ctx.Err() != nil {
				return
			}
			if !ok {
				if !send(ctx, out, Event{Type: EventTypeKeepalive, Data: Empty{}}) {
					return
				}
				continue
			}
			if !send(ctx, out, ev) {
				return
			}
		}

		// Drain events enqueued just before the terminal transition was
		// observed so none are silently dropped.
		for {
			ev, ok := queue.TryGet()
			if !ok {
				return
			}
			if !send(ctx, out, ev) {
				return
			}
		}
	}()

	return out, nil
}

func send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) isTerminal(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return true
	}
	return task.Status.State.IsTerminal()
}

// ============================================================================
// HELPERS
// ============================================================================

// setStatusLocked replaces the task status wholesale. Terminal states are
// sticky: once a task is canceled, completed or failed, later transitions
// from a still-running pipeline are ignored. Caller holds m.mu.
func (m *Manager) setStatusLocked(task *Task, state TaskState, message string) {
	if task.Status.State.IsTerminal() {
		return
	}
	task.Status = TaskStatus{
		State:     state,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if m.metrics != nil {
		m.metrics.TaskTransitions.WithLabelValues(string(state)).Inc()
	}
}

// emit enqueues an event for streaming clients.
func (m *Manager) emit(taskID string, typ EventType, data EventData) {
	m.mu.Lock()
	queue, ok := m.queues[taskID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if m.metrics != nil {
		m.metrics.EventsEmitted.WithLabelValues(string(typ)).Inc()
	}
	queue.Put(Event{Type: typ, Data: data})
}

// lastUserText returns the text of the most recent user message.
func (m *Manager) lastUserText(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return ""
	}
	for i := len(task.History) - 1; i >= 0; i-- {
		if task.History[i].Role == "user" {
			if text := task.History[i].Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

// firstUserText returns the text of the original request.
func (m *Manager) firstUserText(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return ""
	}
	for _, msg := range task.History {
		if msg.Role == "user" {
			if text := msg.Text(); text != "" {
				return text
			}
		}
	}
	return ""
}

func cloneTask(task *Task) *Task {
	clone := &Task{
		ID:     task.ID,
		Status: task.Status,
		Plan:   clonePlan(task.Plan),
	}
	if task.Artifacts != nil {
		clone.Artifacts = append([]Artifact{}, task.Artifacts...)
	}
	if task.History != nil {
		clone.History = append([]Message{}, task.History...)
	}
	if task.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(task.Metadata))
		for k, v := range task.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

func clonePlan(plan *Plan) *Plan {
	if plan == nil {
		return nil
	}
	clone := *plan
	clone.Phases = make([]Phase, len(plan.Phases))
	for i, phase := range plan.Phases {
		cloned := phase
		cloned.Tasks = append([]TaskItem{}, phase.Tasks...)
		clone.Phases[i] = cloned
	}
	if plan.ApprovedAt != nil {
		approvedAt := *plan.ApprovedAt
		clone.ApprovedAt = &approvedAt
	}
	return &clone
}
