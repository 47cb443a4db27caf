// Package progress tracks per-task annotation progress as a state machine
// built entirely on the event bus. Domain calls translate into bus events;
// progress reported by the embedded tool arrives as cross-boundary events
// and updates host-side state without polling.
//
// State machine per task: idle -> started -> in_progress ->
// {completed | error | cancelled}. Error is not terminal — a task in error
// may still be updated, completed, or cancelled.
package progress

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/events"
	"github.com/annolab/framegate/pkg/logger"
)

const component = "progress"

// AnnotationRecord is one annotation produced by the embedded tool.
// Records are upserted by ID: an incoming record replaces the stored one
// with the same ID, otherwise it is appended.
type AnnotationRecord struct {
	ID        string                 `json:"id"`
	Kind      string                 `json:"kind,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Progress is the derived completion state of one task.
type Progress struct {
	TotalItems     int    `json:"total_items"`
	CompletedItems int    `json:"completed_items"`
	Percentage     int    `json:"percentage"`
	CurrentItem    string `json:"current_item,omitempty"`
}

// ProgressUpdate carries a partial progress change. Nil fields are left
// untouched (merge, not replace).
type ProgressUpdate struct {
	TotalItems     *int
	CompletedItems *int
	CurrentItem    *string
}

// TaskState is the full tracked state of one task.
type TaskState struct {
	TaskID      string                 `json:"task_id"`
	Status      domain.TaskStatus      `json:"status"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time,omitempty"`
	Progress    Progress               `json:"progress"`
	LastUpdate  time.Time              `json:"last_update"`
	ErrorCount  int                    `json:"error_count"`
	Annotations []AnnotationRecord     `json:"annotations"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Stats is a point-in-time summary computed fresh from the live task map.
type Stats struct {
	TotalTasks       int     `json:"total_tasks"`
	ActiveTasks      int     `json:"active_tasks"`
	CompletedTasks   int     `json:"completed_tasks"`
	ErrorTasks       int     `json:"error_tasks"`
	TotalAnnotations int     `json:"total_annotations"`
	AverageProgress  float64 `json:"average_progress"`
}

// Event payloads carried on the bus.

// StartedPayload accompanies AnnotationStarted.
type StartedPayload struct {
	TaskID   string                 `json:"task_id"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UpdatedPayload accompanies AnnotationUpdated and AnnotationSaved.
type UpdatedPayload struct {
	TaskID     string            `json:"task_id"`
	Annotation *AnnotationRecord `json:"annotation,omitempty"`
	Action     string            `json:"action,omitempty"`
}

// ProgressPayload accompanies AnnotationProgress.
type ProgressPayload struct {
	TaskID   string   `json:"task_id"`
	Progress Progress `json:"progress"`
}

// CompletedPayload accompanies AnnotationCompleted.
type CompletedPayload struct {
	TaskID          string        `json:"task_id"`
	Duration        time.Duration `json:"duration"`
	AnnotationCount int           `json:"annotation_count"`
	ErrorCount      int           `json:"error_count"`
}

// ErrorPayload accompanies AnnotationError.
type ErrorPayload struct {
	TaskID      string `json:"task_id"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	ErrorCount  int    `json:"error_count"`
}

// CancelledPayload accompanies AnnotationCancelled.
type CancelledPayload struct {
	TaskID             string        `json:"task_id"`
	Reason             string        `json:"reason,omitempty"`
	Duration           time.Duration `json:"duration"`
	PartialAnnotations int           `json:"partial_annotations"`
}

// Tracker owns the map of task states, keyed by task id. States are
// retained until explicitly cleared or the tracker is destroyed.
type Tracker struct {
	mu    sync.Mutex
	bus   *bus.EventBus
	tasks map[string]*TaskState

	// errors reported for tasks the tracker has never seen
	orphanErrors int

	ingestSubs map[string]string // event -> subscription id
}

// New creates a tracker wired to the given bus and registers the
// cross-boundary ingestion listeners.
func New(b *bus.EventBus) *Tracker {
	t := &Tracker{
		bus:        b,
		tasks:      make(map[string]*TaskState),
		ingestSubs: make(map[string]string),
	}
	t.registerIngestion()
	return t
}

// --- Domain operations ---

// Start creates (or silently re-initializes) the state for a task and emits
// AnnotationStarted. Re-initialization of an existing task is deliberate:
// the embedded tool restarting a task resets host-side state.
func (t *Tracker) Start(ctx context.Context, taskID string, metadata map[string]interface{}) error {
	now := time.Now().UTC()

	t.mu.Lock()
	if _, exists := t.tasks[taskID]; exists {
		logger.DebugCF(component, "re-initializing existing task", map[string]interface{}{"task": taskID})
	}
	t.tasks[taskID] = &TaskState{
		TaskID:      taskID,
		Status:      domain.TaskStarted,
		StartTime:   now,
		LastUpdate:  now,
		Annotations: make([]AnnotationRecord, 0),
		Metadata:    metadata,
	}
	t.mu.Unlock()

	return t.bus.Emit(ctx, events.AnnotationStarted, &StartedPayload{TaskID: taskID, Metadata: metadata})
}

// Update merges a partial progress change and/or upserts one annotation.
// Emits AnnotationUpdated always and AnnotationProgress only when a progress
// argument was supplied. Fails with NoStateError for unknown tasks.
func (t *Tracker) Update(ctx context.Context, taskID string, ann *AnnotationRecord, prog *ProgressUpdate) error {
	t.mu.Lock()
	state, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return &domain.NoStateError{TaskID: taskID}
	}

	now := time.Now().UTC()
	if state.Status == domain.TaskStarted {
		state.Status = domain.TaskInProgress
	}
	state.LastUpdate = now

	if prog != nil {
		if prog.TotalItems != nil {
			state.Progress.TotalItems = *prog.TotalItems
		}
		if prog.CompletedItems != nil {
			state.Progress.CompletedItems = *prog.CompletedItems
		}
		if prog.CurrentItem != nil {
			state.Progress.CurrentItem = *prog.CurrentItem
		}
		state.Progress.Percentage = percentage(state.Progress.CompletedItems, state.Progress.TotalItems)
	}
	if ann != nil {
		a := *ann
		a.UpdatedAt = now
		upsert(&state.Annotations, a)
	}
	progCopy := state.Progress
	t.mu.Unlock()

	if err := t.bus.Emit(ctx, events.AnnotationUpdated, &UpdatedPayload{TaskID: taskID, Annotation: ann}); err != nil {
		return err
	}
	if prog != nil {
		return t.bus.Emit(ctx, events.AnnotationProgress, &ProgressPayload{TaskID: taskID, Progress: progCopy})
	}
	return nil
}

// Save upserts one annotation without touching progress and emits
// AnnotationSaved tagged with action "save". Fails for unknown tasks.
func (t *Tracker) Save(ctx context.Context, taskID string, ann AnnotationRecord) error {
	t.mu.Lock()
	state, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return &domain.NoStateError{TaskID: taskID}
	}
	now := time.Now().UTC()
	ann.UpdatedAt = now
	upsert(&state.Annotations, ann)
	state.LastUpdate = now
	if state.Status == domain.TaskStarted {
		state.Status = domain.TaskInProgress
	}
	t.mu.Unlock()

	return t.bus.Emit(ctx, events.AnnotationSaved, &UpdatedPayload{TaskID: taskID, Annotation: &ann, Action: "save"})
}

// Complete finishes a task: percentage forced to 100, completed items forced
// to the total, end time recorded. A non-nil finalAnnotations replaces the
// annotation list wholesale. Fails for unknown tasks.
func (t *Tracker) Complete(ctx context.Context, taskID string, finalAnnotations []AnnotationRecord) error {
	t.mu.Lock()
	state, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return &domain.NoStateError{TaskID: taskID}
	}
	now := time.Now().UTC()
	state.Status = domain.TaskCompleted
	state.EndTime = now
	state.LastUpdate = now
	state.Progress.CompletedItems = state.Progress.TotalItems
	state.Progress.Percentage = 100
	if finalAnnotations != nil {
		state.Annotations = append([]AnnotationRecord(nil), finalAnnotations...)
	}
	payload := &CompletedPayload{
		TaskID:          taskID,
		Duration:        now.Sub(state.StartTime),
		AnnotationCount: len(state.Annotations),
		ErrorCount:      state.ErrorCount,
	}
	t.mu.Unlock()

	return t.bus.Emit(ctx, events.AnnotationCompleted, payload)
}

// HandleError records a task error. Best-effort: an unknown task does not
// fail the call — the error is still counted and emitted.
func (t *Tracker) HandleError(ctx context.Context, taskID string, cause error, recoverable bool) error {
	t.mu.Lock()
	count := 0
	if state, ok := t.tasks[taskID]; ok {
		state.ErrorCount++
		state.Status = domain.TaskError
		state.LastUpdate = time.Now().UTC()
		count = state.ErrorCount
	} else {
		t.orphanErrors++
		count = t.orphanErrors
	}
	t.mu.Unlock()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return t.bus.Emit(ctx, events.AnnotationError, &ErrorPayload{
		TaskID:      taskID,
		Message:     msg,
		Recoverable: recoverable,
		ErrorCount:  count,
	})
}

// Cancel marks a task cancelled and emits AnnotationCancelled with the
// partial annotation count. Fails for unknown tasks.
func (t *Tracker) Cancel(ctx context.Context, taskID, reason string) error {
	t.mu.Lock()
	state, ok := t.tasks[taskID]
	if !ok {
		t.mu.Unlock()
		return &domain.NoStateError{TaskID: taskID}
	}
	now := time.Now().UTC()
	state.Status = domain.TaskCancelled
	state.EndTime = now
	state.LastUpdate = now
	payload := &CancelledPayload{
		TaskID:             taskID,
		Reason:             reason,
		Duration:           now.Sub(state.StartTime),
		PartialAnnotations: len(state.Annotations),
	}
	t.mu.Unlock()

	return t.bus.Emit(ctx, events.AnnotationCancelled, payload)
}

// --- Queries ---

// State returns a copy of one task's state.
func (t *Tracker) State(taskID string) (TaskState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	out := *state
	out.Annotations = append([]AnnotationRecord(nil), state.Annotations...)
	return out, true
}

// Stats computes a summary from the live task map.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := Stats{TotalTasks: len(t.tasks)}
	var pctSum float64
	for _, task := range t.tasks {
		if task.Status.Active() {
			st.ActiveTasks++
		}
		switch task.Status {
		case domain.TaskCompleted:
			st.CompletedTasks++
		case domain.TaskError:
			st.ErrorTasks++
		}
		st.TotalAnnotations += len(task.Annotations)
		pctSum += float64(task.Progress.Percentage)
	}
	if len(t.tasks) > 0 {
		st.AverageProgress = pctSum / float64(len(t.tasks))
	}
	return st
}

// Clear drops one task's state, including its error count.
func (t *Tracker) Clear(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[taskID]; !ok {
		return false
	}
	delete(t.tasks, taskID)
	return true
}

// Destroy drops all task state and detaches the ingestion listeners.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	t.tasks = make(map[string]*TaskState)
	subs := t.ingestSubs
	t.ingestSubs = make(map[string]string)
	t.mu.Unlock()

	for event, id := range subs {
		t.bus.Unsubscribe(event, id)
	}
}

// --- Helpers ---

// percentage is round(completed/total*100) when total>0, else exactly 0.
func percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

func upsert(list *[]AnnotationRecord, ann AnnotationRecord) {
	for i := range *list {
		if (*list)[i].ID == ann.ID {
			(*list)[i] = ann
			return
		}
	}
	*list = append(*list, ann)
}
