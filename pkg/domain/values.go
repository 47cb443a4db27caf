package domain

// ---------------------------------------------------------------------------
// Shared value objects — used across subsystems
// ---------------------------------------------------------------------------

// EventSource identifies which side of the embedding boundary emitted an event.
type EventSource string

const (
	SourceHost  EventSource = "host"
	SourceFrame EventSource = "frame"
)

// String implements fmt.Stringer.
func (s EventSource) String() string { return string(s) }

// Valid returns true if the source is recognized.
func (s EventSource) Valid() bool {
	return s == SourceHost || s == SourceFrame
}

// ---------------------------------------------------------------------------

// FrameStatus tracks the lifecycle state of an embedded frame.
type FrameStatus string

const (
	FrameLoading   FrameStatus = "loading"
	FrameReady     FrameStatus = "ready"
	FrameError     FrameStatus = "error"
	FrameDestroyed FrameStatus = "destroyed"
)

func (fs FrameStatus) String() string { return string(fs) }

// Terminal returns true when no automatic transition can leave this status.
func (fs FrameStatus) Terminal() bool { return fs == FrameDestroyed }

// ---------------------------------------------------------------------------

// TaskStatus tracks the annotation progress state machine for one task.
type TaskStatus string

const (
	TaskIdle       TaskStatus = "idle"
	TaskStarted    TaskStatus = "started"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
	TaskCancelled  TaskStatus = "cancelled"
)

func (ts TaskStatus) String() string { return string(ts) }

// Active returns true while the task still accepts updates from the frame.
// TaskError is deliberately not terminal: a task that errored may still be
// updated, completed, or cancelled.
func (ts TaskStatus) Active() bool {
	return ts == TaskStarted || ts == TaskInProgress
}

// ---------------------------------------------------------------------------

// Severity classifies monitoring alerts.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) String() string { return string(s) }
