package domain

import "fmt"

// ---------------------------------------------------------------------------
// Error taxonomy
//
// Domain-contract violations (unknown task, duplicate frame) are synchronous
// failures the caller must handle. Transport and environment failures are
// retried up to a bounded budget before surfacing. Third-party handler bugs
// are contained and reported, never allowed to crash the bus.
// ---------------------------------------------------------------------------

// NoStateError reports an operation that referenced an unknown task id.
type NoStateError struct {
	TaskID string
}

func (e *NoStateError) Error() string {
	return fmt.Sprintf("no annotation state for task %q", e.TaskID)
}

// ValidationError reports a malformed cross-boundary payload. Payloads
// arriving from the embedded frame are untrusted; validation failures are
// logged and dropped, never surfaced to the frame.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid payload: %s", e.Reason)
}

// TimeoutError reports an operation that exceeded its deadline after the
// retry budget was exhausted.
type TimeoutError struct {
	Op      string
	Retries int
}

func (e *TimeoutError) Error() string {
	if e.Retries > 0 {
		return fmt.Sprintf("%s timed out after %d retries", e.Op, e.Retries)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

// HandlerError reports a subscriber that failed during event dispatch.
// It is re-emitted as a bus "error" event, never returned from Emit.
type HandlerError struct {
	Event          string
	SubscriptionID string
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s for event %q failed: %v", e.SubscriptionID, e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// AlreadyExistsError reports creation of a resource that is already live.
type AlreadyExistsError struct {
	Resource string
	ID       string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Resource, e.ID)
}
