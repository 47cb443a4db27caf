// Package syncengine queues annotation writes while the backend is
// unreachable and replays them when connectivity returns. Operations are
// persisted through a Store so the queue survives a restart; pushes retry
// with backoff up to a budget; divergence between local and remote state
// surfaces as a Conflict the caller resolves manually.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/logger"
)

const component = "syncengine"

// Default retry policy.
const (
	DefaultBatchSize    = 50
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = time.Second
)

// OpType classifies one queued write.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether the type is one of the three known writes.
func (t OpType) Valid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

// OpStatus tracks one operation through the queue.
type OpStatus string

const (
	StatusPending    OpStatus = "pending"
	StatusConflicted OpStatus = "conflicted"
)

// Operation is one queued write.
type Operation struct {
	ID        string                 `json:"id"`
	Type      OpType                 `json:"type"`
	EntityID  string                 `json:"entity_id"`
	Data      map[string]interface{} `json:"data"`
	Status    OpStatus               `json:"status"`
	Attempts  int                    `json:"attempts"`
	CreatedAt time.Time              `json:"created_at"`
}

// ConflictType classifies why a push was refused.
type ConflictType string

const (
	ConflictVersion    ConflictType = "version"    // remote has a newer revision
	ConflictConcurrent ConflictType = "concurrent" // concurrent edit of the same entity
	ConflictDeleted    ConflictType = "deleted"    // entity no longer exists remotely
)

// Conflict is one detected divergence awaiting manual resolution.
type Conflict struct {
	ID          string                 `json:"id"`
	OperationID string                 `json:"operation_id"`
	EntityID    string                 `json:"entity_id"`
	LocalData   map[string]interface{} `json:"local_data"`
	RemoteData  map[string]interface{} `json:"remote_data"`
	Type        ConflictType           `json:"conflict_type"`
	DetectedAt  time.Time              `json:"detected_at"`
}

// Resolution picks which side of a conflict wins.
type Resolution string

const (
	ResolveLocal  Resolution = "local"
	ResolveRemote Resolution = "remote"
	ResolveMerge  Resolution = "merge"
)

// PushResult reports the remote's verdict on one operation.
type PushResult struct {
	// Conflict is non-nil when the remote refused the write.
	Conflict *RemoteConflict
}

// RemoteConflict carries the remote side of a refused write.
type RemoteConflict struct {
	Type       ConflictType
	RemoteData map[string]interface{}
}

// RemoteRecord is one entity state pulled during a full sync.
type RemoteRecord struct {
	EntityID string
	Data     map[string]interface{}
}

// Remote is the backend the engine syncs against.
type Remote interface {
	// Push applies one operation. A transport error means "try again";
	// a PushResult with a conflict means the write was refused.
	Push(ctx context.Context, op *Operation) (*PushResult, error)
	// Pull returns the full remote state for the synced scope.
	Pull(ctx context.Context) ([]RemoteRecord, error)
}

// Result summarizes one sync run.
type Result struct {
	Pushed    int
	Failed    int
	Conflicts int
	Pulled    int
}

// Options tunes the engine.
type Options struct {
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

func (o *Options) normalize() {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
}

// Engine owns the operation queue and the conflict set.
type Engine struct {
	mu sync.Mutex

	store  Store
	remote Remote
	opts   Options

	queue     []*Operation
	conflicts map[string]*Conflict

	// onRemoteUpdate observes records accepted from the remote (full sync
	// pulls and remote-wins resolutions).
	onRemoteUpdate func(entityID string, data map[string]interface{})
}

// New loads the persisted queue and returns a ready engine.
func New(store Store, remote Remote, opts Options) (*Engine, error) {
	opts.normalize()
	pending, err := store.PendingOperations()
	if err != nil {
		return nil, fmt.Errorf("load pending operations: %w", err)
	}
	// Conflict objects are in-memory only: a recovered conflicted operation
	// goes back to pending so the next push re-detects the conflict.
	for _, op := range pending {
		if op.Status == StatusConflicted {
			op.Status = StatusPending
		}
	}
	e := &Engine{
		store:     store,
		remote:    remote,
		opts:      opts,
		queue:     pending,
		conflicts: make(map[string]*Conflict),
	}
	if len(pending) > 0 {
		logger.InfoCF(component, "recovered queued operations", map[string]interface{}{
			"count": len(pending),
		})
	}
	return e, nil
}

// OnRemoteUpdate registers the observer for accepted remote state.
func (e *Engine) OnRemoteUpdate(fn func(entityID string, data map[string]interface{})) {
	e.mu.Lock()
	e.onRemoteUpdate = fn
	e.mu.Unlock()
}

// AddOperation queues one write and persists it. Returns the operation id.
func (e *Engine) AddOperation(opType OpType, entityID string, data map[string]interface{}) (string, error) {
	if !opType.Valid() {
		return "", fmt.Errorf("unknown operation type %q", opType)
	}
	if entityID == "" {
		return "", fmt.Errorf("operation requires an entity id")
	}
	op := &Operation{
		ID:        domain.NewID().String(),
		Type:      opType,
		EntityID:  entityID,
		Data:      data,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if err := e.store.SaveOperation(op); err != nil {
		return "", err
	}
	e.mu.Lock()
	e.queue = append(e.queue, op)
	e.mu.Unlock()

	logger.DebugCF(component, "operation queued", map[string]interface{}{
		"id": op.ID, "type": string(opType), "entity": entityID,
	})
	return op.ID, nil
}

// PendingCount returns the number of queued operations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// PerformIncrementalSync pushes queued operations in batches. Transport
// failures retry with backoff up to the budget and then leave the operation
// queued for the next run; refused writes become conflicts and leave the
// queue until resolved.
func (e *Engine) PerformIncrementalSync(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	batch := make([]*Operation, 0, e.opts.BatchSize)
	for _, op := range e.queue {
		if op.Status != StatusPending {
			continue
		}
		batch = append(batch, op)
		if len(batch) == e.opts.BatchSize {
			break
		}
	}
	e.mu.Unlock()

	res := &Result{}
	for _, op := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		switch outcome, conflict := e.pushOne(ctx, op); outcome {
		case pushApplied:
			e.dequeue(op.ID)
			res.Pushed++
		case pushConflicted:
			e.recordConflict(op, conflict)
			res.Conflicts++
		case pushFailed:
			res.Failed++
		}
	}
	return res, nil
}

type pushOutcome int

const (
	pushApplied pushOutcome = iota
	pushConflicted
	pushFailed
)

func (e *Engine) pushOne(ctx context.Context, op *Operation) (pushOutcome, *RemoteConflict) {
	backoff := e.opts.RetryBackoff
	for attempt := 0; attempt < e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return pushFailed, nil
			}
		}

		result, err := e.remote.Push(ctx, op)
		e.mu.Lock()
		op.Attempts++
		e.mu.Unlock()

		if err != nil {
			logger.WarnCF(component, "push failed", map[string]interface{}{
				"operation": op.ID, "attempt": op.Attempts, "error": err.Error(),
			})
			continue
		}
		if result != nil && result.Conflict != nil {
			return pushConflicted, result.Conflict
		}
		if derr := e.store.DeleteOperation(op.ID); derr != nil {
			logger.WarnCF(component, "delete applied operation failed", map[string]interface{}{
				"operation": op.ID, "error": derr.Error(),
			})
		}
		return pushApplied, nil
	}
	if err := e.store.UpdateOperation(op); err != nil {
		logger.WarnCF(component, "persist attempts failed", map[string]interface{}{
			"operation": op.ID, "error": err.Error(),
		})
	}
	return pushFailed, nil
}

// PerformFullSync pushes everything queued, then pulls the complete remote
// state and hands each record to the remote-update observer.
func (e *Engine) PerformFullSync(ctx context.Context) (*Result, error) {
	res, err := e.PerformIncrementalSync(ctx)
	if err != nil {
		return res, err
	}

	records, err := e.remote.Pull(ctx)
	if err != nil {
		return res, fmt.Errorf("pull remote state: %w", err)
	}

	e.mu.Lock()
	fn := e.onRemoteUpdate
	e.mu.Unlock()
	for _, rec := range records {
		res.Pulled++
		if fn != nil {
			fn(rec.EntityID, rec.Data)
		}
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Conflicts
// ---------------------------------------------------------------------------

func (e *Engine) recordConflict(op *Operation, rc *RemoteConflict) {
	c := &Conflict{
		ID:          domain.NewID().String(),
		OperationID: op.ID,
		EntityID:    op.EntityID,
		LocalData:   op.Data,
		RemoteData:  rc.RemoteData,
		Type:        rc.Type,
		DetectedAt:  time.Now(),
	}

	e.mu.Lock()
	op.Status = StatusConflicted
	e.conflicts[c.ID] = c
	e.mu.Unlock()

	if err := e.store.UpdateOperation(op); err != nil {
		logger.WarnCF(component, "persist conflict state failed", map[string]interface{}{
			"operation": op.ID, "error": err.Error(),
		})
	}
	logger.WarnCF(component, "conflict detected", map[string]interface{}{
		"conflict": c.ID, "entity": op.EntityID, "type": string(rc.Type),
	})
}

// Conflicts returns a snapshot of unresolved conflicts.
func (e *Engine) Conflicts() []*Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, c)
	}
	return out
}

// ResolveConflict applies a manual resolution:
//   - local: the queued operation goes back to pending and wins next sync;
//   - remote: the operation is dropped and the remote data is accepted;
//   - merge: mergedData replaces the operation payload and it is requeued.
func (e *Engine) ResolveConflict(conflictID string, resolution Resolution, mergedData map[string]interface{}) error {
	e.mu.Lock()
	c, ok := e.conflicts[conflictID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown conflict %q", conflictID)
	}
	var op *Operation
	for _, queued := range e.queue {
		if queued.ID == c.OperationID {
			op = queued
			break
		}
	}
	if op == nil {
		delete(e.conflicts, conflictID)
		e.mu.Unlock()
		return fmt.Errorf("conflict %q references a vanished operation", conflictID)
	}

	switch resolution {
	case ResolveLocal:
		op.Status = StatusPending
	case ResolveMerge:
		if mergedData == nil {
			e.mu.Unlock()
			return fmt.Errorf("merge resolution requires merged data")
		}
		op.Data = mergedData
		op.Type = OpUpdate
		op.Status = StatusPending
	case ResolveRemote:
		// accepted below, outside the lock
	default:
		e.mu.Unlock()
		return fmt.Errorf("unknown resolution %q", resolution)
	}
	delete(e.conflicts, conflictID)
	fn := e.onRemoteUpdate
	e.mu.Unlock()

	if resolution == ResolveRemote {
		e.dequeue(op.ID)
		if derr := e.store.DeleteOperation(op.ID); derr != nil {
			logger.WarnCF(component, "delete resolved operation failed", map[string]interface{}{
				"operation": op.ID, "error": derr.Error(),
			})
		}
		if fn != nil {
			fn(c.EntityID, c.RemoteData)
		}
		return nil
	}
	return e.store.UpdateOperation(op)
}

func (e *Engine) dequeue(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, op := range e.queue {
		if op.ID == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

// Close releases the store.
func (e *Engine) Close() error { return e.store.Close() }
