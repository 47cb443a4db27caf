// Package bus implements the priority-ordered, asynchronous publish/subscribe
// core that mediates host/frame and intra-host communication.
//
// Subscriptions are owned exclusively by the bus and identified by generated
// id, not handler reference, so the same handler may be registered twice and
// enabled/disabled independently. Every emission is retained in a bounded
// FIFO history, even when nothing is subscribed.
package bus

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/events"
	"github.com/annolab/framegate/pkg/logger"
)

const component = "bus"

// DefaultMaxHistory bounds the per-bus event record ring.
const DefaultMaxHistory = 1000

// DefaultPriority is assigned to subscriptions that do not specify one.
const DefaultPriority = 0

// Handler processes one emitted record. A non-nil error is contained by the
// bus and re-emitted as a BusError event; it never fails the Emit call.
type Handler func(ctx context.Context, rec Record) error

// Record is an immutable account of one emission.
type Record struct {
	ID        string             `json:"id"`
	Event     string             `json:"event"`
	Data      interface{}        `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
	Source    domain.EventSource `json:"source"`
	Priority  int                `json:"priority"`
}

// subscription is bus-internal state for one registered handler.
type subscription struct {
	id       string
	event    string
	handler  Handler
	priority int
	once     bool
	active   bool
	fired    bool // once-subscriptions: set after first dispatch
}

// Options configure one bus instance.
type Options struct {
	// MaxHistory bounds the record ring; oldest records evict first.
	MaxHistory int
	// Async starts all handlers of one emission concurrently and waits for
	// all to settle. When false, handlers run strictly sequentially in
	// priority order. Callers needing strict sequencing must keep it false.
	Async bool
	// PriorityOrdering sorts handlers descending by priority (stable for
	// equal priorities) before dispatch. When false, registration order.
	PriorityOrdering bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{MaxHistory: DefaultMaxHistory, Async: false, PriorityOrdering: true}
}

// EventBus is the priority pub/sub core. Safe for concurrent use; handlers
// may re-entrantly subscribe, unsubscribe, and emit.
type EventBus struct {
	mu      sync.Mutex
	subs    map[string][]*subscription
	history []Record
	opts    Options
}

// New creates a bus with the given options. Zero MaxHistory means the default.
func New(opts Options) *EventBus {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	return &EventBus{
		subs: make(map[string][]*subscription),
		opts: opts,
	}
}

// NewDefault creates a bus with DefaultOptions.
func NewDefault() *EventBus { return New(DefaultOptions()) }

// --- Subscription management ---

// SubscribeOption tunes one subscription.
type SubscribeOption func(*subscription)

// WithPriority sets the dispatch priority (higher runs earlier).
func WithPriority(p int) SubscribeOption {
	return func(s *subscription) { s.priority = p }
}

// Once removes the subscription after its first dispatch completes.
func Once() SubscribeOption {
	return func(s *subscription) { s.once = true }
}

// Subscribe registers a handler for an event and returns its subscription id.
// Duplicate registrations of the identical handler each get their own id.
func (b *EventBus) Subscribe(event string, handler Handler, opts ...SubscribeOption) string {
	sub := &subscription{
		id:       domain.NewID().String(),
		event:    event,
		handler:  handler,
		priority: DefaultPriority,
		active:   true,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()
	return sub.id
}

// Unsubscribe removes one subscription by id. Returns false if unknown.
func (b *EventBus) Unsubscribe(event, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(event, func(s *subscription) bool { return s.id == id })
}

// UnsubscribeHandler removes every subscription of the given handler for an
// event, resolved by handler identity.
func (b *EventBus) UnsubscribeHandler(event string, handler Handler) bool {
	ptr := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(event, func(s *subscription) bool {
		return reflect.ValueOf(s.handler).Pointer() == ptr
	})
}

// UnsubscribeAll removes every subscription for an event.
func (b *EventBus) UnsubscribeAll(event string) {
	b.mu.Lock()
	delete(b.subs, event)
	b.mu.Unlock()
}

func (b *EventBus) removeLocked(event string, match func(*subscription) bool) bool {
	list, ok := b.subs[event]
	if !ok {
		return false
	}
	kept := list[:0]
	removed := false
	for _, s := range list {
		if match(s) {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		delete(b.subs, event)
	} else {
		b.subs[event] = kept
	}
	return removed
}

// SetActive enables or disables a subscription without removing it.
// Inactive subscriptions are skipped at emit time.
func (b *EventBus) SetActive(event, id string, active bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs[event] {
		if s.id == id {
			s.active = active
			return true
		}
	}
	return false
}

// --- Emission ---

// EmitOption tunes one emission.
type EmitOption func(*Record)

// FromSource tags the record with its originating side of the boundary.
func FromSource(src domain.EventSource) EmitOption {
	return func(r *Record) { r.Source = src }
}

// WithEmitPriority tags the record itself with a priority value.
func WithEmitPriority(p int) EmitOption {
	return func(r *Record) { r.Priority = p }
}

// Emit publishes an event. The record is appended to history even with zero
// subscribers. Handlers observe the subscription set current at the moment
// of the call; re-entrant emission from inside a handler dispatches against
// its own call-time snapshot and appends its record after this one.
//
// Handler errors are contained: each failing handler produces exactly one
// BusError event carrying the HandlerError, and subsequent handlers still
// run. Emit itself only fails when ctx is cancelled between handlers.
func (b *EventBus) Emit(ctx context.Context, event string, data interface{}, opts ...EmitOption) error {
	rec := Record{
		ID:        domain.NewID().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Source:    domain.SourceHost,
	}
	for _, opt := range opts {
		opt(&rec)
	}

	b.mu.Lock()
	b.appendHistoryLocked(rec)
	// Defensive copy: handlers may mutate the subscription map re-entrantly
	// without corrupting this dispatch.
	snapshot := make([]*subscription, 0, len(b.subs[event]))
	for _, s := range b.subs[event] {
		if s.active && !(s.once && s.fired) {
			snapshot = append(snapshot, s)
		}
	}
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	if b.opts.PriorityOrdering {
		sort.SliceStable(snapshot, func(i, j int) bool {
			return snapshot[i].priority > snapshot[j].priority
		})
	}

	if b.opts.Async {
		var wg sync.WaitGroup
		for _, sub := range snapshot {
			wg.Add(1)
			go func(s *subscription) {
				defer wg.Done()
				b.dispatch(ctx, s, rec)
			}(sub)
		}
		wg.Wait()
		return nil
	}

	for _, sub := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.dispatch(ctx, sub, rec)
	}
	return nil
}

// dispatch runs one handler, contains its failure, and retires once-subscriptions
// strictly after the handler completes.
func (b *EventBus) dispatch(ctx context.Context, sub *subscription, rec Record) {
	err := b.invoke(ctx, sub, rec)

	if sub.once {
		b.mu.Lock()
		b.removeLocked(sub.event, func(s *subscription) bool { return s.id == sub.id })
		b.mu.Unlock()
	}

	if err == nil {
		return
	}
	herr := &domain.HandlerError{Event: rec.Event, SubscriptionID: sub.id, Err: err}
	if rec.Event == events.BusError {
		// An error handler failed. Log only — re-emitting would recurse.
		logger.ErrorCF(component, "error handler failed", map[string]interface{}{
			"subscription": sub.id,
			"error":        err.Error(),
		})
		return
	}
	logger.WarnCF(component, "handler failed", map[string]interface{}{
		"event":        rec.Event,
		"subscription": sub.id,
		"error":        err.Error(),
	})
	_ = b.Emit(ctx, events.BusError, herr)
}

// invoke isolates handler panics alongside returned errors.
func (b *EventBus) invoke(ctx context.Context, sub *subscription, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	b.mu.Lock()
	if sub.once {
		if sub.fired {
			b.mu.Unlock()
			return nil
		}
		sub.fired = true
	}
	b.mu.Unlock()
	return sub.handler(ctx, rec)
}

// --- History ---

func (b *EventBus) appendHistoryLocked(rec Record) {
	b.history = append(b.history, rec)
	if over := len(b.history) - b.opts.MaxHistory; over > 0 {
		// FIFO trim: oldest first, never the newest.
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
}

// History returns a copy of the retained records, oldest first. With an
// event argument, only records of that event.
func (b *EventBus) History(event ...string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(event) == 0 {
		out := make([]Record, len(b.history))
		copy(out, b.history)
		return out
	}
	var out []Record
	for _, rec := range b.history {
		if rec.Event == event[0] {
			out = append(out, rec)
		}
	}
	return out
}

// ClearHistory drops retained records, globally or for one event type.
func (b *EventBus) ClearHistory(event ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(event) == 0 {
		b.history = nil
		return
	}
	kept := b.history[:0]
	for _, rec := range b.history {
		if rec.Event != event[0] {
			kept = append(kept, rec)
		}
	}
	b.history = kept
}

// --- Statistics ---

// Stats is a point-in-time summary, computed fresh on every call.
type Stats struct {
	TotalSubscriptions  int      `json:"total_subscriptions"`
	ActiveSubscriptions int      `json:"active_subscriptions"`
	EventTypes          []string `json:"event_types"`
	HistorySize         int      `json:"history_size"`
}

// Stats reports subscription and history counts.
func (b *EventBus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Stats{HistorySize: len(b.history)}
	for event, list := range b.subs {
		st.EventTypes = append(st.EventTypes, event)
		st.TotalSubscriptions += len(list)
		for _, s := range list {
			if s.active {
				st.ActiveSubscriptions++
			}
		}
	}
	sort.Strings(st.EventTypes)
	return st
}
