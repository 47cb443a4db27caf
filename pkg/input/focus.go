package input

import (
	"sort"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/logger"
	"github.com/annolab/framegate/pkg/platform"
)

// DefaultFocusPollInterval is the cadence of the focus reconciliation loop.
const DefaultFocusPollInterval = 100 * time.Millisecond

// FocusManager virtualizes the document's focus order and implements focus
// trapping inside a container. The focusable index is recomputed from the
// live document on every use, so it never goes stale against DOM churn.
type FocusManager struct {
	mu sync.Mutex

	doc    platform.Document
	rootID string

	trapID      string
	prevFocusID string

	frameElementID string
	iframeFocused  bool
	onFocusChange  func(focusedID string, iframeFocused bool)

	pollInterval time.Duration
	pollStop     chan struct{}
}

// NewFocusManager creates a manager scanning focusables under rootID.
func NewFocusManager(doc platform.Document, rootID string, pollInterval time.Duration) *FocusManager {
	if pollInterval <= 0 {
		pollInterval = DefaultFocusPollInterval
	}
	return &FocusManager{
		doc:          doc,
		rootID:       rootID,
		pollInterval: pollInterval,
	}
}

// SetFrameElementID names the embedded frame node so the reconciliation
// loop can classify focus as inside or outside the frame.
func (f *FocusManager) SetFrameElementID(id string) {
	f.mu.Lock()
	f.frameElementID = id
	f.mu.Unlock()
}

// OnFocusChange registers the callback fired by the reconciliation loop
// whenever the focused element changes.
func (f *FocusManager) OnFocusChange(fn func(focusedID string, iframeFocused bool)) {
	f.mu.Lock()
	f.onFocusChange = fn
	f.mu.Unlock()
}

// Focusables returns visible, focusable descendants of the active scope
// (the trap container while trapped, the root otherwise), ordered by tab
// index ascending with document order breaking ties.
func (f *FocusManager) Focusables() []platform.Element {
	f.mu.Lock()
	scope := f.rootID
	if f.trapID != "" {
		scope = f.trapID
	}
	f.mu.Unlock()
	return f.focusablesIn(scope)
}

func (f *FocusManager) focusablesIn(containerID string) []platform.Element {
	all := f.doc.ElementsIn(containerID)
	out := make([]platform.Element, 0, len(all))
	for _, el := range all {
		if el.IsVisible() && el.IsFocusable() {
			out = append(out, el)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TabIndex() < out[j].TabIndex() })
	return out
}

// FocusFirst moves focus onto the first focusable in scope.
func (f *FocusManager) FocusFirst() bool {
	els := f.Focusables()
	if len(els) == 0 {
		return false
	}
	els[0].Focus()
	return true
}

// FocusLast moves focus onto the last focusable in scope.
func (f *FocusManager) FocusLast() bool {
	els := f.Focusables()
	if len(els) == 0 {
		return false
	}
	els[len(els)-1].Focus()
	return true
}

// FocusElement focuses one element by id if it is in scope and focusable.
func (f *FocusManager) FocusElement(id string) bool {
	for _, el := range f.Focusables() {
		if el.ID() == id {
			el.Focus()
			return true
		}
	}
	return false
}

// --- Trapping ---

// TrapFocus confines Tab navigation to a container. The previously focused
// element is remembered for restoration on release. Focus moves onto the
// first focusable inside the container.
func (f *FocusManager) TrapFocus(containerID string) {
	f.mu.Lock()
	if f.trapID == "" {
		f.prevFocusID = f.doc.FocusedID()
	}
	f.trapID = containerID
	f.mu.Unlock()

	logger.DebugCF(component, "focus trapped", map[string]interface{}{
		"container": containerID,
	})
	f.FocusFirst()
}

// ReleaseFocusTrap removes the trap and restores focus to the element that
// held it before trapping, when it still exists.
func (f *FocusManager) ReleaseFocusTrap() {
	f.mu.Lock()
	prev := f.prevFocusID
	trapped := f.trapID != ""
	f.trapID = ""
	f.prevFocusID = ""
	f.mu.Unlock()

	if !trapped {
		return
	}
	logger.DebugC(component, "focus trap released")
	if prev == "" {
		return
	}
	if el, ok := f.doc.Lookup(prev); ok {
		el.Focus()
	}
}

// Trapped reports whether a trap is active.
func (f *FocusManager) Trapped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trapID != ""
}

// HandleTab advances focus inside the trap, wrapping at both ends: Tab on
// the last element wraps to the first, Shift+Tab on the first wraps to the
// last. Returns false (not handled) when no trap is active, letting the
// host's native tab order proceed.
func (f *FocusManager) HandleTab(shift bool) bool {
	f.mu.Lock()
	trapID := f.trapID
	f.mu.Unlock()
	if trapID == "" {
		return false
	}

	els := f.focusablesIn(trapID)
	if len(els) == 0 {
		return true // swallow the key, nowhere to go
	}

	current := f.doc.FocusedID()
	idx := -1
	for i, el := range els {
		if el.ID() == current {
			idx = i
			break
		}
	}

	var next int
	switch {
	case idx == -1:
		next = 0
		if shift {
			next = len(els) - 1
		}
	case shift:
		next = (idx - 1 + len(els)) % len(els)
	default:
		next = (idx + 1) % len(els)
	}
	els[next].Focus()
	return true
}

// --- Reconciliation loop ---

// StartPolling begins the focus reconciliation loop. It tracks which element
// holds focus and whether the embedded frame does, firing OnFocusChange on
// transitions. Idempotent.
func (f *FocusManager) StartPolling() {
	f.mu.Lock()
	if f.pollStop != nil {
		f.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	f.pollStop = stop
	interval := f.pollInterval
	f.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := ""
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				focused := f.doc.FocusedID()
				if focused == last {
					continue
				}
				last = focused

				f.mu.Lock()
				f.iframeFocused = focused != "" && focused == f.frameElementID
				inFrame := f.iframeFocused
				fn := f.onFocusChange
				f.mu.Unlock()

				if fn != nil {
					fn(focused, inFrame)
				}
			}
		}
	}()
}

// StopPolling halts the reconciliation loop. Idempotent.
func (f *FocusManager) StopPolling() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollStop != nil {
		close(f.pollStop)
		f.pollStop = nil
	}
}

// FrameFocused reports the last reconciled frame-focus state.
func (f *FocusManager) FrameFocused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.iframeFocused
}
