// Package input coordinates keyboard and focus across the embedding
// boundary: document-level key capture classified by named, prioritized
// shortcut contexts, multi-key sequence detection with a sliding timeout
// window, focus-order virtualization, and focus trapping inside a container.
//
// Key events reach the coordinator through a thin platform adapter. When the
// embedded frame is same-origin the adapter also captures inside the frame's
// own document; cross-origin frames are silently skipped, never an error.
package input

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/logger"
	"github.com/annolab/framegate/pkg/platform"
)

const component = "input"

// DefaultSequenceTimeout resets the sequence buffer on inactivity.
const DefaultSequenceTimeout = time.Second

// Shortcut binds one exact key+modifier combination to an action.
// Matching requires equality on the key and all four modifier flags.
type Shortcut struct {
	Key         string
	Alt         bool
	Ctrl        bool
	Shift       bool
	Meta        bool
	Description string

	// Action runs when the shortcut matches. The first matching shortcut
	// of the highest-priority active context wins.
	Action func(ev platform.KeyEvent)

	PreventDefault  bool
	StopPropagation bool
}

// comboKey normalizes a key+modifier set into a map key.
func comboKey(key string, alt, ctrl, shift, meta bool) string {
	var b strings.Builder
	if ctrl {
		b.WriteString("ctrl+")
	}
	if alt {
		b.WriteString("alt+")
	}
	if shift {
		b.WriteString("shift+")
	}
	if meta {
		b.WriteString("meta+")
	}
	b.WriteString(strings.ToLower(key))
	return b.String()
}

func (s Shortcut) combo() string {
	return comboKey(s.Key, s.Alt, s.Ctrl, s.Shift, s.Meta)
}

// KeySequence binds an ordered key chord (e.g. "g" then "d") to an action.
type KeySequence struct {
	Keys        []string
	Timeout     time.Duration // 0 means the manager default
	Description string
	Action      func()
}

// context is one named shortcut scope. Multiple contexts may be active at
// once; resolution walks all active contexts in descending priority order.
type context struct {
	name      string
	active    bool
	priority  int
	shortcuts map[string]Shortcut
}

// Outcome tells the platform adapter what to do with the native event.
type Outcome struct {
	Handled         bool
	PreventDefault  bool
	StopPropagation bool
}

// KeyboardManager owns contexts, shortcuts, sequences and raw listeners.
type KeyboardManager struct {
	mu sync.Mutex

	doc        platform.Document
	contexts   map[string]*context
	defaultCtx string

	listeners []func(ev platform.KeyEvent)

	sequences  []KeySequence
	seqBuffer  []string
	seqTimer   *time.Timer
	seqTimeout time.Duration
}

// NewKeyboardManager creates a manager bound to a document. A "global"
// context exists from the start, active at priority 0, and is the default
// registration target.
func NewKeyboardManager(doc platform.Document, sequenceTimeout time.Duration) *KeyboardManager {
	if sequenceTimeout <= 0 {
		sequenceTimeout = DefaultSequenceTimeout
	}
	m := &KeyboardManager{
		doc:        doc,
		contexts:   make(map[string]*context),
		defaultCtx: "global",
		seqTimeout: sequenceTimeout,
	}
	m.contexts["global"] = &context{name: "global", active: true, shortcuts: make(map[string]Shortcut)}
	return m
}

// --- Contexts ---

// CreateContext adds a named shortcut scope. Creating an existing name
// just updates its priority.
func (m *KeyboardManager) CreateContext(name string, priority int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx, ok := m.contexts[name]; ok {
		ctx.priority = priority
		ctx.active = active
		return
	}
	m.contexts[name] = &context{
		name:      name,
		active:    active,
		priority:  priority,
		shortcuts: make(map[string]Shortcut),
	}
}

// RemoveContext drops a scope and its shortcuts.
func (m *KeyboardManager) RemoveContext(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, name)
	if m.defaultCtx == name {
		m.defaultCtx = "global"
	}
}

// SetContextActive toggles one scope. Any number of contexts may be active
// simultaneously.
func (m *KeyboardManager) SetContextActive(name string, active bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[name]
	if !ok {
		return false
	}
	ctx.active = active
	return true
}

// SetDefaultContext picks the scope that receives registrations with an
// empty context name. Exactly one context is the default target.
func (m *KeyboardManager) SetDefaultContext(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[name]; !ok {
		return false
	}
	m.defaultCtx = name
	return true
}

// --- Shortcuts ---

// RegisterShortcut binds a shortcut inside a context ("" = default context).
// Re-registering the same combination replaces the previous binding.
func (m *KeyboardManager) RegisterShortcut(contextName string, sc Shortcut) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contextName == "" {
		contextName = m.defaultCtx
	}
	ctx, ok := m.contexts[contextName]
	if !ok {
		return false
	}
	ctx.shortcuts[sc.combo()] = sc
	return true
}

// UnregisterShortcut removes one combination from a context.
func (m *KeyboardManager) UnregisterShortcut(contextName string, sc Shortcut) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contextName == "" {
		contextName = m.defaultCtx
	}
	ctx, ok := m.contexts[contextName]
	if !ok {
		return false
	}
	if _, exists := ctx.shortcuts[sc.combo()]; !exists {
		return false
	}
	delete(ctx.shortcuts, sc.combo())
	return true
}

// AddListener registers a raw key listener. Raw listeners observe every
// event, including keys typed into editable elements.
func (m *KeyboardManager) AddListener(fn func(ev platform.KeyEvent)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// --- Sequences ---

// RegisterSequence adds a multi-key sequence.
func (m *KeyboardManager) RegisterSequence(seq KeySequence) {
	m.mu.Lock()
	m.sequences = append(m.sequences, seq)
	m.mu.Unlock()
}

// resetSequenceLocked clears the rolling buffer and its inactivity timer.
func (m *KeyboardManager) resetSequenceLocked() {
	m.seqBuffer = nil
	if m.seqTimer != nil {
		m.seqTimer.Stop()
		m.seqTimer = nil
	}
}

// feedSequenceLocked pushes one key into the rolling buffer. The buffer
// resets on a full match (which consumes it), when no registered sequence
// remains a viable prefix, and on inactivity.
func (m *KeyboardManager) feedSequenceLocked(key string) func() {
	if len(m.sequences) == 0 {
		return nil
	}
	m.seqBuffer = append(m.seqBuffer, strings.ToLower(key))

	var matched func()
	viable := false
	for _, seq := range m.sequences {
		switch prefixState(m.seqBuffer, seq.Keys) {
		case prefixFull:
			matched = seq.Action
		case prefixPartial:
			viable = true
		}
	}

	if matched != nil {
		m.resetSequenceLocked()
		return matched
	}
	if !viable {
		m.resetSequenceLocked()
		return nil
	}

	if m.seqTimer != nil {
		m.seqTimer.Stop()
	}
	m.seqTimer = time.AfterFunc(m.seqTimeout, func() {
		m.mu.Lock()
		m.resetSequenceLocked()
		m.mu.Unlock()
	})
	return nil
}

type prefixResult int

const (
	prefixNone prefixResult = iota
	prefixPartial
	prefixFull
)

func prefixState(buffer, keys []string) prefixResult {
	if len(buffer) > len(keys) {
		return prefixNone
	}
	for i, k := range buffer {
		if !strings.EqualFold(k, keys[i]) {
			return prefixNone
		}
	}
	if len(buffer) == len(keys) {
		return prefixFull
	}
	return prefixPartial
}

// --- Dispatch ---

// HandleKeyDown processes one document-level keydown. Raw listeners always
// run. Shortcut and sequence processing is suppressed while an editable
// element holds focus.
func (m *KeyboardManager) HandleKeyDown(ev platform.KeyEvent) Outcome {
	m.forward(ev)

	if m.targetEditable(ev) {
		return Outcome{}
	}

	m.mu.Lock()
	seqAction := m.feedSequenceLocked(ev.Key)

	combo := comboKey(ev.Key, ev.Alt, ev.Ctrl, ev.Shift, ev.Meta)
	active := make([]*context, 0, len(m.contexts))
	for _, ctx := range m.contexts {
		if ctx.active {
			active = append(active, ctx)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].priority > active[j].priority })

	var match *Shortcut
	var matchCtx string
	for _, ctx := range active {
		if sc, ok := ctx.shortcuts[combo]; ok {
			match = &sc
			matchCtx = ctx.name
			break
		}
	}
	m.mu.Unlock()

	if seqAction != nil {
		seqAction()
	}
	if match == nil {
		return Outcome{}
	}

	logger.DebugCF(component, "shortcut matched", map[string]interface{}{
		"combo": combo, "context": matchCtx,
	})
	if match.Action != nil {
		match.Action(ev)
	}
	return Outcome{
		Handled:         true,
		PreventDefault:  match.PreventDefault,
		StopPropagation: match.StopPropagation,
	}
}

// HandleKeyUp forwards a keyup to raw listeners only.
func (m *KeyboardManager) HandleKeyUp(ev platform.KeyEvent) { m.forward(ev) }

// HandleKeyPress forwards a keypress to raw listeners only.
func (m *KeyboardManager) HandleKeyPress(ev platform.KeyEvent) { m.forward(ev) }

func (m *KeyboardManager) forward(ev platform.KeyEvent) {
	m.mu.Lock()
	listeners := make([]func(platform.KeyEvent), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (m *KeyboardManager) targetEditable(ev platform.KeyEvent) bool {
	if ev.TargetID == "" {
		return false
	}
	el, ok := m.doc.Lookup(ev.TargetID)
	return ok && el.IsEditable()
}

// Destroy drops all contexts, listeners and pending sequence state.
func (m *KeyboardManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetSequenceLocked()
	m.contexts = make(map[string]*context)
	m.listeners = nil
	m.sequences = nil
}
