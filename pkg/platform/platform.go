// Package platform abstracts the host document so that core runtime logic
// (frame lifecycle, focus ordering, trapping, shortcut dispatch) is testable
// without a real browser. Elements are opaque handles behind interfaces; a
// thin adapter binds them to the real host, and memdom provides an in-memory
// implementation for tests and headless use.
package platform

import "time"

// Element is an opaque handle onto one document node.
type Element interface {
	// ID returns the stable handle id.
	ID() string
	// IsVisible reports whether the node is currently rendered.
	IsVisible() bool
	// IsFocusable reports whether the node can receive focus.
	IsFocusable() bool
	// IsEditable reports whether the node accepts text input (input,
	// textarea, content-editable). Shortcut processing is suppressed while
	// an editable node holds focus.
	IsEditable() bool
	// TabIndex returns the node's tab order weight.
	TabIndex() int
	// Focus moves document focus onto the node.
	Focus()
}

// FrameElement is the embedded browsing-context node. It is exclusively
// owned by its lifecycle manager and never shared.
type FrameElement interface {
	Element
	// Source returns the currently loaded target URL.
	Source() string
	// SetSource navigates the frame to a new target.
	SetSource(url string)
	// Style returns a copy of the node's inline style.
	Style() map[string]string
	// SetStyle replaces the node's inline style.
	SetStyle(style map[string]string)
}

// ElementSpec describes a node to create.
type ElementSpec struct {
	ID        string // generated when empty
	Focusable bool
	Editable  bool
	TabIndex  int
	Visible   bool
	Attrs     map[string]string
}

// FrameSpec describes an embedded frame to create.
type FrameSpec struct {
	URL   string
	Title string
	Attrs map[string]string
}

// Document is the host document surface the runtime needs. Implementations
// must be safe for concurrent use.
type Document interface {
	// CreateElement attaches a plain node under a container.
	CreateElement(containerID string, spec ElementSpec) (Element, error)
	// CreateFrame attaches an embedded frame under a container.
	CreateFrame(containerID string, spec FrameSpec) (FrameElement, error)
	// Remove detaches a node. Returns false if unknown.
	Remove(id string) bool
	// Lookup resolves a handle id. Returns false if unknown.
	Lookup(id string) (Element, bool)
	// ElementsIn returns the descendants of a container in document order.
	ElementsIn(containerID string) []Element
	// FocusedID returns the id of the focused node, or "" when none.
	FocusedID() string
	// SetHidden toggles a node's visibility.
	SetHidden(id string, hidden bool) bool
}

// VisibilityObserver reports when a container becomes visible. Used for
// lazy frame activation.
type VisibilityObserver interface {
	// Observe registers a callback fired once when the container becomes
	// visible. Observing an already-visible container fires immediately.
	Observe(containerID string, fn func())
	// Unobserve cancels a pending observation.
	Unobserve(containerID string)
}

// KeyEvent is one keyboard event captured at the document level.
// Shortcut matching requires exact equality on Key plus all four modifiers.
type KeyEvent struct {
	Key       string
	Alt       bool
	Ctrl      bool
	Shift     bool
	Meta      bool
	TargetID  string
	Timestamp time.Time
}
