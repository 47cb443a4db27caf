// Package memdom is the in-memory platform.Document implementation. Tests
// and headless embeddings drive it directly; its mutators (SetVisible,
// MarkVisible, FireLoad) stand in for real browser behavior.
package memdom

import (
	"sync"

	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/platform"
)

// Node is the in-memory element. Mutators are exported so tests can simulate
// document changes.
type Node struct {
	doc *Document

	id        string
	container string
	focusable bool
	editable  bool
	tabIndex  int
	visible   bool
	attrs     map[string]string

	// frame-only state
	isFrame bool
	source  string
	style   map[string]string
}

var _ platform.FrameElement = (*Node)(nil)

func (n *Node) ID() string { return n.id }

func (n *Node) IsVisible() bool {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.visible
}

func (n *Node) IsFocusable() bool {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.focusable
}

func (n *Node) IsEditable() bool {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.editable
}

func (n *Node) TabIndex() int {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.tabIndex
}

func (n *Node) Focus() {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.focusable && n.visible {
		n.doc.focused = n.id
	}
}

func (n *Node) Source() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.source
}

func (n *Node) SetSource(url string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.source = url
}

func (n *Node) Style() map[string]string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	out := make(map[string]string, len(n.style))
	for k, v := range n.style {
		out[k] = v
	}
	return out
}

func (n *Node) SetStyle(style map[string]string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.style = make(map[string]string, len(style))
	for k, v := range style {
		n.style[k] = v
	}
}

// SetVisible toggles the node's visibility (test control).
func (n *Node) SetVisible(visible bool) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.visible = visible
}

// SetEditable toggles the node's editable flag (test control).
func (n *Node) SetEditable(editable bool) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.editable = editable
}

// Attr returns one attribute value.
func (n *Node) Attr(key string) string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.attrs[key]
}

// Document is the in-memory document. Insertion order stands in for
// document order.
type Document struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	order   []string
	focused string

	obsMu     sync.Mutex
	observers map[string]func()
	visible   map[string]bool // container visibility, for the observer
}

var _ platform.Document = (*Document)(nil)
var _ platform.VisibilityObserver = (*Document)(nil)

// New creates an empty document.
func New() *Document {
	return &Document{
		nodes:     make(map[string]*Node),
		observers: make(map[string]func()),
		visible:   make(map[string]bool),
	}
}

func (d *Document) CreateElement(containerID string, spec platform.ElementSpec) (platform.Element, error) {
	return d.create(containerID, spec, false, "")
}

func (d *Document) CreateFrame(containerID string, spec platform.FrameSpec) (platform.FrameElement, error) {
	n, err := d.create(containerID, platform.ElementSpec{
		Focusable: true,
		Visible:   true,
		Attrs:     spec.Attrs,
	}, true, spec.URL)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (d *Document) create(containerID string, spec platform.ElementSpec, isFrame bool, source string) (*Node, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := spec.ID
	if id == "" {
		id = domain.NewID().String()
	}
	attrs := make(map[string]string, len(spec.Attrs))
	for k, v := range spec.Attrs {
		attrs[k] = v
	}
	n := &Node{
		doc:       d,
		id:        id,
		container: containerID,
		focusable: spec.Focusable,
		editable:  spec.Editable,
		tabIndex:  spec.TabIndex,
		visible:   spec.Visible,
		attrs:     attrs,
		isFrame:   isFrame,
		source:    source,
		style:     make(map[string]string),
	}
	d.nodes[id] = n
	d.order = append(d.order, id)
	return n, nil
}

func (d *Document) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[id]; !ok {
		return false
	}
	delete(d.nodes, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	if d.focused == id {
		d.focused = ""
	}
	return true
}

func (d *Document) Lookup(id string) (platform.Element, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil, false
	}
	return n, true
}

func (d *Document) ElementsIn(containerID string) []platform.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []platform.Element
	for _, id := range d.order {
		if n := d.nodes[id]; n != nil && n.container == containerID {
			out = append(out, n)
		}
	}
	return out
}

func (d *Document) FocusedID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.focused
}

// SetFocus forces focus (test control for transitions outside listener reach,
// e.g. focus entering the embedded frame).
func (d *Document) SetFocus(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focused = id
}

func (d *Document) SetHidden(id string, hidden bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return false
	}
	n.visible = !hidden
	return true
}

// --- Visibility observation (lazy activation) ---

func (d *Document) Observe(containerID string, fn func()) {
	d.obsMu.Lock()
	if d.visible[containerID] {
		d.obsMu.Unlock()
		fn()
		return
	}
	d.observers[containerID] = fn
	d.obsMu.Unlock()
}

func (d *Document) Unobserve(containerID string) {
	d.obsMu.Lock()
	delete(d.observers, containerID)
	d.obsMu.Unlock()
}

// MarkVisible records a container as visible and fires any pending
// observation (test control standing in for an IntersectionObserver).
func (d *Document) MarkVisible(containerID string) {
	d.obsMu.Lock()
	d.visible[containerID] = true
	fn := d.observers[containerID]
	delete(d.observers, containerID)
	d.obsMu.Unlock()
	if fn != nil {
		fn()
	}
}
