package input

import (
	"strings"
	"time"

	"github.com/annolab/framegate/pkg/platform"
)

// Coordinator ties keyboard dispatch and focus management together. It is
// the single entry point the platform adapter feeds key events into: Tab
// navigation is intercepted here while a focus trap is active, everything
// else flows to the keyboard manager.
type Coordinator struct {
	Keyboard *KeyboardManager
	Focus    *FocusManager
}

// Options tunes coordinator construction. Zero values select the defaults.
type Options struct {
	RootContainerID   string
	SequenceTimeout   time.Duration
	FocusPollInterval time.Duration
}

// NewCoordinator wires a keyboard and focus manager over one document.
func NewCoordinator(doc platform.Document, opts Options) *Coordinator {
	return &Coordinator{
		Keyboard: NewKeyboardManager(doc, opts.SequenceTimeout),
		Focus:    NewFocusManager(doc, opts.RootContainerID, opts.FocusPollInterval),
	}
}

// HandleKeyDown routes one keydown. While a trap is active, Tab and
// Shift+Tab wrap focus inside the trapped container and never reach
// shortcut dispatch.
func (c *Coordinator) HandleKeyDown(ev platform.KeyEvent) Outcome {
	if strings.EqualFold(ev.Key, "Tab") && c.Focus.HandleTab(ev.Shift) {
		return Outcome{Handled: true, PreventDefault: true}
	}
	return c.Keyboard.HandleKeyDown(ev)
}

// HandleKeyUp routes one keyup.
func (c *Coordinator) HandleKeyUp(ev platform.KeyEvent) { c.Keyboard.HandleKeyUp(ev) }

// Start begins focus reconciliation.
func (c *Coordinator) Start() { c.Focus.StartPolling() }

// Destroy releases the trap, stops polling and clears keyboard state.
func (c *Coordinator) Destroy() {
	c.Focus.ReleaseFocusTrap()
	c.Focus.StopPolling()
	c.Keyboard.Destroy()
}
