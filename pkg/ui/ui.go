// Package ui is the top-level façade a host page integrates: it composes the
// frame lifecycle manager, the input coordinator and the event bus, adds
// fullscreen and navigation-chrome toggling, loading/error overlays, and
// normalizes every sub-manager event stream into a single UIEvent surface.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/events"
	"github.com/annolab/framegate/pkg/frame"
	"github.com/annolab/framegate/pkg/input"
	"github.com/annolab/framegate/pkg/logger"
	"github.com/annolab/framegate/pkg/platform"
)

const component = "ui"

// Shortcut action names registered by default. Callers may rebind them and
// add arbitrary custom actions.
const (
	ActionToggleFullscreen = "toggle_fullscreen"
	ActionExitFullscreen   = "exit_fullscreen"
	ActionToggleNavigation = "toggle_navigation"
	ActionFocusFrame       = "focus_iframe"
	ActionFocusMain        = "focus_main"
)

// UIEvent is the normalized event surface. Every frame lifecycle event,
// fullscreen/navigation transition and shortcut action arrives here with a
// uniform shape.
type UIEvent struct {
	Type      string
	Timestamp time.Time
	Data      map[string]interface{}
}

// Options tunes coordinator construction.
type Options struct {
	// ContainerID hosts the embedded frame and the overlays.
	ContainerID string
	// NavigationID names the navigation chrome element hidden in fullscreen.
	NavigationID string
	// MainFocusID names the element focus_main returns focus to.
	MainFocusID string
	// TrapFocusInFullscreen engages a focus trap on the container while
	// fullscreen is active.
	TrapFocusInFullscreen bool
	// FullscreenStyle overrides the style applied to the frame element
	// while fullscreen. Nil selects the default fixed overlay style.
	FullscreenStyle map[string]string
	// DisableDefaultShortcuts skips default shortcut registration.
	DisableDefaultShortcuts bool
}

// Coordinator delegates to the managers it composes and holds only the
// fullscreen/navigation/overlay state of its own concern.
type Coordinator struct {
	mu sync.Mutex

	doc    platform.Document
	bus    *bus.EventBus
	frames *frame.Manager
	input  *input.Coordinator
	opts   Options

	fullscreen    bool
	styleSnapshot map[string]string
	navVisible    bool

	loadingOverlayID string
	errorOverlayID   string

	listeners []func(UIEvent)
}

// New wires a coordinator over pre-constructed collaborators. Frame
// lifecycle callbacks are subscribed immediately so their events flow
// through the normalized surface, and the focus reconciliation loop starts.
func New(doc platform.Document, b *bus.EventBus, frames *frame.Manager, in *input.Coordinator, opts Options) *Coordinator {
	c := &Coordinator{
		doc:        doc,
		bus:        b,
		frames:     frames,
		input:      in,
		opts:       opts,
		navVisible: true,
	}

	for frameEvent, uiType := range map[string]string{
		frame.EventLoad:    events.FrameLoad,
		frame.EventReady:   events.FrameReady,
		frame.EventError:   events.FrameError,
		frame.EventDestroy: events.FrameDestroy,
		frame.EventRefresh: events.FrameRefresh,
	} {
		uiType := uiType
		frames.On(frameEvent, func(_ string, data map[string]interface{}) {
			c.publish(uiType, data)
		})
	}

	if !opts.DisableDefaultShortcuts {
		c.registerDefaultShortcuts()
	}
	in.Start()
	return c
}

// OnUIEvent registers a listener on the normalized event surface.
func (c *Coordinator) OnUIEvent(fn func(UIEvent)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// publish fans a normalized event out to listeners and mirrors it on the bus.
func (c *Coordinator) publish(eventType string, data map[string]interface{}) {
	ev := UIEvent{Type: eventType, Timestamp: time.Now(), Data: data}

	c.mu.Lock()
	listeners := make([]func(UIEvent), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}

	if c.bus != nil {
		if err := c.bus.Emit(context.Background(), eventType, ev); err != nil {
			logger.WarnCF(component, "bus emit failed", map[string]interface{}{
				"event": eventType, "error": err.Error(),
			})
		}
	}
}

// ---------------------------------------------------------------------------
// Fullscreen
// ---------------------------------------------------------------------------

func defaultFullscreenStyle() map[string]string {
	return map[string]string{
		"position": "fixed",
		"top":      "0",
		"left":     "0",
		"width":    "100%",
		"height":   "100%",
		"z-index":  "9999",
	}
}

// ToggleFullscreen flips the fullscreen state.
func (c *Coordinator) ToggleFullscreen() {
	c.mu.Lock()
	on := c.fullscreen
	c.mu.Unlock()
	if on {
		c.ExitFullscreen()
	} else {
		c.EnterFullscreen()
	}
}

// EnterFullscreen snapshots the frame element's inline style, applies the
// fullscreen style, hides navigation chrome and optionally traps focus on
// the container. No-op when already fullscreen or no frame is live.
func (c *Coordinator) EnterFullscreen() {
	el := c.frames.Element()
	if el == nil {
		logger.WarnC(component, "fullscreen requested with no live frame")
		return
	}

	c.mu.Lock()
	if c.fullscreen {
		c.mu.Unlock()
		return
	}
	c.fullscreen = true
	c.styleSnapshot = el.Style()
	c.mu.Unlock()

	style := c.opts.FullscreenStyle
	if style == nil {
		style = defaultFullscreenStyle()
	}
	el.SetStyle(style)

	c.SetNavigationVisible(false)
	if c.opts.TrapFocusInFullscreen {
		c.input.Focus.TrapFocus(c.opts.ContainerID)
	}
	c.publish(events.UIFullscreenEnter, map[string]interface{}{"frame": el.ID()})
}

// ExitFullscreen restores the snapshot, shows navigation and releases any
// trap. Idempotent.
func (c *Coordinator) ExitFullscreen() {
	c.mu.Lock()
	if !c.fullscreen {
		c.mu.Unlock()
		return
	}
	c.fullscreen = false
	snapshot := c.styleSnapshot
	c.styleSnapshot = nil
	c.mu.Unlock()

	if el := c.frames.Element(); el != nil {
		el.SetStyle(snapshot)
	}
	if c.opts.TrapFocusInFullscreen {
		c.input.Focus.ReleaseFocusTrap()
	}
	c.SetNavigationVisible(true)
	c.publish(events.UIFullscreenExit, nil)
}

// Fullscreen reports the current state.
func (c *Coordinator) Fullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

// Resize adjusts the frame's dimensions. Only valid while fullscreen.
func (c *Coordinator) Resize(width, height int) error {
	c.mu.Lock()
	on := c.fullscreen
	c.mu.Unlock()
	if !on {
		return fmt.Errorf("resize is only available in fullscreen")
	}
	el := c.frames.Element()
	if el == nil {
		return fmt.Errorf("no live frame to resize")
	}

	style := el.Style()
	style["width"] = fmt.Sprintf("%dpx", width)
	style["height"] = fmt.Sprintf("%dpx", height)
	el.SetStyle(style)

	c.publish(events.UIResize, map[string]interface{}{"width": width, "height": height})
	return nil
}

// ---------------------------------------------------------------------------
// Navigation chrome
// ---------------------------------------------------------------------------

// SetNavigationVisible shows or hides the navigation element. No-op without
// a configured navigation id or on a repeated state.
func (c *Coordinator) SetNavigationVisible(visible bool) {
	if c.opts.NavigationID == "" {
		return
	}
	c.mu.Lock()
	if c.navVisible == visible {
		c.mu.Unlock()
		return
	}
	c.navVisible = visible
	c.mu.Unlock()

	c.doc.SetHidden(c.opts.NavigationID, !visible)
	if visible {
		c.publish(events.UINavigationShow, nil)
	} else {
		c.publish(events.UINavigationHide, nil)
	}
}

// ToggleNavigation flips navigation visibility.
func (c *Coordinator) ToggleNavigation() {
	c.mu.Lock()
	visible := c.navVisible
	c.mu.Unlock()
	c.SetNavigationVisible(!visible)
}

// NavigationVisible reports the current chrome state.
func (c *Coordinator) NavigationVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navVisible
}

// ---------------------------------------------------------------------------
// Overlays
// ---------------------------------------------------------------------------

// ShowLoadingOverlay places a loading indicator over the container.
// Replaces a previous overlay.
func (c *Coordinator) ShowLoadingOverlay() {
	c.HideLoadingOverlay()
	el, err := c.doc.CreateElement(c.opts.ContainerID, platform.ElementSpec{
		Visible: true,
		Attrs:   map[string]string{"role": "status", "overlay": "loading"},
	})
	if err != nil {
		logger.WarnCF(component, "loading overlay failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.mu.Lock()
	c.loadingOverlayID = el.ID()
	c.mu.Unlock()
}

// HideLoadingOverlay removes the loading indicator. Idempotent.
func (c *Coordinator) HideLoadingOverlay() {
	c.mu.Lock()
	id := c.loadingOverlayID
	c.loadingOverlayID = ""
	c.mu.Unlock()
	if id != "" {
		c.doc.Remove(id)
	}
}

// ShowErrorOverlay places an error panel carrying the message over the
// container. Replaces a previous one.
func (c *Coordinator) ShowErrorOverlay(message string) {
	c.HideErrorOverlay()
	el, err := c.doc.CreateElement(c.opts.ContainerID, platform.ElementSpec{
		Visible: true,
		Attrs:   map[string]string{"role": "alert", "overlay": "error", "message": message},
	})
	if err != nil {
		logger.WarnCF(component, "error overlay failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c.mu.Lock()
	c.errorOverlayID = el.ID()
	c.mu.Unlock()
}

// HideErrorOverlay removes the error panel. Idempotent.
func (c *Coordinator) HideErrorOverlay() {
	c.mu.Lock()
	id := c.errorOverlayID
	c.errorOverlayID = ""
	c.mu.Unlock()
	if id != "" {
		c.doc.Remove(id)
	}
}

// ---------------------------------------------------------------------------
// Focus + shortcuts
// ---------------------------------------------------------------------------

// FocusFrame moves focus onto the embedded frame element.
func (c *Coordinator) FocusFrame() {
	el := c.frames.Element()
	if el == nil {
		return
	}
	el.Focus()
	c.publish(events.UIFocusFrame, map[string]interface{}{"frame": el.ID()})
}

// FocusMain returns focus to the configured host element.
func (c *Coordinator) FocusMain() {
	if c.opts.MainFocusID == "" {
		return
	}
	if el, ok := c.doc.Lookup(c.opts.MainFocusID); ok {
		el.Focus()
	}
	c.publish(events.UIFocusMain, map[string]interface{}{"target": c.opts.MainFocusID})
}

// RegisterAction binds a named custom action to a shortcut. Firing the
// shortcut runs the handler and publishes a ui.shortcut event carrying the
// action name.
func (c *Coordinator) RegisterAction(name string, sc input.Shortcut, handler func()) {
	sc.Action = func(platform.KeyEvent) {
		if handler != nil {
			handler()
		}
		c.publish(events.UIShortcut, map[string]interface{}{"action": name})
	}
	c.input.Keyboard.RegisterShortcut("", sc)
}

func (c *Coordinator) registerDefaultShortcuts() {
	c.RegisterAction(ActionToggleFullscreen,
		input.Shortcut{Key: "F11", PreventDefault: true, Description: "toggle fullscreen"},
		c.ToggleFullscreen)
	c.RegisterAction(ActionExitFullscreen,
		input.Shortcut{Key: "Escape", Description: "exit fullscreen"},
		c.ExitFullscreen)
	c.RegisterAction(ActionToggleNavigation,
		input.Shortcut{Key: "n", Ctrl: true, Shift: true, Description: "toggle navigation"},
		c.ToggleNavigation)
	c.RegisterAction(ActionFocusFrame,
		input.Shortcut{Key: "i", Ctrl: true, Shift: true, Description: "focus embedded frame"},
		c.FocusFrame)
	c.RegisterAction(ActionFocusMain,
		input.Shortcut{Key: "m", Ctrl: true, Shift: true, Description: "focus host content"},
		c.FocusMain)
}

// Destroy exits fullscreen, removes overlays and tears the input
// coordinator down. The frame manager is left to its own Destroy, since the
// caller may own it independently.
func (c *Coordinator) Destroy() {
	c.ExitFullscreen()
	c.HideLoadingOverlay()
	c.HideErrorOverlay()
	c.input.Destroy()
	logger.DebugC(component, "coordinator destroyed")
}
