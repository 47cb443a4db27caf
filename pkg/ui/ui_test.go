package ui

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/events"
	"github.com/annolab/framegate/pkg/frame"
	"github.com/annolab/framegate/pkg/input"
	"github.com/annolab/framegate/pkg/platform"
	"github.com/annolab/framegate/pkg/platform/memdom"
)

type fixture struct {
	doc    *memdom.Document
	bus    *bus.EventBus
	frames *frame.Manager
	coord  *Coordinator
	ui     chan UIEvent
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	doc := memdom.New()

	if opts.NavigationID != "" {
		_, err := doc.CreateElement("page", platform.ElementSpec{ID: opts.NavigationID, Visible: true})
		require.NoError(t, err)
	}
	if opts.MainFocusID != "" {
		_, err := doc.CreateElement("page", platform.ElementSpec{
			ID: opts.MainFocusID, Focusable: true, Visible: true,
		})
		require.NoError(t, err)
	}

	b := bus.New(bus.Options{MaxHistory: 100, PriorityOrdering: true})
	frames := frame.NewManager(doc, doc)
	in := input.NewCoordinator(doc, input.Options{RootContainerID: opts.ContainerID})

	f := &fixture{
		doc:    doc,
		bus:    b,
		frames: frames,
		ui:     make(chan UIEvent, 32),
	}
	f.coord = New(doc, b, frames, in, opts)
	f.coord.OnUIEvent(func(ev UIEvent) { f.ui <- ev })
	t.Cleanup(f.coord.Destroy)
	return f
}

func (f *fixture) createFrame(t *testing.T, container string) {
	t.Helper()
	err := f.frames.Create(frame.Config{
		URL:       "https://annotate.example.com/tool",
		ProjectID: "p1",
		TaskID:    "t1",
		UserID:    "u1",
	}, container)
	require.NoError(t, err)
	f.frames.HandleLoaded()
}

func (f *fixture) next(t *testing.T, eventType string) UIEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-f.ui:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestFullscreenSnapshotAndRestore(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main", NavigationID: "nav"})
	f.createFrame(t, "main")

	el := f.frames.Element()
	el.SetStyle(map[string]string{"width": "640px", "border": "none"})

	f.coord.EnterFullscreen()
	require.True(t, f.coord.Fullscreen())
	require.Equal(t, "fixed", el.Style()["position"])
	require.False(t, f.coord.NavigationVisible())
	f.next(t, events.UIFullscreenEnter)

	f.coord.ExitFullscreen()
	require.False(t, f.coord.Fullscreen())
	require.Equal(t, map[string]string{"width": "640px", "border": "none"}, el.Style())
	require.True(t, f.coord.NavigationVisible())
	f.next(t, events.UIFullscreenExit)

	// Exit again is a no-op, no second event.
	f.coord.ExitFullscreen()
	select {
	case ev := <-f.ui:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestFullscreenWithoutFrameIsRefused(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main"})
	f.coord.EnterFullscreen()
	require.False(t, f.coord.Fullscreen())
}

func TestResizeOnlyWhileFullscreen(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main"})
	f.createFrame(t, "main")

	require.Error(t, f.coord.Resize(800, 600), "resize outside fullscreen must fail")

	f.coord.EnterFullscreen()
	require.NoError(t, f.coord.Resize(800, 600))
	el := f.frames.Element()
	require.Equal(t, "800px", el.Style()["width"])
	require.Equal(t, "600px", el.Style()["height"])

	ev := f.next(t, events.UIResize)
	require.Equal(t, 800, ev.Data["width"])
}

func TestFullscreenTrapsFocusWhenEnabled(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main", TrapFocusInFullscreen: true})
	f.createFrame(t, "main")

	f.coord.EnterFullscreen()
	require.True(t, f.coord.input.Focus.Trapped())
	f.coord.ExitFullscreen()
	require.False(t, f.coord.input.Focus.Trapped())
}

func TestNavigationToggle(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main", NavigationID: "nav"})

	f.coord.ToggleNavigation()
	require.False(t, f.coord.NavigationVisible())
	nav, ok := f.doc.Lookup("nav")
	require.True(t, ok)
	require.False(t, nav.IsVisible())
	f.next(t, events.UINavigationHide)

	f.coord.ToggleNavigation()
	require.True(t, nav.IsVisible())
	f.next(t, events.UINavigationShow)
}

func TestOverlayLifecycle(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main"})

	f.coord.ShowLoadingOverlay()
	require.Len(t, f.doc.ElementsIn("main"), 1)

	// Showing again replaces, not stacks.
	f.coord.ShowLoadingOverlay()
	require.Len(t, f.doc.ElementsIn("main"), 1)

	f.coord.ShowErrorOverlay("load failed")
	els := f.doc.ElementsIn("main")
	require.Len(t, els, 2)

	var sawMessage bool
	for _, el := range els {
		if el.(*memdom.Node).Attr("message") == "load failed" {
			sawMessage = true
		}
	}
	require.True(t, sawMessage)

	f.coord.HideLoadingOverlay()
	f.coord.HideErrorOverlay()
	require.Empty(t, f.doc.ElementsIn("main"))
	f.coord.HideErrorOverlay() // idempotent
}

func TestFrameLifecycleEventsAreNormalized(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main"})
	f.createFrame(t, "main")

	ev := f.next(t, events.FrameReady)
	require.NotZero(t, ev.Timestamp)
	require.Contains(t, ev.Data, "load_time_ms")

	// Normalized events are mirrored onto the bus.
	recs := f.bus.History(events.FrameReady)
	require.Len(t, recs, 1)
}

func TestDefaultShortcutsDispatch(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main", MainFocusID: "editor"})
	f.createFrame(t, "main")

	out := f.coord.input.HandleKeyDown(platform.KeyEvent{Key: "F11"})
	require.True(t, out.Handled)
	require.True(t, out.PreventDefault)
	require.True(t, f.coord.Fullscreen())
	ev := f.next(t, events.UIShortcut)
	require.Equal(t, ActionToggleFullscreen, ev.Data["action"])

	f.coord.input.HandleKeyDown(platform.KeyEvent{Key: "Escape"})
	require.False(t, f.coord.Fullscreen())

	f.coord.input.HandleKeyDown(platform.KeyEvent{Key: "m", Ctrl: true, Shift: true})
	require.Equal(t, "editor", f.doc.FocusedID())
	f.next(t, events.UIFocusMain)
}

func TestCustomActionDispatchesNamedEvent(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main", DisableDefaultShortcuts: true})

	var ran bool
	f.coord.RegisterAction("save_draft",
		input.Shortcut{Key: "s", Ctrl: true},
		func() { ran = true })

	out := f.coord.input.HandleKeyDown(platform.KeyEvent{Key: "s", Ctrl: true})
	require.True(t, out.Handled)
	require.True(t, ran)
	ev := f.next(t, events.UIShortcut)
	require.Equal(t, "save_draft", ev.Data["action"])
}

func TestFocusFrameShortcutTarget(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main"})
	f.createFrame(t, "main")

	f.coord.FocusFrame()
	require.Equal(t, f.frames.Element().ID(), f.doc.FocusedID())
	f.next(t, events.UIFocusFrame)
}

// emitting through the bus still works after Destroy tears input down
func TestDestroyLeavesBusUsable(t *testing.T) {
	f := newFixture(t, Options{ContainerID: "main"})
	f.coord.Destroy()
	require.NoError(t, f.bus.Emit(context.Background(), "post.destroy", nil))
}
