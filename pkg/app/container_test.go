package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/annolab/framegate/pkg/bridge"
	"github.com/annolab/framegate/pkg/config"
	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/events"
	"github.com/annolab/framegate/pkg/frame"
	"github.com/annolab/framegate/pkg/platform"
	"github.com/annolab/framegate/pkg/platform/memdom"
)

// nullTransport satisfies bridge.Transport for inbound-only tests.
type nullTransport struct{}

func (nullTransport) Send(context.Context, []byte) error { return nil }
func (nullTransport) Close() error                       { return nil }

func newContainer(t *testing.T) (*Container, *memdom.Document) {
	t.Helper()
	doc := memdom.New()
	cfg := config.Default()
	cfg.Bridge.AllowedOrigins = []string{"https://tool.annolab.io"}
	cfg.Frame.ResourceCache = true

	c := New(cfg, doc, doc, UIOptions{ContainerID: "main"})
	t.Cleanup(c.Destroy)
	return c, doc
}

func TestContainerWiresAllComponents(t *testing.T) {
	c, _ := newContainer(t)
	require.NotNil(t, c.Bus)
	require.NotNil(t, c.Tracker)
	require.NotNil(t, c.Frames)
	require.NotNil(t, c.Perf)
	require.NotNil(t, c.Input)
	require.NotNil(t, c.UI)
	require.NotNil(t, c.Permiss)
	require.Nil(t, c.Bridge)
	require.Nil(t, c.Sync)
}

func TestNilConfigFallsBackToDefaults(t *testing.T) {
	doc := memdom.New()
	c := New(nil, doc, doc, UIOptions{ContainerID: "main"})
	defer c.Destroy()
	require.Equal(t, config.Default().Bus.MaxHistory, c.Config.Bus.MaxHistory)
}

// End to end: a raw frame envelope arrives on the bridge, passes origin and
// structural validation, republishes on the bus, and the tracker updates
// host-side state without any polling.
func TestInboundFrameTrafficReachesTracker(t *testing.T) {
	c, _ := newContainer(t)
	b := c.AttachBridge(nullTransport{})

	started, _ := json.Marshal(bridge.Message{
		ID:        "m1",
		Type:      events.FrameAnnotationStarted,
		Timestamp: time.Now().UnixMilli(),
		Source:    bridge.SourceFrame,
		Payload: map[string]interface{}{
			"taskId":    "t1",
			"userId":    "u1",
			"projectId": "p1",
			"timestamp": float64(time.Now().UnixMilli()),
		},
	})
	b.HandleInbound("https://tool.annolab.io", started)

	updated, _ := json.Marshal(bridge.Message{
		ID:        "m2",
		Type:      events.FrameAnnotationUpdated,
		Timestamp: time.Now().UnixMilli(),
		Source:    bridge.SourceFrame,
		Payload: map[string]interface{}{
			"taskId":    "t1",
			"userId":    "u1",
			"projectId": "p1",
			"timestamp": float64(time.Now().UnixMilli()),
			"progress": map[string]interface{}{
				"totalItems":     float64(10),
				"completedItems": float64(4),
			},
		},
	})
	b.HandleInbound("https://tool.annolab.io", updated)

	state, ok := c.Tracker.State("t1")
	require.True(t, ok)
	require.Equal(t, domain.TaskInProgress, state.Status)
	require.Equal(t, 40, state.Progress.Percentage)

	// Disallowed origin never reaches the tracker.
	rogue, _ := json.Marshal(bridge.Message{
		ID: "m3", Type: events.FrameAnnotationCompleted,
		Timestamp: time.Now().UnixMilli(),
		Payload: map[string]interface{}{
			"taskId": "t1", "userId": "u1", "projectId": "p1",
			"timestamp": float64(time.Now().UnixMilli()),
		},
	})
	b.HandleInbound("https://evil.example.com", rogue)
	state, _ = c.Tracker.State("t1")
	require.NotEqual(t, domain.TaskCompleted, state.Status)
}

func TestFrameLifecycleFeedsPerfMonitor(t *testing.T) {
	c, _ := newContainer(t)

	require.NoError(t, c.Frames.Create(frame.Config{
		URL:       "https://tool.annolab.io/annotate",
		ProjectID: "p1",
		TaskID:    "t1",
		UserID:    "u1",
	}, "main"))
	c.Frames.HandleLoaded()

	frameID := c.Frames.Config().FrameID()
	require.NotNil(t, c.Perf.GenerateReport(frameID), "ready frame starts monitoring")
}

// A slow load must cross the configured load-time threshold through the
// wired container, not only when the monitor is driven directly.
func TestSlowLoadRaisesLoadTimeAlert(t *testing.T) {
	doc := memdom.New()
	cfg := config.Default()
	cfg.Perf.LoadTimeThresholdMS = 1

	c := New(cfg, doc, doc, UIOptions{ContainerID: "main"})
	defer c.Destroy()

	require.NoError(t, c.Frames.Create(frame.Config{
		URL:       "https://tool.annolab.io/annotate",
		ProjectID: "p1",
		TaskID:    "t1",
		UserID:    "u1",
	}, "main"))
	time.Sleep(20 * time.Millisecond)
	c.Frames.HandleLoaded()

	frameID := c.Frames.Config().FrameID()
	require.NotNil(t, c.Perf.GenerateReport(frameID))

	// The threshold check runs as soon as the load time is recorded, before
	// the first sampling tick.
	alerts := c.Perf.Alerts(frameID)
	require.NotEmpty(t, alerts)
	var sawLoadTime bool
	for _, a := range alerts {
		if a.Type == "load_time" {
			sawLoadTime = true
			require.Greater(t, a.Value, a.Threshold)
		}
	}
	require.True(t, sawLoadTime)
}

func TestDefaultShortcutTogglesFullscreen(t *testing.T) {
	c, _ := newContainer(t)
	require.NoError(t, c.Frames.Create(frame.Config{
		URL: "https://tool.annolab.io/annotate", ProjectID: "p1", UserID: "u1",
	}, "main"))
	c.Frames.HandleLoaded()

	c.Input.HandleKeyDown(platform.KeyEvent{Key: "F11"})
	require.True(t, c.UI.Fullscreen())
	c.Input.HandleKeyDown(platform.KeyEvent{Key: "Escape"})
	require.False(t, c.UI.Fullscreen())
}

func TestSetPermissionsBindsDeclarations(t *testing.T) {
	c, _ := newContainer(t)

	require.False(t, c.Permiss.Check("annotation.write", "task:t1"), "strict default denies")
	c.SetPermissions(true, []string{"annotation.write:task:t1"})
	require.True(t, c.Permiss.Check("annotation.write", "task:t1"))
	require.False(t, c.Permiss.Check("annotation.write", "task:t2"))
}
