// Package app assembles the runtime. It is the composition root: every
// component is constructed explicitly and injected, never reached through
// module-level state, so embedders and tests can wire partial or alternate
// graphs.
package app

import (
	"github.com/annolab/framegate/pkg/bridge"
	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/config"
	"github.com/annolab/framegate/pkg/frame"
	"github.com/annolab/framegate/pkg/input"
	"github.com/annolab/framegate/pkg/perf"
	"github.com/annolab/framegate/pkg/permission"
	"github.com/annolab/framegate/pkg/platform"
	"github.com/annolab/framegate/pkg/progress"
	"github.com/annolab/framegate/pkg/syncengine"
	"github.com/annolab/framegate/pkg/ui"
)

// ---------------------------------------------------------------------------
// Application container — dependency injection root
// ---------------------------------------------------------------------------

// Container holds the fully wired runtime.
type Container struct {
	Config *config.Config

	Bus     *bus.EventBus
	Tracker *progress.Tracker
	Frames  *frame.Manager
	Perf    *perf.Monitor
	Input   *input.Coordinator
	UI      *ui.Coordinator
	Permiss *permission.Evaluator
	Bridge  *bridge.Bridge     // nil until AttachBridge
	Sync    *syncengine.Engine // nil until AttachSync
}

// UIOptions re-exports the UI coordinator options for wiring calls.
type UIOptions = ui.Options

// New wires a container over a platform document. The observer usually is
// the document itself (memdom) or a platform adapter's observer.
func New(cfg *config.Config, doc platform.Document, observer platform.VisibilityObserver, uiOpts UIOptions) *Container {
	if cfg == nil {
		cfg = config.Default()
	}

	eventBus := bus.New(bus.Options{
		MaxHistory:       cfg.Bus.MaxHistory,
		Async:            cfg.Bus.Async,
		PriorityOrdering: cfg.Bus.PriorityOrdering,
	})
	tracker := progress.New(eventBus)

	monitor := perf.NewMonitor(perf.Options{
		SampleInterval: cfg.Perf.SampleInterval,
		MaxHistory:     cfg.Perf.MaxHistory,
		Thresholds: perf.Thresholds{
			LoadTimeMS:   cfg.Perf.LoadTimeThresholdMS,
			MemoryMB:     cfg.Perf.MemoryThresholdMB,
			CPUPct:       cfg.Perf.CPUThresholdPct,
			ErrorRatePct: cfg.Perf.ErrorRateThreshold,
		},
	}, nil)

	frames := frame.NewManager(doc, observer)
	frames.SetPerfSink(monitor)
	if cfg.Frame.ResourceCache {
		frames.SetResourceCache(frame.NewResourceCache(0, 0))
	}

	inCoord := input.NewCoordinator(doc, input.Options{
		RootContainerID:   uiOpts.ContainerID,
		SequenceTimeout:   cfg.Input.SequenceTimeout,
		FocusPollInterval: cfg.Input.FocusPollInterval,
	})

	uiCoord := ui.New(doc, eventBus, frames, inCoord, uiOpts)

	return &Container{
		Config:  cfg,
		Bus:     eventBus,
		Tracker: tracker,
		Frames:  frames,
		Perf:    monitor,
		Input:   inCoord,
		UI:      uiCoord,
		Permiss: permission.NewEvaluator(true),
	}
}

// AttachBridge binds a cross-boundary transport. Validated inbound events
// republish on the container's bus, where the tracker already listens for
// iframe:annotation:* traffic.
func (c *Container) AttachBridge(transport bridge.Transport) *bridge.Bridge {
	c.Bridge = bridge.New(transport, c.Bus, bridge.Options{
		AllowedOrigins: c.Config.Bridge.AllowedOrigins,
		MessageTimeout: c.Config.Bridge.MessageTimeout,
		MaxRetries:     c.Config.Bridge.MaxRetries,
		RetryBackoff:   c.Config.Bridge.RetryBackoff,
	})
	return c.Bridge
}

// AttachSync opens the offline queue and binds it to the remote. The
// returned engine is also kept on the container.
func (c *Container) AttachSync(remote syncengine.Remote) (*syncengine.Engine, error) {
	store, err := syncengine.OpenSQLiteStore(c.Config.Sync.DBPath)
	if err != nil {
		return nil, err
	}
	engine, err := syncengine.New(store, remote, syncengine.Options{
		BatchSize:    c.Config.Sync.BatchSize,
		MaxRetries:   c.Config.Sync.MaxRetries,
		RetryBackoff: c.Config.Sync.RetryBackoff,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	c.Sync = engine
	return engine, nil
}

// SetPermissions replaces the evaluator, typically from the embedding
// session's declared permission set.
func (c *Container) SetPermissions(strict bool, declarations []string) {
	c.Permiss = permission.FromDeclarations(strict, declarations)
}

// Destroy tears the runtime down in dependency order.
func (c *Container) Destroy() {
	c.UI.Destroy()
	c.Frames.Destroy()
	c.Perf.Destroy()
	c.Tracker.Destroy()
	if c.Bridge != nil {
		c.Bridge.Close()
	}
	if c.Sync != nil {
		c.Sync.Close()
	}
}
