// Package frame owns the embedded frame's document element and its lifecycle
// state machine: destroyed -> loading -> {ready | error}, error -> loading on
// refresh, any state -> destroyed on destroy. Exactly one live frame per
// manager instance.
package frame

import (
	"fmt"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/logger"
	"github.com/annolab/framegate/pkg/platform"
)

const component = "frame"

// Lifecycle event names delivered to registered callbacks.
const (
	EventLoad    = "load"
	EventReady   = "ready"
	EventError   = "error"
	EventDestroy = "destroy"
	EventRefresh = "refresh"
)

// DefaultLoadTimeout bounds one load attempt.
const DefaultLoadTimeout = 30 * time.Second

// DefaultRetryAttempts is the automatic refresh budget on load timeout.
const DefaultRetryAttempts = 3

// Config describes one embedding session. It is immutable: changing the
// target requires destroy + recreate, never in-place mutation.
type Config struct {
	URL         string
	ProjectID   string
	TaskID      string
	UserID      string
	AuthToken   string
	Permissions []string
	Theme       string
	Fullscreen  bool

	LoadTimeout   time.Duration // 0 means DefaultLoadTimeout
	RetryAttempts int           // <0 means DefaultRetryAttempts
	LazyLoading   bool
	ResourceCache bool
}

// FrameID derives the deterministic id for this session:
// "<projectId>-<taskId|default>-<userId>".
func (c Config) FrameID() string {
	task := c.TaskID
	if task == "" {
		task = "default"
	}
	return fmt.Sprintf("%s-%s-%s", c.ProjectID, task, c.UserID)
}

func (c Config) loadTimeout() time.Duration {
	if c.LoadTimeout <= 0 {
		return DefaultLoadTimeout
	}
	return c.LoadTimeout
}

func (c Config) retryAttempts() int {
	if c.RetryAttempts <= 0 {
		return DefaultRetryAttempts
	}
	return c.RetryAttempts
}

// LoadState is mutated only by the manager; read-only to everything else.
type LoadState struct {
	IsLoading     bool               `json:"is_loading"`
	Progress      int                `json:"progress"` // 0-100
	Error         string             `json:"error,omitempty"`
	Status        domain.FrameStatus `json:"status"`
	LoadStartTime time.Time          `json:"load_start_time,omitempty"`
	LoadEndTime   time.Time          `json:"load_end_time,omitempty"`
}

// Callback receives lifecycle events. Callback panics are caught and logged
// per-callback, never propagated.
type Callback func(event string, data map[string]interface{})

// PerfSink is the attachment point for performance monitoring. Sampling for
// a frame id starts when its frame reaches ready and stops on destroy.
type PerfSink interface {
	StartMonitoring(frameID string)
	StopMonitoring(frameID string)
	RecordLoadTime(frameID string, d time.Duration)
	RecordError(frameID string)
}

// Manager drives one embedded frame.
type Manager struct {
	mu sync.Mutex

	doc      platform.Document
	observer platform.VisibilityObserver
	cache    *ResourceCache // nil unless config enables caching
	perf     PerfSink       // optional

	cfg         Config
	containerID string
	frame       platform.FrameElement
	placeholder platform.Element

	state     LoadState
	retries   int
	loadTimer *time.Timer
	created   bool
	lazyArmed bool

	callbacks map[string][]Callback
}

// NewManager creates an idle manager bound to a document. The observer may
// be nil when lazy loading is never used.
func NewManager(doc platform.Document, observer platform.VisibilityObserver) *Manager {
	return &Manager{
		doc:       doc,
		observer:  observer,
		state:     LoadState{Status: domain.FrameDestroyed},
		callbacks: make(map[string][]Callback),
	}
}

// SetResourceCache attaches a shared resource cache, used when the session
// config enables caching.
func (m *Manager) SetResourceCache(c *ResourceCache) {
	m.mu.Lock()
	m.cache = c
	m.mu.Unlock()
}

// SetPerfSink attaches a performance monitor.
func (m *Manager) SetPerfSink(p PerfSink) {
	m.mu.Lock()
	m.perf = p
	m.mu.Unlock()
}

// On registers a lifecycle callback for one event name.
func (m *Manager) On(event string, cb Callback) {
	m.mu.Lock()
	m.callbacks[event] = append(m.callbacks[event], cb)
	m.mu.Unlock()
}

// State returns a copy of the current load state.
func (m *Manager) State() LoadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the number of automatic refreshes performed so far.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Config returns the bound session config. Zero value before Create.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Create binds a session config and starts loading. With lazy loading, a
// self-contained placeholder is inserted and the real frame is created only
// once the container becomes visible. Fails with AlreadyExistsError when a
// frame is already live.
func (m *Manager) Create(cfg Config, containerID string) error {
	m.mu.Lock()
	if m.created {
		id := m.cfg.FrameID()
		m.mu.Unlock()
		return &domain.AlreadyExistsError{Resource: "frame", ID: id}
	}
	m.cfg = cfg
	m.containerID = containerID
	m.created = true
	m.retries = 0
	m.mu.Unlock()

	if cfg.LazyLoading && m.observer != nil {
		return m.armLazy()
	}
	return m.activate()
}

// armLazy inserts the loading placeholder and defers real frame creation
// until the container is visible.
func (m *Manager) armLazy() error {
	ph, err := m.doc.CreateElement(m.containerID, platform.ElementSpec{
		ID:      m.cfg.FrameID() + "-placeholder",
		Visible: true,
		Attrs:   map[string]string{"role": "status", "label": "Loading annotation tool"},
	})
	if err != nil {
		return fmt.Errorf("create placeholder: %w", err)
	}

	m.mu.Lock()
	m.placeholder = ph
	m.lazyArmed = true
	m.mu.Unlock()

	m.observer.Observe(m.containerID, func() {
		m.mu.Lock()
		if !m.lazyArmed || !m.created {
			m.mu.Unlock()
			return
		}
		m.lazyArmed = false
		ph := m.placeholder
		m.placeholder = nil
		m.mu.Unlock()

		if ph != nil {
			m.doc.Remove(ph.ID())
		}
		if err := m.activate(); err != nil {
			logger.ErrorCF(component, "lazy activation failed", map[string]interface{}{
				"frame": m.cfg.FrameID(),
				"error": err.Error(),
			})
		}
	})
	logger.DebugCF(component, "lazy activation armed", map[string]interface{}{"frame": m.cfg.FrameID()})
	return nil
}

// activate creates the real frame element and begins the load cycle.
func (m *Manager) activate() error {
	m.mu.Lock()
	cfg := m.cfg
	cached := false
	if cfg.ResourceCache && m.cache != nil {
		cached = m.cache.Has(cfg.URL)
	}
	m.mu.Unlock()

	attrs := map[string]string{"theme": cfg.Theme}
	if cached {
		attrs["cached"] = "true"
	}
	el, err := m.doc.CreateFrame(m.containerID, platform.FrameSpec{
		URL:   cfg.URL,
		Title: "annotation-tool",
		Attrs: attrs,
	})
	if err != nil {
		return fmt.Errorf("create frame: %w", err)
	}

	m.mu.Lock()
	m.frame = el
	m.beginLoadLocked()
	m.mu.Unlock()

	m.emit(EventLoad, map[string]interface{}{"url": cfg.URL, "cached": cached})
	return nil
}

// beginLoadLocked resets load state and arms the timeout timer.
func (m *Manager) beginLoadLocked() {
	m.state = LoadState{
		IsLoading:     true,
		Status:        domain.FrameLoading,
		LoadStartTime: time.Now().UTC(),
	}
	if m.loadTimer != nil {
		m.loadTimer.Stop()
	}
	m.loadTimer = time.AfterFunc(m.cfg.loadTimeout(), m.onLoadTimeout)
}

// onLoadTimeout fires when a load attempt exceeded its budgeted time.
// Within the retry budget the frame is refreshed; past it the manager
// transitions to a terminal error.
func (m *Manager) onLoadTimeout() {
	m.mu.Lock()
	if !m.created || m.state.Status != domain.FrameLoading {
		m.mu.Unlock()
		return
	}
	budget := m.cfg.retryAttempts()
	if m.retries < budget {
		m.retries++
		retry := m.retries
		m.mu.Unlock()

		logger.WarnCF(component, "load timed out, refreshing", map[string]interface{}{
			"frame": m.cfg.FrameID(), "attempt": retry, "budget": budget,
		})
		if err := m.Refresh(); err != nil {
			logger.ErrorCF(component, "automatic refresh failed", map[string]interface{}{
				"frame": m.cfg.FrameID(), "error": err.Error(),
			})
		}
		return
	}

	terr := &domain.TimeoutError{Op: "frame load", Retries: budget}
	m.state.IsLoading = false
	m.state.Status = domain.FrameError
	m.state.Error = terr.Error()
	perf := m.perf
	frameID := m.cfg.FrameID()
	m.mu.Unlock()

	if perf != nil {
		perf.RecordError(frameID)
	}
	m.emit(EventError, map[string]interface{}{
		"error":    terr.Error(),
		"retries":  budget,
		"terminal": true,
	})
}

// HandleLoaded is called by the platform adapter when the frame's load event
// fires. Clears the timeout, transitions to ready, and starts performance
// sampling when a monitor is attached.
func (m *Manager) HandleLoaded() {
	m.mu.Lock()
	if !m.created || m.state.Status != domain.FrameLoading {
		m.mu.Unlock()
		return
	}
	if m.loadTimer != nil {
		m.loadTimer.Stop()
		m.loadTimer = nil
	}
	now := time.Now().UTC()
	m.state.IsLoading = false
	m.state.Progress = 100
	m.state.Status = domain.FrameReady
	m.state.LoadEndTime = now
	loadTime := now.Sub(m.state.LoadStartTime)
	cfg := m.cfg
	if cfg.ResourceCache && m.cache != nil {
		m.cache.Put(cfg.URL)
	}
	perf := m.perf
	m.mu.Unlock()

	if perf != nil {
		perf.StartMonitoring(cfg.FrameID())
		perf.RecordLoadTime(cfg.FrameID(), loadTime)
	}
	m.emit(EventReady, map[string]interface{}{"load_time_ms": loadTime.Milliseconds()})
}

// HandleLoadProgress records partial load progress (0-100).
func (m *Manager) HandleLoadProgress(progress int) {
	m.mu.Lock()
	if m.state.Status == domain.FrameLoading {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		m.state.Progress = progress
	}
	m.mu.Unlock()
}

// HandleLoadError records a load failure reported by the platform adapter.
// It counts against the same retry budget as a timeout.
func (m *Manager) HandleLoadError(msg string) {
	m.mu.Lock()
	if !m.created || m.state.Status != domain.FrameLoading {
		m.mu.Unlock()
		return
	}
	m.state.Error = msg
	m.mu.Unlock()
	m.onLoadTimeout()
}

// Refresh re-triggers the load cycle. Only valid when a frame exists.
func (m *Manager) Refresh() error {
	m.mu.Lock()
	if !m.created || m.frame == nil {
		m.mu.Unlock()
		return fmt.Errorf("refresh: no live frame")
	}
	m.frame.SetSource(m.cfg.URL)
	m.beginLoadLocked()
	m.mu.Unlock()

	m.emit(EventRefresh, map[string]interface{}{"url": m.cfg.URL})
	return nil
}

// Destroy tears the frame down: timers cleared, lazy observation cancelled,
// elements removed, state reset. Idempotent.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if !m.created {
		m.mu.Unlock()
		return
	}
	m.created = false
	m.lazyArmed = false
	if m.loadTimer != nil {
		m.loadTimer.Stop()
		m.loadTimer = nil
	}
	frame := m.frame
	ph := m.placeholder
	m.frame = nil
	m.placeholder = nil
	cfg := m.cfg
	container := m.containerID
	m.state = LoadState{Status: domain.FrameDestroyed}
	perf := m.perf
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.Unobserve(container)
	}
	if ph != nil {
		m.doc.Remove(ph.ID())
	}
	if frame != nil {
		m.doc.Remove(frame.ID())
	}
	if perf != nil {
		perf.StopMonitoring(cfg.FrameID())
	}
	m.emit(EventDestroy, map[string]interface{}{"frame": cfg.FrameID()})
}

// Element exposes the live frame element to the UI coordinator. Nil when no
// frame is live. Ownership stays with the manager.
func (m *Manager) Element() platform.FrameElement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// emit delivers one lifecycle event to registered callbacks, containing
// per-callback panics.
func (m *Manager) emit(event string, data map[string]interface{}) {
	m.mu.Lock()
	cbs := append([]Callback(nil), m.callbacks[event]...)
	m.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorCF(component, "lifecycle callback panicked", map[string]interface{}{
						"event": event,
						"panic": fmt.Sprint(r),
					})
				}
			}()
			cb(event, data)
		}()
	}
}
