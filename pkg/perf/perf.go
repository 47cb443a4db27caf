// Package perf samples embedded-frame health on a fixed interval and raises
// threshold alerts. Every frame id is tracked independently: histories,
// counters and timers for one frame never interfere with another's.
//
// Memory and CPU figures are best-effort approximations of the embedding
// runtime, not exact measurements; a source that cannot provide a metric
// reports 0 for it.
package perf

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/logger"
)

const component = "perf"

// DefaultSampleInterval is the sampling period when none is configured.
const DefaultSampleInterval = time.Second

// DefaultMaxHistory bounds per-frame sample and alert histories.
const DefaultMaxHistory = 100

// Alert type names.
const (
	AlertLoadTime  = "load_time"
	AlertMemory    = "memory"
	AlertCPU       = "cpu"
	AlertErrorRate = "error_rate"
)

// Critical-severity multipliers per metric: a value this far past the
// threshold escalates from warning to critical.
const (
	loadTimeCriticalFactor  = 1.5
	memoryCriticalFactor    = 1.25
	cpuCriticalFactor       = 1.2
	errorRateCriticalFactor = 1.5
)

// Sample is one point-in-time health reading for a frame.
type Sample struct {
	LoadTimeMS      float64   `json:"load_time_ms"`
	MemoryMB        float64   `json:"memory_mb"`
	CPUPct          float64   `json:"cpu_pct"`
	NetworkRequests int       `json:"network_requests"`
	ErrorCount      int       `json:"error_count"`
	Timestamp       time.Time `json:"timestamp"`
}

// Alert is a threshold crossing. It is a monitoring signal, never an error.
type Alert struct {
	Type      string          `json:"type"`
	Severity  domain.Severity `json:"severity"`
	Message   string          `json:"message"`
	Value     float64         `json:"value"`
	Threshold float64         `json:"threshold"`
	Timestamp time.Time       `json:"timestamp"`
	FrameID   string          `json:"frame_id"`
}

// Thresholds configure the alerting bounds. Zero disables a check.
type Thresholds struct {
	LoadTimeMS   float64
	MemoryMB     float64
	CPUPct       float64
	ErrorRatePct float64
}

// Options configure a monitor.
type Options struct {
	SampleInterval time.Duration
	MaxHistory     int
	Thresholds     Thresholds
}

// MetricsSource supplies best-effort runtime metrics.
type MetricsSource interface {
	// MemoryMB returns approximate heap usage in megabytes, 0 if unsupported.
	MemoryMB() float64
	// CPUPct returns an approximate CPU utilization percentage, 0 if unsupported.
	CPUPct() float64
}

// RuntimeSource reads the Go runtime's heap as the memory approximation.
// CPU utilization is unsupported and reads 0.
type RuntimeSource struct{}

func (RuntimeSource) MemoryMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1024 * 1024)
}

func (RuntimeSource) CPUPct() float64 { return 0 }

// track is per-frame monitoring state.
type track struct {
	samples         []Sample
	alerts          []Alert
	errorCount      int
	networkRequests int
	loadTimeMS      float64
	startTime       time.Time
	stop            chan struct{}
	running         bool
}

// Monitor watches any number of frames concurrently.
type Monitor struct {
	mu      sync.Mutex
	frames  map[string]*track
	opts    Options
	source  MetricsSource
	alertFn func(Alert)
}

// NewMonitor creates a monitor. A nil source defaults to RuntimeSource.
func NewMonitor(opts Options, source MetricsSource) *Monitor {
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = DefaultSampleInterval
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if source == nil {
		source = RuntimeSource{}
	}
	return &Monitor{
		frames: make(map[string]*track),
		opts:   opts,
		source: source,
	}
}

// SetAlertCallback registers the alert delivery callback. Alerts are also
// retained in the per-frame history regardless.
func (m *Monitor) SetAlertCallback(fn func(Alert)) {
	m.mu.Lock()
	m.alertFn = fn
	m.mu.Unlock()
}

// StartMonitoring begins periodic sampling for a frame id. Starting an
// already-monitored id is a no-op.
func (m *Monitor) StartMonitoring(frameID string) {
	m.mu.Lock()
	tr, ok := m.frames[frameID]
	if !ok {
		tr = &track{startTime: time.Now().UTC()}
		m.frames[frameID] = tr
	}
	if tr.running {
		m.mu.Unlock()
		return
	}
	tr.running = true
	tr.stop = make(chan struct{})
	stop := tr.stop
	m.mu.Unlock()

	logger.DebugCF(component, "monitoring started", map[string]interface{}{"frame": frameID})
	go m.sampleLoop(frameID, stop)
}

func (m *Monitor) sampleLoop(frameID string, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.sampleOnce(frameID)
		}
	}
}

// sampleOnce collects one sample and runs the threshold checks.
func (m *Monitor) sampleOnce(frameID string) {
	memory := m.source.MemoryMB()
	cpu := m.source.CPUPct()

	m.mu.Lock()
	tr, ok := m.frames[frameID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s := Sample{
		LoadTimeMS:      tr.loadTimeMS,
		MemoryMB:        memory,
		CPUPct:          cpu,
		NetworkRequests: tr.networkRequests,
		ErrorCount:      tr.errorCount,
		Timestamp:       time.Now().UTC(),
	}
	tr.samples = append(tr.samples, s)
	if over := len(tr.samples) - m.opts.MaxHistory; over > 0 {
		tr.samples = append(tr.samples[:0:0], tr.samples[over:]...)
	}
	alerts := m.checkThresholdsLocked(frameID, tr, s)
	fn := m.alertFn
	m.mu.Unlock()

	m.deliver(fn, alerts)
}

// RecordLoadTime stores the measured load time for a frame and checks its
// threshold immediately.
func (m *Monitor) RecordLoadTime(frameID string, loadTime time.Duration) {
	ms := float64(loadTime.Milliseconds())

	m.mu.Lock()
	tr := m.ensureLocked(frameID)
	tr.loadTimeMS = ms
	var alerts []Alert
	if a, ok := m.evalLocked(frameID, tr, AlertLoadTime, ms, m.opts.Thresholds.LoadTimeMS, loadTimeCriticalFactor); ok {
		alerts = append(alerts, a)
	}
	fn := m.alertFn
	m.mu.Unlock()

	m.deliver(fn, alerts)
}

// RecordNetworkRequest counts one network request attributed to a frame.
func (m *Monitor) RecordNetworkRequest(frameID string) {
	m.mu.Lock()
	m.ensureLocked(frameID).networkRequests++
	m.mu.Unlock()
}

// RecordError counts one frame error and re-checks the error-rate threshold
// immediately, without waiting for the next sample.
func (m *Monitor) RecordError(frameID string) {
	m.mu.Lock()
	tr := m.ensureLocked(frameID)
	tr.errorCount++
	var alerts []Alert
	if rate, ok := errorRate(tr); ok {
		if a, ok := m.evalLocked(frameID, tr, AlertErrorRate, rate, m.opts.Thresholds.ErrorRatePct, errorRateCriticalFactor); ok {
			alerts = append(alerts, a)
		}
	}
	fn := m.alertFn
	m.mu.Unlock()

	m.deliver(fn, alerts)
}

// ensureLocked creates tracking state on first touch so that errors and
// requests recorded before StartMonitoring are not lost.
func (m *Monitor) ensureLocked(frameID string) *track {
	tr, ok := m.frames[frameID]
	if !ok {
		tr = &track{startTime: time.Now().UTC()}
		m.frames[frameID] = tr
	}
	return tr
}

// errorRate is errorCount/sampleCount*100; undefined before the first sample.
func errorRate(tr *track) (float64, bool) {
	if len(tr.samples) == 0 {
		return 0, false
	}
	return float64(tr.errorCount) / float64(len(tr.samples)) * 100, true
}

// checkThresholdsLocked evaluates every configured bound against one sample.
func (m *Monitor) checkThresholdsLocked(frameID string, tr *track, s Sample) []Alert {
	var alerts []Alert
	th := m.opts.Thresholds
	if a, ok := m.evalLocked(frameID, tr, AlertLoadTime, s.LoadTimeMS, th.LoadTimeMS, loadTimeCriticalFactor); ok {
		alerts = append(alerts, a)
	}
	if a, ok := m.evalLocked(frameID, tr, AlertMemory, s.MemoryMB, th.MemoryMB, memoryCriticalFactor); ok {
		alerts = append(alerts, a)
	}
	if a, ok := m.evalLocked(frameID, tr, AlertCPU, s.CPUPct, th.CPUPct, cpuCriticalFactor); ok {
		alerts = append(alerts, a)
	}
	if rate, ok := errorRate(tr); ok {
		if a, ok := m.evalLocked(frameID, tr, AlertErrorRate, rate, th.ErrorRatePct, errorRateCriticalFactor); ok {
			alerts = append(alerts, a)
		}
	}
	return alerts
}

// evalLocked produces an alert when value crosses threshold. A zero
// threshold disables the check.
func (m *Monitor) evalLocked(frameID string, tr *track, alertType string, value, threshold, criticalFactor float64) (Alert, bool) {
	if threshold <= 0 || value <= threshold {
		return Alert{}, false
	}
	severity := domain.SeverityWarning
	if value >= threshold*criticalFactor {
		severity = domain.SeverityCritical
	}
	a := Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   fmt.Sprintf("%s %.1f exceeds threshold %.1f", alertType, value, threshold),
		Value:     value,
		Threshold: threshold,
		Timestamp: time.Now().UTC(),
		FrameID:   frameID,
	}
	tr.alerts = append(tr.alerts, a)
	if over := len(tr.alerts) - m.opts.MaxHistory; over > 0 {
		tr.alerts = append(tr.alerts[:0:0], tr.alerts[over:]...)
	}
	return a, true
}

func (m *Monitor) deliver(fn func(Alert), alerts []Alert) {
	if fn == nil {
		return
	}
	for _, a := range alerts {
		fn(a)
	}
}

// Samples returns a copy of the retained samples for a frame.
func (m *Monitor) Samples(frameID string) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.frames[frameID]
	if !ok {
		return nil
	}
	return append([]Sample(nil), tr.samples...)
}

// Alerts returns a copy of the retained alerts for a frame.
func (m *Monitor) Alerts(frameID string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.frames[frameID]
	if !ok {
		return nil
	}
	return append([]Alert(nil), tr.alerts...)
}

// Report aggregates the full retained history for one frame.
type Report struct {
	FrameID              string        `json:"frame_id"`
	Uptime               time.Duration `json:"uptime"`
	SampleCount          int           `json:"sample_count"`
	AvgLoadTimeMS        float64       `json:"avg_load_time_ms"`
	AvgMemoryMB          float64       `json:"avg_memory_mb"`
	AvgCPUPct            float64       `json:"avg_cpu_pct"`
	TotalNetworkRequests int           `json:"total_network_requests"`
	ErrorCount           int           `json:"error_count"`
	ErrorRatePct         float64       `json:"error_rate_pct"`
	Alerts               []Alert       `json:"alerts"`
}

// GenerateReport aggregates averages over the retained history. Returns nil
// for a frame id that was never tracked.
func (m *Monitor) GenerateReport(frameID string) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.frames[frameID]
	if !ok {
		return nil
	}
	r := &Report{
		FrameID:              frameID,
		Uptime:               time.Since(tr.startTime),
		SampleCount:          len(tr.samples),
		TotalNetworkRequests: tr.networkRequests,
		ErrorCount:           tr.errorCount,
		Alerts:               append([]Alert(nil), tr.alerts...),
	}
	if len(tr.samples) > 0 {
		var load, mem, cpu float64
		for _, s := range tr.samples {
			load += s.LoadTimeMS
			mem += s.MemoryMB
			cpu += s.CPUPct
		}
		n := float64(len(tr.samples))
		r.AvgLoadTimeMS = load / n
		r.AvgMemoryMB = mem / n
		r.AvgCPUPct = cpu / n
		r.ErrorRatePct = float64(tr.errorCount) / n * 100
	}
	return r
}

// StopMonitoring halts sampling for one frame id only. History is retained
// for reporting; other frames are unaffected.
func (m *Monitor) StopMonitoring(frameID string) {
	m.mu.Lock()
	tr, ok := m.frames[frameID]
	if ok && tr.running {
		tr.running = false
		close(tr.stop)
	}
	m.mu.Unlock()
}

// Destroy stops all sampling and drops all tracked state.
func (m *Monitor) Destroy() {
	m.mu.Lock()
	for _, tr := range m.frames {
		if tr.running {
			tr.running = false
			close(tr.stop)
		}
	}
	m.frames = make(map[string]*track)
	m.mu.Unlock()
}
