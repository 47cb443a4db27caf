// Package events defines the event-name contract for the framegate runtime.
// Every event flowing through the bus, the bridge, or the UI coordinator MUST
// use one of these names. No ad-hoc event strings.
package events

// --- Annotation progress events (host-side, emitted by the tracker) ---

const (
	AnnotationStarted   = "annotation.started"
	AnnotationUpdated   = "annotation.updated"
	AnnotationProgress  = "annotation.progress"
	AnnotationCompleted = "annotation.completed"
	AnnotationSaved     = "annotation.saved"
	AnnotationError     = "annotation.error"
	AnnotationCancelled = "annotation.cancelled"
)

// --- Cross-boundary annotation events (inbound from the embedded frame) ---
//
// The embedded tool reports progress with these names; the bridge republishes
// validated payloads on the bus and the tracker ingests them, so host-side
// state follows the frame without polling.

const (
	FrameAnnotationStarted   = "iframe:annotation:started"
	FrameAnnotationUpdated   = "iframe:annotation:updated"
	FrameAnnotationCompleted = "iframe:annotation:completed"
	FrameAnnotationSaved     = "iframe:annotation:saved"
	FrameAnnotationError     = "iframe:annotation:error"
	FrameAnnotationCancelled = "iframe:annotation:cancelled"
)

// --- Frame lifecycle events ---

const (
	FrameLoad    = "frame.load"
	FrameReady   = "frame.ready"
	FrameError   = "frame.error"
	FrameDestroy = "frame.destroy"
	FrameRefresh = "frame.refresh"
)

// --- Performance monitoring events ---

const (
	PerfSample = "perf.sample"
	PerfAlert  = "perf.alert"
)

// --- UI coordination events ---

const (
	UIFullscreenEnter = "ui.fullscreen.enter"
	UIFullscreenExit  = "ui.fullscreen.exit"
	UINavigationShow  = "ui.navigation.show"
	UINavigationHide  = "ui.navigation.hide"
	UIResize          = "ui.resize"
	UIFocusFrame      = "ui.focus.frame"
	UIFocusMain       = "ui.focus.main"
	UIShortcut        = "ui.shortcut"
)

// --- Bus-internal events ---

// BusError carries a HandlerError whenever a subscriber throws during
// dispatch. Errors from BusError handlers themselves are logged, not
// re-emitted, so a failing error handler cannot recurse.
const BusError = "error"
