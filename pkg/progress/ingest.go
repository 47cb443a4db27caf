package progress

import (
	"context"
	"errors"
	"time"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/events"
	"github.com/annolab/framegate/pkg/logger"
)

// FramePayload is the validated shape of one cross-boundary annotation
// event. The embedded frame is an untrusted context: inbound data is parsed
// through ParseFramePayload before any domain method runs, and malformed
// payloads are dropped, never dispatched.
type FramePayload struct {
	TaskID    string
	UserID    string
	ProjectID string
	Timestamp time.Time

	Metadata    map[string]interface{}
	Annotation  *AnnotationRecord
	Annotations []AnnotationRecord
	Progress    *ProgressUpdate
	Message     string
	Recoverable bool
	Reason      string
}

// ParseFramePayload validates an inbound cross-boundary payload. This is the
// validation contract of the security boundary, not an implementation
// detail: taskId, userId, projectId and timestamp must all be present and
// well-typed, or the payload is rejected.
func ParseFramePayload(data interface{}) (*FramePayload, error) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil, &domain.ValidationError{Reason: "payload is not an object"}
	}

	p := &FramePayload{}
	for _, field := range []struct {
		key string
		dst *string
	}{
		{"taskId", &p.TaskID},
		{"userId", &p.UserID},
		{"projectId", &p.ProjectID},
	} {
		v, ok := m[field.key].(string)
		if !ok || v == "" {
			return nil, &domain.ValidationError{Reason: "missing or empty " + field.key}
		}
		*field.dst = v
	}

	switch ts := m["timestamp"].(type) {
	case float64:
		p.Timestamp = time.UnixMilli(int64(ts)).UTC()
	case int64:
		p.Timestamp = time.UnixMilli(ts).UTC()
	case string:
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, &domain.ValidationError{Reason: "unparseable timestamp"}
		}
		p.Timestamp = t.UTC()
	default:
		return nil, &domain.ValidationError{Reason: "missing timestamp"}
	}

	if md, ok := m["metadata"].(map[string]interface{}); ok {
		p.Metadata = md
	}
	if ann, ok := m["annotation"].(map[string]interface{}); ok {
		p.Annotation = parseAnnotation(ann)
	}
	if list, ok := m["annotations"].([]interface{}); ok {
		for _, item := range list {
			if ann, ok := item.(map[string]interface{}); ok {
				if rec := parseAnnotation(ann); rec != nil {
					p.Annotations = append(p.Annotations, *rec)
				}
			}
		}
	}
	if prog, ok := m["progress"].(map[string]interface{}); ok {
		p.Progress = parseProgress(prog)
	}
	if msg, ok := m["error"].(string); ok {
		p.Message = msg
	}
	if rec, ok := m["recoverable"].(bool); ok {
		p.Recoverable = rec
	} else {
		p.Recoverable = true
	}
	if reason, ok := m["reason"].(string); ok {
		p.Reason = reason
	}
	return p, nil
}

func parseAnnotation(m map[string]interface{}) *AnnotationRecord {
	id, ok := m["id"].(string)
	if !ok || id == "" {
		return nil
	}
	rec := &AnnotationRecord{ID: id}
	if kind, ok := m["kind"].(string); ok {
		rec.Kind = kind
	}
	if data, ok := m["data"].(map[string]interface{}); ok {
		rec.Data = data
	}
	return rec
}

func parseProgress(m map[string]interface{}) *ProgressUpdate {
	p := &ProgressUpdate{}
	if v, ok := m["totalItems"].(float64); ok {
		n := int(v)
		p.TotalItems = &n
	}
	if v, ok := m["completedItems"].(float64); ok {
		n := int(v)
		p.CompletedItems = &n
	}
	if v, ok := m["currentItem"].(string); ok {
		p.CurrentItem = &v
	}
	return p
}

// registerIngestion subscribes the tracker to the iframe:annotation:* bus
// events republished by the bridge.
func (t *Tracker) registerIngestion() {
	route := map[string]func(ctx context.Context, p *FramePayload) error{
		events.FrameAnnotationStarted: func(ctx context.Context, p *FramePayload) error {
			return t.Start(ctx, p.TaskID, p.Metadata)
		},
		events.FrameAnnotationUpdated: func(ctx context.Context, p *FramePayload) error {
			return t.Update(ctx, p.TaskID, p.Annotation, p.Progress)
		},
		events.FrameAnnotationSaved: func(ctx context.Context, p *FramePayload) error {
			if p.Annotation == nil {
				return &domain.ValidationError{Reason: "save without annotation"}
			}
			return t.Save(ctx, p.TaskID, *p.Annotation)
		},
		events.FrameAnnotationCompleted: func(ctx context.Context, p *FramePayload) error {
			return t.Complete(ctx, p.TaskID, p.Annotations)
		},
		events.FrameAnnotationError: func(ctx context.Context, p *FramePayload) error {
			return t.HandleError(ctx, p.TaskID, errors.New(p.Message), p.Recoverable)
		},
		events.FrameAnnotationCancelled: func(ctx context.Context, p *FramePayload) error {
			return t.Cancel(ctx, p.TaskID, p.Reason)
		},
	}

	for event, dispatch := range route {
		dispatch := dispatch
		id := t.bus.Subscribe(event, func(ctx context.Context, rec bus.Record) error {
			payload, err := ParseFramePayload(rec.Data)
			if err != nil {
				// Untrusted source: drop silently, log only.
				logger.DebugCF(component, "dropped malformed frame payload", map[string]interface{}{
					"event": rec.Event,
					"error": err.Error(),
				})
				return nil
			}
			if err := dispatch(ctx, payload); err != nil {
				var vErr *domain.ValidationError
				if errors.As(err, &vErr) {
					logger.DebugCF(component, "dropped frame payload", map[string]interface{}{
						"event": rec.Event,
						"error": err.Error(),
					})
					return nil
				}
				var nsErr *domain.NoStateError
				if errors.As(err, &nsErr) {
					// The frame reported on a task the host never started.
					logger.WarnCF(component, "frame event for unknown task", map[string]interface{}{
						"event": rec.Event,
						"task":  payload.TaskID,
					})
					return nil
				}
				return err
			}
			return nil
		})
		t.ingestSubs[event] = id
	}
}
