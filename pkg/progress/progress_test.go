package progress

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annolab/framegate/pkg/bus"
	"github.com/annolab/framegate/pkg/domain"
	"github.com/annolab/framegate/pkg/events"
)

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

// collect records the names of all annotation events in emission order.
func collect(b *bus.EventBus) *[]string {
	var mu sync.Mutex
	names := &[]string{}
	for _, ev := range []string{
		events.AnnotationStarted, events.AnnotationUpdated, events.AnnotationProgress,
		events.AnnotationCompleted, events.AnnotationSaved, events.AnnotationError,
		events.AnnotationCancelled,
	} {
		b.Subscribe(ev, func(ctx context.Context, rec bus.Record) error {
			mu.Lock()
			*names = append(*names, rec.Event)
			mu.Unlock()
			return nil
		})
	}
	return names
}

func TestStartUpdateEmitsExpectedSequence(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()
	seen := collect(b)

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Update(ctx, "t1",
		&AnnotationRecord{ID: "a1"},
		&ProgressUpdate{TotalItems: intp(10), CompletedItems: intp(3)},
	))

	assert.Equal(t, []string{
		events.AnnotationStarted,
		events.AnnotationUpdated,
		events.AnnotationProgress,
	}, *seen)

	state, ok := tr.State("t1")
	require.True(t, ok)
	assert.Equal(t, 30, state.Progress.Percentage)
	assert.Equal(t, domain.TaskInProgress, state.Status)
	require.Len(t, state.Annotations, 1)
}

func TestUpdateWithoutProgressEmitsNoProgressEvent(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()
	seen := collect(b)

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Update(ctx, "t1", &AnnotationRecord{ID: "a1"}, nil))
	assert.Equal(t, []string{events.AnnotationStarted, events.AnnotationUpdated}, *seen)
}

func TestUnknownTaskFailsWithNoStateError(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	var nsErr *domain.NoStateError
	require.ErrorAs(t, tr.Update(ctx, "ghost", nil, nil), &nsErr)
	require.ErrorAs(t, tr.Complete(ctx, "ghost", nil), &nsErr)
	require.ErrorAs(t, tr.Save(ctx, "ghost", AnnotationRecord{ID: "a"}), &nsErr)
	require.ErrorAs(t, tr.Cancel(ctx, "ghost", ""), &nsErr)
}

func TestStartResetsExistingTask(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Update(ctx, "t1", &AnnotationRecord{ID: "a1"},
		&ProgressUpdate{TotalItems: intp(4), CompletedItems: intp(2)}))

	// Idempotent re-initialization, not an error.
	require.NoError(t, tr.Start(ctx, "t1", nil))
	state, _ := tr.State("t1")
	assert.Equal(t, domain.TaskStarted, state.Status)
	assert.Equal(t, 0, state.Progress.Percentage)
	assert.Empty(t, state.Annotations)
}

func TestCompleteForcesFullProgress(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Update(ctx, "t1", nil,
		&ProgressUpdate{TotalItems: intp(10), CompletedItems: intp(3)}))
	require.NoError(t, tr.Complete(ctx, "t1", []AnnotationRecord{{ID: "f1"}, {ID: "f2"}}))

	state, _ := tr.State("t1")
	assert.Equal(t, domain.TaskCompleted, state.Status)
	assert.Equal(t, 100, state.Progress.Percentage)
	assert.Equal(t, 10, state.Progress.CompletedItems)
	// Final annotations replace wholesale, not merge.
	require.Len(t, state.Annotations, 2)
	assert.False(t, state.EndTime.IsZero())
}

func TestPercentageRounding(t *testing.T) {
	tests := []struct {
		completed, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 8, 13}, // 12.5 rounds up
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percentage(tt.completed, tt.total),
			"%d/%d", tt.completed, tt.total)
	}
}

func TestSaveUpsertsByID(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Save(ctx, "t1", AnnotationRecord{ID: "a1", Kind: "box"}))
	require.NoError(t, tr.Save(ctx, "t1", AnnotationRecord{ID: "a1", Kind: "polygon"}))
	require.NoError(t, tr.Save(ctx, "t1", AnnotationRecord{ID: "a2", Kind: "box"}))

	state, _ := tr.State("t1")
	require.Len(t, state.Annotations, 2)
	assert.Equal(t, "polygon", state.Annotations[0].Kind)

	saved := b.History(events.AnnotationSaved)
	require.Len(t, saved, 3)
	payload := saved[0].Data.(*UpdatedPayload)
	assert.Equal(t, "save", payload.Action)
}

func TestErrorIsNotTerminal(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.HandleError(ctx, "t1", errors.New("tool crashed"), true))

	state, _ := tr.State("t1")
	assert.Equal(t, domain.TaskError, state.Status)
	assert.Equal(t, 1, state.ErrorCount)

	// A task in error may still be completed; errorCount survives.
	require.NoError(t, tr.Complete(ctx, "t1", nil))
	state, _ = tr.State("t1")
	assert.Equal(t, domain.TaskCompleted, state.Status)
	assert.Equal(t, 1, state.ErrorCount)
}

func TestHandleErrorUnknownTaskDoesNotFail(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.HandleError(ctx, "ghost", errors.New("boom"), false))
	errs := b.History(events.AnnotationError)
	require.Len(t, errs, 1)
	payload := errs[0].Data.(*ErrorPayload)
	assert.False(t, payload.Recoverable)
	assert.Equal(t, 1, payload.ErrorCount)
}

func TestCancelReportsPartials(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Save(ctx, "t1", AnnotationRecord{ID: "a1"}))
	require.NoError(t, tr.Cancel(ctx, "t1", "user navigated away"))

	state, _ := tr.State("t1")
	assert.Equal(t, domain.TaskCancelled, state.Status)

	cancelled := b.History(events.AnnotationCancelled)
	require.Len(t, cancelled, 1)
	payload := cancelled[0].Data.(*CancelledPayload)
	assert.Equal(t, "user navigated away", payload.Reason)
	assert.Equal(t, 1, payload.PartialAnnotations)
}

func TestConcurrentTaskLifecycles(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"t1", "t2", "t3"} {
		wg.Add(1)
		go func(taskID string) {
			defer wg.Done()
			require.NoError(t, tr.Start(ctx, taskID, nil))
			require.NoError(t, tr.Update(ctx, taskID, &AnnotationRecord{ID: taskID + "-a"},
				&ProgressUpdate{TotalItems: intp(2), CompletedItems: intp(1)}))
			require.NoError(t, tr.Complete(ctx, taskID, nil))
		}(id)
	}
	wg.Wait()

	st := tr.Stats()
	assert.Equal(t, 3, st.TotalTasks)
	assert.Equal(t, 3, st.CompletedTasks)
	assert.Equal(t, 0, st.ActiveTasks)
	assert.InDelta(t, 100, st.AverageProgress, 0.01)
	for _, id := range []string{"t1", "t2", "t3"} {
		state, ok := tr.State(id)
		require.True(t, ok)
		assert.Equal(t, domain.TaskCompleted, state.Status)
	}
}

func TestStatsComputedFresh(t *testing.T) {
	b := bus.NewDefault()
	tr := New(b)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "t1", nil))
	require.NoError(t, tr.Start(ctx, "t2", nil))
	require.NoError(t, tr.Update(ctx, "t2", nil,
		&ProgressUpdate{TotalItems: intp(2), CompletedItems: intp(1)}))

	st := tr.Stats()
	assert.Equal(t, 2, st.TotalTasks)
	assert.Equal(t, 2, st.ActiveTasks)
	assert.InDelta(t, 25, st.AverageProgress, 0.01)

	require.True(t, tr.Clear("t1"))
	assert.Equal(t, 1, tr.Stats().TotalTasks)
}
