package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

func TestWorkflow_DetectReducesTimestamps(t *testing.T) {
	// Arrange
	backend := &fakeBackend{detected: []float64{40, 3, 11, 1, 2, 10, 2.7}}
	rec := &snapshotRecorder{}
	w := NewWorkflow(backend, nil, nil, 5, testLogger())
	w.SetNotifier(rec)
	ctx := context.Background()

	_, err := w.BeginUpload(ctx, "cam1.mp4", "/videos/cam1.mp4")
	require.NoError(t, err)
	_, err = w.UploadFinished(ctx, "cam1.mp4")
	require.NoError(t, err)

	// Act
	snap, err := w.Detect(ctx, 0, nil)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StateReviewing, snap.State)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 4}, {Start: 10, End: 12}, {Start: 40, End: 41}}, snap.Intervals)
	assert.Equal(t, "cam1.mp4.csv", snap.Detection.CSV)
	assert.Equal(t, []State{StateUploading, StateUploaded, StateDetecting, StateReviewing}, rec.states())
}

func TestWorkflow_DetectShiftsByStartTime(t *testing.T) {
	backend := &fakeBackend{detected: []float64{0, 1}}
	w := NewWorkflow(backend, nil, nil, 5, testLogger())
	ctx := context.Background()

	_, err := w.Select(ctx, "cam2.mp4", "")
	require.NoError(t, err)

	snap, err := w.Detect(ctx, 60, nil)
	require.NoError(t, err)
	assert.Equal(t, []segments.Interval{{Start: 60, End: 62}}, snap.Intervals)
	assert.Equal(t, 60.0, snap.StartTime)
}

func TestWorkflow_DetectGapOverride(t *testing.T) {
	backend := &fakeBackend{detected: []float64{1, 2, 3, 10, 11, 40}}
	w := NewWorkflow(backend, nil, nil, 5, testLogger())
	ctx := context.Background()
	_, err := w.Select(ctx, "cam1.mp4", "")
	require.NoError(t, err)

	gap := 10.0
	snap, err := w.Detect(ctx, 0, &gap)
	require.NoError(t, err)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 12}, {Start: 40, End: 41}}, snap.Intervals)
}

func TestWorkflow_DetectValidation(t *testing.T) {
	ctx := context.Background()
	w := NewWorkflow(&fakeBackend{}, nil, nil, 5, testLogger())

	_, err := w.Detect(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = w.Detect(ctx, -1, nil)
	assert.ErrorIs(t, err, ErrInvalidStartTime)

	negative := -1.0
	_, err = w.Detect(ctx, 0, &negative)
	assert.ErrorIs(t, err, segments.ErrInvalidInterval)

	// Still uploading.
	_, err = w.BeginUpload(ctx, "cam1.mp4", "")
	require.NoError(t, err)
	_, err = w.Detect(ctx, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWorkflow_DetectFailureRollsBack(t *testing.T) {
	// Arrange
	backend := &fakeBackend{detectErr: errBackendDown, detected: []float64{5}}
	w := NewWorkflow(backend, nil, nil, 5, testLogger())
	ctx := context.Background()
	_, err := w.Select(ctx, "cam1.mp4", "")
	require.NoError(t, err)

	// Act
	_, err = w.Detect(ctx, 0, nil)

	// Assert
	require.ErrorIs(t, err, errBackendDown)
	snap, ok := w.Current()
	require.True(t, ok)
	assert.Equal(t, StateUploaded, snap.State)
	assert.Empty(t, snap.Intervals)
	assert.Contains(t, snap.Error, "backend unavailable")

	// A second attempt succeeds.
	backend.mu.Lock()
	backend.detectErr = nil
	backend.mu.Unlock()
	snap, err = w.Detect(ctx, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, StateReviewing, snap.State)
	assert.Equal(t, []segments.Interval{{Start: 5, End: 6}}, snap.Intervals)
	assert.Empty(t, snap.Error)
}

func TestWorkflow_BusyDuringDetection(t *testing.T) {
	backend := &fakeBackend{
		detected: []float64{1},
		gate:     make(chan struct{}),
		started:  make(chan struct{}),
	}
	w := NewWorkflow(backend, nil, nil, 5, testLogger())
	ctx := context.Background()
	_, err := w.Select(ctx, "cam1.mp4", "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := w.Detect(ctx, 0, nil)
		done <- err
	}()
	<-backend.started

	_, err = w.Select(ctx, "cam2.mp4", "")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = w.BeginUpload(ctx, "cam2.mp4", "")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = w.Finalize(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	snap, _ := w.Current()
	assert.Equal(t, StateDetecting, snap.State)
	assert.True(t, snap.Busy)

	close(backend.gate)
	require.NoError(t, <-done)
}

func TestWorkflow_BeginUploadKeepsResumedSession(t *testing.T) {
	w := NewWorkflow(&fakeBackend{}, nil, nil, 5, testLogger())
	ctx := context.Background()

	_, err := w.BeginUpload(ctx, "cam1.mp4", "/a/cam1.mp4")
	require.NoError(t, err)
	w.UploadFailed("cam1.mp4", errBackendDown)

	snap, err := w.BeginUpload(ctx, "cam1.mp4", "/b/cam1.mp4")
	require.NoError(t, err)
	assert.Equal(t, StateUploading, snap.State)
	assert.Equal(t, "/b/cam1.mp4", snap.SourcePath)
	assert.Contains(t, snap.Error, "backend unavailable")

	_, err = w.UploadFinished(ctx, "other.mp4")
	assert.ErrorIs(t, err, ErrSessionReplaced)
}

func TestWorkflow_DragEndAcrossNeighbor(t *testing.T) {
	w := reviewingWorkflow(t, &fakeBackend{}, nil, nil)

	snap, err := w.MoveEdge(context.Background(), 1, segments.EdgeEnd, 41)

	require.NoError(t, err)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 4}, {Start: 10, End: 41}}, snap.Intervals)
}

func TestWorkflow_DragByPointer(t *testing.T) {
	// 256px track over a 128s video: 2px per second.
	w := reviewingWorkflow(t, &fakeBackend{}, nil, fixedProber{duration: 128})

	snap, err := w.DragByPointer(context.Background(), 1, segments.EdgeEnd, 58, 256)

	require.NoError(t, err)
	assert.Equal(t, 128.0, snap.Duration)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 4}, {Start: 10, End: 41}}, snap.Intervals)
}

func TestWorkflow_DragByPointerWithoutDurationFails(t *testing.T) {
	// Arrange
	w := reviewingWorkflow(t, &fakeBackend{}, nil, nil)
	rec := &snapshotRecorder{}
	w.SetNotifier(rec)

	// Act
	_, err := w.DragByPointer(context.Background(), 0, segments.EdgeStart, -20, 410)

	// Assert
	require.ErrorIs(t, err, segments.ErrInvalidInterval)
	assert.Contains(t, err.Error(), "duration unknown")
	snap, ok := w.Current()
	require.True(t, ok)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 4}, {Start: 10, End: 12}, {Start: 40, End: 41}}, snap.Intervals)
	assert.Empty(t, rec.states())
}

func TestWorkflow_EndDragBoundedByDuration(t *testing.T) {
	w := reviewingWorkflow(t, &fakeBackend{}, nil, fixedProber{duration: 45})

	snap, err := w.MoveEdge(context.Background(), 2, segments.EdgeEnd, 90)

	require.NoError(t, err)
	assert.Equal(t, segments.Interval{Start: 40, End: 45}, snap.Intervals[2])
}

func TestWorkflow_Delete(t *testing.T) {
	w := reviewingWorkflow(t, &fakeBackend{}, nil, nil)
	ctx := context.Background()

	snap, err := w.Delete(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []segments.Interval{{Start: 10, End: 12}, {Start: 40, End: 41}}, snap.Intervals)

	_, err = w.Delete(ctx, 5)
	assert.ErrorIs(t, err, segments.ErrIntervalNotFound)
}

func TestWorkflow_EditRequiresReviewing(t *testing.T) {
	w := NewWorkflow(&fakeBackend{}, nil, nil, 5, testLogger())
	ctx := context.Background()

	_, err := w.Delete(ctx, 0)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = w.Select(ctx, "cam1.mp4", "")
	require.NoError(t, err)
	_, err = w.MoveEdge(ctx, 0, segments.EdgeStart, 3)
	assert.ErrorIs(t, err, ErrNotReviewing)
}

func TestWorkflow_Finalize(t *testing.T) {
	// Arrange
	backend := &fakeBackend{}
	w := reviewingWorkflow(t, backend, nil, nil)
	ctx := context.Background()
	_, err := w.MoveEdge(ctx, 1, segments.EdgeEnd, 41)
	require.NoError(t, err)

	// Act
	arts, err := w.Finalize(ctx)

	// Assert
	require.NoError(t, err)
	require.Len(t, backend.finalizeCalls, 1)
	assert.Equal(t, "cam1.mp4", backend.finalizeCalls[0].VideoID)
	assert.Equal(t, []segments.Interval{{Start: 1, End: 4}, {Start: 10, End: 41}}, backend.finalizeCalls[0].Intervals)
	assert.Equal(t, "final/cam1.mp4.csv", arts.ReportCSV)
	assert.Equal(t, "final/cam1.mp4.json", arts.ReportJSON)
	assert.Equal(t, []string{"clip_0.mp4"}, arts.Clips)

	snap, _ := w.Current()
	assert.Equal(t, StateFinalized, snap.State)

	// Confirming again returns the same artifacts without a second request.
	again, err := w.Finalize(ctx)
	require.NoError(t, err)
	assert.Same(t, arts, again)
	assert.Len(t, backend.finalizeCalls, 1)

	_, err = w.Delete(ctx, 0)
	assert.ErrorIs(t, err, ErrNotReviewing)
}

func TestWorkflow_FinalizeFailureKeepsIntervals(t *testing.T) {
	backend := &fakeBackend{finalizeErr: errBackendDown}
	w := reviewingWorkflow(t, backend, nil, nil)
	ctx := context.Background()
	before, _ := w.Current()

	_, err := w.Finalize(ctx)

	var fe *FinalizationError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "cam1.mp4", fe.VideoID)
	assert.ErrorIs(t, err, errBackendDown)

	after, _ := w.Current()
	assert.Equal(t, StateReviewing, after.State)
	assert.Equal(t, before.Intervals, after.Intervals)

	// Retrying without edits sends the same intervals.
	backend.finalizeErr = nil
	_, err = w.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, backend.finalizeCalls, 2)
	assert.Equal(t, backend.finalizeCalls[0].Intervals, backend.finalizeCalls[1].Intervals)
}

func TestWorkflow_FinalizeWithoutIntervals(t *testing.T) {
	backend := &fakeBackend{detected: []float64{7}}
	w := reviewingWorkflow(t, backend, nil, nil)
	ctx := context.Background()
	_, err := w.Delete(ctx, 0)
	require.NoError(t, err)

	_, err = w.Finalize(ctx)

	assert.ErrorIs(t, err, ErrNoIntervals)
	assert.Empty(t, backend.finalizeCalls)
}

func TestWorkflow_FinalizeBeforeDetection(t *testing.T) {
	w := NewWorkflow(&fakeBackend{}, nil, nil, 5, testLogger())
	_, err := w.Select(context.Background(), "cam1.mp4", "")
	require.NoError(t, err)

	_, err = w.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWorkflow_Restore(t *testing.T) {
	// Arrange
	store := setupStore(t)
	w := reviewingWorkflow(t, &fakeBackend{}, store, fixedProber{duration: 60})
	ctx := context.Background()
	_, err := w.Delete(ctx, 2)
	require.NoError(t, err)
	want, _ := w.Current()

	// Act
	restored := NewWorkflow(&fakeBackend{}, store, nil, 5, testLogger())
	require.NoError(t, restored.Restore(ctx))

	// Assert
	got, ok := restored.Current()
	require.True(t, ok)
	assert.Equal(t, want.VideoID, got.VideoID)
	assert.Equal(t, want.SourcePath, got.SourcePath)
	assert.Equal(t, StateReviewing, got.State)
	assert.Equal(t, want.Intervals, got.Intervals)
	assert.Equal(t, 60.0, got.Duration)
	require.NotNil(t, got.Detection)
	assert.Equal(t, "cam1.mp4.json", got.Detection.JSON)
}

func TestWorkflow_RestoreInterruptedDetection(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveReview(ctx, &Record{VideoID: "cam9.mp4", State: StateDetecting}))

	w := NewWorkflow(&fakeBackend{}, store, nil, 5, testLogger())
	require.NoError(t, w.Restore(ctx))

	snap, ok := w.Current()
	require.True(t, ok)
	assert.Equal(t, StateUploaded, snap.State)
}

func TestWorkflow_RestoreEmpty(t *testing.T) {
	w := NewWorkflow(&fakeBackend{}, setupStore(t), nil, 5, testLogger())

	require.NoError(t, w.Restore(context.Background()))

	_, ok := w.Current()
	assert.False(t, ok)
}
