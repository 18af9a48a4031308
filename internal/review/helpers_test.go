package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/db"
	"github.com/KU-AILAB/CCTV-Timeline/internal/pipeline"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewStore(database.Conn())
}

type finalizeCall struct {
	VideoID   string
	Intervals []segments.Interval
}

type fakeBackend struct {
	mu sync.Mutex

	detected    []float64
	detectErr   error
	detectCalls int
	// gate, when set, blocks Detect until it is closed. started is
	// closed once Detect has been entered.
	gate    chan struct{}
	started chan struct{}

	finalizeErr   error
	finalizeCalls []finalizeCall
}

func (f *fakeBackend) Detect(ctx context.Context, videoID string, startTime float64) (*cloud.DetectionResult, error) {
	f.mu.Lock()
	f.detectCalls++
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return &cloud.DetectionResult{
		Frames:        []string{"frame_0001.jpg"},
		DetectedTimes: append([]float64(nil), f.detected...),
		CSV:           videoID + ".csv",
		JSON:          videoID + ".json",
	}, nil
}

func (f *fakeBackend) Finalize(ctx context.Context, videoID string, intervals []segments.Interval) (*cloud.FinalizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalizeCalls = append(f.finalizeCalls, finalizeCall{VideoID: videoID, Intervals: intervals})
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	return &cloud.FinalizeResult{
		CSV:   "final/" + videoID + ".csv",
		JSON:  "final/" + videoID + ".json",
		Clips: []string{"clip_0.mp4"},
	}, nil
}

type fixedProber struct {
	duration float64
	err      error
}

func (p fixedProber) Probe(ctx context.Context, path string) (*pipeline.ProbeResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &pipeline.ProbeResult{Duration: p.duration}, nil
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) NotifyReview(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *snapshotRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.State)
	}
	return out
}

var errBackendDown = errors.New("backend unavailable")

// reviewingWorkflow returns a workflow whose session for cam1.mp4 is in
// the reviewing state with [1,4) [10,12) [40,41).
func reviewingWorkflow(t *testing.T, backend *fakeBackend, store Store, prober pipeline.Prober) *Workflow {
	t.Helper()

	if backend.detected == nil {
		backend.detected = []float64{1, 2, 3, 10, 11, 40}
	}
	w := NewWorkflow(backend, store, prober, segments.DefaultMergeGap, testLogger())
	ctx := context.Background()

	_, err := w.BeginUpload(ctx, "cam1.mp4", "/videos/cam1.mp4")
	require.NoError(t, err)
	_, err = w.UploadFinished(ctx, "cam1.mp4")
	require.NoError(t, err)
	_, err = w.Detect(ctx, 0, nil)
	require.NoError(t, err)
	return w
}
