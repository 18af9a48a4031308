package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/pipeline"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

var ErrInvalidStartTime = errors.New("start time must be a non-negative number of seconds")

// Detector is the backend's frame and detection endpoint.
type Detector interface {
	Detect(ctx context.Context, videoID string, startTime float64) (*cloud.DetectionResult, error)
}

// Backend is everything the workflow needs from the detection backend.
type Backend interface {
	Detector
	Finalizer
}

// Notifier receives a snapshot after every state or interval change.
// Implementations must not block.
type Notifier interface {
	NotifyReview(Snapshot)
}

type nopNotifier struct{}

func (nopNotifier) NotifyReview(Snapshot) {}

// Session is the review of one video.
type Session struct {
	videoID    string
	sourcePath string
	state      State
	startTime  float64
	timeline   *segments.Timeline
	detection  *cloud.DetectionResult
	artifacts  *Artifacts
	lastError  string
	updatedAt  time.Time

	// busy is set while a detection or finalization request is in flight.
	busy bool
}

// Snapshot is a read-only copy of a Session.
type Snapshot struct {
	VideoID    string                 `json:"video_id"`
	SourcePath string                 `json:"source_path,omitempty"`
	State      State                  `json:"state"`
	StartTime  float64                `json:"start_time"`
	Duration   float64                `json:"duration"`
	Intervals  []segments.Interval    `json:"intervals"`
	Detection  *cloud.DetectionResult `json:"detection,omitempty"`
	Artifacts  *Artifacts             `json:"artifacts,omitempty"`
	Busy       bool                   `json:"busy"`
	Error      string                 `json:"error,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func newSession(videoID, sourcePath string, state State) *Session {
	return &Session{
		videoID:    videoID,
		sourcePath: sourcePath,
		state:      state,
		timeline:   segments.NewTimeline(nil, 0),
		updatedAt:  time.Now().UTC(),
	}
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		VideoID:    s.videoID,
		SourcePath: s.sourcePath,
		State:      s.state,
		StartTime:  s.startTime,
		Duration:   s.timeline.Duration(),
		Intervals:  s.timeline.Intervals(),
		Detection:  s.detection,
		Artifacts:  s.artifacts,
		Busy:       s.busy,
		Error:      s.lastError,
		UpdatedAt:  s.updatedAt,
	}
}

func (s *Session) moveTo(to State) error {
	if err := transition(s.state, to); err != nil {
		return err
	}
	s.state = to
	s.updatedAt = time.Now().UTC()
	return nil
}

// Workflow owns the single active review session. Backend requests run
// without holding the lock; the busy flag keeps them exclusive.
type Workflow struct {
	detector    Detector
	coordinator *Coordinator
	store       Store
	prober      pipeline.Prober
	mergeGap    float64
	logger      *slog.Logger

	notifyMu sync.RWMutex
	notifier Notifier

	mu      sync.Mutex
	session *Session
}

// NewWorkflow creates a workflow. store and prober may be nil.
func NewWorkflow(backend Backend, store Store, prober pipeline.Prober, mergeGap float64, logger *slog.Logger) *Workflow {
	return &Workflow{
		detector:    backend,
		coordinator: NewCoordinator(backend, logger),
		store:       store,
		prober:      prober,
		mergeGap:    mergeGap,
		logger:      logger,
		notifier:    nopNotifier{},
	}
}

func (w *Workflow) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	w.notifyMu.Lock()
	w.notifier = n
	w.notifyMu.Unlock()
}

func (w *Workflow) notify(s Snapshot) {
	w.notifyMu.RLock()
	n := w.notifier
	w.notifyMu.RUnlock()
	n.NotifyReview(s)
}

// Current returns the active session, if any.
func (w *Workflow) Current() (Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return Snapshot{}, false
	}
	return w.session.snapshot(), true
}

// Restore reopens the most recently saved session. A detection that was
// running when the agent stopped is rolled back to uploaded.
func (w *Workflow) Restore(ctx context.Context) error {
	if w.store == nil {
		return nil
	}
	rec, err := w.store.LoadLatest(ctx)
	if err != nil {
		return fmt.Errorf("load review: %w", err)
	}
	if rec == nil {
		return nil
	}
	if !rec.State.Valid() {
		return fmt.Errorf("load review: unknown state %q", rec.State)
	}

	s := newSession(rec.VideoID, rec.SourcePath, rec.State)
	if s.state == StateDetecting {
		s.state = StateUploaded
	}
	s.startTime = rec.StartTime
	s.timeline = segments.NewTimeline(rec.Intervals, rec.Duration)
	s.detection = rec.Detection
	s.artifacts = rec.Artifacts
	s.updatedAt = rec.UpdatedAt

	w.mu.Lock()
	w.session = s
	w.mu.Unlock()

	w.logger.Info("review restored", "video_id", s.videoID, "state", s.state, "intervals", s.timeline.Len())
	return nil
}

// BeginUpload opens a session for a video that is being uploaded. A resumed
// upload of the video already under review keeps its session.
func (w *Workflow) BeginUpload(ctx context.Context, videoID, sourcePath string) (Snapshot, error) {
	if videoID == "" {
		return Snapshot{}, ErrNoSession
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if cur := w.session; cur != nil {
		if cur.busy {
			return Snapshot{}, ErrBusy
		}
		if cur.videoID == videoID && cur.state == StateUploading {
			cur.sourcePath = sourcePath
			return cur.snapshot(), nil
		}
	}

	s := newSession(videoID, sourcePath, StateUploading)
	w.session = s
	w.persistLocked(ctx, s)
	snap := s.snapshot()
	w.notify(snap)
	return snap, nil
}

// UploadFinished marks the upload of videoID as complete.
func (w *Workflow) UploadFinished(ctx context.Context, videoID string) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.session
	if s == nil || s.videoID != videoID {
		return Snapshot{}, ErrSessionReplaced
	}
	if err := s.moveTo(StateUploaded); err != nil {
		return Snapshot{}, err
	}
	s.lastError = ""
	w.persistLocked(ctx, s)
	snap := s.snapshot()
	w.notify(snap)
	return snap, nil
}

// UploadFailed records an upload error on the session without changing state.
func (w *Workflow) UploadFailed(videoID string, cause error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.session
	if s == nil || s.videoID != videoID || cause == nil {
		return
	}
	s.lastError = cause.Error()
	w.notify(s.snapshot())
}

// Select starts reviewing a video that is already on the server.
func (w *Workflow) Select(ctx context.Context, videoID, sourcePath string) (Snapshot, error) {
	if videoID == "" {
		return Snapshot{}, ErrNoSession
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session != nil && w.session.busy {
		return Snapshot{}, ErrBusy
	}

	s := newSession(videoID, sourcePath, StateUploaded)
	w.session = s
	w.persistLocked(ctx, s)
	w.logger.Info("video selected for review", "video_id", videoID)

	snap := s.snapshot()
	w.notify(snap)
	return snap, nil
}

// Detect runs detection from startTime and replaces the timeline with the
// reduced intervals. gap overrides the configured merge gap when non-nil.
// Detected times are relative to startTime; the timeline holds absolute
// seconds.
func (w *Workflow) Detect(ctx context.Context, startTime float64, gap *float64) (Snapshot, error) {
	if startTime < 0 || math.IsNaN(startTime) || math.IsInf(startTime, 0) {
		return Snapshot{}, ErrInvalidStartTime
	}
	mergeGap := w.mergeGap
	if gap != nil {
		if *gap < 0 || math.IsNaN(*gap) {
			return Snapshot{}, fmt.Errorf("%w: merge gap %v", segments.ErrInvalidInterval, *gap)
		}
		mergeGap = *gap
	}

	w.mu.Lock()
	s := w.session
	if s == nil {
		w.mu.Unlock()
		return Snapshot{}, ErrNoSession
	}
	if s.busy {
		w.mu.Unlock()
		return Snapshot{}, ErrBusy
	}
	if err := s.moveTo(StateDetecting); err != nil {
		w.mu.Unlock()
		return Snapshot{}, err
	}
	s.busy = true
	s.startTime = startTime
	s.lastError = ""
	videoID, sourcePath := s.videoID, s.sourcePath
	w.persistLocked(ctx, s)
	w.notify(s.snapshot())
	w.mu.Unlock()

	logger := w.logger.With("video_id", videoID)
	logger.Info("detection started", "start_time", segments.FormatClock(startTime), "merge_gap", mergeGap)

	res, err := w.detector.Detect(ctx, videoID, startTime)
	var duration float64
	if err == nil {
		duration = w.probeDuration(ctx, sourcePath)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	s.busy = false
	if w.session != s {
		return Snapshot{}, ErrSessionReplaced
	}

	if err != nil {
		logger.Warn("detection failed", "error", err)
		s.lastError = err.Error()
		s.moveTo(StateUploaded)
		w.persistLocked(ctx, s)
		w.notify(s.snapshot())
		return Snapshot{}, fmt.Errorf("detect %s: %w", videoID, err)
	}

	times := make([]float64, 0, len(res.DetectedTimes))
	for _, t := range res.DetectedTimes {
		times = append(times, startTime+t)
	}
	s.timeline = segments.NewTimeline(segments.Reduce(times, mergeGap), duration)
	s.detection = res
	s.artifacts = nil
	s.moveTo(StateDetected)
	s.moveTo(StateReviewing)
	w.persistLocked(ctx, s)

	logger.Info("detection complete",
		"detected_times", len(res.DetectedTimes),
		"intervals", s.timeline.Len(),
		"duration", duration,
	)

	snap := s.snapshot()
	w.notify(snap)
	return snap, nil
}

// MoveEdge drags one edge of interval index to the given second.
func (w *Workflow) MoveEdge(ctx context.Context, index int, edge segments.Edge, to float64) (Snapshot, error) {
	return w.edit(ctx, func(t *segments.Timeline) error {
		_, err := t.MoveEdge(index, edge, to)
		return err
	})
}

// DragByPointer moves one edge by dx pixels on a track trackWidth pixels
// wide that shows the whole video. Without a known duration it fails with
// segments.ErrInvalidInterval and the timeline is left unchanged.
func (w *Workflow) DragByPointer(ctx context.Context, index int, edge segments.Edge, dx, trackWidth float64) (Snapshot, error) {
	return w.edit(ctx, func(t *segments.Timeline) error {
		p := segments.PointerAdapter{TrackWidth: trackWidth, Duration: t.Duration()}
		_, err := p.Drag(t, index, edge, dx)
		return err
	})
}

// Delete removes interval index.
func (w *Workflow) Delete(ctx context.Context, index int) (Snapshot, error) {
	return w.edit(ctx, func(t *segments.Timeline) error {
		_, err := t.Delete(index)
		return err
	})
}

func (w *Workflow) edit(ctx context.Context, fn func(t *segments.Timeline) error) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.session
	if s == nil {
		return Snapshot{}, ErrNoSession
	}
	if s.busy {
		return Snapshot{}, ErrBusy
	}
	if s.state != StateReviewing {
		return Snapshot{}, ErrNotReviewing
	}
	if err := fn(s.timeline); err != nil {
		return Snapshot{}, err
	}
	s.updatedAt = time.Now().UTC()
	w.persistLocked(ctx, s)

	snap := s.snapshot()
	w.notify(snap)
	return snap, nil
}

// Finalize submits the current intervals. Once finalized, further calls
// return the stored artifacts without contacting the backend. A failed
// request leaves the session reviewing with its intervals untouched.
func (w *Workflow) Finalize(ctx context.Context) (*Artifacts, error) {
	w.mu.Lock()
	s := w.session
	if s == nil {
		w.mu.Unlock()
		return nil, ErrNoSession
	}
	if s.state == StateFinalized {
		arts := s.artifacts
		w.mu.Unlock()
		return arts, nil
	}
	if s.busy {
		w.mu.Unlock()
		return nil, ErrBusy
	}
	if err := transition(s.state, StateFinalized); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	intervals := s.timeline.Intervals()
	if len(intervals) == 0 {
		w.mu.Unlock()
		return nil, ErrNoIntervals
	}
	s.busy = true
	videoID := s.videoID
	w.mu.Unlock()

	arts, err := w.coordinator.Finalize(ctx, videoID, intervals)

	w.mu.Lock()
	defer w.mu.Unlock()

	s.busy = false
	if w.session != s {
		return nil, ErrSessionReplaced
	}
	if err != nil {
		s.lastError = err.Error()
		w.notify(s.snapshot())
		return nil, err
	}

	s.artifacts = arts
	s.lastError = ""
	s.moveTo(StateFinalized)
	w.persistLocked(ctx, s)
	w.notify(s.snapshot())
	return arts, nil
}

func (w *Workflow) probeDuration(ctx context.Context, path string) float64 {
	if w.prober == nil || path == "" {
		return 0
	}
	res, err := w.prober.Probe(ctx, path)
	if err != nil {
		w.logger.Warn("probe failed, edge drags are unbounded", "error", err)
		return 0
	}
	return res.Duration
}

func (w *Workflow) persistLocked(ctx context.Context, s *Session) {
	if w.store == nil {
		return
	}
	rec := &Record{
		VideoID:    s.videoID,
		SourcePath: s.sourcePath,
		State:      s.state,
		StartTime:  s.startTime,
		Duration:   s.timeline.Duration(),
		Intervals:  s.timeline.Intervals(),
		Detection:  s.detection,
		Artifacts:  s.artifacts,
		UpdatedAt:  s.updatedAt,
	}
	if err := w.store.SaveReview(ctx, rec); err != nil {
		w.logger.Warn("failed to save review", "video_id", s.videoID, "error", err)
	}
}
