package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

// Finalizer is the backend's finalize endpoint.
type Finalizer interface {
	Finalize(ctx context.Context, videoID string, intervals []segments.Interval) (*cloud.FinalizeResult, error)
}

// Artifacts are the references returned for a confirmed interval list.
type Artifacts struct {
	ReportCSV   string              `json:"report_csv"`
	ReportJSON  string              `json:"report_json"`
	Clips       []string            `json:"clips"`
	Intervals   []segments.Interval `json:"intervals"`
	FinalizedAt time.Time           `json:"finalized_at"`
}

// FinalizationError wraps a failed finalize request.
type FinalizationError struct {
	VideoID string
	Err     error
}

func (e *FinalizationError) Error() string {
	return fmt.Sprintf("finalize %s: %v", e.VideoID, e.Err)
}

func (e *FinalizationError) Unwrap() error {
	return e.Err
}

// Coordinator submits confirmed intervals to the backend. Every call sends
// exactly one request; duplicate submissions are left to the backend.
type Coordinator struct {
	backend Finalizer
	logger  *slog.Logger
}

func NewCoordinator(backend Finalizer, logger *slog.Logger) *Coordinator {
	return &Coordinator{backend: backend, logger: logger}
}

func (c *Coordinator) Finalize(ctx context.Context, videoID string, intervals []segments.Interval) (*Artifacts, error) {
	if videoID == "" {
		return nil, ErrNoSession
	}
	if len(intervals) == 0 {
		return nil, ErrNoIntervals
	}
	// Edits keep the list merged already; merging again is a no-op then.
	merged := segments.Merge(intervals)

	start := time.Now()
	res, err := c.backend.Finalize(ctx, videoID, merged)
	if err != nil {
		c.logger.Error("finalization failed", "video_id", videoID, "intervals", len(merged), "error", err)
		return nil, &FinalizationError{VideoID: videoID, Err: err}
	}

	c.logger.Info("finalization complete",
		"video_id", videoID,
		"intervals", len(merged),
		"clips", len(res.Clips),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Artifacts{
		ReportCSV:   res.CSV,
		ReportJSON:  res.JSON,
		Clips:       res.Clips,
		Intervals:   merged,
		FinalizedAt: time.Now().UTC(),
	}, nil
}
