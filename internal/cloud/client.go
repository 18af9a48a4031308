// Package cloud is the HTTP client for the remote detection backend: upload
// sessions, chunk delivery, detection, finalization and clip download.
package cloud

import (
	"context"
	"io"

	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

// Backend is everything the agent needs from the detection server.
type Backend interface {
	upload.SessionAPI
	upload.Prober

	Detect(ctx context.Context, videoID string, startTime float64) (*DetectionResult, error)
	Finalize(ctx context.Context, videoID string, intervals []segments.Interval) (*FinalizeResult, error)
	DownloadClip(ctx context.Context, videoID string, start, end float64, w io.Writer) (int64, error)
	ListVideos(ctx context.Context) ([]VideoEntry, error)
}

var _ Backend = (*HTTPClient)(nil)
