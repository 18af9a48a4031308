package api

import (
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State   string                 `json:"state"`
	Pending *PendingResponse       `json:"pending,omitempty"`
	Active  *upload.ActiveTransfer `json:"active,omitempty"`
	Queue   QueueResponse          `json:"queue"`
	Sync    SyncResponse           `json:"sync"`
	Review  *review.Snapshot       `json:"review,omitempty"`
}

type PendingResponse struct {
	SessionID    string `json:"session_id"`
	Filename     string `json:"filename"`
	TotalSize    int64  `json:"total_size"`
	UploadedSize int64  `json:"uploaded_size"`
	Progress     int    `json:"progress"`
	SourcePath   string `json:"source_path,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

type QueueResponse struct {
	Sessions   int    `json:"sessions"`
	Chunks     int    `json:"chunks"`
	Bytes      int64  `json:"bytes"`
	BytesHuman string `json:"bytes_human"`
}

type SyncResponse struct {
	Paused bool `json:"paused"`
}

type UploadRequest struct {
	Path string `json:"path"`
	// Wait blocks the request until the upload finishes or fails.
	Wait bool `json:"wait,omitempty"`
}

type UploadStartedResponse struct {
	Status   string `json:"status"`
	VideoID  string `json:"video_id"`
	Resuming bool   `json:"resuming"`
}

type SelectRequest struct {
	VideoID string `json:"video_id"`
	Path    string `json:"path,omitempty"`
}

type DetectRequest struct {
	// StartTime is HH:MM:SS; empty means the beginning of the video.
	StartTime string   `json:"start_time,omitempty"`
	MergeGap  *float64 `json:"merge_gap,omitempty"`
}

// EditIntervalRequest moves one edge either to an absolute second (To) or
// by a pointer delta in pixels over a track of TrackWidthPx pixels.
type EditIntervalRequest struct {
	Edge         string   `json:"edge"`
	To           *float64 `json:"to,omitempty"`
	DxPx         *float64 `json:"dx_px,omitempty"`
	TrackWidthPx float64  `json:"track_width_px,omitempty"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type VideoResponse struct {
	Filename string `json:"filename"`
	Playable string `json:"playable"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func PendingToResponse(p *upload.PendingUploadRecord) *PendingResponse {
	if p == nil {
		return nil
	}
	return &PendingResponse{
		SessionID:    p.SessionID,
		Filename:     p.Filename,
		TotalSize:    p.TotalSize,
		UploadedSize: p.UploadedSize,
		Progress:     p.Progress(),
		SourcePath:   p.SourcePath,
		UpdatedAt:    p.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
