package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

// SessionID decodes an upload session id sent either as a JSON string or a number.
type SessionID string

func (s *SessionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = SessionID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("session_id: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("session_id: %q is not an integer", n.String())
	}
	*s = SessionID(n.String())
	return nil
}

type initSessionRequest struct {
	Filename  string `json:"filename"`
	TotalSize int64  `json:"total_size"`
}

type initSessionResponse struct {
	SessionID    SessionID `json:"session_id"`
	UploadedSize int64     `json:"uploaded_size"`
	TotalSize    int64     `json:"total_size"`
}

type chunkResponse struct {
	UploadedSize int64   `json:"uploaded_size"`
	Progress     float64 `json:"progress"`
}

// DetectionResult is the backend's answer to a detection request. CSV and
// JSON are server-side references to the detection reports.
type DetectionResult struct {
	Frames        []string  `json:"frames"`
	FrameTimes    []float64 `json:"frame_times"`
	DetectedTimes []float64 `json:"detected_times"`
	CSV           string    `json:"csv"`
	JSON          string    `json:"json"`
	Segments      []string  `json:"segments"`
}

type finalizeRequest struct {
	VideoFile string              `json:"video_file"`
	Intervals []segments.Interval `json:"intervals"`
}

// FinalizeResult references the artifacts produced from the confirmed intervals.
type FinalizeResult struct {
	CSV   string   `json:"csv"`
	JSON  string   `json:"json"`
	Clips []string `json:"clips"`
}

// VideoEntry is one video known to the backend.
type VideoEntry struct {
	Filename string `json:"filename"`
}

type errorResponse struct {
	Error string `json:"error"`
}
