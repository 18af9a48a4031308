// Package events streams upload and review progress to connected review
// pages over websockets.
package events

import (
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

const TypeReviewState = "review_state"

// Message is the JSON document sent to clients.
type Message struct {
	Type         string              `json:"type"`
	SessionID    string              `json:"session_id,omitempty"`
	VideoID      string              `json:"video_id,omitempty"`
	UploadedSize int64               `json:"uploaded_size,omitempty"`
	TotalSize    int64               `json:"total_size,omitempty"`
	Progress     int                 `json:"progress"`
	State        string              `json:"state,omitempty"`
	Intervals    []segments.Interval `json:"intervals,omitempty"`
	Error        string              `json:"error,omitempty"`
	Time         time.Time           `json:"time"`
}

func FromUpload(e upload.Event) Message {
	return Message{
		Type:         string(e.Type),
		SessionID:    e.SessionID,
		VideoID:      e.Filename,
		UploadedSize: e.UploadedSize,
		TotalSize:    e.TotalSize,
		Progress:     e.Progress,
		Error:        e.Error,
		Time:         time.Now().UTC(),
	}
}

func FromReview(s review.Snapshot) Message {
	m := Message{
		Type:      TypeReviewState,
		VideoID:   s.VideoID,
		State:     string(s.State),
		Intervals: s.Intervals,
		Error:     s.Error,
		Time:      time.Now().UTC(),
	}
	if s.State == review.StateFinalized {
		m.Progress = 100
	}
	return m
}

// stream groups message types whose latest value is replayed to new clients.
func stream(msgType string) string {
	if msgType == TypeReviewState {
		return "review"
	}
	return "upload"
}
