// Package export writes reviewed intervals to local report files.
package export

import (
	"errors"
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatEDL  Format = "edl"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

func (f Format) Ext() string {
	return "." + string(f)
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON, FormatEDL:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Report is the reviewed state of one video.
type Report struct {
	VideoID    string              `json:"video_id"`
	SourcePath string              `json:"source_path,omitempty"`
	StartTime  float64             `json:"start_time"`
	Intervals  []segments.Interval `json:"intervals"`
	ExportedAt time.Time           `json:"exported_at"`
}

type ExportRequest struct {
	Format    Format  `json:"format"`
	FrameRate float64 `json:"frame_rate"`
	OutputDir string  `json:"output_dir"`
}

type ExportResponse struct {
	Status        string `json:"status"`
	Format        Format `json:"format"`
	OutputPath    string `json:"output_path"`
	IntervalCount int    `json:"interval_count"`
}

// reportRow is one line of the CSV and JSON reports.
type reportRow struct {
	Index    int     `json:"index"`
	Time     string  `json:"time"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

func rows(intervals []segments.Interval) []reportRow {
	out := make([]reportRow, 0, len(intervals))
	for i, iv := range intervals {
		out = append(out, reportRow{
			Index:    i + 1,
			Time:     segments.FormatClock(iv.Start) + "-" + segments.FormatClock(iv.End),
			Start:    iv.Start,
			End:      iv.End,
			Duration: iv.Duration(),
		})
	}
	return out
}
