package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const maxNameLen = 100

// WriteCSV writes one row per interval. The time column uses the
// HH:MM:SS-HH:MM:SS form of the backend's detection reports.
func WriteCSV(w io.Writer, report Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"index", "time", "start", "end", "duration"}); err != nil {
		return err
	}
	for _, r := range rows(report.Intervals) {
		rec := []string{
			strconv.Itoa(r.Index),
			r.Time,
			formatSeconds(r.Start),
			formatSeconds(r.End),
			formatSeconds(r.Duration),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteJSON(w io.Writer, report Report) error {
	doc := struct {
		VideoID    string      `json:"video_id"`
		StartTime  float64     `json:"start_time"`
		ExportedAt time.Time   `json:"exported_at"`
		Intervals  []reportRow `json:"intervals"`
	}{
		VideoID:    report.VideoID,
		StartTime:  report.StartTime,
		ExportedAt: report.ExportedAt,
		Intervals:  rows(report.Intervals),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Export writes the report in the requested format into req.OutputDir,
// which must already exist.
func Export(req ExportRequest, report Report) (*ExportResponse, error) {
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.Format)
	}
	if err := ValidateOutputDir(req.OutputDir); err != nil {
		return nil, err
	}
	if report.ExportedAt.IsZero() {
		report.ExportedAt = time.Now().UTC()
	}

	base := SanitizeName(strings.TrimSuffix(report.VideoID, filepath.Ext(report.VideoID)), maxNameLen)
	if base == "" {
		base = "timeline"
	}
	outPath := filepath.Join(req.OutputDir, base+"_intervals"+format.Ext())

	f, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}

	switch format {
	case FormatCSV:
		err = WriteCSV(f, report)
	case FormatJSON:
		err = WriteJSON(f, report)
	case FormatEDL:
		_, err = io.WriteString(f, GenerateEDL(report, base, req.FrameRate))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("write %s export: %w", format, err)
	}

	return &ExportResponse{
		Status:        "ok",
		Format:        format,
		OutputPath:    outPath,
		IntervalCount: len(report.Intervals),
	}, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
