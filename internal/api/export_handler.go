package api

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/KU-AILAB/CCTV-Timeline/internal/export"
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
)

// exportHandler writes the current intervals as a local report. Without an
// output_dir the report goes to the agent's export directory.
func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.ExportRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		format, err := export.ParseFormat(string(req.Format))
		if err != nil {
			WriteError(w, http.StatusBadRequest, "format must be csv, json or edl", "BAD_REQUEST")
			return
		}
		req.Format = format

		if req.OutputDir == "" {
			if cfg.ExportDir == "" {
				WriteError(w, http.StatusBadRequest, "output_dir is required", "BAD_REQUEST")
				return
			}
			if err := os.MkdirAll(cfg.ExportDir, 0755); err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			req.OutputDir = cfg.ExportDir
		}
		if err := export.ValidateOutputDir(req.OutputDir); err != nil {
			writeServiceError(w, err)
			return
		}

		snap, ok := cfg.Review.Current()
		if !ok {
			WriteError(w, http.StatusBadRequest, review.ErrNoSession.Error(), "NO_FILE_SELECTED")
			return
		}
		if len(snap.Intervals) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, review.ErrNoIntervals.Error(), "NO_INTERVALS")
			return
		}

		resp, err := export.Export(req, export.Report{
			VideoID:    snap.VideoID,
			SourcePath: snap.SourcePath,
			StartTime:  snap.StartTime,
			Intervals:  snap.Intervals,
		})
		if err != nil {
			cfg.Logger.Error("export failed", "video_id", snap.VideoID, "error", err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "EXPORT_FAILED")
			return
		}

		cfg.Logger.Info("intervals exported",
			"video_id", snap.VideoID,
			"format", resp.Format,
			"intervals", resp.IntervalCount)
		WriteJSON(w, http.StatusOK, resp)
	}
}
