package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KU-AILAB/CCTV-Timeline/internal/export"
	"github.com/KU-AILAB/CCTV-Timeline/internal/playback"
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
)

func getReviewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := cfg.Review.Current()
		if !ok {
			WriteError(w, http.StatusNotFound, review.ErrNoSession.Error(), "NO_FILE_SELECTED")
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func selectVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		req.VideoID = strings.TrimSpace(req.VideoID)
		if req.VideoID == "" {
			WriteError(w, http.StatusBadRequest, "video_id is required", "NO_FILE_SELECTED")
			return
		}

		snap, err := cfg.Review.Select(r.Context(), req.VideoID, req.Path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func detectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DetectRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		var start float64
		if req.StartTime != "" {
			v, err := segments.ParseClock(req.StartTime)
			if err != nil {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			start = v
		}
		if req.MergeGap != nil && (*req.MergeGap < 0 || math.IsNaN(*req.MergeGap)) {
			WriteError(w, http.StatusBadRequest, "merge_gap must not be negative", "BAD_REQUEST")
			return
		}

		snap, err := cfg.Review.Detect(r.Context(), start, req.MergeGap)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func editIntervalHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := intervalIndex(w, r)
		if !ok {
			return
		}

		var req EditIntervalRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		edge := segments.Edge(strings.ToLower(req.Edge))
		if edge != segments.EdgeStart && edge != segments.EdgeEnd {
			WriteError(w, http.StatusBadRequest, "edge must be start or end", "BAD_REQUEST")
			return
		}

		var (
			snap review.Snapshot
			err  error
		)
		switch {
		case req.To != nil:
			snap, err = cfg.Review.MoveEdge(r.Context(), index, edge, *req.To)
		case req.DxPx != nil && req.TrackWidthPx > 0:
			snap, err = cfg.Review.DragByPointer(r.Context(), index, edge, *req.DxPx, req.TrackWidthPx)
		default:
			WriteError(w, http.StatusBadRequest, "either to or dx_px with track_width_px is required", "BAD_REQUEST")
			return
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func deleteIntervalHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := intervalIndex(w, r)
		if !ok {
			return
		}
		snap, err := cfg.Review.Delete(r.Context(), index)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, snap)
	}
}

func intervalIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		WriteError(w, http.StatusBadRequest, "index must be a non-negative integer", "BAD_REQUEST")
		return 0, false
	}
	return index, true
}

func finalizeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifacts, err := cfg.Review.Finalize(r.Context())
		if err != nil {
			cfg.Logger.Warn("finalize failed", "error", err)
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, artifacts)
	}
}

// clipHandler streams a backend-cut clip of the current video between the
// start and end query parameters, in seconds.
func clipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, ok := cfg.Review.Current()
		if !ok {
			WriteError(w, http.StatusBadRequest, review.ErrNoSession.Error(), "NO_FILE_SELECTED")
			return
		}

		start, err1 := strconv.ParseFloat(r.URL.Query().Get("start"), 64)
		end, err2 := strconv.ParseFloat(r.URL.Query().Get("end"), 64)
		iv := segments.Interval{Start: start, End: end}
		if err1 != nil || err2 != nil || !iv.Valid() {
			WriteError(w, http.StatusBadRequest, "start and end must be seconds with start < end", "BAD_REQUEST")
			return
		}

		cw := &clipWriter{w: w, filename: export.ClipFileName(strings.TrimSuffix(snap.VideoID, filepath.Ext(snap.VideoID)), start, end)}
		if _, err := cfg.Backend.DownloadClip(r.Context(), playback.PlayableName(snap.VideoID), start, end, cw); err != nil {
			if !cw.started {
				writeServiceError(w, err)
				return
			}
			cfg.Logger.Warn("clip stream interrupted", "video_id", snap.VideoID, "interval", iv.String(), "error", err)
		}
		if !cw.started {
			cw.writeHeader()
		}
	}
}

// clipWriter holds back the response headers until the backend sends the
// first byte, so a failed download can still become a JSON error.
type clipWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (c *clipWriter) writeHeader() {
	c.started = true
	c.w.Header().Set("Content-Type", "video/mp4")
	c.w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.filename))
	c.w.WriteHeader(http.StatusOK)
}

func (c *clipWriter) Write(p []byte) (int, error) {
	if !c.started {
		c.writeHeader()
	}
	return c.w.Write(p)
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.PlaybackServer == nil {
			WriteError(w, http.StatusServiceUnavailable, "playback is not available", "UNAVAILABLE")
			return
		}
		snap, ok := cfg.Review.Current()
		if !ok || snap.SourcePath == "" {
			WriteError(w, http.StatusNotFound, "no local source for the current video", "NOT_FOUND")
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, snap.SourcePath); err != nil {
			cfg.Logger.Error("playback failed", "video_id", snap.VideoID, "error", err)
		}
	}
}
