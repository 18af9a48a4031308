package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KU-AILAB/CCTV-Timeline/internal/logging"
	"github.com/KU-AILAB/CCTV-Timeline/internal/playback"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Get("/uploads/pending", getPendingHandler(cfg))
		r.Delete("/uploads/pending", declinePendingHandler(cfg))
		r.Post("/uploads", startUploadHandler(cfg))
		r.Post("/uploads/sync", syncHandler(cfg))
		r.Post("/uploads/sync/pause", pauseSyncHandler(cfg, true))
		r.Post("/uploads/sync/resume", pauseSyncHandler(cfg, false))

		r.Get("/videos", listVideosHandler(cfg))

		r.Get("/review", getReviewHandler(cfg))
		r.Post("/review/select", selectVideoHandler(cfg))
		r.Post("/review/detect", detectHandler(cfg))
		r.Patch("/review/intervals/{index}", editIntervalHandler(cfg))
		r.Delete("/review/intervals/{index}", deleteIntervalHandler(cfg))
		r.Post("/review/finalize", finalizeHandler(cfg))
		r.Post("/review/export", exportHandler(cfg))
		r.Get("/review/clip", clipHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/review/video", videoHandler(cfg))
			r.Head("/review/video", videoHandler(cfg))
			if cfg.Events != nil {
				r.Get("/events", cfg.Events.ServeHTTP)
			}
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		version := cfg.Version
		if version == "" {
			version = "dev"
		}
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		resp := StatusResponse{State: "idle"}

		if active := cfg.Uploads.Active(); active != nil {
			resp.Active = active
			if active.Kind == upload.KindSync {
				resp.State = "syncing"
			} else {
				resp.State = "uploading"
			}
		}

		pending, err := cfg.Uploads.Pending(ctx)
		if err != nil {
			cfg.Logger.Warn("failed to load pending upload", "error", err)
		}
		resp.Pending = PendingToResponse(pending)

		queued, err := cfg.Repository.ListQueuedSessions(ctx)
		if err != nil {
			cfg.Logger.Warn("failed to list queued chunks", "error", err)
		}
		for _, q := range queued {
			resp.Queue.Sessions++
			resp.Queue.Chunks += q.Chunks
			resp.Queue.Bytes += q.Bytes
		}
		resp.Queue.BytesHuman = logging.FormatBytes(resp.Queue.Bytes)

		if cfg.Sync != nil {
			resp.Sync.Paused = cfg.Sync.IsPaused()
		}

		if snap, ok := cfg.Review.Current(); ok {
			resp.Review = &snap
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func getPendingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := cfg.Uploads.Pending(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if pending == nil {
			WriteError(w, http.StatusNotFound, "no pending upload", "NO_PENDING_UPLOAD")
			return
		}
		WriteJSON(w, http.StatusOK, PendingToResponse(pending))
	}
}

func declinePendingHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Uploads.Decline(r.Context()); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// startUploadHandler validates the source and runs the upload. An empty path
// resumes the pending upload from its recorded source.
func startUploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		pending, err := cfg.Uploads.Pending(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		path := strings.TrimSpace(req.Path)
		if path == "" && pending != nil {
			path = pending.SourcePath
		}
		size, err := validateSource(path)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		// The review session only moves to uploading once this request owns
		// the transfer slot, so a losing request leaves it untouched.
		filename := filepath.Base(path)
		run := func(ctx context.Context, claimed chan<- struct{}) (*upload.Result, error) {
			began := false
			res, err := cfg.Uploads.StartUpload(ctx, path, func() error {
				if _, err := cfg.Review.BeginUpload(ctx, filename, path); err != nil {
					return err
				}
				began = true
				if claimed != nil {
					close(claimed)
				}
				return nil
			})
			if err != nil {
				if began {
					cfg.Review.UploadFailed(filename, err)
				}
				return res, err
			}
			if _, err := cfg.Review.UploadFinished(ctx, filename); err != nil {
				cfg.Logger.Warn("review not updated after upload", "video_id", filename, "error", err)
			}
			return res, nil
		}

		if req.Wait {
			res, err := run(r.Context(), nil)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			WriteJSON(w, http.StatusOK, res)
			return
		}

		claimed := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			_, err := run(cfg.baseContext(), claimed)
			if err != nil {
				cfg.Logger.Warn("upload did not complete", "video_id", filename, "error", err)
			}
			done <- err
		}()

		select {
		case <-claimed:
		case err := <-done:
			select {
			case <-claimed:
				// Started, then failed; the review session carries the error.
			default:
				if err != nil {
					writeServiceError(w, err)
					return
				}
			}
		}

		WriteJSON(w, http.StatusAccepted, UploadStartedResponse{
			Status:   "started",
			VideoID:  filename,
			Resuming: upload.MatchCandidate(filename, size, pending),
		})
	}
}

func validateSource(path string) (int64, error) {
	if path == "" {
		return 0, upload.ErrNoFileSelected
	}
	if !upload.IsVideoFile(path) {
		return 0, fmt.Errorf("%w: %s", upload.ErrUnsupportedFormat, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s does not exist", upload.ErrNoFileSelected, filepath.Base(path))
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", upload.ErrNoFileSelected, filepath.Base(path))
	}
	if info.Size() == 0 {
		return 0, upload.ErrEmptyFile
	}
	return info.Size(), nil
}

func syncHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Sync == nil {
			WriteError(w, http.StatusServiceUnavailable, "background sync is not running", "UNAVAILABLE")
			return
		}
		cfg.Sync.Trigger()
		WriteJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
	}
}

func pauseSyncHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Sync == nil {
			WriteError(w, http.StatusServiceUnavailable, "background sync is not running", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Sync.Pause()
		} else {
			cfg.Sync.Resume()
		}
		WriteJSON(w, http.StatusOK, SyncResponse{Paused: cfg.Sync.IsPaused()})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cfg.Backend.ListVideos(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := VideosResponse{Videos: make([]VideoResponse, 0, len(entries))}
		for _, e := range entries {
			resp.Videos = append(resp.Videos, VideoResponse{
				Filename: e.Filename,
				Playable: playback.PlayableName(e.Filename),
			})
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
