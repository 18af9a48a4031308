package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/playback"
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

// UploadService is implemented by *upload.Manager.
type UploadService interface {
	Pending(ctx context.Context) (*upload.PendingUploadRecord, error)
	Active() *upload.ActiveTransfer
	StartUpload(ctx context.Context, path string, started func() error) (*upload.Result, error)
	Resume(ctx context.Context, path string) (*upload.Result, error)
	Decline(ctx context.Context) error
}

// SyncService is implemented by *upload.RetryAgent.
type SyncService interface {
	Trigger()
	Pause()
	Resume()
	IsPaused() bool
}

// ReviewService is implemented by *review.Workflow.
type ReviewService interface {
	Current() (review.Snapshot, bool)
	BeginUpload(ctx context.Context, videoID, sourcePath string) (review.Snapshot, error)
	UploadFinished(ctx context.Context, videoID string) (review.Snapshot, error)
	UploadFailed(videoID string, cause error)
	Select(ctx context.Context, videoID, sourcePath string) (review.Snapshot, error)
	Detect(ctx context.Context, startTime float64, gap *float64) (review.Snapshot, error)
	MoveEdge(ctx context.Context, index int, edge segments.Edge, to float64) (review.Snapshot, error)
	DragByPointer(ctx context.Context, index int, edge segments.Edge, dx, trackWidth float64) (review.Snapshot, error)
	Delete(ctx context.Context, index int) (review.Snapshot, error)
	Finalize(ctx context.Context) (*review.Artifacts, error)
}

// VideoBackend is the read side of the detection backend.
type VideoBackend interface {
	ListVideos(ctx context.Context) ([]cloud.VideoEntry, error)
	DownloadClip(ctx context.Context, videoID string, start, end float64, w io.Writer) (int64, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	Uploads        UploadService
	Sync           SyncService
	Repository     upload.Repository
	Review         ReviewService
	Backend        VideoBackend
	PlaybackServer playback.PlaybackService
	Events         http.Handler
	ExportDir      string
	// BaseContext bounds uploads started without waiting for them.
	BaseContext context.Context
	Logger      *slog.Logger
	StartTime   time.Time
	DeviceID    string
	Version     string
}

func (c ServerConfig) baseContext() context.Context {
	if c.BaseContext != nil {
		return c.BaseContext
	}
	return context.Background()
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
