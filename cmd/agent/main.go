package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/KU-AILAB/CCTV-Timeline/internal/api"
	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/config"
	"github.com/KU-AILAB/CCTV-Timeline/internal/db"
	"github.com/KU-AILAB/CCTV-Timeline/internal/events"
	"github.com/KU-AILAB/CCTV-Timeline/internal/logging"
	"github.com/KU-AILAB/CCTV-Timeline/internal/pipeline"
	"github.com/KU-AILAB/CCTV-Timeline/internal/playback"
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/ui"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting cctv timeline agent", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := upload.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║  CCTV TIMELINE AGENT v%-36s║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-28d║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s║\n", deviceID)
	fmt.Printf("║  Backend:    %-45s║\n", cfg.BackendURL())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := cloud.NewHTTPClient(cfg.BackendURL(), cfg.HTTPTimeout(), logging.WithComponent(logger, "backend"))
	backend.SetDeviceID(deviceID)

	hub := events.NewHub(logging.WithComponent(logger, "events"))
	go hub.Run(ctx)

	prober := pipeline.NewCachedProber(pipeline.NewProber(logger), logger)
	workflow := review.NewWorkflow(backend, review.NewStore(database.Conn()), prober, cfg.MergeGapSeconds(), logging.WithComponent(logger, "review"))
	workflow.SetNotifier(hub)
	if err := workflow.Restore(ctx); err != nil {
		logger.Warn("previous review not restored", "error", err)
	}

	manager := upload.NewManager(backend, repo, cfg.ChunkSize(), logging.WithComponent(logger, "upload"))
	manager.SetNotifier(upload.NotifierFunc(func(e upload.Event) {
		hub.Notify(e)
		if e.Type == upload.EventSyncComplete {
			markUploaded(ctx, workflow, e.Filename, logger)
		}
	}))

	if pending, err := manager.Pending(ctx); err != nil {
		logger.Warn("failed to read pending upload", "error", err)
	} else if pending != nil {
		logger.Info("interrupted upload can be resumed",
			"filename", pending.Filename,
			"progress", pending.Progress(),
			"uploaded", logging.FormatBytes(pending.UploadedSize),
			"total", logging.FormatBytes(pending.TotalSize))
	}

	retry := upload.NewRetryAgent(manager, repo, backend, backend, cfg.SyncInterval(), logging.WithComponent(logger, "sync"))
	go retry.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Uploads:        manager,
		Sync:           retry,
		Repository:     repo,
		Review:         workflow,
		Backend:        backend,
		PlaybackServer: playback.NewServer(logger),
		Events:         events.NewHandler(hub, api.CheckOrigin, logger),
		ExportDir:      cfg.ExportDir(),
		BaseContext:    ctx,
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
		Version:        config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Transfers: manager,
			Sync:      retry,
			Queue:     repo,
			Review:    workflow,
			Logger:    logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// markUploaded moves the review forward when background sync finishes the
// upload of the video being reviewed.
func markUploaded(ctx context.Context, workflow *review.Workflow, videoID string, logger *slog.Logger) {
	if _, err := workflow.UploadFinished(ctx, videoID); err != nil {
		logger.Debug("synced upload is not under review", "video_id", videoID, "error", err)
	}
}

func ensureDeviceID(repo upload.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	deviceID := uuid.NewString()
	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo upload.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
