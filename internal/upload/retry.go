package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Prober reports whether the backend is reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// SyncReport summarizes one replay pass over the chunk queue.
type SyncReport struct {
	Sessions   int      `json:"sessions"`
	ChunksSent int      `json:"chunks_sent"`
	BytesSent  int64    `json:"bytes_sent"`
	Failed     int      `json:"failed"`
	Skipped    int      `json:"skipped"`
	Completed  []string `json:"completed,omitempty"`
}

// RetryAgent replays queued chunks outside the primary transfer loop. It runs
// on a poll interval, probing the backend first, and on explicit triggers.
type RetryAgent struct {
	manager      *Manager
	repo         Repository
	sender       ChunkSender
	prober       Prober
	logger       *slog.Logger
	pollInterval time.Duration

	trigger chan struct{}
	syncMu  sync.Mutex
	running atomic.Bool
	paused  atomic.Bool
	online  atomic.Bool
}

func NewRetryAgent(manager *Manager, repo Repository, sender ChunkSender, prober Prober, pollInterval time.Duration, logger *slog.Logger) *RetryAgent {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &RetryAgent{
		manager:      manager,
		repo:         repo,
		sender:       sender,
		prober:       prober,
		logger:       logger,
		pollInterval: pollInterval,
		trigger:      make(chan struct{}, 1),
	}
}

func (a *RetryAgent) Start(ctx context.Context) {
	if a.running.Swap(true) {
		return
	}

	a.logger.Info("retry agent started", "poll_interval", a.pollInterval)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("retry agent stopping")
			a.running.Store(false)
			return
		case <-ticker.C:
			if !a.paused.Load() {
				a.poll(ctx)
			}
		case <-a.trigger:
			a.runSync(ctx)
		}
	}
}

// Trigger requests a sync pass without waiting for the next tick. Triggered
// passes run even while the agent is paused.
func (a *RetryAgent) Trigger() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *RetryAgent) Pause() {
	a.paused.Store(true)
	a.logger.Info("retry agent paused")
}

func (a *RetryAgent) Resume() {
	a.paused.Store(false)
	a.logger.Info("retry agent resumed")
}

func (a *RetryAgent) IsPaused() bool {
	return a.paused.Load()
}

func (a *RetryAgent) IsRunning() bool {
	return a.running.Load()
}

// poll syncs when something is queued and the backend answers. A change from
// unreachable to reachable is logged as a reconnect.
func (a *RetryAgent) poll(ctx context.Context) {
	sessions, err := a.repo.ListQueuedSessions(ctx)
	if err != nil {
		a.logger.Error("failed to list queued chunks", "error", err)
		return
	}
	if len(sessions) == 0 {
		return
	}

	if a.prober != nil {
		if err := a.prober.Ping(ctx); err != nil {
			if a.online.Swap(false) {
				a.logger.Warn("backend unreachable, deferring sync", "error", err)
			}
			return
		}
		if !a.online.Swap(true) {
			a.logger.Info("backend reachable, syncing queued chunks", "sessions", len(sessions))
		}
	}

	a.runSync(ctx)
}

func (a *RetryAgent) runSync(ctx context.Context) {
	report, err := a.Sync(ctx)
	if err != nil {
		a.logger.Error("sync failed", "error", err)
		return
	}
	if report.ChunksSent > 0 || report.Failed > 0 {
		a.logger.Info("sync pass finished",
			"sessions", report.Sessions,
			"chunks_sent", report.ChunksSent,
			"bytes_sent", report.BytesSent,
			"failed", report.Failed,
			"completed", len(report.Completed))
	}
}

// Sync replays every queued session once.
func (a *RetryAgent) Sync(ctx context.Context) (*SyncReport, error) {
	a.syncMu.Lock()
	defer a.syncMu.Unlock()

	sessions, err := a.repo.ListQueuedSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued sessions: %w", err)
	}

	report := &SyncReport{}
	for _, s := range sessions {
		if ctx.Err() != nil {
			break
		}
		report.Sessions++
		a.syncSession(ctx, s, report)
	}
	return report, nil
}

func (a *RetryAgent) syncSession(ctx context.Context, summary QueueSummary, report *SyncReport) {
	logger := a.logger.With("session_id", summary.SessionID)

	release, err := a.manager.TryClaim(KindSync, summary.SessionID)
	if err != nil {
		logger.Debug("transfer in progress, skipping session")
		report.Skipped++
		return
	}
	defer release()

	chunks, err := a.repo.ClaimQueuedChunks(ctx, summary.SessionID)
	if err != nil {
		logger.Error("failed to claim queued chunks", "error", err)
		report.Failed++
		return
	}
	defer func() {
		if err := a.repo.ReleaseQueuedChunks(context.WithoutCancel(ctx), summary.SessionID); err != nil {
			logger.Warn("failed to release queued chunks", "error", err)
		}
	}()
	if len(chunks) == 0 {
		return
	}

	var queued int64
	for _, c := range chunks {
		queued += c.Size
	}

	files := make(map[string]*os.File)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	var replayed int64
	for _, c := range chunks {
		data, err := readQueued(files, c)
		if err != nil {
			// The source moved or shrank; nothing queued for it can be sent.
			logger.Warn("queued chunk source unavailable, dropping session queue", "offset", c.Offset, "error", err)
			if err := a.repo.DeleteQueuedChunks(ctx, summary.SessionID); err != nil {
				logger.Warn("failed to drop queued chunks", "error", err)
			}
			report.Failed++
			a.manager.notify(Event{Type: EventSyncFailed, SessionID: c.SessionID, Filename: filepath.Base(c.SourcePath), TotalSize: c.TotalSize, Error: err.Error()})
			return
		}

		ack, err := a.sender.SendChunk(ctx, c.SessionID, Chunk{Offset: c.Offset, Size: c.Size}, c.TotalSize, data)
		if err != nil {
			report.Failed++
			cte := &ChunkTransferError{SessionID: c.SessionID, Offset: c.Offset, Err: err}
			if cte.Retryable() {
				if rerr := a.repo.RecordChunkFailure(ctx, c.ID, err.Error()); rerr != nil {
					logger.Warn("failed to record chunk failure", "error", rerr)
				}
				logger.Warn("queued chunk not delivered, will retry", "offset", c.Offset, "error", err)
			} else {
				logger.Warn("queued chunk rejected, dropping session queue", "offset", c.Offset, "error", err)
				if derr := a.repo.DeleteQueuedChunks(ctx, c.SessionID); derr != nil {
					logger.Warn("failed to drop queued chunks", "error", derr)
				}
			}
			a.manager.notify(Event{
				Type:      EventSyncFailed,
				SessionID: c.SessionID,
				Filename:  filepath.Base(c.SourcePath),
				TotalSize: c.TotalSize,
				Progress:  Percent(replayed, queued),
				Error:     cte.Error(),
			})
			return
		}

		if err := a.repo.DeleteQueuedChunk(ctx, c.ID); err != nil {
			logger.Warn("failed to delete acknowledged chunk", "offset", c.Offset, "error", err)
		}
		replayed += c.Size
		report.ChunksSent++
		report.BytesSent += c.Size

		if _, err := a.repo.UpdatePendingProgress(ctx, c.SessionID, ack.UploadedSize); err != nil {
			logger.Warn("failed to persist upload progress", "error", err)
		}

		a.manager.notify(Event{
			Type:         EventSyncProgress,
			SessionID:    c.SessionID,
			Filename:     filepath.Base(c.SourcePath),
			UploadedSize: ack.UploadedSize,
			TotalSize:    c.TotalSize,
			Progress:     Percent(replayed, queued),
		})

		if ack.UploadedSize >= c.TotalSize {
			a.complete(ctx, logger, c, report)
			return
		}
	}
}

func (a *RetryAgent) complete(ctx context.Context, logger *slog.Logger, c *QueuedChunk, report *SyncReport) {
	if err := a.repo.DeleteQueuedChunks(ctx, c.SessionID); err != nil {
		logger.Warn("failed to drop queued chunks", "error", err)
	}
	if err := a.repo.ClearPending(ctx, c.SessionID); err != nil {
		logger.Warn("failed to clear pending upload", "error", err)
	}
	report.Completed = append(report.Completed, c.SessionID)
	logger.Info("background sync completed upload", "total_size", c.TotalSize)
	a.manager.notify(Event{
		Type:         EventSyncComplete,
		SessionID:    c.SessionID,
		Filename:     filepath.Base(c.SourcePath),
		UploadedSize: c.TotalSize,
		TotalSize:    c.TotalSize,
		Progress:     100,
	})
}

func readQueued(files map[string]*os.File, c *QueuedChunk) ([]byte, error) {
	f, ok := files[c.SourcePath]
	if !ok {
		var err error
		f, err = os.Open(c.SourcePath)
		if err != nil {
			return nil, err
		}
		files[c.SourcePath] = f
	}

	data := make([]byte, c.Size)
	n, err := f.ReadAt(data, c.Offset)
	if int64(n) < c.Size {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read %s at offset %d: %w", c.SourcePath, c.Offset, err)
	}
	return data, nil
}
