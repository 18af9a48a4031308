package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/KU-AILAB/CCTV-Timeline/internal/logging"
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

const refreshInterval = 5 * time.Second

// TransferSource reports the transfer holding the upload slot.
type TransferSource interface {
	Active() *upload.ActiveTransfer
}

// SyncControl is implemented by *upload.RetryAgent.
type SyncControl interface {
	Trigger()
	Pause()
	Resume()
	IsPaused() bool
}

type QueueSource interface {
	ListQueuedSessions(ctx context.Context) ([]upload.QueueSummary, error)
}

type ReviewSource interface {
	Current() (review.Snapshot, bool)
}

type Tray struct {
	transfers TransferSource
	sync      SyncControl
	queue     QueueSource
	review    ReviewSource
	logger    *slog.Logger

	statusItem *systray.MenuItem
	queueItem  *systray.MenuItem
	reviewItem *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onQuit func()
}

type TrayConfig struct {
	Transfers TransferSource
	Sync      SyncControl
	Queue     QueueSource
	Review    ReviewSource
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		transfers: cfg.Transfers,
		sync:      cfg.Sync,
		queue:     cfg.Queue,
		review:    cfg.Review,
		logger:    cfg.Logger,
		onQuit:    cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("CCTV Timeline")
	systray.SetTooltip("CCTV Timeline Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current transfer")
	t.statusItem.Disable()

	t.queueItem = systray.AddMenuItem("Queued: nothing", "Chunks waiting for background sync")
	t.queueItem.Disable()

	t.reviewItem = systray.AddMenuItem("Review: none", "Video under review")
	t.reviewItem.Disable()

	systray.AddSeparator()

	syncItem := systray.AddMenuItem("Sync now", "Replay queued chunks")
	t.pauseItem = systray.AddMenuItem("Pause sync", "Pause background sync")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit CCTV Timeline Agent")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		t.refresh()
		for {
			select {
			case <-ticker.C:
				t.refresh()
			case <-syncItem.ClickedCh:
				if t.sync != nil {
					t.logger.Info("sync requested from tray")
					t.sync.Trigger()
				}
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sync == nil {
		return
	}

	if t.sync.IsPaused() {
		t.sync.Resume()
		t.pauseItem.SetTitle("Pause sync")
	} else {
		t.sync.Pause()
		t.pauseItem.SetTitle("Resume sync")
	}
}

func (t *Tray) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.statusItem.SetTitle("Status: " + StatusLine(t.activeTransfer(), t.sync != nil && t.sync.IsPaused()))

	if t.queue != nil {
		sessions, err := t.queue.ListQueuedSessions(ctx)
		if err != nil {
			t.logger.Debug("tray queue refresh failed", "error", err)
		} else {
			t.queueItem.SetTitle("Queued: " + QueueLine(sessions))
		}
	}

	if t.review != nil {
		if snap, ok := t.review.Current(); ok {
			t.reviewItem.SetTitle(fmt.Sprintf("Review: %s (%s)", snap.VideoID, snap.State))
		}
	}
}

func (t *Tray) activeTransfer() *upload.ActiveTransfer {
	if t.transfers == nil {
		return nil
	}
	return t.transfers.Active()
}

// StatusLine describes the transfer slot for the status menu item.
func StatusLine(active *upload.ActiveTransfer, paused bool) string {
	switch {
	case active != nil && active.Kind == upload.KindSync:
		return fmt.Sprintf("Syncing %d%%", active.Progress)
	case active != nil:
		name := active.Filename
		if name == "" {
			name = "video"
		}
		return fmt.Sprintf("Uploading %s %d%%", name, active.Progress)
	case paused:
		return "Sync paused"
	default:
		return "Idle"
	}
}

// QueueLine summarizes queued chunks as "3 chunks, 3.0 MiB".
func QueueLine(sessions []upload.QueueSummary) string {
	var chunks int
	var bytes int64
	for _, s := range sessions {
		chunks += s.Chunks
		bytes += s.Bytes
	}
	if chunks == 0 {
		return "nothing"
	}
	noun := "chunks"
	if chunks == 1 {
		noun = "chunk"
	}
	return fmt.Sprintf("%d %s, %s", chunks, noun, logging.FormatBytes(bytes))
}

func (t *Tray) Quit() {
	systray.Quit()
}
