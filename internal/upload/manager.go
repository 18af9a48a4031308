package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// SessionAPI is the server half of an upload.
type SessionAPI interface {
	InitSession(ctx context.Context, filename string, totalSize int64) (SessionHandle, error)
	ChunkSender
}

// TransferKind tells who owns the active transfer slot.
type TransferKind string

const (
	KindUpload TransferKind = "upload"
	KindSync   TransferKind = "sync"
)

// ActiveTransfer is a snapshot of the transfer currently holding the slot.
type ActiveTransfer struct {
	Kind         TransferKind `json:"kind"`
	SessionID    string       `json:"session_id,omitempty"`
	Filename     string       `json:"filename,omitempty"`
	TotalSize    int64        `json:"total_size"`
	UploadedSize int64        `json:"uploaded_size"`
	Progress     int          `json:"progress"`
	StartedAt    time.Time    `json:"started_at"`
}

// Result describes a finished primary upload.
type Result struct {
	SessionID    string `json:"session_id"`
	Filename     string `json:"filename"`
	SourcePath   string `json:"source_path"`
	TotalSize    int64  `json:"total_size"`
	UploadedSize int64  `json:"uploaded_size"`
	Resumed      bool   `json:"resumed"`
}

// Manager decides between resuming and starting fresh, and owns the single
// transfer slot shared by the primary loop and the retry agent.
type Manager struct {
	api    SessionAPI
	repo   Repository
	loop   *TransferLoop
	logger *slog.Logger

	notifyMu sync.RWMutex
	notifier Notifier

	mu     sync.Mutex
	active *ActiveTransfer
}

func NewManager(api SessionAPI, repo Repository, chunkSize int64, logger *slog.Logger) *Manager {
	return &Manager{
		api:      api,
		repo:     repo,
		loop:     NewTransferLoop(api, repo, chunkSize, logger),
		logger:   logger,
		notifier: nopNotifier{},
	}
}

func (m *Manager) SetNotifier(n Notifier) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	if n == nil {
		n = nopNotifier{}
	}
	m.notifier = n
}

func (m *Manager) notify(e Event) {
	m.notifyMu.RLock()
	n := m.notifier
	m.notifyMu.RUnlock()
	n.Notify(e)
}

// MatchCandidate reports whether a selected file continues the pending upload.
// Both filename and size must match exactly.
func MatchCandidate(filename string, size int64, pending *PendingUploadRecord) bool {
	return pending != nil && pending.Filename == filename && pending.TotalSize == size
}

func (m *Manager) Pending(ctx context.Context) (*PendingUploadRecord, error) {
	return m.repo.GetPending(ctx)
}

// Active returns a copy of the transfer holding the slot, or nil.
func (m *Manager) Active() *ActiveTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	cp := *m.active
	return &cp
}

// TryClaim takes the transfer slot for sessionID. The returned func releases it.
func (m *Manager) TryClaim(kind TransferKind, sessionID string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrTransferInProgress
	}
	m.active = &ActiveTransfer{Kind: kind, SessionID: sessionID, StartedAt: time.Now().UTC()}
	return m.release, nil
}

func (m *Manager) release() {
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

func (m *Manager) updateActive(fn func(a *ActiveTransfer)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		fn(m.active)
	}
}

// Initiate resumes the pending session when the candidate matches it and
// otherwise discards the stale record and opens a fresh session.
func (m *Manager) Initiate(ctx context.Context, filename string, size int64, sourcePath string) (SessionHandle, error) {
	pending, err := m.repo.GetPending(ctx)
	if err != nil {
		return SessionHandle{}, fmt.Errorf("load pending upload: %w", err)
	}

	if MatchCandidate(filename, size, pending) {
		if sourcePath != "" && pending.SourcePath != sourcePath {
			pending.SourcePath = sourcePath
			pending.UpdatedAt = time.Now().UTC()
			if err := m.repo.SavePending(ctx, pending); err != nil {
				return SessionHandle{}, fmt.Errorf("update pending upload: %w", err)
			}
		}
		m.logger.Info("resuming upload",
			"session_id", pending.SessionID,
			"filename", filename,
			"uploaded_size", pending.UploadedSize,
			"total_size", size)
		return SessionHandle{
			SessionID:    pending.SessionID,
			UploadedSize: pending.UploadedSize,
			TotalSize:    size,
			Resumed:      true,
		}, nil
	}

	if pending != nil {
		m.logger.Info("discarding stale pending upload",
			"session_id", pending.SessionID,
			"pending_filename", pending.Filename,
			"pending_size", pending.TotalSize,
			"filename", filename,
			"size", size)
		if err := m.repo.DeleteQueuedChunks(ctx, pending.SessionID); err != nil {
			return SessionHandle{}, fmt.Errorf("drop queued chunks: %w", err)
		}
		if err := m.repo.DiscardPending(ctx); err != nil {
			return SessionHandle{}, fmt.Errorf("discard pending upload: %w", err)
		}
	}

	h, err := m.api.InitSession(ctx, filename, size)
	if err != nil {
		return SessionHandle{}, fmt.Errorf("init upload session: %w", err)
	}
	h.TotalSize = size
	h.Resumed = false

	rec := &PendingUploadRecord{
		SessionID:    h.SessionID,
		Filename:     filename,
		TotalSize:    size,
		UploadedSize: h.UploadedSize,
		SourcePath:   sourcePath,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := m.repo.SavePending(ctx, rec); err != nil {
		return SessionHandle{}, fmt.Errorf("save pending upload: %w", err)
	}

	m.logger.Info("upload session created", "session_id", h.SessionID, "filename", filename, "total_size", size)
	return h, nil
}

// Upload sends the file at path, resuming the pending session when the file
// matches it. It returns ErrTransferInProgress if any transfer is running.
func (m *Manager) Upload(ctx context.Context, path string) (*Result, error) {
	return m.StartUpload(ctx, path, nil)
}

// StartUpload is Upload with a hook that runs while the transfer slot is held
// and before the session is initiated. started is not called when the slot is
// taken or the source is rejected; an error from it aborts the upload.
func (m *Manager) StartUpload(ctx context.Context, path string, started func() error) (*Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrNoFileSelected
	}
	filename := filepath.Base(path)
	if !IsVideoFile(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open source: %s is a directory", filename)
	}
	size := info.Size()
	if size == 0 {
		return nil, ErrEmptyFile
	}

	release, err := m.TryClaim(KindUpload, "")
	if err != nil {
		return nil, err
	}
	defer release()

	if started != nil {
		if err := started(); err != nil {
			return nil, err
		}
	}

	h, err := m.Initiate(ctx, filename, size, path)
	if err != nil {
		return nil, err
	}

	// The primary loop owns this session now; queued copies would only resend bytes.
	if err := m.repo.DeleteQueuedChunks(ctx, h.SessionID); err != nil {
		m.logger.Warn("failed to drop queued chunks", "session_id", h.SessionID, "error", err)
	}

	m.updateActive(func(a *ActiveTransfer) {
		a.SessionID = h.SessionID
		a.Filename = filename
		a.TotalSize = size
		a.UploadedSize = h.UploadedSize
		a.Progress = Percent(h.UploadedSize, size)
	})

	res := &Result{
		SessionID:    h.SessionID,
		Filename:     filename,
		SourcePath:   path,
		TotalSize:    size,
		UploadedSize: h.UploadedSize,
		Resumed:      h.Resumed,
	}

	m.notify(Event{
		Type:         EventUploadProgress,
		SessionID:    h.SessionID,
		Filename:     filename,
		UploadedSize: h.UploadedSize,
		TotalSize:    size,
		Progress:     Percent(h.UploadedSize, size),
	})

	uploaded, err := m.loop.Transfer(ctx, f, h.SessionID, size, h.UploadedSize, func(uploaded int64) {
		pct := Percent(uploaded, size)
		m.updateActive(func(a *ActiveTransfer) {
			a.UploadedSize = uploaded
			a.Progress = pct
		})
		m.notify(Event{
			Type:         EventUploadProgress,
			SessionID:    h.SessionID,
			Filename:     filename,
			UploadedSize: uploaded,
			TotalSize:    size,
			Progress:     pct,
		})
	})
	res.UploadedSize = uploaded

	if err != nil {
		m.logger.Warn("upload interrupted",
			"session_id", h.SessionID,
			"uploaded_size", uploaded,
			"total_size", size,
			"error", err)

		var cte *ChunkTransferError
		if errors.As(err, &cte) && cte.Retryable() {
			m.spool(ctx, h.SessionID, path, size, uploaded)
		}

		m.notify(Event{
			Type:         EventUploadFailed,
			SessionID:    h.SessionID,
			Filename:     filename,
			UploadedSize: uploaded,
			TotalSize:    size,
			Progress:     Percent(uploaded, size),
			Error:        err.Error(),
		})
		return res, err
	}

	if err := m.repo.ClearPending(ctx, h.SessionID); err != nil {
		m.logger.Warn("failed to clear pending upload", "session_id", h.SessionID, "error", err)
	}

	m.logger.Info("upload completed", "session_id", h.SessionID, "filename", filename, "total_size", size)
	m.notify(Event{
		Type:         EventUploadComplete,
		SessionID:    h.SessionID,
		Filename:     filename,
		UploadedSize: uploaded,
		TotalSize:    size,
		Progress:     100,
	})
	return res, nil
}

// Resume continues the pending upload. An empty path falls back to the
// recorded source path; the file must still match by name and size.
func (m *Manager) Resume(ctx context.Context, path string) (*Result, error) {
	pending, err := m.repo.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pending upload: %w", err)
	}
	if pending == nil {
		return nil, ErrNoPendingUpload
	}
	if strings.TrimSpace(path) == "" {
		path = pending.SourcePath
	}
	return m.Upload(ctx, path)
}

// Decline drops the pending upload and anything queued for it.
func (m *Manager) Decline(ctx context.Context) error {
	pending, err := m.repo.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending upload: %w", err)
	}
	if pending == nil {
		return nil
	}

	release, err := m.TryClaim(KindUpload, pending.SessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := m.repo.DeleteQueuedChunks(ctx, pending.SessionID); err != nil {
		return fmt.Errorf("drop queued chunks: %w", err)
	}
	if err := m.repo.ClearPending(ctx, pending.SessionID); err != nil {
		return fmt.Errorf("clear pending upload: %w", err)
	}
	m.logger.Info("pending upload declined", "session_id", pending.SessionID, "filename", pending.Filename)
	return nil
}

// spool queues the unacknowledged tail of the file for the retry agent.
func (m *Manager) spool(ctx context.Context, sessionID, path string, total, uploaded int64) {
	plan := PlanChunks(total, uploaded, m.loop.ChunkSize())
	if len(plan) == 0 {
		return
	}
	queued := make([]*QueuedChunk, 0, len(plan))
	for _, c := range plan {
		queued = append(queued, &QueuedChunk{
			SessionID:  sessionID,
			Offset:     c.Offset,
			Size:       c.Size,
			TotalSize:  total,
			SourcePath: path,
		})
	}
	if err := m.repo.EnqueueChunks(context.WithoutCancel(ctx), queued); err != nil {
		m.logger.Error("failed to queue chunks for background sync", "session_id", sessionID, "error", err)
		return
	}
	m.logger.Info("queued chunks for background sync", "session_id", sessionID, "chunks", len(queued), "from_offset", uploaded)
}
