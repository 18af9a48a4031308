package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// maxStalledAcks is how many acknowledgments in a row may fail to advance
// uploaded_size before the loop gives up.
const maxStalledAcks = 3

// ChunkSender delivers one chunk of a session and returns the server's
// acknowledgment. data is only valid for the duration of the call.
type ChunkSender interface {
	SendChunk(ctx context.Context, sessionID string, chunk Chunk, totalSize int64, data []byte) (ChunkAck, error)
}

// ProgressStore persists acknowledged progress for the pending upload.
type ProgressStore interface {
	UpdatePendingProgress(ctx context.Context, sessionID string, uploaded int64) (bool, error)
}

// TransferLoop sends a file sequentially, one chunk in flight at a time.
type TransferLoop struct {
	sender    ChunkSender
	store     ProgressStore
	chunkSize int64
	logger    *slog.Logger
}

func NewTransferLoop(sender ChunkSender, store ProgressStore, chunkSize int64, logger *slog.Logger) *TransferLoop {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &TransferLoop{
		sender:    sender,
		store:     store,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

func (l *TransferLoop) ChunkSize() int64 {
	return l.chunkSize
}

// Transfer sends [offset, total) of src and returns the last size the server
// acknowledged. After each chunk the loop continues from the server-reported
// uploaded_size, not from its own arithmetic. The first failing chunk aborts
// the loop with a *ChunkTransferError; there is no retry here.
func (l *TransferLoop) Transfer(ctx context.Context, src io.ReaderAt, sessionID string, total, offset int64, progress func(uploaded int64)) (int64, error) {
	uploaded := offset
	if uploaded < 0 {
		uploaded = 0
	}
	buf := make([]byte, l.chunkSize)
	stalled := 0

	for uploaded < total {
		if err := ctx.Err(); err != nil {
			return uploaded, &ChunkTransferError{SessionID: sessionID, Offset: uploaded, Err: err}
		}

		chunk := Chunk{Offset: uploaded, Size: min(l.chunkSize, total-uploaded)}
		data := buf[:chunk.Size]
		n, err := src.ReadAt(data, chunk.Offset)
		if int64(n) < chunk.Size {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return uploaded, fmt.Errorf("read chunk at offset %d: %w", chunk.Offset, err)
		}

		ack, err := l.sender.SendChunk(ctx, sessionID, chunk, total, data)
		if err != nil {
			return uploaded, &ChunkTransferError{SessionID: sessionID, Offset: chunk.Offset, Err: err}
		}
		if ack.UploadedSize > total {
			return uploaded, &ChunkTransferError{
				SessionID: sessionID,
				Offset:    chunk.Offset,
				Err:       fmt.Errorf("%w: %d > %d", ErrAckOutOfRange, ack.UploadedSize, total),
			}
		}

		advanced := ack.UploadedSize > uploaded
		uploaded = ack.UploadedSize

		ok, err := l.store.UpdatePendingProgress(ctx, sessionID, uploaded)
		switch {
		case err != nil:
			l.logger.Warn("failed to persist upload progress", "session_id", sessionID, "uploaded_size", uploaded, "error", err)
		case !ok:
			l.logger.Debug("pending record belongs to another session, progress not persisted", "session_id", sessionID)
		}

		if progress != nil {
			progress(uploaded)
		}

		if advanced {
			stalled = 0
		} else if stalled++; stalled >= maxStalledAcks {
			return uploaded, &ChunkTransferError{SessionID: sessionID, Offset: chunk.Offset, Err: ErrTransferStalled}
		}
	}

	return uploaded, nil
}
