package upload

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoFileSelected is returned when an upload or resume is requested without a file.
	ErrNoFileSelected = errors.New("no file selected")
	// ErrUnsupportedFormat is returned for files the backend will not accept.
	ErrUnsupportedFormat = errors.New("unsupported video format")
	ErrEmptyFile         = errors.New("file is empty")
	// ErrTransferInProgress is returned when a second transfer loop would start.
	ErrTransferInProgress = errors.New("an upload is already in progress")
	ErrNoPendingUpload    = errors.New("no pending upload")
	// ErrTransferStalled is returned when acknowledgments stop advancing.
	ErrTransferStalled = errors.New("server stopped acknowledging progress")
	// ErrAckOutOfRange is returned when the server reports more bytes than the file holds.
	ErrAckOutOfRange = errors.New("acknowledged size exceeds total size")
)

// Retryable is implemented by transport errors that may succeed on a later attempt.
type Retryable interface {
	IsRetryable() bool
}

// ChunkTransferError reports a chunk that could not be delivered. The pending
// record is left as it was before the failed chunk.
type ChunkTransferError struct {
	SessionID string
	Offset    int64
	Err       error
}

func (e *ChunkTransferError) Error() string {
	return fmt.Sprintf("chunk at offset %d of session %s failed: %v", e.Offset, e.SessionID, e.Err)
}

func (e *ChunkTransferError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resending the chunk later may succeed. Transport
// failures without a status are treated as retryable.
func (e *ChunkTransferError) Retryable() bool {
	if errors.Is(e.Err, ErrAckOutOfRange) || errors.Is(e.Err, context.Canceled) {
		return false
	}
	var r Retryable
	if errors.As(e.Err, &r) {
		return r.IsRetryable()
	}
	return true
}
