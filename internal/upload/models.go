package upload

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// DefaultChunkSize is the fixed transfer unit (1 MiB).
const DefaultChunkSize int64 = 1024 * 1024

// PendingUploadRecord is the locally persisted hint that an upload may be resumed.
// The server's uploaded_size is authoritative; this copy only mirrors it.
type PendingUploadRecord struct {
	SessionID    string    `json:"session_id"`
	Filename     string    `json:"filename"`
	TotalSize    int64     `json:"total_size"`
	UploadedSize int64     `json:"uploaded_size"`
	SourcePath   string    `json:"source_path,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Progress returns the integer percentage recorded for the pending upload.
func (p *PendingUploadRecord) Progress() int {
	return Percent(p.UploadedSize, p.TotalSize)
}

// SessionHandle is what the manager hands to the transfer loop.
type SessionHandle struct {
	SessionID    string `json:"session_id"`
	UploadedSize int64  `json:"uploaded_size"`
	TotalSize    int64  `json:"total_size"`
	Resumed      bool   `json:"resumed"`
}

// ChunkAck is the server's acknowledgment of one chunk.
type ChunkAck struct {
	UploadedSize int64   `json:"uploaded_size"`
	Progress     float64 `json:"progress"`
}

// Chunk is a byte range [Offset, Offset+Size) of the source file.
type Chunk struct {
	Offset int64
	Size   int64
}

func (c Chunk) End() int64 {
	return c.Offset + c.Size
}

// ContentRange formats the chunk as an HTTP Content-Range value.
func (c Chunk) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", c.Offset, c.End()-1, total)
}

// PlanChunks splits [offset, total) into chunks of at most size bytes.
func PlanChunks(total, offset, size int64) []Chunk {
	if size <= 0 || offset >= total {
		return nil
	}
	if offset < 0 {
		offset = 0
	}
	chunks := make([]Chunk, 0, (total-offset+size-1)/size)
	for off := offset; off < total; off += size {
		n := size
		if off+n > total {
			n = total - off
		}
		chunks = append(chunks, Chunk{Offset: off, Size: n})
	}
	return chunks
}

// QueuedChunk is a chunk spooled for the background retry agent. The payload is
// the byte range [Offset, Offset+Size) of SourcePath.
type QueuedChunk struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Offset     int64     `json:"offset"`
	Size       int64     `json:"size"`
	TotalSize  int64     `json:"total_size"`
	SourcePath string    `json:"source_path"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// QueueSummary describes the queued chunks of one session.
type QueueSummary struct {
	SessionID string `json:"session_id"`
	Chunks    int    `json:"chunks"`
	Bytes     int64  `json:"bytes"`
}

// Percent returns round(uploaded/total*100), clamped to [0, 100].
func Percent(uploaded, total int64) int {
	if total <= 0 || uploaded <= 0 {
		return 0
	}
	p := int(math.Round(float64(uploaded) * 100 / float64(total)))
	if p > 100 {
		return 100
	}
	return p
}

// VideoExtensions lists the container formats the detection backend accepts.
var VideoExtensions = map[string]bool{
	".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true, ".mpeg": true,
	".mpg": true, ".ts": true, ".m2ts": true, ".m4v": true,
	".sec": true,
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
