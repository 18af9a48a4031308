package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/KU-AILAB/CCTV-Timeline/internal/db"
)

const mib = 1024 * 1024

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewRepository(database.Conn())
}

// writeTestFile creates a file of size bytes with a deterministic pattern.
func writeTestFile(t *testing.T, name string, size int64) string {
	t.Helper()

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf, 0644))
	return path
}

type retryableErr struct{ retry bool }

func (e retryableErr) Error() string     { return fmt.Sprintf("backend error (retryable=%v)", e.retry) }
func (e retryableErr) IsRetryable() bool { return e.retry }

type sentChunk struct {
	SessionID string
	Offset    int64
	Size      int64
}

type fakeSession struct {
	filename string
	total    int64
	data     []byte
}

// fakeServer mirrors the backend's chunk endpoint: bytes are written at the
// given offset and uploaded_size is the size of the partial file.
type fakeServer struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	nextID   int
	inits    int
	sent     []sentChunk

	// failFn, when set, may reject a chunk before it is written.
	failFn func(call int, c Chunk) error
	// ackFn, when set, overrides the reported uploaded_size.
	ackFn func(c Chunk, uploaded int64) int64
}

func newFakeServer() *fakeServer {
	return &fakeServer{sessions: make(map[string]*fakeSession)}
}

func (s *fakeServer) addSession(id, filename string, total int64, prefix []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &fakeSession{filename: filename, total: total, data: append([]byte(nil), prefix...)}
}

func (s *fakeServer) InitSession(ctx context.Context, filename string, totalSize int64) (SessionHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits++
	s.nextID++
	id := fmt.Sprintf("sess-%d", s.nextID)
	s.sessions[id] = &fakeSession{filename: filename, total: totalSize}
	return SessionHandle{SessionID: id, UploadedSize: 0, TotalSize: totalSize}, nil
}

func (s *fakeServer) SendChunk(ctx context.Context, sessionID string, chunk Chunk, totalSize int64, data []byte) (ChunkAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.sent)
	s.sent = append(s.sent, sentChunk{SessionID: sessionID, Offset: chunk.Offset, Size: chunk.Size})
	if s.failFn != nil {
		if err := s.failFn(call, chunk); err != nil {
			return ChunkAck{}, err
		}
	}

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ChunkAck{}, retryableErr{retry: false}
	}
	end := chunk.Offset + int64(len(data))
	if int64(len(sess.data)) < end {
		grown := make([]byte, end)
		copy(grown, sess.data)
		sess.data = grown
	}
	copy(sess.data[chunk.Offset:end], data)

	uploaded := int64(len(sess.data))
	if s.ackFn != nil {
		uploaded = s.ackFn(chunk, uploaded)
	}
	return ChunkAck{UploadedSize: uploaded, Progress: float64(uploaded) / float64(sess.total) * 100}, nil
}

func (s *fakeServer) sentChunks() []sentChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentChunk(nil), s.sent...)
}

func (s *fakeServer) sessionData(id string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return append([]byte(nil), sess.data...)
	}
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
