package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KU-AILAB/CCTV-Timeline/internal/db"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClient_InitSession_NumericID(t *testing.T) {
	var received initSessionRequest
	var requestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/init" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		requestID = r.Header.Get("X-Request-Id")
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"session_id": 42, "uploaded_size": 0, "total_size": 10485760}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	h, err := client.InitSession(context.Background(), "cam1.mp4", 10485760)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.SessionID != "42" {
		t.Errorf("session_id = %q, want %q", h.SessionID, "42")
	}
	if received.Filename != "cam1.mp4" || received.TotalSize != 10485760 {
		t.Errorf("request = %+v", received)
	}
	if requestID == "" {
		t.Error("X-Request-Id header missing")
	}
}

func TestHTTPClient_InitSession_StringID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"session_id": "abc-1", "uploaded_size": 0, "total_size": 5}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	h, err := client.InitSession(context.Background(), "cam1.mp4", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.SessionID != "abc-1" {
		t.Errorf("session_id = %q, want abc-1", h.SessionID)
	}
}

func TestHTTPClient_SendChunk_MultipartForm(t *testing.T) {
	var gotSession, gotOffset, gotRange, gotDevice string
	var gotData []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/chunk" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotSession = r.FormValue("session_id")
		gotOffset = r.FormValue("offset")
		gotRange = r.Header.Get("Content-Range")
		gotDevice = r.Header.Get("X-Timeline-Device-Id")
		f, _, err := r.FormFile("chunk")
		if err != nil {
			t.Errorf("chunk file: %v", err)
		} else {
			gotData, _ = io.ReadAll(f)
		}
		w.Write([]byte(`{"uploaded_size": 2097152, "progress": 20.0}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	client.SetDeviceID("dev-1")

	data := bytes.Repeat([]byte{7}, 1024*1024)
	ack, err := client.SendChunk(context.Background(), "42", upload.Chunk{Offset: 1048576, Size: 1048576}, 10485760, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ack.UploadedSize != 2097152 {
		t.Errorf("uploaded_size = %d, want 2097152", ack.UploadedSize)
	}
	if gotSession != "42" || gotOffset != "1048576" {
		t.Errorf("form = session %q offset %q", gotSession, gotOffset)
	}
	if gotRange != "bytes 1048576-2097151/10485760" {
		t.Errorf("Content-Range = %q", gotRange)
	}
	if gotDevice != "dev-1" {
		t.Errorf("device id = %q, want dev-1", gotDevice)
	}
	if !bytes.Equal(gotData, data) {
		t.Errorf("chunk payload differs: got %d bytes", len(gotData))
	}
}

func TestHTTPClient_SendChunk_ServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	_, err := client.SendChunk(context.Background(), "42", upload.Chunk{Offset: 0, Size: 3}, 3, []byte("abc"))
	if err == nil {
		t.Fatal("expected error for 502 response")
	}

	cte := &upload.ChunkTransferError{SessionID: "42", Err: err}
	if !cte.Retryable() {
		t.Error("502 chunk failure should be retryable")
	}
}

func TestHTTPClient_SendChunk_InvalidSessionIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid session"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	_, err := client.SendChunk(context.Background(), "9", upload.Chunk{Offset: 0, Size: 1}, 1, []byte("a"))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Body != "invalid session" {
		t.Errorf("body = %q, want %q", apiErr.Body, "invalid session")
	}
	if apiErr.IsRetryable() {
		t.Error("400 should not be retryable")
	}
	if !IsStatus(err, http.StatusBadRequest) {
		t.Error("IsStatus(400) = false")
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	if !(&APIError{StatusCode: http.StatusInternalServerError}).IsRetryable() {
		t.Fatal("expected 5xx error to be retryable")
	}
	if !(&APIError{StatusCode: http.StatusTooManyRequests}).IsRetryable() {
		t.Fatal("expected 429 error to be retryable")
	}
	if (&APIError{StatusCode: http.StatusBadRequest}).IsRetryable() {
		t.Fatal("expected 4xx error to be permanent")
	}
}

// chunkServer is an idempotent in-memory implementation of the chunk endpoint.
type chunkServer struct {
	mu   sync.Mutex
	data []byte
}

func (s *chunkServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/upload/init":
		w.Write([]byte(`{"session_id": 1, "uploaded_size": 0, "total_size": 0}`))
	case "/upload/chunk":
		r.ParseMultipartForm(4 << 20)
		var offset int64
		json.Unmarshal([]byte(r.FormValue("offset")), &offset)
		f, _, _ := r.FormFile("chunk")
		b, _ := io.ReadAll(f)

		s.mu.Lock()
		end := offset + int64(len(b))
		if int64(len(s.data)) < end {
			grown := make([]byte, end)
			copy(grown, s.data)
			s.data = grown
		}
		copy(s.data[offset:end], b)
		size := len(s.data)
		s.mu.Unlock()

		json.NewEncoder(w).Encode(chunkResponse{UploadedSize: int64(size)})
	default:
		http.NotFound(w, r)
	}
}

func TestHTTPClient_SendSameChunkTwice(t *testing.T) {
	backend := &chunkServer{}
	server := httptest.NewServer(backend)
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	chunk := upload.Chunk{Offset: 0, Size: 4}

	first, err := client.SendChunk(context.Background(), "1", chunk, 8, []byte("abcd"))
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	second, err := client.SendChunk(context.Background(), "1", chunk, 8, []byte("abcd"))
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	if first.UploadedSize != second.UploadedSize {
		t.Errorf("uploaded_size changed on resend: %d then %d", first.UploadedSize, second.UploadedSize)
	}
	if string(backend.data) != "abcd" {
		t.Errorf("server data = %q, want abcd", backend.data)
	}
}

func TestHTTPClient_Detect(t *testing.T) {
	var videoFile, startTime string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract_frames" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		r.ParseForm()
		videoFile = r.PostForm.Get("video_file")
		startTime = r.PostForm.Get("start_time")
		w.Write([]byte(`{"frames": ["f0.jpg"], "frame_times": [0], "detected_times": [1, 2.5, 10],
			"csv": "/static/detections/cam1.csv", "json": "/static/detections/cam1.json", "segments": []}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	res, err := client.Detect(context.Background(), "cam1.mp4", 3725)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if videoFile != "cam1.mp4" {
		t.Errorf("video_file = %q", videoFile)
	}
	if startTime != "01:02:05" {
		t.Errorf("start_time = %q, want 01:02:05", startTime)
	}
	if len(res.DetectedTimes) != 3 || res.DetectedTimes[1] != 2.5 {
		t.Errorf("detected_times = %v", res.DetectedTimes)
	}
	if res.CSV != "/static/detections/cam1.csv" {
		t.Errorf("csv = %q", res.CSV)
	}
}

func TestHTTPClient_Finalize(t *testing.T) {
	var received finalizeRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/finalize" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"csv": "r.csv", "json": "r.json", "clips": ["c1.mp4", "c2.mp4"]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	res, err := client.Finalize(context.Background(), "cam1.mp4", []segments.Interval{{Start: 1, End: 4}, {Start: 10, End: 41}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.VideoFile != "cam1.mp4" || len(received.Intervals) != 2 || received.Intervals[1].End != 41 {
		t.Errorf("request = %+v", received)
	}
	if len(res.Clips) != 2 || res.CSV != "r.csv" {
		t.Errorf("result = %+v", res)
	}
}

func TestHTTPClient_DownloadClip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("video_file") != "cam1.mp4" || q.Get("start") != "10.00" || q.Get("end") != "41.50" {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("clip-bytes"))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	var buf bytes.Buffer
	n, err := client.DownloadClip(context.Background(), "cam1.mp4", 10, 41.5, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(len("clip-bytes")) || buf.String() != "clip-bytes" {
		t.Errorf("clip = %q (%d bytes)", buf.String(), n)
	}
}

func TestHTTPClient_DownloadClip_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "file not found"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	_, err := client.DownloadClip(context.Background(), "gone.mp4", 0, 1, io.Discard)
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestHTTPClient_ListVideos(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/videos" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`[{"filename": "cam2.mp4"}, {"filename": "cam1.sec"}]`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second, testLogger())
	videos, err := client.ListVideos(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(videos) != 2 || videos[0].Filename != "cam2.mp4" {
		t.Errorf("videos = %+v", videos)
	}
}

func TestHTTPClient_Ping(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("unexpected method: %s", r.Method)
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", time.Second, testLogger())
	if err := client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v, want nil", err)
	}

	status.Store(http.StatusServiceUnavailable)
	if err := client.Ping(context.Background()); err == nil {
		t.Error("Ping() = nil for 503, want error")
	}

	server.Close()
	err := client.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "http request failed") {
		t.Errorf("Ping() after close = %v", err)
	}
}

func TestHTTPClient_WorksWithManager(t *testing.T) {
	backend := &chunkServer{}
	server := httptest.NewServer(backend)
	defer server.Close()

	path := t.TempDir() + "/cam1.mp4"
	content := bytes.Repeat([]byte("0123456789"), 300000)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	database, err := db.New(t.TempDir()+"/test.db", nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	defer database.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	mgr := upload.NewManager(client, upload.NewRepository(database.Conn()), upload.DefaultChunkSize, testLogger())

	res, err := mgr.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if res.UploadedSize != int64(len(content)) {
		t.Errorf("uploaded = %d, want %d", res.UploadedSize, len(content))
	}
	if !bytes.Equal(backend.data, content) {
		t.Error("server content differs from source")
	}
}
