package playback

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPlayableName(t *testing.T) {
	tests := map[string]string{
		"cam1.sec":     "cam1.mp4",
		"cam1.AVI":     "cam1.mp4",
		"cam1.mp4":     "cam1.mp4",
		"/v/night.mkv": "/v/night.mkv",
		"/v/a.b.sec":   "/v/a.b.mp4",
		"no-extension": "no-extension",
	}
	for in, want := range tests {
		if got := PlayableName(in); got != want {
			t.Errorf("PlayableName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePlayable(t *testing.T) {
	dir := t.TempDir()
	sec := filepath.Join(dir, "cam1.sec")
	avi := filepath.Join(dir, "cam2.avi")
	mp4 := filepath.Join(dir, "cam1.mp4")
	for _, p := range []string{sec, avi, mp4} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if got := ResolvePlayable(sec); got != mp4 {
		t.Errorf("ResolvePlayable(sec) = %q, want %q", got, mp4)
	}
	if got := ResolvePlayable(avi); got != avi {
		t.Errorf("ResolvePlayable(avi) without sibling = %q, want original", got)
	}
}

func TestServeFile_Range(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam1.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(testLogger())

	req := httptest.NewRequest(http.MethodGet, "/review/video", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	if err := srv.ServeFile(rec, req, path); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "2345" {
		t.Errorf("body = %q, want 2345", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 2-5/10" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestServeFile_Unsatisfiable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cam1.mp4")
	os.WriteFile(path, []byte("0123456789"), 0644)

	req := httptest.NewRequest(http.MethodGet, "/review/video", nil)
	req.Header.Set("Range", "bytes=50-60")
	rec := httptest.NewRecorder()
	NewServer(testLogger()).ServeFile(rec, req, path)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("status = %d, want 416", rec.Code)
	}
}

func TestServeFile_NotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/review/video", nil)
	rec := httptest.NewRecorder()

	if err := NewServer(testLogger()).ServeFile(rec, req, "/nonexistent/cam.mp4"); err != nil {
		t.Fatalf("ServeFile() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
