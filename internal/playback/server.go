// Package playback serves local source videos to the review page.
package playback

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

// PlayableName maps containers browsers cannot play (.sec, .avi) to the
// .mp4 name the backend converts them to.
func PlayableName(name string) string {
	ext := filepath.Ext(name)
	switch strings.ToLower(ext) {
	case ".sec", ".avi":
		return strings.TrimSuffix(name, ext) + ".mp4"
	}
	return name
}

// ResolvePlayable returns the converted sibling of path when it exists and
// path itself otherwise.
func ResolvePlayable(path string) string {
	alt := PlayableName(path)
	if alt == path {
		return path
	}
	if info, err := os.Stat(alt); err == nil && !info.IsDir() {
		return alt
	}
	return path
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeFile writes the playable version of filePath, honouring Range
// requests so the review page can seek.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	filePath = ResolvePlayable(filePath)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	contentType := contentTypeFor(filePath)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)

	s.logger.Debug("serving video", "file", filepath.Base(filePath), "range", r.Header.Get("Range"))
	http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), file)
	return nil
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".ts":   "video/mp2t",
}

// contentTypeFor checks the video table before the system mime database.
func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}
