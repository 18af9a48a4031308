// Package pipeline wraps the local ffprobe executable used to read video
// metadata (duration, dimensions, codec) for review.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	maxStderrBytes      = 8 * 1024
	defaultProbeTimeout = 30 * time.Second
)

// Prober reads metadata from a local video file.
type Prober interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
}

type ProbeResult struct {
	Duration float64 `json:"duration"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Codec    string  `json:"codec,omitempty"`
}

// FFprobe runs the ffprobe executable.
type FFprobe struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFFprobe locates ffprobe on PATH (or uses preferred when set).
func NewFFprobe(preferred string, logger *slog.Logger) (*FFprobe, error) {
	path, err := resolveBinary(preferred, "ffprobe")
	if err != nil {
		return nil, err
	}
	return &FFprobe{path: path, timeout: defaultProbeTimeout, logger: logger}, nil
}

// NewProber returns an FFprobe when the executable is available and a stub
// reporting unknown duration otherwise.
func NewProber(logger *slog.Logger) Prober {
	p, err := NewFFprobe("", logger)
	if err != nil {
		logger.Warn("ffprobe not available, video durations will be unknown", "error", err)
		return NewStubProber(logger)
	}
	logger.Info("ffprobe located", "path", p.path)
	return p
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (f *FFprobe) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, f.path,
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,codec_name,width,height",
		"-of", "json",
		filePath,
	)

	var stdout, stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	start := time.Now()
	if err := cmd.Run(); err != nil {
		f.logger.Warn("ffprobe failed",
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
			"stderr_tail", truncate(stderrBuf.String(), 512),
		)
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	return parseProbeOutput(stdout.Bytes())
}

func parseProbeOutput(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	if out.Format.Duration != "" {
		d, err := strconv.ParseFloat(out.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
		}
		res.Duration = d
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			res.Width = s.Width
			res.Height = s.Height
			res.Codec = s.CodecName
			break
		}
	}
	return res, nil
}

// StubProber is used when ffprobe is not installed.
type StubProber struct {
	logger *slog.Logger
}

func NewStubProber(logger *slog.Logger) *StubProber {
	return &StubProber{logger: logger}
}

func (s *StubProber) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	s.logger.Debug("probe stub: duration unknown", "path", filePath)
	return &ProbeResult{}, nil
}

func resolveBinary(preferred, name string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured %s %q not found", name, preferred)
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("no %s binary found on PATH", name)
	}
	return p, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
