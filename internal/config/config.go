// Package config provides configuration management for the CCTV Timeline agent.
// Configuration is loaded from TIMELINE_* environment variables with sensible defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// Default values
	DefaultPort            = 8790
	DefaultLogLevel        = "info"
	DefaultDataDir         = ".cctv-timeline"
	DefaultBackendURL      = "http://127.0.0.1:2312"
	DefaultChunkSize       = 1024 * 1024
	DefaultMergeGapSeconds = 5.0
	DefaultHTTPTimeout     = 60 * time.Second
	DefaultSyncInterval    = 30 * time.Second

	// Environment variable prefix; fields below are read as TIMELINE_<NAME>.
	EnvPrefix = "TIMELINE"

	// Database filename
	DBFilename = "timeline.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ExportDir() string
	BackendURL() string
	ChunkSize() int64
	MergeGapSeconds() float64
	HTTPTimeout() time.Duration
	SyncInterval() time.Duration
	Headless() bool
}

// envSpec is the envconfig decoding target.
type envSpec struct {
	Port            int           `envconfig:"PORT" default:"8790"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	DataDir         string        `envconfig:"DATA_DIR"`
	BackendURL      string        `envconfig:"BACKEND_URL" default:"http://127.0.0.1:2312"`
	ChunkSize       int64         `envconfig:"CHUNK_SIZE" default:"1048576"`
	MergeGapSeconds float64       `envconfig:"MERGE_GAP_SECONDS" default:"5"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`
	SyncInterval    time.Duration `envconfig:"SYNC_INTERVAL" default:"30s"`
	Headless        bool          `envconfig:"HEADLESS" default:"false"`
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	spec envSpec
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	var spec envSpec
	if err := envconfig.Process(EnvPrefix, &spec); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if spec.Port < 1 || spec.Port > 65535 {
		return nil, fmt.Errorf("invalid %s_PORT: port must be between 1 and 65535", EnvPrefix)
	}
	if spec.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid %s_CHUNK_SIZE: must be positive", EnvPrefix)
	}
	if spec.MergeGapSeconds < 0 {
		return nil, fmt.Errorf("invalid %s_MERGE_GAP_SECONDS: must not be negative", EnvPrefix)
	}
	if spec.SyncInterval <= 0 {
		return nil, fmt.Errorf("invalid %s_SYNC_INTERVAL: must be positive", EnvPrefix)
	}

	u, err := url.Parse(spec.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid %s_BACKEND_URL: %q is not an http(s) URL", EnvPrefix, spec.BackendURL)
	}

	if spec.DataDir == "" {
		spec.DataDir = defaultDataDir()
	}

	return &EnvConfig{spec: spec}, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.spec.Port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.spec.LogLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.spec.DataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.spec.DataDir, DBFilename)
}

// ExportDir returns the default directory for locally exported reports
func (c *EnvConfig) ExportDir() string {
	return filepath.Join(c.spec.DataDir, "exports")
}

// BackendURL returns the detection backend base URL
func (c *EnvConfig) BackendURL() string {
	return c.spec.BackendURL
}

func (c *EnvConfig) ChunkSize() int64 {
	return c.spec.ChunkSize
}

func (c *EnvConfig) MergeGapSeconds() float64 {
	return c.spec.MergeGapSeconds
}

func (c *EnvConfig) HTTPTimeout() time.Duration {
	return c.spec.HTTPTimeout
}

func (c *EnvConfig) SyncInterval() time.Duration {
	return c.spec.SyncInterval
}

// Headless reports whether the system tray should be skipped
func (c *EnvConfig) Headless() bool {
	return c.spec.Headless
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
