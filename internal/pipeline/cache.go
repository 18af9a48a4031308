package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	result   *ProbeResult
	modTime  time.Time
	size     int64
	probedAt time.Time
}

// CachedProber remembers probe results per file until the file changes or
// the TTL expires.
type CachedProber struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCachedProber(prober Prober, logger *slog.Logger) *CachedProber {
	return &CachedProber{
		prober:  prober,
		ttl:     defaultCacheTTL,
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedProber) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	e, ok := c.entries[filePath]
	c.mu.Unlock()
	if ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) && time.Since(e.probedAt) < c.ttl {
		return e.result, nil
	}

	res, err := c.prober.Probe(ctx, filePath)
	if err != nil {
		if ok {
			c.logger.Warn("probe failed, using stale result", "error", err)
			return e.result, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[filePath] = cacheEntry{result: res, modTime: info.ModTime(), size: info.Size(), probedAt: time.Now()}
	c.mu.Unlock()
	return res, nil
}
