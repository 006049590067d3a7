package faceswap

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultHealthTTL = 30 * time.Second

// CachedHealth keeps the last health probe of the service so the tray and
// the agent API do not hit the GPU host on every refresh.
type CachedHealth struct {
	client Client
	ttl    time.Duration
	logger *slog.Logger

	mu        sync.RWMutex
	cached    *Health
	probedAt  time.Time
	lastError error
}

func NewCachedHealth(client Client, ttl time.Duration, logger *slog.Logger) *CachedHealth {
	if ttl <= 0 {
		ttl = DefaultHealthTTL
	}
	return &CachedHealth{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached probe while it is fresh, otherwise probes again.
func (c *CachedHealth) Get(ctx context.Context) (*Health, error) {
	c.mu.RLock()
	if !c.probedAt.IsZero() && time.Since(c.probedAt) < c.ttl {
		h, err := c.cached, c.lastError
		c.mu.RUnlock()
		return h, err
	}
	c.mu.RUnlock()

	return c.Refresh(ctx)
}

// Peek returns the last successful probe, if any, without network access.
func (c *CachedHealth) Peek() *Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cached
}

// Refresh probes the service regardless of freshness. A failed probe
// returns the error together with the last good result so callers can show
// both.
func (c *CachedHealth) Refresh(ctx context.Context) (*Health, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, err := c.client.Health(ctx)
	c.probedAt = time.Now()
	c.lastError = err
	if err != nil {
		c.logger.Warn("service health probe failed", "error", err)
		return c.cached, err
	}
	c.cached = h
	return h, nil
}

// Invalidate forces the next Get to probe.
func (c *CachedHealth) Invalidate() {
	c.mu.Lock()
	c.probedAt = time.Time{}
	c.mu.Unlock()
}
