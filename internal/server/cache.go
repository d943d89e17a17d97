package server

import (
	"context"
	"sync"
	"time"

	"github.com/mj1618/droid-order/internal/screen"
)

// ScreenCache provides a TTL-based cache for screen reads, so that agents
// polling get_screen do not queue a hierarchy dump each time.
type ScreenCache struct {
	mu    sync.Mutex
	snap  screen.Snapshot
	taken time.Time
	valid bool
	ttl   time.Duration
	now   func() time.Time
}

// NewScreenCache creates a new cache. A ttl of 0 disables caching.
func NewScreenCache(ttl time.Duration) *ScreenCache {
	return &ScreenCache{ttl: ttl, now: time.Now}
}

// Read returns the cached snapshot if within TTL, otherwise reads fresh.
func (c *ScreenCache) Read(ctx context.Context, read func(context.Context) (screen.Snapshot, error)) (screen.Snapshot, error) {
	if c.ttl == 0 {
		return read(ctx)
	}

	c.mu.Lock()
	if c.valid && c.now().Sub(c.taken) < c.ttl {
		snap := c.snap
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	snap, err := read(ctx)
	if err != nil {
		return screen.Snapshot{}, err
	}

	c.mu.Lock()
	c.snap, c.taken, c.valid = snap, c.now(), true
	c.mu.Unlock()

	return snap, nil
}

// Invalidate drops the cached snapshot. Called whenever a task may have
// changed the screen.
func (c *ScreenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
	c.snap = screen.Snapshot{}
}
