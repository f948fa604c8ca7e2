package debounce

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the suppression window used when none is configured.
const DefaultWindow = 5000 * time.Millisecond

// Cache suppresses repeated recognitions of the same identifier.
//
// A key is allowed when it has never been seen or was last allowed at least
// Window ago. Allowed keys record the instant; suppressed ones do not, so a
// continuously present plate is re-admitted once per window.
//
// Cache is safe for concurrent use. The check and the update happen under
// one lock, so two simultaneous deliveries of the same key cannot both pass.
type Cache struct {
	mu         sync.Mutex
	window     time.Duration
	maxEntries int
	lastSeen   map[string]time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries caps the number of tracked keys. When the cap is reached the
// oldest entry is evicted. Zero means unbounded.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// New creates a cache with the given window. A non-positive window disables
// suppression entirely.
func New(window time.Duration, opts ...Option) *Cache {
	c := &Cache{
		window:   window,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Window returns the suppression window.
func (c *Cache) Window() time.Duration {
	return c.window
}

// Allow reports whether key should be processed at instant now, recording
// now as the key's last-seen time when it is.
func (c *Cache) Allow(key string, now time.Time) bool {
	if c.window <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.lastSeen[key]; ok && now.Sub(last) < c.window {
		return false
	}

	if _, ok := c.lastSeen[key]; !ok && c.maxEntries > 0 && len(c.lastSeen) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.lastSeen[key] = now
	return true
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastSeen)
}

// Sweep removes entries that can no longer suppress anything at instant now
// and returns how many were removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, last := range c.lastSeen {
		if now.Sub(last) >= c.window {
			delete(c.lastSeen, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries once per window until ctx is cancelled.
// It blocks; start it in its own goroutine.
func (c *Cache) Run(ctx context.Context) {
	if c.window <= 0 {
		return
	}

	ticker := time.NewTicker(c.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for key, last := range c.lastSeen {
		if first || last.Before(oldest) {
			oldestKey, oldest, first = key, last, false
		}
	}
	if !first {
		delete(c.lastSeen, oldestKey)
	}
}
