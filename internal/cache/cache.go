package cache

import (
	"sync/atomic"
	"time"

	"bullionwatch/internal/rates"
)

// Entry is a cached snapshot with its storage time.
type Entry struct {
	Snapshot rates.Snapshot
	StoredAt time.Time
	TTL      time.Duration
}

// Fresh reports whether the entry is still valid at now.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Age is the time elapsed since the entry was stored.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Cache holds the most recent snapshot. Reads never observe a partially
// written entry; the last Put wins.
type Cache struct {
	current atomic.Pointer[Entry]
	now     func() time.Time
}

// Option customises a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached entry if it has not expired.
func (c *Cache) Get() (Entry, bool) {
	e := c.current.Load()
	if e == nil || !e.Fresh(c.now()) {
		return Entry{}, false
	}
	return *e, true
}

// Latest returns the last stored entry regardless of freshness.
func (c *Cache) Latest() (Entry, bool) {
	e := c.current.Load()
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Put replaces the cached entry.
func (c *Cache) Put(snapshot rates.Snapshot, ttl time.Duration) Entry {
	e := &Entry{Snapshot: snapshot, StoredAt: c.now(), TTL: ttl}
	c.current.Store(e)
	return *e
}
