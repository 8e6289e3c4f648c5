package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"lockd/internal/clock"
)

// ReplayCache is a bounded sliding-window set of seen (identifier,
// nonce) pairs. Entries past their eviction time are droppable, which
// bounds memory regardless of request volume.
type ReplayCache interface {
	// Insert records the key until evictAt and reports whether it was
	// already present.
	Insert(ctx context.Context, key string, evictAt time.Time) (seen bool, err error)

	// Evict drops entries whose eviction time has passed.
	Evict(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// MemoryReplayCache holds seen nonces in a map protected by a mutex.
// Eviction is handled by a background janitor goroutine.
type MemoryReplayCache struct {
	mu      sync.Mutex
	clk     clock.Clock
	entries map[string]time.Time // value = eviction timestamp
	stop    chan struct{}
	once    sync.Once
}

func NewMemoryReplayCache(clk clock.Clock) *MemoryReplayCache {
	c := &MemoryReplayCache{
		clk:     clk,
		entries: make(map[string]time.Time),
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *MemoryReplayCache) Insert(ctx context.Context, key string, evictAt time.Time) (bool, error) {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if evict, ok := c.entries[key]; ok && now.Before(evict) {
		return true, nil
	}
	c.entries[key] = evictAt
	return false, nil
}

func (c *MemoryReplayCache) Evict(ctx context.Context) error {
	now := c.clk.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, evict := range c.entries {
		if !now.Before(evict) {
			slog.Debug("Evicting expired replay entry", "key", k)
			delete(c.entries, k)
		}
	}
	return nil
}

// janitor purges evictable entries on a fixed cadence.
func (c *MemoryReplayCache) janitor() {
	tick, stop := c.clk.NewTicker(DefaultWindow)
	defer stop()
	for {
		select {
		case <-tick:
			c.Evict(context.Background())
		case <-c.stop:
			return
		}
	}
}

// Close stops the janitor.
func (c *MemoryReplayCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// ---------------------------------------------------------------------------
// SQL implementation
// ---------------------------------------------------------------------------

// NonceStorage is the slice of the storage provider the SQL replay
// cache needs.
type NonceStorage interface {
	InsertNonce(ctx context.Context, key string, evictAt time.Time) (seen bool, err error)
	EvictNonces(ctx context.Context, now time.Time) error
}

// SQLReplayCache persists the replay window through the storage
// provider, surviving authority restarts.
type SQLReplayCache struct {
	clk     clock.Clock
	storage NonceStorage
	logger  *slog.Logger
	stop    chan struct{}
	once    sync.Once
}

func NewSQLReplayCache(clk clock.Clock, storage NonceStorage) *SQLReplayCache {
	c := &SQLReplayCache{
		clk:     clk,
		storage: storage,
		logger:  slog.With("component", "SQLReplayCache"),
		stop:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *SQLReplayCache) Insert(ctx context.Context, key string, evictAt time.Time) (bool, error) {
	return c.storage.InsertNonce(ctx, key, evictAt)
}

func (c *SQLReplayCache) Evict(ctx context.Context) error {
	return c.storage.EvictNonces(ctx, c.clk.Now())
}

func (c *SQLReplayCache) janitor() {
	tick, stop := c.clk.NewTicker(DefaultWindow)
	defer stop()
	for {
		select {
		case <-tick:
			if err := c.Evict(context.Background()); err != nil {
				c.logger.Error("Failed to evict nonces", "error", err)
			}
		case <-c.stop:
			return
		}
	}
}

func (c *SQLReplayCache) Close() {
	c.once.Do(func() { close(c.stop) })
}
