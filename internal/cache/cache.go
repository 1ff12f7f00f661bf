// Package cache stores synthesized TTS audio keyed by text and model, and
// collapses duplicate requests onto a single in-flight generation: the first
// Submit for a key starts one background synthesis, and every later lookup
// for the same key waits on that entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/presay/internal/observe"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxSize         = 1000
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

// Status is the lifecycle state of a cache entry. Entries move from pending
// through generating to exactly one of completed or failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Synthesizer renders text to audio. Implemented by [balancer.Balancer].
type Synthesizer interface {
	Synthesize(ctx context.Context, text, model string) ([]byte, error)
}

// Key returns the cache key for a text/model pair: the SHA-256 hex digest
// of "model:text".
func Key(text, model string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// entry is one cached synthesis. The done channel is closed exactly once,
// after audio and err have been written under the cache mutex, so a waiter
// woken by done always sees the terminal state. Terminal writes go to the
// entry pointer, never through the map: waiters holding a pointer to an
// entry that was evicted mid-generation still wake.
type entry struct {
	key   string
	text  string
	model string

	status      Status
	audio       []byte
	err         string
	createdAt   time.Time
	completedAt time.Time
	done        chan struct{}
}

// Config configures a [Cache]. Zero fields fall back to the package
// defaults.
type Config struct {
	// MaxSize caps the number of entries. At the cap the oldest tenth is
	// evicted before a new entry is inserted.
	MaxSize int

	// TTL is the age at which the sweeper removes an entry.
	TTL time.Duration

	// CleanupInterval is the sweeper period.
	CleanupInterval time.Duration

	// Metrics overrides the metrics instance, mainly for tests.
	Metrics *observe.Metrics
}

// Cache holds synthesized audio and deduplicates generation work.
// All exported methods are goroutine-safe.
type Cache struct {
	synth           Synthesizer
	maxSize         int
	ttl             time.Duration
	cleanupInterval time.Duration
	metrics         *observe.Metrics

	mu      sync.Mutex
	entries map[string]*entry
	hits    int64
	misses  int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Cache that renders missing entries through synth.
// Start launches the expiry sweeper; without it entries only leave the cache
// through size eviction or Clear.
func New(synth Synthesizer, cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Cache{
		synth:           synth,
		maxSize:         cfg.MaxSize,
		ttl:             cfg.TTL,
		cleanupInterval: cfg.CleanupInterval,
		metrics:         cfg.Metrics,
		entries:         make(map[string]*entry),
		stop:            make(chan struct{}),
	}
}

// ── Submission ──

// Submit registers text for background synthesis and returns its cache key.
// If an entry for the key already exists, in whatever status, no new work is
// started.
func (c *Cache) Submit(text, model string) string {
	key := Key(text, model)

	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return key
	}

	c.evictOldestLocked()

	e := &entry{
		key:       key,
		text:      text,
		model:     model,
		status:    StatusPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	c.entries[key] = e
	c.mu.Unlock()

	ctx := context.Background()
	c.metrics.PrefetchSubmissions.Add(ctx, 1)
	c.metrics.CacheEntries.Add(ctx, 1)
	slog.Debug("synthesis submitted",
		"key", key[:16],
		"model", model,
		"text_len", len(text))

	go c.generate(e)
	return key
}

// evictOldestLocked makes room for one insert when the cache is full by
// removing the oldest tenth of the entries, at least one.
// Must be called with c.mu held.
func (c *Cache) evictOldestLocked() {
	if len(c.entries) < c.maxSize {
		return
	}

	oldest := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		oldest = append(oldest, e)
	}
	slices.SortFunc(oldest, func(a, b *entry) int {
		return a.createdAt.Compare(b.createdAt)
	})

	n := max(1, len(oldest)/10)
	for _, e := range oldest[:n] {
		delete(c.entries, e.key)
	}
	c.metrics.CacheEntries.Add(context.Background(), int64(-n))
	slog.Info("evicted oldest cache entries", "count", n, "size", len(c.entries))
}

// generate runs one synthesis and publishes the terminal state. It uses a
// background context on purpose: a prefetch must survive the client request
// that triggered it.
func (c *Cache) generate(e *entry) {
	c.mu.Lock()
	e.status = StatusGenerating
	c.mu.Unlock()

	audio, err := c.synth.Synthesize(context.Background(), e.text, e.model)

	c.mu.Lock()
	if err != nil {
		e.status = StatusFailed
		e.err = err.Error()
	} else {
		e.status = StatusCompleted
		e.audio = audio
	}
	e.completedAt = time.Now()
	close(e.done)
	c.mu.Unlock()

	if err != nil {
		slog.Warn("synthesis failed", "key", e.key[:16], "error", err)
	}
}

// ── Lookup ──

// Get returns the audio for text, waiting up to timeout for an in-flight
// generation to finish. A lookup that finds no entry counts as a miss; with
// generateIfMissing set, the text is submitted and the call waits on the
// fresh entry. Returns nil on failure, timeout, or context cancellation.
func (c *Cache) Get(ctx context.Context, text, model string, timeout time.Duration, generateIfMissing bool) []byte {
	key := Key(text, model)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	c.metrics.RecordCacheLookup(ctx, ok)

	if !ok {
		if !generateIfMissing {
			return nil
		}
		c.Submit(text, model)
		c.mu.Lock()
		e = c.entries[key]
		c.mu.Unlock()
		if e == nil { // evicted between Submit and the re-read
			return nil
		}
	}

	return c.await(ctx, e, timeout)
}

// GetByKey returns the audio for a known cache key, waiting like Get does.
// It never creates entries and does not count toward hit/miss statistics.
func (c *Cache) GetByKey(ctx context.Context, key string, timeout time.Duration) []byte {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.await(ctx, e, timeout)
}

// await blocks until e is terminal, the timeout fires, or ctx is cancelled.
// A non-positive timeout returns immediately for entries still in flight.
func (c *Cache) await(ctx context.Context, e *entry, timeout time.Duration) []byte {
	c.mu.Lock()
	status, audio := e.status, e.audio
	c.mu.Unlock()

	switch status {
	case StatusCompleted:
		return audio
	case StatusFailed:
		return nil
	}

	if timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		if e.status == StatusCompleted {
			return e.audio
		}
		return nil
	case <-timer.C:
		observe.Logger(ctx).Debug("timed out waiting for synthesis",
			"key", e.key[:16],
			"timeout", timeout)
		return nil
	case <-ctx.Done():
		return nil
	}
}

// ── Maintenance ──

// Clear drops every entry. Hit and miss counters survive, and in-flight
// generations keep running; their waiters still wake through the entry
// pointers.
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	if n > 0 {
		c.metrics.CacheEntries.Add(context.Background(), int64(-n))
	}
	slog.Info("cache cleared", "removed", n)
}

// Stats mirrors the cache section of the stats and health responses.
type Stats struct {
	TotalEntries      int     `json:"total_entries"`
	CompletedEntries  int     `json:"completed_entries"`
	PendingEntries    int     `json:"pending_entries"`
	GeneratingEntries int     `json:"generating_entries"`
	FailedEntries     int     `json:"failed_entries"`
	HitCount          int64   `json:"hit_count"`
	MissCount         int64   `json:"miss_count"`
	HitRate           float64 `json:"hit_rate"`
}

// Stats reports entry counts by status and the lookup hit rate.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		TotalEntries: len(c.entries),
		HitCount:     c.hits,
		MissCount:    c.misses,
	}
	for _, e := range c.entries {
		switch e.status {
		case StatusPending:
			s.PendingEntries++
		case StatusGenerating:
			s.GeneratingEntries++
		case StatusCompleted:
			s.CompletedEntries++
		case StatusFailed:
			s.FailedEntries++
		}
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Start launches the background sweeper that removes entries older than the
// TTL. Call Stop to terminate it.
func (c *Cache) Start() {
	c.wg.Add(1)
	go c.sweep()
}

// Stop terminates the sweeper and waits for it to exit. Safe to call more
// than once, and without a prior Start.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

func (c *Cache) sweep() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

// removeExpired drops entries whose age exceeds the TTL, whatever their
// status.
func (c *Cache) removeExpired() {
	now := time.Now()

	c.mu.Lock()
	var n int
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, key)
			n++
		}
	}
	c.mu.Unlock()

	if n > 0 {
		c.metrics.CacheEntries.Add(context.Background(), int64(-n))
		slog.Info("removed expired cache entries", "count", n)
	}
}
