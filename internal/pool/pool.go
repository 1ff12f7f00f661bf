// Package pool tracks the TTS endpoint fleet: availability, in-flight load,
// response-time accounting, and per-endpoint concurrency permits.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// consecutiveErrorLimit is the number of consecutive failures after which an
// endpoint is taken out of rotation.
const consecutiveErrorLimit = 3

// ErrNoEndpoints is returned when a pool holds no endpoints.
var ErrNoEndpoints = errors.New("pool: no endpoints configured")

// Endpoint is one TTS server in the pool. All mutable fields are guarded by
// the owning pool's mutex; the semaphore manages its own state and is
// acquired outside that mutex.
type Endpoint struct {
	url string
	sem *semaphore.Weighted

	available     bool
	inflight      int
	totalRequests int64         // completed successful requests
	totalTime     time.Duration // summed response time of successful requests
	errorCount    int           // consecutive failures since the last success
	lastRequest   time.Time
}

// URL returns the endpoint base URL without a trailing slash.
func (e *Endpoint) URL() string { return e.url }

// Acquire blocks until a concurrency permit is free or ctx is done.
func (e *Endpoint) Acquire(ctx context.Context) error {
	return e.sem.Acquire(ctx, 1)
}

// Release returns a permit taken with Acquire.
func (e *Endpoint) Release() { e.sem.Release(1) }

// avgResponseTime returns the mean successful response time in seconds.
// Must be called with the pool's mu held.
func (e *Endpoint) avgResponseTime() float64 {
	if e.totalRequests == 0 {
		return 0
	}
	return e.totalTime.Seconds() / float64(e.totalRequests)
}

// EndpointStats is a point-in-time snapshot of one endpoint, shaped for the
// health and stats responses.
type EndpointStats struct {
	URL             string  `json:"url"`
	Available       bool    `json:"is_available"`
	CurrentLoad     int     `json:"current_load"`
	ErrorCount      int     `json:"error_count"`
	AvgResponseTime float64 `json:"avg_response_time"`
	TotalRequests   int64   `json:"total_requests"`
}

// Pool owns the endpoint fleet. Selection prefers available endpoints with
// the least in-flight load, breaking ties by mean response time.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
}

// New builds a pool from endpoint base URLs. URLs are trimmed of whitespace
// and trailing slashes; empty entries are dropped. Every endpoint starts
// available with maxConcurrent permits (minimum 1).
func New(urls []string, maxConcurrent int) (*Pool, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	eps := make([]*Endpoint, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		eps = append(eps, &Endpoint{
			url:       u,
			sem:       semaphore.NewWeighted(int64(maxConcurrent)),
			available: true,
		})
	}
	if len(eps) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Pool{endpoints: eps}, nil
}

// Select returns the endpoint to try next: among the available ones, the
// least loaded, ties broken by mean response time. When every endpoint is
// marked unavailable the pool resets the whole fleet to available first, so
// a fully-demoted pool recovers instead of deadlocking.
func (p *Pool) Select() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	candidates := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.available {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		slog.Warn("all endpoints unavailable, resetting availability")
		for _, e := range p.endpoints {
			e.available = true
			e.errorCount = 0
		}
		candidates = p.endpoints
	}

	best := candidates[0]
	for _, e := range candidates[1:] {
		if e.inflight < best.inflight ||
			(e.inflight == best.inflight && e.avgResponseTime() < best.avgResponseTime()) {
			best = e
		}
	}
	return best, nil
}

// BeginRequest records that a request is starting on e. Callers must pair it
// with EndRequest.
func (p *Pool) BeginRequest(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.inflight++
	e.lastRequest = time.Now()
}

// EndRequest records that a request on e finished, successfully or not.
func (p *Pool) EndRequest(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e.inflight > 0 {
		e.inflight--
	}
}

// RecordSuccess counts a completed request, folds rt into the response-time
// average, clears the failure streak and restores availability.
func (p *Pool) RecordSuccess(e *Endpoint, rt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.totalRequests++
	e.totalTime += rt
	e.errorCount = 0
	e.available = true
}

// RecordFailure extends the consecutive-failure streak; the endpoint leaves
// rotation once the streak reaches the limit.
func (p *Pool) RecordFailure(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.errorCount++
	if e.errorCount >= consecutiveErrorLimit && e.available {
		e.available = false
		slog.Warn("endpoint marked unavailable",
			"endpoint", e.url,
			"consecutive_errors", e.errorCount)
	}
}

// MarkAvailable puts e back into rotation and clears its failure streak.
func (p *Pool) MarkAvailable(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.available = true
	e.errorCount = 0
}

// MarkUnavailable takes e out of rotation.
func (p *Pool) MarkUnavailable(e *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.available = false
}

// Endpoints returns the pool members in configuration order.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints)
}

// Stats returns a snapshot of every endpoint, in configuration order.
func (p *Pool) Stats() []EndpointStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := make([]EndpointStats, len(p.endpoints))
	for i, e := range p.endpoints {
		stats[i] = EndpointStats{
			URL:             e.url,
			Available:       e.available,
			CurrentLoad:     e.inflight,
			ErrorCount:      e.errorCount,
			AvgResponseTime: e.avgResponseTime(),
			TotalRequests:   e.totalRequests,
		}
	}
	return stats
}
