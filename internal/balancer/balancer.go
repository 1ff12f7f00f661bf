// Package balancer fans TTS synthesis requests out over the endpoint pool:
// least-loaded selection, per-endpoint concurrency permits, bounded retries
// with exponential backoff, and endpoint health probes.
package balancer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/presay/internal/health"
	"github.com/MrWong99/presay/internal/observe"
	"github.com/MrWong99/presay/internal/pool"
)

// Defaults applied by New when no option overrides them.
const (
	DefaultTimeout    = 60 * time.Second
	DefaultRetryCount = 2
	DefaultBackoff    = 500 * time.Millisecond

	// probeTimeout bounds one health probe round-trip.
	probeTimeout = 10 * time.Second
)

// synthesisRequest is the OpenAI-compatible body sent to TTS endpoints.
// Voice and format are fixed; the backends render WAV with their default
// speaker.
type synthesisRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Stats mirrors the balancer section of the stats and health responses.
type Stats struct {
	TotalRequests      int64                `json:"total_requests"`
	SuccessfulRequests int64                `json:"successful_requests"`
	FailedRequests     int64                `json:"failed_requests"`
	SuccessRate        float64              `json:"success_rate"`
	Endpoints          []pool.EndpointStats `json:"endpoints"`
}

// Balancer distributes synthesis calls over a pool of TTS endpoints.
type Balancer struct {
	pool        *pool.Pool
	client      *http.Client
	probeClient *http.Client
	retryCount  int
	backoff     time.Duration
	metrics     *observe.Metrics

	mu         sync.Mutex
	total      int64 // Synthesize calls, counted on entry
	successful int64
	failed     int64
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithTimeout bounds one outbound synthesis attempt.
func WithTimeout(d time.Duration) Option {
	return func(b *Balancer) {
		if d > 0 {
			b.client.Timeout = d
		}
	}
}

// WithRetryCount sets the number of additional attempts after a failed one.
func WithRetryCount(n int) Option {
	return func(b *Balancer) {
		if n >= 0 {
			b.retryCount = n
		}
	}
}

// WithBackoff sets the delay after the first failed attempt; it doubles with
// every further failure.
func WithBackoff(d time.Duration) Option {
	return func(b *Balancer) {
		if d > 0 {
			b.backoff = d
		}
	}
}

// WithHTTPClient replaces the synthesis HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Balancer) {
		if c != nil {
			b.client = c
		}
	}
}

// WithMetrics replaces the metrics instance, mainly for tests.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Balancer) {
		b.metrics = m
	}
}

// New builds a Balancer over p. Defaults: 60s attempt timeout, 2 retries,
// 500ms initial backoff.
func New(p *pool.Pool, opts ...Option) *Balancer {
	b := &Balancer{
		pool:        p,
		client:      &http.Client{Timeout: DefaultTimeout},
		probeClient: &http.Client{Timeout: probeTimeout},
		retryCount:  DefaultRetryCount,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Synthesize renders text through the best endpoint, retrying failed
// attempts with exponential backoff. Every attempt reselects an endpoint, so
// one demoted mid-sequence is routed around.
func (b *Balancer) Synthesize(ctx context.Context, text, model string) ([]byte, error) {
	b.mu.Lock()
	b.total++
	b.mu.Unlock()

	attempts := b.retryCount + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		e, err := b.pool.Select()
		if err != nil {
			return nil, fmt.Errorf("balancer: %w", err)
		}

		if attempt > 0 {
			b.metrics.SynthesisRetries.Add(ctx, 1)
		}

		audio, err := b.doRequest(ctx, e, text, model)
		if err == nil {
			b.mu.Lock()
			b.successful++
			b.mu.Unlock()
			return audio, nil
		}
		lastErr = err
		observe.Logger(ctx).Warn("synthesis attempt failed",
			"attempt", attempt+1,
			"attempts", attempts,
			"endpoint", e.URL(),
			"error", err)

		if attempt < b.retryCount {
			select {
			case <-time.After(b.backoff << attempt):
			case <-ctx.Done():
				b.mu.Lock()
				b.failed++
				b.mu.Unlock()
				return nil, fmt.Errorf("balancer: %w", ctx.Err())
			}
		}
	}

	b.mu.Lock()
	b.failed++
	b.mu.Unlock()
	return nil, fmt.Errorf("balancer: all %d attempts failed: %w", attempts, lastErr)
}

// doRequest performs one synthesis attempt against e: permit, load
// accounting, POST, endpoint bookkeeping.
func (b *Balancer) doRequest(ctx context.Context, e *pool.Endpoint, text, model string) ([]byte, error) {
	if err := e.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("balancer: acquire permit for %s: %w", e.URL(), err)
	}
	defer e.Release()

	b.pool.BeginRequest(e)
	defer b.pool.EndRequest(e)

	inflight := metric.WithAttributes(observe.Attr("endpoint", e.URL()))
	b.metrics.EndpointInflight.Add(ctx, 1, inflight)
	defer b.metrics.EndpointInflight.Add(ctx, -1, inflight)

	body, err := json.Marshal(synthesisRequest{
		Model:          model,
		Input:          text,
		Voice:          "alloy",
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("balancer: encode request: %w", err)
	}

	url := e.URL() + "/v1/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("balancer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		b.pool.RecordFailure(e)
		b.metrics.RecordSynthesis(ctx, e.URL(), "error", time.Since(start).Seconds())
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, fmt.Errorf("balancer: request timeout: %w", err)
		}
		return nil, fmt.Errorf("balancer: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b.pool.RecordFailure(e)
		b.metrics.RecordSynthesis(ctx, e.URL(), "error", time.Since(start).Seconds())
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("balancer: HTTP error %d from %s: %s",
			resp.StatusCode, url, bytes.TrimSpace(prefix))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		b.pool.RecordFailure(e)
		b.metrics.RecordSynthesis(ctx, e.URL(), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("balancer: read response from %s: %w", url, err)
	}

	rt := time.Since(start)
	b.pool.RecordSuccess(e, rt)
	b.metrics.RecordSynthesis(ctx, e.URL(), "ok", rt.Seconds())
	observe.Logger(ctx).Debug("synthesis succeeded",
		"endpoint", e.URL(),
		"text_len", len(text),
		"response_time", rt)
	return audio, nil
}

// Checkers returns one health checker per endpoint, for a periodic monitor.
// A 200 from GET <url>/health restores the endpoint, any other status
// demotes it, and a transport error leaves availability unchanged: a probe
// that never reached the endpoint proves nothing about requests in flight.
func (b *Balancer) Checkers() []health.Checker {
	eps := b.pool.Endpoints()
	checkers := make([]health.Checker, 0, len(eps))
	for _, e := range eps {
		checkers = append(checkers, health.Checker{
			Name:  e.URL(),
			Check: func(ctx context.Context) error { return b.probe(ctx, e) },
		})
	}
	return checkers
}

// probe performs one health round-trip against e.
func (b *Balancer) probe(ctx context.Context, e *pool.Endpoint) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL()+"/health", nil)
	if err != nil {
		return fmt.Errorf("balancer: build probe: %w", err)
	}
	resp, err := b.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("balancer: probe %s: %w", e.URL(), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		b.pool.MarkUnavailable(e)
		return fmt.Errorf("balancer: probe %s: status %d", e.URL(), resp.StatusCode)
	}
	b.pool.MarkAvailable(e)
	return nil
}

// Stats returns the balancer counters plus per-endpoint snapshots.
func (b *Balancer) Stats() Stats {
	b.mu.Lock()
	total, successful, failed := b.total, b.successful, b.failed
	b.mu.Unlock()

	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total)
	}
	return Stats{
		TotalRequests:      total,
		SuccessfulRequests: successful,
		FailedRequests:     failed,
		SuccessRate:        rate,
		Endpoints:          b.pool.Stats(),
	}
}
