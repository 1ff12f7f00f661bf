// Package app wires all presay subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSynthesizer,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/presay/internal/balancer"
	"github.com/MrWong99/presay/internal/cache"
	"github.com/MrWong99/presay/internal/config"
	"github.com/MrWong99/presay/internal/health"
	"github.com/MrWong99/presay/internal/observe"
	"github.com/MrWong99/presay/internal/pool"
	"github.com/MrWong99/presay/internal/server"
	"github.com/MrWong99/presay/internal/upstream"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers before the connection is dropped.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes: the TTS endpoint pool, the balancer, the
// prefetch cache, the upstream chat client, and the HTTP server in front of
// them.
type App struct {
	cfg *config.Config

	// Subsystems — initialised in New, torn down in Shutdown.
	pool       *pool.Pool
	balancer   *balancer.Balancer
	cache      *cache.Cache
	upstream   *upstream.Client
	monitor    *health.Monitor
	httpServer *http.Server
	metrics    *observe.Metrics

	// synth overrides the balancer as the cache's synthesizer when injected.
	synth cache.Synthesizer

	// mu guards ln, which Run sets once the listener is open.
	mu sync.Mutex
	ln net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of using the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSynthesizer injects a synthesizer for the cache instead of the
// balancer built from config. The pool and balancer are still created so the
// health and stats surfaces stay functional.
func WithSynthesizer(s cache.Synthesizer) Option {
	return func(a *App) { a.synth = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: endpoint pool →
// balancer → cache → upstream client → HTTP server, plus the optional
// endpoint health monitor. The cache sweeper and the monitor are started
// here; call Shutdown to stop them even if Run is never called.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Endpoint pool ─────────────────────────────────────────────────
	if err := a.initPool(); err != nil {
		return nil, fmt.Errorf("app: init pool: %w", err)
	}

	// ── 2. Balancer ──────────────────────────────────────────────────────
	a.initBalancer()

	// ── 3. Prefetch cache ────────────────────────────────────────────────
	a.initCache()

	// ── 4. Upstream chat client ──────────────────────────────────────────
	a.upstream = upstream.New(cfg.NewAPIBaseURL, cfg.NewAPIAPIKey,
		time.Duration(cfg.NewAPITimeout)*time.Second)

	// ── 5. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	// ── 6. Endpoint health monitor ───────────────────────────────────────
	a.initMonitor()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initPool() error {
	p, err := pool.New(a.cfg.Endpoints(), a.cfg.TTSMaxConcurrentPerEndpoint)
	if err != nil {
		return err
	}
	a.pool = p
	return nil
}

func (a *App) initBalancer() {
	a.balancer = balancer.New(a.pool,
		balancer.WithTimeout(time.Duration(a.cfg.TTSRequestTimeout)*time.Second),
		balancer.WithRetryCount(a.cfg.TTSRetryCount),
		balancer.WithMetrics(a.metrics),
	)
}

// initCache builds the cache on top of the balancer (or an injected
// synthesizer) and starts its expiry sweeper.
func (a *App) initCache() {
	synth := a.synth
	if synth == nil {
		synth = a.balancer
	}
	a.cache = cache.New(synth, cache.Config{
		MaxSize:         a.cfg.CacheMaxSize,
		TTL:             time.Duration(a.cfg.CacheTTL) * time.Second,
		CleanupInterval: time.Duration(a.cfg.CacheCleanupInterval) * time.Second,
		Metrics:         a.metrics,
	})
	a.cache.Start()
	a.closers = append(a.closers, func() error {
		a.cache.Stop()
		return nil
	})
}

func (a *App) initServer() {
	srv := server.New(server.Deps{
		Config:   a.cfg,
		Cache:    a.cache,
		Balancer: a.balancer,
		Upstream: a.upstream,
		Metrics:  a.metrics,
	})
	a.httpServer = &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// initMonitor starts the periodic endpoint prober unless the interval is 0,
// in which case demoted endpoints recover through organic traffic only.
func (a *App) initMonitor() {
	if a.cfg.TTSHealthCheckInterval <= 0 {
		slog.Info("endpoint health monitor disabled")
		return
	}
	m := health.NewMonitor(
		time.Duration(a.cfg.TTSHealthCheckInterval)*time.Second,
		a.balancer.Checkers()...,
	)
	m.Start()
	a.monitor = m
	a.closers = append(a.closers, func() error {
		m.Stop()
		return nil
	})
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run opens the listener and serves HTTP until ctx is cancelled or the
// server fails. On cancellation it returns ctx.Err(); the caller is expected
// to follow up with Shutdown to drain in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.httpServer.Addr, err)
	}
	a.mu.Lock()
	a.ln = ln
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpServer.Serve(ln)
	}()

	slog.Info("server listening",
		"addr", ln.Addr().String(),
		"endpoints", len(a.cfg.Endpoints()),
		"default_model", a.cfg.TTSDefaultModel)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ListenAddr returns the address the HTTP listener is bound to, or "" before
// Run has opened it. Mainly useful when the configured port is 0.
func (a *App) ListenAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains the HTTP server and tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
// Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting new requests and drain in-flight ones first.
		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
