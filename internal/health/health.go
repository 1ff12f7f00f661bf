// Package health runs periodic background health checks.
//
// The HTTP health surface of presay lives in the server package; this
// package owns the monitor that keeps the endpoint pool's availability
// flags fresh between real requests.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// checkTimeout is the maximum time a single check may take before its
// context is cancelled.
const checkTimeout = 10 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. an endpoint
	// URL). It appears in failure logs.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Monitor runs a set of checkers on a fixed interval until stopped.
type Monitor struct {
	interval time.Duration
	checkers []Checker

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor that evaluates the given checkers every
// interval once started. The checkers are evaluated sequentially in the
// order provided. A non-positive interval falls back to one minute.
func NewMonitor(interval time.Duration, checkers ...Checker) *Monitor {
	if interval <= 0 {
		interval = time.Minute
	}
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Monitor{
		interval: interval,
		checkers: c,
		stop:     make(chan struct{}),
	}
}

// Start launches the monitor loop. Call at most once. The first round runs
// after one full interval.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	slog.Info("health monitor started",
		"interval", m.interval,
		"checkers", len(m.checkers))
}

// Stop terminates the loop and waits for it to exit. Safe to call more than
// once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.runChecks()
		}
	}
}

// runChecks executes every checker once with a [checkTimeout] deadline.
// Failures are logged, never fatal; the checkers themselves decide what a
// failure means for routing.
func (m *Monitor) runChecks() {
	for _, c := range m.checkers {
		select {
		case <-m.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		if err := c.Check(ctx); err != nil {
			slog.Warn("health check failed", "name", c.Name, "error", err)
		}
		cancel()
	}
}
