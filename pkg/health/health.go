// Package health implements the watchdog liveness module of
// SPEC_FULL.md §S: a timer that declares a client's in-progress command
// failed if it goes silent for longer than the configured watchdog
// interval, per spec.md §9's "a watchdog timer ... marks the client's
// pending work as failed" design note. Shaped on the teacher's
// pkg/health Config/Status pattern (interval, consecutive-failure
// bookkeeping), retargeted from container probes to command liveness.
package health

import (
	"context"
	"sync"
	"time"
)

// Config mirrors the teacher's health-check Config shape: an interval
// between sweeps and the timeout after which silence counts as death.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns the watchdog defaults from spec.md §6
// (watchdog_interval_sec).
func DefaultConfig(timeout time.Duration) Config {
	return Config{Interval: timeout / 4, Timeout: timeout}
}

// Watchdog tracks the last-heartbeat time of every in-progress command and
// reports those that have gone silent for longer than Timeout.
type Watchdog struct {
	mu      sync.Mutex
	touched map[string]time.Time
	cfg     Config
}

// NewWatchdog builds a Watchdog using cfg. A zero Timeout disables
// expiry checks (Expired always returns empty).
func NewWatchdog(cfg Config) *Watchdog {
	return &Watchdog{touched: make(map[string]time.Time), cfg: cfg}
}

// Start begins tracking id, recording the current time as its first
// heartbeat.
func (w *Watchdog) Start(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.touched[id] = time.Now()
}

// Touch records a heartbeat for id, resetting its silence clock.
func (w *Watchdog) Touch(id string) {
	w.Start(id)
}

// Stop removes id from tracking, for a command that completed normally.
func (w *Watchdog) Stop(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.touched, id)
}

// Expired returns the ids that have gone silent for longer than the
// configured Timeout, as of now.
func (w *Watchdog) Expired() []string {
	if w.cfg.Timeout <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var dead []string
	now := time.Now()
	for id, last := range w.touched {
		if now.Sub(last) > w.cfg.Timeout {
			dead = append(dead, id)
		}
	}
	return dead
}

// Run sweeps for expired ids every Interval, invoking onExpire for each
// and removing it from tracking, until ctx is done.
func (w *Watchdog) Run(ctx context.Context, onExpire func(id string)) {
	if w.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range w.Expired() {
				w.Stop(id)
				onExpire(id)
			}
		}
	}
}
