package session

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Sweep defaults.
const (
	DefaultSweepInterval  = 10 * time.Minute
	DefaultHumanIdleAfter = 30 * time.Minute
)

// JobScheduler registers a periodic job. *scheduler.Scheduler satisfies it.
type JobScheduler interface {
	Every(interval time.Duration, task func()) error
}

// Sweeper returns silent human-mode sessions to automated support.
type Sweeper struct {
	store     *Store
	threshold time.Duration
	interval  time.Duration
}

// NewSweeper creates a sweeper over st. Non-positive durations select the defaults.
func NewSweeper(st *Store, threshold, interval time.Duration) *Sweeper {
	if threshold <= 0 {
		threshold = DefaultHumanIdleAfter
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: st, threshold: threshold, interval: interval}
}

// Threshold returns the idle time after which a human session is reverted.
func (w *Sweeper) Threshold() time.Duration {
	return w.threshold
}

// Sweep inspects every stored session once and returns the ids it reverted, sorted.
// Each session is checked under its own lock against the cached state. Failures on
// one session are logged and do not stop the scan.
func (w *Sweeper) Sweep(ctx context.Context) []string {
	all, err := w.store.ListAll()
	if err != nil {
		slog.Error("Sweeper Sweep could not enumerate sessions", "error", err)
		return nil
	}
	var reverted []string
	for id := range all {
		if ctx.Err() != nil {
			slog.Warn("Sweeper Sweep interrupted", "error", ctx.Err(), "reverted", len(reverted))
			break
		}
		unlock := w.store.Lock(id)
		changed, err := w.store.CheckInactivity(id, w.threshold)
		unlock()
		if err != nil {
			slog.Error("Sweeper Sweep failed to revert session", "id", id, "error", err)
		}
		if changed {
			reverted = append(reverted, id)
		}
	}
	sort.Strings(reverted)
	slog.Info("Sweeper Sweep finished", "scanned", len(all), "reverted", len(reverted))
	return reverted
}

// Start registers the sweep with sched. Sweeps stop running once ctx is done.
func (w *Sweeper) Start(ctx context.Context, sched JobScheduler) error {
	slog.Info("Sweeper scheduled", "interval", w.interval, "threshold", w.threshold)
	return sched.Every(w.interval, func() {
		if ctx.Err() != nil {
			return
		}
		w.Sweep(ctx)
	})
}
