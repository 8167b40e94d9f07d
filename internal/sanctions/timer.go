package sanctions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer keeps the registry fresh: one refresh at start when the snapshot is
// stale, then one per interval until the context ends or Stop is called.
type Timer struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a refresh timer using the registry's interval.
func NewTimer(registry *Registry, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		registry: registry,
		interval: registry.Interval(),
		timeout:  5 * time.Minute,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the refresh loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	if t.registry.NeedsRefresh() {
		t.safeRefresh(ctx)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRefresh(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in sanctions timer", "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.registry.Refresh(ctx); err != nil {
		var re *RefreshError
		if errors.As(err, &re) {
			t.logger.Warn("scheduled sanctions refresh failed, keeping current snapshot",
				"failedSources", len(re.Failures), "source", t.registry.Stats().Source)
			return
		}
		t.logger.Error("scheduled sanctions refresh failed", "error", err)
	}
}
