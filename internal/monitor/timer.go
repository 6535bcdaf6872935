package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PollTimer is the repeating reload timer. Arm has cancel-then-restart
// semantics: there is never more than one live timer, and the handle is held
// exactly while polling is active.
type PollTimer struct {
	period time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc // nil when inactive
}

// NewPollTimer creates a stopped timer with the given period.
func NewPollTimer(period time.Duration, logger *slog.Logger) *PollTimer {
	return &PollTimer{
		period: period,
		logger: logger.With("component", "poll_timer"),
	}
}

// Arm cancels any running timer and starts a fresh repeating one. fn runs on
// the timer's own goroutine every period until Stop or the next Arm.
func (t *PollTimer) Arm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go func() {
		ticker := time.NewTicker(t.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	t.logger.Debug("timer armed", "period", t.period)
}

// Stop cancels the running timer, if any.
func (t *PollTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
		t.logger.Debug("timer stopped")
	}
}

// Active reports whether the timer is running.
func (t *PollTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Period returns the configured tick interval.
func (t *PollTimer) Period() time.Duration {
	return t.period
}
