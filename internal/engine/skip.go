package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
)

// ErrScheduleDisabled is returned when a skip is requested for a
// subject whose schedule is disabled or missing. A skip suppresses a
// schedule window, so there must be one to suppress.
var ErrScheduleDisabled = errors.New("schedule not enabled")

// skipUntil reports the subject's active skip, if any. Expired entries
// read as absent; pruning happens at tick start.
func (e *Engine) skipUntil(name string, now time.Time) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.skips[name]
	if !ok || !until.After(now) {
		return time.Time{}, false
	}
	return until, true
}

func (e *Engine) updateSkipGaugeLocked() {
	metrics.Get().ActiveSkips.Set(float64(len(e.skips)))
}

// StartSkip suppresses the subject's current schedule window, or the
// next one when none is active. The skip expires when that window ends.
func (e *Engine) StartSkip(ctx context.Context, name string) (time.Time, error) {
	sub, err := e.subject(name)
	if err != nil {
		return time.Time{}, err
	}

	sched, err := e.scheduleFor(name)
	if err != nil {
		return time.Time{}, fmt.Errorf("load schedule: %w", err)
	}
	if sched == nil || !sched.Enabled {
		return time.Time{}, fmt.Errorf("%w: %s", ErrScheduleDisabled, name)
	}

	now := e.clk.Now()
	until, err := sched.NextWindowEnd(now)
	if err != nil {
		return time.Time{}, fmt.Errorf("skip for %s: %w", name, err)
	}

	e.mu.Lock()
	e.skips[name] = until
	e.updateSkipGaugeLocked()
	e.mu.Unlock()

	e.record(ctx, name, "skip-start", fmt.Sprintf("until %s", until.Format(time.RFC3339)))
	e.hub.EmitSkip(events.EventSkipStarted, name, until)
	e.notify("Window skipped", fmt.Sprintf("%s stays blocked until %s", sub.Label(), until.Format("Mon 15:04")), "info")
	e.logger.Info("skip started", "subject", name, "until", until)

	e.Kick()
	return until, nil
}

// CancelSkip removes an active skip and kicks a reconcile so the
// schedule window takes effect again promptly.
func (e *Engine) CancelSkip(ctx context.Context, name string) error {
	sub, err := e.subject(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	_, ok := e.skips[name]
	delete(e.skips, name)
	e.updateSkipGaugeLocked()
	e.mu.Unlock()
	if !ok {
		return ErrNoActiveSkip
	}

	e.record(ctx, name, "skip-cancel", "")
	e.hub.EmitSkip(events.EventSkipCancelled, name, time.Time{})
	e.notify("Skip cancelled", fmt.Sprintf("%s follows the schedule again", sub.Label()), "info")
	e.logger.Info("skip cancelled", "subject", name)

	e.Kick()
	return nil
}

// pruneSkips drops expired skips. Called at tick start; expiry is not
// an event, the window simply ended.
func (e *Engine) pruneSkips(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, until := range e.skips {
		if !until.After(now) {
			delete(e.skips, name)
		}
	}
	e.updateSkipGaugeLocked()
}
