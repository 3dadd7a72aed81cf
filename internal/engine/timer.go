package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// accessTimer is one armed timed-allow grant. The record in
// Engine.timers is the source of truth for liveness; the AfterFunc
// handle only fires the expiry.
type accessTimer struct {
	firesAt time.Time
	stop    func() bool
}

// timerUntil reports the expiry of the subject's live timer, if any.
func (e *Engine) timerUntil(name string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[name]
	if !ok {
		return time.Time{}, false
	}
	return t.firesAt, true
}

func (e *Engine) updateTimerGaugeLocked() {
	metrics.Get().ActiveTimers.Set(float64(len(e.timers)))
}

// StartTimedAllow grants access for the given number of minutes and
// arms the deferred re-block. A second grant for the same subject
// supersedes the first; the old deferred action is stopped before the
// new one is armed, so exactly one expiry fires.
func (e *Engine) StartTimedAllow(ctx context.Context, name string, minutes int) (time.Time, error) {
	if err := validation.ValidateTimerMinutes(minutes); err != nil {
		return time.Time{}, err
	}
	sub, err := e.subject(name)
	if err != nil {
		return time.Time{}, err
	}

	until := e.clk.Now().Add(time.Duration(minutes) * time.Minute)
	t := &accessTimer{firesAt: until}

	e.mu.Lock()
	if old, ok := e.timers[name]; ok {
		old.stop()
	}
	e.timers[name] = t
	handle := time.AfterFunc(e.clk.Until(until), func() {
		e.expireTimer(name, t)
	})
	t.stop = handle.Stop
	e.updateTimerGaugeLocked()
	e.mu.Unlock()

	rule, err := e.ruleFor(ctx, sub)
	if err == nil {
		err = e.setAccess(ctx, sub, rule, true, "timer")
	}
	if err != nil {
		// Could not grant access, so the deferred re-block has
		// nothing to undo. Drop the record unless a newer grant
		// already replaced it.
		e.mu.Lock()
		if e.timers[name] == t {
			t.stop()
			delete(e.timers, name)
		}
		e.updateTimerGaugeLocked()
		e.mu.Unlock()
		return time.Time{}, fmt.Errorf("start timer for %s: %w", name, err)
	}

	e.record(ctx, name, "timer-start", fmt.Sprintf("%d minutes, until %s", minutes, until.Format(time.RFC3339)))
	e.hub.EmitTimer(events.EventTimerStarted, name, minutes, until)
	e.notify("Timer started", fmt.Sprintf("%s allowed for %d minutes", sub.Label(), minutes), "info")
	e.logger.Info("timed allow started", "subject", name, "minutes", minutes, "until", until)
	return until, nil
}

// CancelTimer stops a live timer and immediately re-drives the subject
// to its non-timer state instead of waiting for the next tick.
func (e *Engine) CancelTimer(ctx context.Context, name string) error {
	sub, err := e.subject(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	t, ok := e.timers[name]
	if ok {
		t.stop()
		delete(e.timers, name)
	}
	e.updateTimerGaugeLocked()
	e.mu.Unlock()
	if !ok {
		return ErrNoActiveTimer
	}

	e.record(ctx, name, "timer-cancel", "")
	e.hub.EmitTimer(events.EventTimerCancelled, name, 0, t.firesAt)
	e.logger.Info("timer cancelled", "subject", name)

	e.settleAfterTimer(ctx, sub.Name, "timer-cancel")
	return nil
}

// expireTimer is the AfterFunc fire path. The record is removed first;
// a stale handle whose record was superseded does nothing.
func (e *Engine) expireTimer(name string, t *accessTimer) {
	e.mu.Lock()
	if e.timers[name] != t {
		e.mu.Unlock()
		return
	}
	delete(e.timers, name)
	e.updateTimerGaugeLocked()
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx = audit.WithActor(ctx, audit.SourceTimer, "")

	e.hub.EmitTimer(events.EventTimerExpired, name, 0, t.firesAt)
	e.logger.Info("timer expired", "subject", name)

	e.settleAfterTimer(ctx, name, "timer-expire")
}

// settleAfterTimer re-resolves a subject once its timer is gone. If the
// schedule keeps the subject allowed the rule is left alone; otherwise
// access is re-blocked through the full side-effect chain.
func (e *Engine) settleAfterTimer(ctx context.Context, name, action string) {
	sub, err := e.subject(name)
	if err != nil {
		e.logger.Error("timer settle failed", "subject", name, "error", err)
		return
	}

	now := e.clk.Now()
	sched, err := e.scheduleFor(name)
	if err != nil {
		e.logger.Warn("schedule load failed", "subject", name, "error", err)
	}
	ss := evalSchedule(sched, now)
	_, skipped := e.skipUntil(name, now)

	if ss.Enabled && ss.Active && !skipped {
		e.record(ctx, name, action, "kept: schedule window active")
		e.notify("Timer ended", fmt.Sprintf("%s stays allowed, schedule window is active", sub.Label()), "info")
		return
	}

	rule, err := e.ruleFor(ctx, sub)
	if err == nil {
		err = e.setAccess(ctx, sub, rule, false, action)
	}
	if err != nil {
		// The next reconcile tick retries; the timer record is
		// already gone so the loop owns the subject again.
		e.logger.Error("re-block after timer failed", "subject", name, "error", err)
		e.record(ctx, name, action, fmt.Sprintf("re-block failed: %v", err))
		return
	}

	e.record(ctx, name, action, "access re-blocked")
	e.notify("Timer ended", fmt.Sprintf("%s is blocked again", sub.Label()), "info")
}
