package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/schedule"
)

// ToggleManual flips a subject's access and reports the new state. An
// active timer is cancelled; the manual intent supersedes it. The
// reconcile loop may still override the result at the next tick when
// the subject's schedule is enabled.
func (e *Engine) ToggleManual(ctx context.Context, name string) (bool, error) {
	sub, err := e.subject(name)
	if err != nil {
		return false, err
	}

	rule, err := e.ruleFor(ctx, sub)
	if err != nil {
		return false, err
	}
	target := !pfsense.RuleAllows(*rule)

	e.mu.Lock()
	if t, ok := e.timers[name]; ok {
		t.stop()
		delete(e.timers, name)
		e.updateTimerGaugeLocked()
		e.logger.Info("timer cancelled by manual toggle", "subject", name)
	}
	e.mu.Unlock()

	if err := e.setAccess(ctx, sub, rule, target, "manual"); err != nil {
		return false, err
	}

	action, verb := "toggle-block", "blocked"
	if target {
		action, verb = "toggle-allow", "allowed"
	}
	e.record(ctx, name, action, "")
	e.notify("Access toggled", fmt.Sprintf("%s manually %s", sub.Label(), verb), "info")
	e.logger.Info("manual toggle", "subject", name, "allowed", target)
	return target, nil
}

// SetScheduleEnabled flips schedule enforcement for a subject. When a
// companion schedule rule is configured its disabled flag is kept in
// lockstep, so a firewall-side time rule follows the same switch.
func (e *Engine) SetScheduleEnabled(ctx context.Context, name string, enabled bool) error {
	sub, err := e.subject(name)
	if err != nil {
		return err
	}

	sched, err := e.scheduleFor(name)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if sched == nil {
		sched = &schedule.Weekly{}
		e.logger.Warn("no stored schedule, creating empty", "subject", name)
	}
	sched.Enabled = enabled
	if err := e.schedules.Set(name, sched); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}

	if sub.ScheduleRuleTracker > 0 {
		if err := e.firewall.PatchRuleDisabled(ctx, sub.ScheduleRuleTracker, !enabled); err != nil {
			e.logger.Error("companion rule patch failed", "subject", name, "tracker", sub.ScheduleRuleTracker, "error", err)
		} else if err := e.firewall.Apply(ctx); err != nil {
			e.pendingApply.Store(true)
			e.logger.Error("apply failed", "subject", name, "error", err)
		} else {
			e.pendingApply.Store(false)
		}
	}

	action, word := "schedule-disable", "disabled"
	typ := events.EventScheduleDisabled
	if enabled {
		action, word = "schedule-enable", "enabled"
		typ = events.EventScheduleEnabled
	}
	e.record(ctx, name, action, "")
	e.hub.EmitSchedule(typ, name, enabled, len(sched.Windows))
	e.notify("Schedule "+word, fmt.Sprintf("Schedule enforcement for %s is now %s", sub.Label(), word), "info")
	e.logger.Info("schedule enforcement changed", "subject", name, "enabled", enabled)

	e.Kick()
	return nil
}

// Schedules returns the stored schedule per configured subject.
// Subjects that never had one saved get an empty, disabled schedule.
func (e *Engine) Schedules() (map[string]*schedule.Weekly, error) {
	stored, err := e.schedules.All()
	if err != nil {
		return nil, err
	}
	out := make(map[string]*schedule.Weekly, len(e.cfg.Subjects))
	for i := range e.cfg.Subjects {
		name := e.cfg.Subjects[i].Name
		if s, ok := stored[name]; ok {
			out[name] = s
		} else {
			out[name] = &schedule.Weekly{}
		}
	}
	return out, nil
}

// SaveSchedules validates and persists the given schedules, audits a
// unified diff of the change, and kicks a reconcile so edits take
// effect without waiting out the tick interval.
func (e *Engine) SaveSchedules(ctx context.Context, scheds map[string]*schedule.Weekly) error {
	for name, s := range scheds {
		if _, err := e.subject(name); err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("subject %s: schedule is null", name)
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("subject %s: %w", name, err)
		}
	}

	before, err := e.Schedules()
	if err != nil {
		e.logger.Warn("schedule diff unavailable", "error", err)
		before = map[string]*schedule.Weekly{}
	}

	for name, s := range scheds {
		if err := e.schedules.Set(name, s); err != nil {
			return fmt.Errorf("save schedule for %s: %w", name, err)
		}
	}

	after, _ := e.Schedules()
	e.record(ctx, "", "schedule-save", scheduleDiff(before, after))

	for name, s := range scheds {
		e.hub.EmitSchedule(events.EventScheduleSaved, name, s.Enabled, len(s.Windows))
	}
	e.logger.Info("schedules saved", "subjects", len(scheds))

	e.Kick()
	return nil
}

// scheduleDiff renders a unified diff of two schedule maps for the
// audit trail.
func scheduleDiff(before, after map[string]*schedule.Weekly) string {
	a, _ := json.MarshalIndent(before, "", "  ")
	b, _ := json.MarshalIndent(after, "", "  ")
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "schedules.before",
		ToFile:   "schedules.after",
		Context:  3,
	})
	if err != nil || diff == "" {
		return "no changes"
	}
	return diff
}

// AllowAll grants access to every subject with one apply. Active timers
// are cancelled; their deferred re-block would contradict the operator.
func (e *Engine) AllowAll(ctx context.Context) error {
	return e.bulkSet(ctx, true)
}

// BlockAll revokes access for every subject with one apply. Active
// timers are cancelled.
func (e *Engine) BlockAll(ctx context.Context) error {
	return e.bulkSet(ctx, false)
}

func (e *Engine) bulkSet(ctx context.Context, allowed bool) error {
	e.mu.Lock()
	for name, t := range e.timers {
		t.stop()
		delete(e.timers, name)
	}
	e.updateTimerGaugeLocked()
	e.mu.Unlock()

	rules, err := e.firewall.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	byTracker := make(map[int]pfsense.Rule, len(rules))
	for _, r := range rules {
		byTracker[r.Tracker] = r
	}

	var patched []correction
	for i := range e.cfg.Subjects {
		sub := &e.cfg.Subjects[i]
		rule, found := byTracker[sub.RuleTracker]
		if !found {
			e.logger.Warn("rule missing from firewall", "subject", sub.Name, "tracker", sub.RuleTracker)
			continue
		}
		if pfsense.RuleAllows(rule) == allowed {
			continue
		}
		if err := e.firewall.PatchRuleDisabled(ctx, sub.RuleTracker, allowed); err != nil {
			e.logger.Error("rule patch failed", "subject", sub.Name, "error", err)
			continue
		}
		patched = append(patched, correction{sub: sub, rule: rule, allowed: allowed})
	}

	if len(patched) > 0 || e.pendingApply.Load() {
		if err := e.firewall.Apply(ctx); err != nil {
			e.pendingApply.Store(true)
			return fmt.Errorf("apply: %w", err)
		}
		e.pendingApply.Store(false)
	}

	action, verb := "block-all", "blocked"
	if allowed {
		action, verb = "allow-all", "allowed"
	}

	for _, c := range patched {
		e.orchestrate(ctx, c.sub, &c.rule, c.allowed)
		e.hub.EmitAccessChange(c.sub.Name, c.allowed, action, "")
		metrics.Get().SetSubjectAllowed(c.sub.Name, c.allowed)
	}

	e.record(ctx, "", action, fmt.Sprintf("%d subjects changed", len(patched)))
	e.notify("All subjects "+verb, fmt.Sprintf("%d subjects %s", len(patched), verb), "warning")
	e.logger.Info("bulk access change", "allowed", allowed, "changed", len(patched))
	return nil
}
