package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
)

// correction is one rule flip decided by a tick. Side effects run after
// the single apply so the firewall commits before states are killed.
type correction struct {
	sub     *config.SubjectConfig
	rule    pfsense.Rule
	allowed bool
}

// Reconcile runs one full pass: resolve desired state per subject,
// patch every drifted rule, apply once, then run the side-effect chain
// per corrected subject. Passes may overlap; each converges on the same
// resolved state, so no tick-level lock is held.
func (e *Engine) Reconcile(ctx context.Context) error {
	start := e.clk.Now()
	err := e.reconcile(ctx, start)
	metrics.Get().RecordReconcileTick(err, e.clk.Since(start))
	if err != nil {
		e.hub.EmitReconcile(0, e.clk.Since(start), err.Error())
	}
	return err
}

func (e *Engine) reconcile(ctx context.Context, now time.Time) error {
	e.pruneSkips(now)

	rules, err := e.firewall.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	byTracker := make(map[int]pfsense.Rule, len(rules))
	for _, r := range rules {
		byTracker[r.Tracker] = r
	}

	scheds, err := e.schedules.All()
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	var corrections []correction
	for i := range e.cfg.Subjects {
		sub := &e.cfg.Subjects[i]

		rule, found := byTracker[sub.RuleTracker]
		if !found {
			e.logger.Warn("rule missing from firewall", "subject", sub.Name, "tracker", sub.RuleTracker)
			continue
		}

		actual := pfsense.RuleAllows(rule)
		final := actual

		want, asserted := e.desired(sub.Name, evalSchedule(scheds[sub.Name], now), now)
		if asserted && want != actual {
			if err := e.firewall.PatchRuleDisabled(ctx, sub.RuleTracker, want); err != nil {
				// Leaves this subject as found; the others still get
				// their patches and the next tick retries.
				e.logger.Error("rule patch failed", "subject", sub.Name, "tracker", sub.RuleTracker, "error", err)
			} else {
				corrections = append(corrections, correction{sub: sub, rule: rule, allowed: want})
				final = want
			}
		}
		metrics.Get().SetSubjectAllowed(sub.Name, final)
	}

	if len(corrections) > 0 || e.pendingApply.Load() {
		if err := e.firewall.Apply(ctx); err != nil {
			e.pendingApply.Store(true)
			return fmt.Errorf("apply: %w", err)
		}
		e.pendingApply.Store(false)
	}

	for _, c := range corrections {
		e.orchestrate(ctx, c.sub, &c.rule, c.allowed)

		action, verb := "reconcile-block", "blocked"
		if c.allowed {
			action, verb = "reconcile-allow", "allowed"
		}
		e.record(ctx, c.sub.Name, action, "")
		e.hub.EmitAccessChange(c.sub.Name, c.allowed, "reconcile", "")
		metrics.Get().RecordCorrection(c.sub.Name, c.allowed)
		e.notify("Access "+verb, fmt.Sprintf("%s is now %s", c.sub.Label(), verb), "info")
		e.logger.Info("access corrected", "subject", c.sub.Name, "allowed", c.allowed)
	}

	e.hub.EmitReconcile(len(corrections), e.clk.Since(now), "")
	return nil
}
