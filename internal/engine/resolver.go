package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/schedule"
)

// scheduleStatus is the evaluator output for one subject at one instant.
type scheduleStatus struct {
	Enabled          bool
	Active           bool
	CurrentWindowEnd *time.Time
	NextWindowStart  *time.Time
	NextWindowEnd    *time.Time
}

// evalSchedule runs the pure schedule evaluator. A nil schedule reads
// as disabled with no windows.
func evalSchedule(s *schedule.Weekly, now time.Time) scheduleStatus {
	var st scheduleStatus
	if s == nil {
		return st
	}
	st.Enabled = s.Enabled
	st.Active = s.ActiveAt(now)
	if end, ok := s.CurrentWindowEnd(now); ok {
		st.CurrentWindowEnd = &end
	}
	if start, err := s.NextWindowStart(now); err == nil {
		st.NextWindowStart = &start
	}
	if end, err := s.NextWindowEnd(now); err == nil {
		st.NextWindowEnd = &end
	}
	return st
}

// desired resolves what the reconcile loop wants for a subject.
// Precedence: live timer wins and the loop asserts nothing (the timer
// drives access itself); schedule disabled also asserts nothing; an
// active skip forces blocked for the window it suppresses; otherwise
// the schedule decides.
//
// asserted=false means the loop leaves the rule exactly as found.
func (e *Engine) desired(name string, sched scheduleStatus, now time.Time) (allowed, asserted bool) {
	if _, ok := e.timerUntil(name); ok {
		return false, false
	}
	if !sched.Enabled {
		return false, false
	}
	if _, ok := e.skipUntil(name, now); ok {
		return false, true
	}
	return sched.Active, true
}

// SubjectStatus is the externally visible state of one subject,
// assembled for the API and the status subcommand.
type SubjectStatus struct {
	Name            string     `json:"name" yaml:"name"`
	DisplayName     string     `json:"display_name" yaml:"display_name"`
	Allowed         bool       `json:"allowed" yaml:"allowed"`
	RuleFound       bool       `json:"rule_found" yaml:"rule_found"`
	RuleTracker     int        `json:"rule_tracker" yaml:"rule_tracker"`
	ScheduleEnabled bool       `json:"schedule_enabled" yaml:"schedule_enabled"`
	ScheduleActive  bool       `json:"schedule_active" yaml:"schedule_active"`
	WindowEndsAt    *time.Time `json:"window_ends_at,omitempty" yaml:"window_ends_at,omitempty"`
	NextWindowStart *time.Time `json:"next_window_start,omitempty" yaml:"next_window_start,omitempty"`
	NextWindowEnd   *time.Time `json:"next_window_end,omitempty" yaml:"next_window_end,omitempty"`
	TimerUntil      *time.Time `json:"timer_until,omitempty" yaml:"timer_until,omitempty"`
	SkipUntil       *time.Time `json:"skip_until,omitempty" yaml:"skip_until,omitempty"`
	KnownDevices    int        `json:"known_devices" yaml:"known_devices"`
	BlockedDevices  int        `json:"blocked_devices" yaml:"blocked_devices"`
}

// SubjectStates reports every configured subject with one firewall
// fetch. Subjects whose rule is missing are reported with
// RuleFound=false rather than failing the whole call.
func (e *Engine) SubjectStates(ctx context.Context) ([]SubjectStatus, error) {
	rules, err := e.firewall.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	byTracker := make(map[int]pfsense.Rule, len(rules))
	for _, r := range rules {
		byTracker[r.Tracker] = r
	}

	now := e.clk.Now()
	out := make([]SubjectStatus, 0, len(e.cfg.Subjects))
	for i := range e.cfg.Subjects {
		sub := &e.cfg.Subjects[i]
		st := SubjectStatus{
			Name:        sub.Name,
			DisplayName: sub.Label(),
			RuleTracker: sub.RuleTracker,
		}

		if rule, ok := byTracker[sub.RuleTracker]; ok {
			st.RuleFound = true
			st.Allowed = pfsense.RuleAllows(rule)
		}

		sched, err := e.scheduleFor(sub.Name)
		if err != nil {
			e.logger.Warn("schedule load failed", "subject", sub.Name, "error", err)
		}
		ss := evalSchedule(sched, now)
		st.ScheduleEnabled = ss.Enabled
		st.ScheduleActive = ss.Active
		st.WindowEndsAt = ss.CurrentWindowEnd
		st.NextWindowStart = ss.NextWindowStart
		st.NextWindowEnd = ss.NextWindowEnd

		if until, ok := e.timerUntil(sub.Name); ok {
			st.TimerUntil = &until
		}
		if until, ok := e.skipUntil(sub.Name, now); ok {
			st.SkipUntil = &until
		}

		if macs, err := e.known.Get(sub.Name); err == nil {
			st.KnownDevices = len(macs)
		}
		if macs, err := e.blocked.Get(sub.Name); err == nil {
			st.BlockedDevices = len(macs)
		}

		out = append(out, st)
	}
	return out, nil
}

// SubjectState reports a single subject.
func (e *Engine) SubjectState(ctx context.Context, name string) (*SubjectStatus, error) {
	if _, err := e.subject(name); err != nil {
		return nil, err
	}
	states, err := e.SubjectStates(ctx)
	if err != nil {
		return nil, err
	}
	for i := range states {
		if states[i].Name == name {
			return &states[i], nil
		}
	}
	return nil, errors.New("subject state missing")
}
