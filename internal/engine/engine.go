// Package engine holds the access-control core: the desired-state
// resolver, the timer and skip subsystems, the reconciliation loop, and
// the side-effect orchestrator that drives the firewall and the
// wireless controller toward the resolved state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/clock"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/logging"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/schedule"
	"github.com/waveworm/pfsense-toggle/internal/state"
	"github.com/waveworm/pfsense-toggle/internal/unifi"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

var (
	// ErrUnknownSubject is returned for operations on a subject that is
	// not in the configuration.
	ErrUnknownSubject = errors.New("unknown subject")

	// ErrNoActiveTimer is returned when cancelling a timer that does
	// not exist.
	ErrNoActiveTimer = errors.New("no active timer")

	// ErrNoActiveSkip is returned when cancelling a skip that does not
	// exist.
	ErrNoActiveSkip = errors.New("no active skip")

	// ErrRuleNotFound is returned when a subject's configured rule
	// tracker is missing from the firewall rule set.
	ErrRuleNotFound = errors.New("firewall rule not found")
)

// Firewall is the packet-filter surface the engine drives.
// *pfsense.Client implements it.
type Firewall interface {
	ListRules(ctx context.Context) ([]pfsense.Rule, error)
	PatchRuleDisabled(ctx context.Context, tracker int, disabled bool) error
	Apply(ctx context.Context) error
	ResolveSource(ctx context.Context, spec pfsense.AddressSpec) ([]string, error)
	KillStatesForAddress(ctx context.Context, addr string) error
}

// Wireless is the controller surface used for device-level blocking.
// *unifi.Controller implements it. A nil Wireless disables the device
// side-effect chain; rule toggling still works.
type Wireless interface {
	ClientsAtAddresses(ctx context.Context, addrs []string) ([]unifi.Client, error)
	BlockClient(ctx context.Context, mac string) error
	UnblockClient(ctx context.Context, mac string) error
}

// Notifier abstracts the notification dispatcher.
type Notifier interface {
	SendSimple(title, message, level string)
}

// Options configures a new Engine.
type Options struct {
	Config   *config.Config
	Firewall Firewall
	Wireless Wireless // optional
	Store    state.Store
	Audit    *audit.Store // optional
	Hub      *events.Hub  // defaults to a fresh hub
	Notifier Notifier     // optional
	Logger   *logging.Logger
	Clock    clock.Clock
}

// Engine owns the access state machine for every configured subject.
type Engine struct {
	cfg      *config.Config
	firewall Firewall
	wireless Wireless
	auditor  *audit.Store
	hub      *events.Hub
	notifier Notifier
	logger   *logging.Logger
	clk      clock.Clock

	schedules *state.ScheduleBucket
	known     *state.DeviceSetBucket
	blocked   *state.DeviceSetBucket

	mu     sync.Mutex
	timers map[string]*accessTimer
	skips  map[string]time.Time

	// Swapped out in tests; defaults to asyncReconcile.
	kickFn func()

	// Set when an Apply call failed with patches pending, so the next
	// tick re-issues the apply even without fresh corrections.
	pendingApply atomic.Bool

	excluded map[string]bool
}

// New assembles an engine from its collaborators and durable stores.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if opts.Firewall == nil {
		return nil, fmt.Errorf("engine: firewall client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: state store is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Hub == nil {
		opts.Hub = events.NewHub()
	}

	schedules, err := state.NewScheduleBucket(opts.Store)
	if err != nil {
		return nil, fmt.Errorf("engine: schedule bucket: %w", err)
	}
	known, err := state.NewKnownDeviceBucket(opts.Store)
	if err != nil {
		return nil, fmt.Errorf("engine: known device bucket: %w", err)
	}
	blocked, err := state.NewBlockedDeviceBucket(opts.Store)
	if err != nil {
		return nil, fmt.Errorf("engine: blocked device bucket: %w", err)
	}

	excluded := make(map[string]bool, len(opts.Config.ExcludeMACs))
	for _, mac := range opts.Config.ExcludeMACs {
		excluded[validation.NormalizeMAC(mac)] = true
	}

	e := &Engine{
		cfg:       opts.Config,
		firewall:  opts.Firewall,
		wireless:  opts.Wireless,
		auditor:   opts.Audit,
		hub:       opts.Hub,
		notifier:  opts.Notifier,
		logger:    opts.Logger.WithComponent("engine"),
		clk:       opts.Clock,
		schedules: schedules,
		known:     known,
		blocked:   blocked,
		timers:    make(map[string]*accessTimer),
		skips:     make(map[string]time.Time),
		excluded:  excluded,
	}
	e.kickFn = e.asyncReconcile
	return e, nil
}

// Close stops every pending timer. The reconcile goroutine belongs to
// the scheduler and is stopped there.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, t := range e.timers {
		t.stop()
		delete(e.timers, name)
	}
	metrics.Get().ActiveTimers.Set(0)
}

// Kick triggers an asynchronous reconcile pass. Overlap with the
// periodic tick is harmless; every pass converges on the same state.
func (e *Engine) Kick() {
	e.kickFn()
}

func (e *Engine) asyncReconcile() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := e.Reconcile(ctx); err != nil {
			e.logger.Warn("kicked reconcile failed", "error", err)
		}
	}()
}

// Hub exposes the event hub for API subscribers.
func (e *Engine) Hub() *events.Hub {
	return e.hub
}

func (e *Engine) subject(name string) (*config.SubjectConfig, error) {
	if sub := e.cfg.Subject(name); sub != nil {
		return sub, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSubject, name)
}

// scheduleFor loads a subject's stored schedule. Missing means the
// subject has never had one saved; callers treat that as disabled.
func (e *Engine) scheduleFor(name string) (*schedule.Weekly, error) {
	s, err := e.schedules.Get(name)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ruleFor fetches the subject's firewall rule with a fresh list call.
func (e *Engine) ruleFor(ctx context.Context, sub *config.SubjectConfig) (*pfsense.Rule, error) {
	rules, err := e.firewall.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	for i := range rules {
		if rules[i].Tracker == sub.RuleTracker {
			return &rules[i], nil
		}
	}
	return nil, fmt.Errorf("%w: tracker %d (subject %s)", ErrRuleNotFound, sub.RuleTracker, sub.Name)
}

// setAccess is the single-subject write path shared by manual toggles,
// timer transitions, and skip cancellation. It patches the rule,
// applies, then runs the side-effect chain. The caller audits.
func (e *Engine) setAccess(ctx context.Context, sub *config.SubjectConfig, rule *pfsense.Rule, allowed bool, reason string) error {
	// Rule disabled means traffic is not blocked, so allowed maps
	// straight onto the disabled flag.
	if err := e.firewall.PatchRuleDisabled(ctx, sub.RuleTracker, allowed); err != nil {
		return fmt.Errorf("patch rule %d: %w", sub.RuleTracker, err)
	}
	if err := e.firewall.Apply(ctx); err != nil {
		e.pendingApply.Store(true)
		return fmt.Errorf("apply: %w", err)
	}
	e.pendingApply.Store(false)

	e.orchestrate(ctx, sub, rule, allowed)
	metrics.Get().SetSubjectAllowed(sub.Name, allowed)
	e.hub.EmitAccessChange(sub.Name, allowed, reason, "")
	return nil
}

func (e *Engine) record(ctx context.Context, subject, action, detail string) {
	if e.auditor == nil {
		return
	}
	actor := audit.ActorFrom(ctx)
	if actor.Source == "" {
		actor.Source = audit.SourceEngine
	}
	err := e.auditor.Write(audit.Event{
		Subject: subject,
		Action:  action,
		Detail:  detail,
		Source:  actor.Source,
		IP:      actor.IP,
	})
	if err != nil {
		e.logger.Warn("audit write failed", "action", action, "error", err)
	}
}

func (e *Engine) notify(title, message, level string) {
	if e.notifier == nil {
		return
	}
	e.notifier.SendSimple(title, message, level)
}

// sortedMACs returns the union of the given MAC lists, normalized,
// deduplicated, and sorted.
func sortedMACs(lists ...[]string) []string {
	set := make(map[string]bool)
	for _, list := range lists {
		for _, mac := range list {
			if mac == "" {
				continue
			}
			set[validation.NormalizeMAC(mac)] = true
		}
	}
	out := make([]string, 0, len(set))
	for mac := range set {
		out = append(out, mac)
	}
	sort.Strings(out)
	return out
}
