// Package monitor probes the collaborators and keeps the last known
// reachability of each. Transitions are logged, published on the events
// hub, and pushed to notification channels; the latest status backs
// /healthz and the status API.
package monitor

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/waveworm/pfsense-toggle/internal/clock"
	"github.com/waveworm/pfsense-toggle/internal/events"
	"github.com/waveworm/pfsense-toggle/internal/logging"
	"github.com/waveworm/pfsense-toggle/internal/metrics"
	"github.com/waveworm/pfsense-toggle/internal/state"
)

// Target is one collaborator to probe. Check is the API-level probe and
// decides reachability; the ICMP ping only contributes latency, since both
// collaborators may drop ICMP.
type Target struct {
	Name  string
	Host  string
	Check func(ctx context.Context) error
}

// Status is the last probe result for a target.
type Status struct {
	Name      string    `json:"name"`
	Reachable bool      `json:"reachable"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Notifier is the notification surface the monitor needs.
type Notifier interface {
	SendSimple(title, message, level string)
}

// Service probes targets on an interval.
type Service struct {
	targets  []Target
	interval time.Duration
	store    state.Store
	hub      *events.Hub
	notifier Notifier
	logger   *logging.Logger
	clk      clock.Clock

	mu       sync.RWMutex
	statuses map[string]Status
	seen     map[string]bool // target has at least one probe result
}

// New creates a monitor service. store, hub, and notifier may each be nil.
func New(targets []Target, interval time.Duration, store state.Store, hub *events.Hub, notifier Notifier, logger *logging.Logger, clk clock.Clock) *Service {
	if logger == nil {
		logger = logging.Default().WithComponent("monitor")
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if store != nil {
		if err := store.CreateBucket(state.BucketMonitorStatus); err != nil && err != state.ErrBucketExists {
			logger.Warn("monitor status bucket unavailable", "error", err)
			store = nil
		}
	}
	return &Service{
		targets:  targets,
		interval: interval,
		store:    store,
		hub:      hub,
		notifier: notifier,
		logger:   logger,
		clk:      clk,
		statuses: make(map[string]Status),
		seen:     make(map[string]bool),
	}
}

// Start launches one probe loop per target. Loops stop when ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	for _, t := range s.targets {
		go s.run(ctx, t)
	}
}

func (s *Service) run(ctx context.Context, t Target) {
	s.logger.Info("monitoring collaborator", "name", t.Name, "host", t.Host, "interval", s.interval)

	s.probe(ctx, t)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probe(ctx, t)
		}
	}
}

// probe runs one round against a target and records the outcome.
func (s *Service) probe(ctx context.Context, t Target) {
	start := s.clk.Now()

	var latency time.Duration
	if t.Host != "" {
		if rtt, err := CheckPingFunc(t.Host); err == nil {
			latency = rtt
		}
	}

	var checkErr error
	if t.Check != nil {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		checkErr = t.Check(checkCtx)
		cancel()
	}
	if latency == 0 {
		latency = s.clk.Since(start)
	}

	st := Status{
		Name:      t.Name,
		Reachable: checkErr == nil,
		LatencyMS: latency.Milliseconds(),
		CheckedAt: s.clk.Now(),
	}
	if checkErr != nil {
		st.Error = checkErr.Error()
	}

	s.record(st)
}

func (s *Service) record(st Status) {
	s.mu.Lock()
	prev, known := s.statuses[st.Name], s.seen[st.Name]
	s.statuses[st.Name] = st
	s.seen[st.Name] = true
	s.mu.Unlock()

	metrics.Get().SetCollaboratorReachable(st.Name, st.Reachable)

	if s.store != nil {
		ttl := 3 * s.interval
		if err := s.store.SetJSONWithTTL(state.BucketMonitorStatus, st.Name, st, ttl); err != nil {
			s.logger.Warn("failed to persist probe result", "name", st.Name, "error", err)
		}
	}

	changed := !known || prev.Reachable != st.Reachable
	if !changed {
		return
	}

	if s.hub != nil {
		s.hub.EmitCollaborator(st.Name, st.Reachable, time.Duration(st.LatencyMS)*time.Millisecond)
	}

	if st.Reachable {
		s.logger.Info("collaborator reachable", "name", st.Name, "latency_ms", st.LatencyMS)
		// only notify recoveries, not the initial healthy probe
		if known && s.notifier != nil {
			s.notifier.SendSimple(
				fmt.Sprintf("%s back up", st.Name),
				fmt.Sprintf("%s is reachable again (latency %dms)", st.Name, st.LatencyMS),
				"info")
		}
	} else {
		s.logger.Warn("collaborator unreachable", "name", st.Name, "error", st.Error)
		if s.notifier != nil {
			s.notifier.SendSimple(
				fmt.Sprintf("%s down", st.Name),
				fmt.Sprintf("%s stopped answering: %s", st.Name, st.Error),
				"critical")
		}
	}
}

// Statuses returns the latest probe result per target.
func (s *Service) Statuses() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.targets))
	for _, t := range s.targets {
		if st, ok := s.statuses[t.Name]; ok {
			out = append(out, st)
		}
	}
	return out
}

// Healthy reports whether every probed target is currently reachable.
// True when nothing has been probed yet, so startup does not flap health.
func (s *Service) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, st := range s.statuses {
		if !st.Reachable {
			return false
		}
	}
	return true
}

// CheckPingFunc sends a single unprivileged ICMP echo and returns the RTT.
// A var so tests can stub it.
var CheckPingFunc = func(host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = 1 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("packet loss")
	}
	return stats.AvgRtt, nil
}

// HostFromURL extracts the bare hostname from a collaborator base URL for
// ICMP probing.
func HostFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
