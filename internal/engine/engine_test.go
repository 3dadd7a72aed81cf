package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/clock"
	"github.com/waveworm/pfsense-toggle/internal/config"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/schedule"
	"github.com/waveworm/pfsense-toggle/internal/state"
	"github.com/waveworm/pfsense-toggle/internal/unifi"
)

// Monday afternoon, inside the test schedule's 14:00-21:00 window.
var testNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu   sync.Mutex
	sent [][3]string
}

func (f *fakeNotifier) SendSimple(title, message, level string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, [3]string{title, message, level})
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	eng   *Engine
	fw    *MockFirewall
	wl    *MockWireless
	clk   *clock.MockClock
	notes *fakeNotifier
	aud   *audit.Store
	kicks int
}

func defaultConfig() *config.Config {
	return &config.Config{
		Subjects: []config.SubjectConfig{
			{Name: "kid1", DisplayName: "Kid One", RuleTracker: 100},
			{Name: "kid2", RuleTracker: 200},
		},
	}
}

// seedRule builds a firewall rule. A disabled rule passes traffic, so
// allowed maps onto Disabled directly.
func seedRule(tracker int, allowed bool) pfsense.Rule {
	return pfsense.Rule{
		Tracker:     tracker,
		Description: "block rule",
		Disabled:    allowed,
		Source:      pfsense.AddressSpec{Address: "10.0.9.0/24"},
	}
}

func mondaySchedule(enabled bool) *schedule.Weekly {
	return &schedule.Weekly{
		Enabled: enabled,
		Windows: []schedule.Window{{Days: []int{1}, Start: "14:00", End: "21:00"}},
	}
}

func newHarness(t *testing.T, cfg *config.Config, rules []pfsense.Rule, clients []unifi.Client) *harness {
	t.Helper()
	if cfg == nil {
		cfg = defaultConfig()
	}

	store, err := state.NewSQLiteStore(state.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := clock.NewMockClock(testNow)
	aud, err := audit.NewStore(filepath.Join(t.TempDir(), "audit.db"), 100, clk)
	require.NoError(t, err)
	t.Cleanup(func() { aud.Close() })

	fw := NewMockFirewall(rules...)
	var wl *MockWireless
	var wireless Wireless
	if clients != nil {
		wl = NewMockWireless(clients...)
		wireless = wl
	}

	h := &harness{fw: fw, wl: wl, clk: clk, notes: &fakeNotifier{}, aud: aud}

	eng, err := New(Options{
		Config:   cfg,
		Firewall: fw,
		Wireless: wireless,
		Store:    store,
		Audit:    aud,
		Notifier: h.notes,
		Clock:    clk,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	eng.kickFn = func() { h.kicks++ }

	h.eng = eng
	return h
}

func (h *harness) allowFirewallOps() {
	h.fw.On("ListRules").Return(nil, nil)
	h.fw.On("PatchRuleDisabled", mock.Anything, mock.Anything).Return(nil)
	h.fw.On("Apply").Return(nil)
	h.fw.On("ResolveSource", mock.Anything).Return(nil, nil)
	h.fw.On("KillStatesForAddress", mock.Anything).Return(nil)
}

func (h *harness) allowWirelessOps() {
	h.wl.On("ClientsAtAddresses", mock.Anything).Return(nil, nil)
	h.wl.On("BlockClient", mock.Anything).Return(nil)
	h.wl.On("UnblockClient", mock.Anything).Return(nil)
}

func (h *harness) saveSchedule(t *testing.T, name string, s *schedule.Weekly) {
	t.Helper()
	require.NoError(t, h.eng.schedules.Set(name, s))
}

func (h *harness) recentActions(t *testing.T) []string {
	t.Helper()
	evts, err := h.aud.Recent(50)
	require.NoError(t, err)
	actions := make([]string, len(evts))
	for i, e := range evts {
		actions[i] = e.Action
	}
	return actions
}

func TestToggleManual_FlipsBothWays(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, true)}, nil)
	h.allowFirewallOps()
	ctx := context.Background()

	allowed, err := h.eng.ToggleManual(ctx, "kid1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.True(t, h.fw.Rule(100).Disabled, "rule should be disabled, meaning traffic allowed")

	h.clk.Advance(time.Minute)
	allowed, err = h.eng.ToggleManual(ctx, "kid1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, h.fw.Rule(100).Disabled)

	actions := h.recentActions(t)
	assert.Equal(t, "toggle-block", actions[0])
	assert.Equal(t, "toggle-allow", actions[1])
}

func TestToggleManual_UnknownSubject(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	_, err := h.eng.ToggleManual(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownSubject)
	h.fw.AssertNotCalled(t, "ListRules")
}

func TestToggleManual_RuleMissing(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(200, true)}, nil)
	h.fw.On("ListRules").Return(nil, nil)

	_, err := h.eng.ToggleManual(context.Background(), "kid1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestToggleManual_CancelsActiveTimer(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false)}, nil)
	h.allowFirewallOps()
	ctx := context.Background()

	_, err := h.eng.StartTimedAllow(ctx, "kid1", 30)
	require.NoError(t, err)
	_, live := h.eng.timerUntil("kid1")
	require.True(t, live)

	_, err = h.eng.ToggleManual(ctx, "kid1")
	require.NoError(t, err)

	_, live = h.eng.timerUntil("kid1")
	assert.False(t, live, "manual toggle should cancel the timer")
}

func TestSetScheduleEnabled_PatchesCompanionRule(t *testing.T) {
	cfg := &config.Config{
		Subjects: []config.SubjectConfig{
			{Name: "kid1", RuleTracker: 100, ScheduleRuleTracker: 150},
		},
	}
	h := newHarness(t, cfg, []pfsense.Rule{seedRule(100, false), {Tracker: 150, Disabled: true}}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(false))
	ctx := context.Background()

	require.NoError(t, h.eng.SetScheduleEnabled(ctx, "kid1", true))
	assert.False(t, h.fw.Rule(150).Disabled, "companion rule should be enabled with the schedule")
	assert.Equal(t, 1, h.kicks)

	stored, err := h.eng.schedules.Get("kid1")
	require.NoError(t, err)
	assert.True(t, stored.Enabled)

	h.clk.Advance(time.Minute)
	require.NoError(t, h.eng.SetScheduleEnabled(ctx, "kid1", false))
	assert.True(t, h.fw.Rule(150).Disabled)

	actions := h.recentActions(t)
	assert.Equal(t, "schedule-disable", actions[0])
	assert.Equal(t, "schedule-enable", actions[1])
}

func TestSaveSchedules_RejectsInvalidWindow(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	bad := &schedule.Weekly{
		Enabled: true,
		Windows: []schedule.Window{{Days: []int{1}, Start: "22:00", End: "06:00"}},
	}
	err := h.eng.SaveSchedules(context.Background(), map[string]*schedule.Weekly{"kid1": bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kid1")
	assert.Equal(t, 0, h.kicks)
}

func TestSaveSchedules_RejectsUnknownSubject(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	err := h.eng.SaveSchedules(context.Background(), map[string]*schedule.Weekly{"ghost": mondaySchedule(true)})
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestSaveSchedules_PersistsAndAuditsDiff(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	ctx := context.Background()

	err := h.eng.SaveSchedules(ctx, map[string]*schedule.Weekly{"kid1": mondaySchedule(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, h.kicks)

	stored, err := h.eng.schedules.Get("kid1")
	require.NoError(t, err)
	assert.True(t, stored.Enabled)
	require.Len(t, stored.Windows, 1)
	assert.Equal(t, "14:00", stored.Windows[0].Start)

	evts, err := h.aud.Recent(1)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "schedule-save", evts[0].Action)
	assert.Contains(t, evts[0].Detail, "14:00", "audit detail should carry the diff")
	assert.Contains(t, evts[0].Detail, "+")
}

func TestSchedules_FillsMissingSubjects(t *testing.T) {
	h := newHarness(t, nil, nil, nil)
	h.saveSchedule(t, "kid1", mondaySchedule(true))

	all, err := h.eng.Schedules()
	require.NoError(t, err)
	require.Contains(t, all, "kid1")
	require.Contains(t, all, "kid2")
	assert.True(t, all["kid1"].Enabled)
	assert.False(t, all["kid2"].Enabled)
	assert.Empty(t, all["kid2"].Windows)
}

func TestAllowAll_OnePatchPerDriftedSubjectOneApply(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, false)}, nil)
	h.allowFirewallOps()

	require.NoError(t, h.eng.AllowAll(context.Background()))

	assert.True(t, h.fw.Rule(100).Disabled)
	assert.True(t, h.fw.Rule(200).Disabled)
	h.fw.AssertNumberOfCalls(t, "Apply", 1)

	actions := h.recentActions(t)
	assert.Contains(t, actions, "allow-all")
}

func TestBlockAll_CancelsTimers(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, true)}, nil)
	h.allowFirewallOps()
	ctx := context.Background()

	_, err := h.eng.StartTimedAllow(ctx, "kid1", 60)
	require.NoError(t, err)

	require.NoError(t, h.eng.BlockAll(ctx))

	assert.False(t, h.fw.Rule(100).Disabled)
	assert.False(t, h.fw.Rule(200).Disabled)
	_, live := h.eng.timerUntil("kid1")
	assert.False(t, live, "block-all should cancel timers")
}

func TestBlockAll_NoChangesNoApply(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, false)}, nil)
	h.fw.On("ListRules").Return(nil, nil)

	require.NoError(t, h.eng.BlockAll(context.Background()))
	h.fw.AssertNotCalled(t, "Apply")
}

func TestSubjectStates_AssemblesEverything(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true), seedRule(200, false)}, []unifi.Client{})
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	require.NoError(t, h.eng.known.Set("kid1", []string{"aa:bb:cc:dd:ee:01", "aa:bb:cc:dd:ee:02"}))
	require.NoError(t, h.eng.blocked.Set("kid1", []string{"aa:bb:cc:dd:ee:01"}))
	ctx := context.Background()

	_, err := h.eng.StartSkip(ctx, "kid1")
	require.NoError(t, err)

	states, err := h.eng.SubjectStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	kid1 := states[0]
	assert.Equal(t, "kid1", kid1.Name)
	assert.Equal(t, "Kid One", kid1.DisplayName)
	assert.True(t, kid1.RuleFound)
	assert.True(t, kid1.Allowed)
	assert.True(t, kid1.ScheduleEnabled)
	assert.True(t, kid1.ScheduleActive)
	require.NotNil(t, kid1.WindowEndsAt)
	assert.Equal(t, 21, kid1.WindowEndsAt.Hour())
	require.NotNil(t, kid1.SkipUntil)
	assert.Nil(t, kid1.TimerUntil)
	assert.Equal(t, 2, kid1.KnownDevices)
	assert.Equal(t, 1, kid1.BlockedDevices)

	kid2 := states[1]
	assert.Equal(t, "kid2", kid2.Name)
	assert.Equal(t, "kid2", kid2.DisplayName)
	assert.False(t, kid2.ScheduleEnabled)
	assert.False(t, kid2.Allowed)
}

func TestSubjectState_Single(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true), seedRule(200, false)}, nil)
	h.fw.On("ListRules").Return(nil, nil)

	st, err := h.eng.SubjectState(context.Background(), "kid2")
	require.NoError(t, err)
	assert.Equal(t, "kid2", st.Name)

	_, err = h.eng.SubjectState(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Config: defaultConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "firewall")
}

func TestEngineAuditsActorFromContext(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false)}, nil)
	h.allowFirewallOps()

	ctx := audit.WithActor(context.Background(), audit.SourceAPI, "192.0.2.7")
	_, err := h.eng.ToggleManual(ctx, "kid1")
	require.NoError(t, err)

	evts, err := h.aud.Recent(1)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, audit.SourceAPI, evts[0].Source)
	assert.Equal(t, "192.0.2.7", evts[0].IP)
}

func TestErrorsExposedForCallers(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	err := h.eng.CancelTimer(context.Background(), "kid1")
	assert.ErrorIs(t, err, ErrNoActiveTimer)

	err = h.eng.CancelSkip(context.Background(), "kid1")
	assert.ErrorIs(t, err, ErrNoActiveSkip)

	listErr := errors.New("unreachable")
	h.fw.On("ListRules").Return(nil, listErr)
	_, err = h.eng.SubjectStates(context.Background())
	assert.ErrorIs(t, err, listErr)
}
