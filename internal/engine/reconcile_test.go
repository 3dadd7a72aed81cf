package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/waveworm/pfsense-toggle/internal/pfsense"
)

func TestReconcile_AllowsInsideWindow(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, false)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.True(t, h.fw.Rule(100).Disabled, "kid1 should be allowed inside its window")
	assert.False(t, h.fw.Rule(200).Disabled, "kid2 has no schedule and stays put")
	h.fw.AssertNumberOfCalls(t, "Apply", 1)

	assert.Contains(t, h.recentActions(t), "reconcile-allow")
}

func TestReconcile_BlocksOutsideWindow(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	h.clk.Set(testNow.Add(7 * time.Hour)) // 22:00, window over

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.False(t, h.fw.Rule(100).Disabled)
	assert.Contains(t, h.recentActions(t), "reconcile-block")
}

func TestReconcile_NoDriftNoWrites(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true)}, nil)
	h.fw.On("ListRules").Return(nil, nil)
	h.saveSchedule(t, "kid1", mondaySchedule(true))

	require.NoError(t, h.eng.Reconcile(context.Background()))

	h.fw.AssertNotCalled(t, "PatchRuleDisabled")
	h.fw.AssertNotCalled(t, "Apply")
	assert.Empty(t, h.recentActions(t))
}

func TestReconcile_TimerWins(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	h.clk.Set(testNow.Add(8 * time.Hour)) // 23:00, outside the window

	_, err := h.eng.StartTimedAllow(context.Background(), "kid1", 30)
	require.NoError(t, err)
	require.True(t, h.fw.Rule(100).Disabled)

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.True(t, h.fw.Rule(100).Disabled, "the loop must not fight an active timer")
}

func TestReconcile_SkipForcesBlock(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))

	_, err := h.eng.StartSkip(context.Background(), "kid1")
	require.NoError(t, err)

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.False(t, h.fw.Rule(100).Disabled, "skip should hold the subject blocked inside the window")
}

func TestReconcile_SkipExpiresWithWindow(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))

	until, err := h.eng.StartSkip(context.Background(), "kid1")
	require.NoError(t, err)
	assert.Equal(t, 21, until.Hour())

	// Next Monday 15:00: the skipped window has long ended and a fresh
	// one is active.
	h.clk.Set(testNow.AddDate(0, 0, 7))

	require.NoError(t, h.eng.Reconcile(context.Background()))

	_, active := h.eng.skipUntil("kid1", h.clk.Now())
	assert.False(t, active, "expired skip should be pruned")
	assert.True(t, h.fw.Rule(100).Disabled, "new window should allow again")
}

func TestReconcile_ScheduleDisabledLeavesRuleAlone(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true)}, nil)
	h.fw.On("ListRules").Return(nil, nil)
	h.saveSchedule(t, "kid1", mondaySchedule(false))
	h.clk.Set(testNow.Add(8 * time.Hour)) // outside the window either way

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.True(t, h.fw.Rule(100).Disabled, "disabled schedule asserts nothing")
	h.fw.AssertNotCalled(t, "PatchRuleDisabled")
}

func TestReconcile_ListFailureAbortsTick(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, true)}, nil)
	listErr := errors.New("connection refused")
	h.fw.On("ListRules").Return(nil, listErr)
	h.saveSchedule(t, "kid1", mondaySchedule(true))

	err := h.eng.Reconcile(context.Background())
	assert.ErrorIs(t, err, listErr)
	h.fw.AssertNotCalled(t, "PatchRuleDisabled")
}

func TestReconcile_PatchFailureIsolatedPerSubject(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, false)}, nil)
	h.fw.On("ListRules").Return(nil, nil)
	h.fw.On("PatchRuleDisabled", 100, mock.Anything).Return(errors.New("boom"))
	h.fw.On("PatchRuleDisabled", 200, mock.Anything).Return(nil)
	h.fw.On("Apply").Return(nil)
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	h.saveSchedule(t, "kid2", mondaySchedule(true))

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.False(t, h.fw.Rule(100).Disabled, "failed patch leaves kid1 as found")
	assert.True(t, h.fw.Rule(200).Disabled, "kid2 still corrected")
	h.fw.AssertNumberOfCalls(t, "Apply", 1)
}

func TestReconcile_SingleApplyForManyCorrections(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false), seedRule(200, false)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	h.saveSchedule(t, "kid2", mondaySchedule(true))

	require.NoError(t, h.eng.Reconcile(context.Background()))

	h.fw.AssertNumberOfCalls(t, "PatchRuleDisabled", 2)
	h.fw.AssertNumberOfCalls(t, "Apply", 1)
}

func TestReconcile_ApplyFailureRetriedNextTick(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false)}, nil)
	h.fw.On("ListRules").Return(nil, nil)
	h.fw.On("PatchRuleDisabled", mock.Anything, mock.Anything).Return(nil)
	h.fw.On("Apply").Return(errors.New("apply failed")).Once()
	h.fw.On("Apply").Return(nil)
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	ctx := context.Background()

	require.Error(t, h.eng.Reconcile(ctx))

	// The patch went through but was never committed. The next tick
	// sees no drift yet must still re-issue the apply.
	require.NoError(t, h.eng.Reconcile(ctx))
	h.fw.AssertNumberOfCalls(t, "Apply", 2)
}

func TestReconcile_RuleMissingSkipsSubject(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(200, false)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	h.saveSchedule(t, "kid2", mondaySchedule(true))

	require.NoError(t, h.eng.Reconcile(context.Background()))

	assert.True(t, h.fw.Rule(200).Disabled, "kid2 corrected even though kid1's rule is gone")
}

func TestReconcile_WindowBoundaryTransition(t *testing.T) {
	h := newHarness(t, nil, []pfsense.Rule{seedRule(100, false)}, nil)
	h.allowFirewallOps()
	h.saveSchedule(t, "kid1", mondaySchedule(true))
	ctx := context.Background()

	// 13:59 blocked, 14:00 allowed, 21:00 blocked again.
	h.clk.Set(time.Date(2026, 3, 2, 13, 59, 0, 0, time.UTC))
	require.NoError(t, h.eng.Reconcile(ctx))
	assert.False(t, h.fw.Rule(100).Disabled)

	h.clk.Set(time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC))
	require.NoError(t, h.eng.Reconcile(ctx))
	assert.True(t, h.fw.Rule(100).Disabled)

	h.clk.Set(time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))
	require.NoError(t, h.eng.Reconcile(ctx))
	assert.False(t, h.fw.Rule(100).Disabled)
}
