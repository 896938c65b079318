package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/agent-core/internal/domain"
)

func newAgentWithDailyCap(dailyCostCap float64) *domain.ManagedAgent {
	return &domain.ManagedAgent{
		ID:    "agent-1",
		OrgID: "org-1",
		Budget: &domain.BudgetConfig{
			DailyCostCapUSD: dailyCostCap,
		},
	}
}

func TestWarningFiresOnlyAtHighestCrossedThreshold(t *testing.T) {
	e := New()
	agent := newAgentWithDailyCap(1.00)
	now := time.Now()

	// A single tool call that jumps straight to 90% usage must fire only
	// warning_80, not warning_50 and warning_80 together.
	result := e.RecordToolCall(now, agent, "tool-a", ToolCallUsage{CostUSD: 0.90})
	require.Len(t, result.Alerts, 1)
	require.Equal(t, "warning_80", result.Alerts[0].Kind)
	require.False(t, result.ForceStop)
}

func TestWarningFiresAtMostOnceForSameDayAndThreshold(t *testing.T) {
	e := New()
	agent := newAgentWithDailyCap(1.00)
	now := time.Now()

	first := e.RecordToolCall(now, agent, "tool-a", ToolCallUsage{CostUSD: 0.85})
	require.Len(t, first.Alerts, 1)
	require.Equal(t, "warning_80", first.Alerts[0].Kind)

	// Usage stays within the same 80% bucket on the next call; warning_80
	// must not fire again the same calendar day.
	second := e.RecordToolCall(now.Add(time.Minute), agent, "tool-a", ToolCallUsage{CostUSD: 0.01})
	require.Empty(t, second.Alerts)
}

func TestDailyRolloverClearsFiredAlertSet(t *testing.T) {
	e := New()
	agent := newAgentWithDailyCap(1.00)
	day1 := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	first := e.RecordToolCall(day1, agent, "tool-a", ToolCallUsage{CostUSD: 0.85})
	require.Len(t, first.Alerts, 1)

	// Same day, same threshold: must stay deduped.
	dup := e.RecordToolCall(day1.Add(time.Hour), agent, "tool-a", ToolCallUsage{CostUSD: 0.01})
	require.Empty(t, dup.Alerts)

	// Explicit rollover for day1 clears the dedup ledger for that day. Usage
	// counters themselves are zeroed by lifecycle.Manager.ResetDaily, not by
	// the enforcer, so usage stays above the threshold here on purpose.
	e.ResetDaily(day1)
	again := e.RecordToolCall(day1.Add(2*time.Hour), agent, "tool-a", ToolCallUsage{CostUSD: 0.0})
	require.Len(t, again.Alerts, 1)
	require.Equal(t, "warning_80", again.Alerts[0].Kind)
}

func TestBudgetCapEnforcementScenario(t *testing.T) {
	// Scenario: dailyCostCap = 1.00 USD, three tool calls summing to
	// costUsd=1.01. Final result must force-stop with the daily cost reason
	// and exactly one daily_exceeded alert across the whole sequence.
	e := New()
	agent := newAgentWithDailyCap(1.00)
	now := time.Now()

	calls := []float64{0.40, 0.40, 0.21}
	var last Result
	var exceededCount int
	for _, cost := range calls {
		last = e.RecordToolCall(now, agent, "tool-a", ToolCallUsage{CostUSD: cost})
		for _, a := range last.Alerts {
			if a.Kind == "daily_exceeded" {
				exceededCount++
			}
		}
	}

	require.InDelta(t, 1.01, agent.Usage.CostUSD.Today, 0.0001)
	require.True(t, last.ForceStop)
	require.Equal(t, "Daily cost budget exceeded", last.StopReason)
	require.Equal(t, 1, exceededCount)
}

func TestHardCapEvaluationOrderDailyBeforeMonthly(t *testing.T) {
	e := New()
	agent := &domain.ManagedAgent{
		ID: "agent-1", OrgID: "org-1",
		Budget: &domain.BudgetConfig{DailyCostCapUSD: 1.00, MonthlyCostCapUSD: 1.00},
	}
	now := time.Now()

	result := e.RecordToolCall(now, agent, "tool-a", ToolCallUsage{CostUSD: 1.50})
	require.True(t, result.ForceStop)
	require.Equal(t, "Daily cost budget exceeded", result.StopReason)

	var found bool
	for _, a := range result.Alerts {
		if a.Kind == "daily_exceeded" {
			found = true
		}
		require.NotEqual(t, "exceeded", a.Kind, "monthly hard-cap must not fire once the daily one already force-stopped")
	}
	require.True(t, found)
}

func TestLegacyFallbackUsedWhenBudgetConfigAbsent(t *testing.T) {
	e := New()
	agent := &domain.ManagedAgent{ID: "agent-1", OrgID: "org-1"}
	agent.Usage.LegacyMonthlyCostCapUSD = 5.00
	now := time.Now()

	result := e.RecordToolCall(now, agent, "tool-a", ToolCallUsage{CostUSD: 5.01})
	require.True(t, result.ForceStop)
	require.Equal(t, "Monthly cost budget exceeded", result.StopReason)
}

func TestRecordToolCallIncrementsAllHorizonCounters(t *testing.T) {
	e := New()
	agent := &domain.ManagedAgent{ID: "agent-1", OrgID: "org-1"}
	now := time.Now()

	e.RecordToolCall(now, agent, "tool-a", ToolCallUsage{TokensUsed: 100, CostUSD: 0.10})

	require.Equal(t, float64(100), agent.Usage.TokensUsed.Today)
	require.Equal(t, float64(100), agent.Usage.TokensUsed.Week)
	require.Equal(t, float64(100), agent.Usage.TokensUsed.Month)
	require.Equal(t, float64(100), agent.Usage.TokensUsed.Year)
	require.Equal(t, int64(1), agent.Usage.ToolCallsToday)
	require.Equal(t, int64(1), agent.Usage.ToolCallsMonth)
}
