// Package budget implements the multi-horizon token/cost enforcer: usage
// counters, graduated warning thresholds, hard-cap force-stop, and the
// per-calendar-day alert dedup described in SPEC_FULL.md §4.3.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/agent-core/internal/domain"
)

// ToolCallUsage is the usage delta reported by one recordToolCall invocation.
type ToolCallUsage struct {
	TokensUsed       int64
	CostUSD          float64
	IsExternalAction bool
	Err              string
}

// Result is what the enforcer decided after folding a tool call into an
// agent's usage counters.
type Result struct {
	Alerts     []domain.BudgetAlert
	ForceStop  bool
	StopReason string
}

// Enforcer evaluates BudgetConfig caps against UsageCounters and deduplicates
// fired alerts per calendar day. It holds no reference to any ManagedAgent;
// callers (the lifecycle manager) hold the per-agent lock and pass the
// record in directly.
type Enforcer struct {
	mu    sync.Mutex
	fired map[string]map[string]bool // calendar day -> dedup key -> fired
}

// New constructs an Enforcer with an empty fired-alert ledger.
func New() *Enforcer {
	return &Enforcer{fired: make(map[string]map[string]bool)}
}

// RecordToolCall increments usage counters on agent and evaluates budget
// rules. The caller must hold the agent's lock; this call does not persist
// or emit lifecycle events itself — it reports what should happen so the
// lifecycle manager can do both under its existing ordering guarantees.
func (e *Enforcer) RecordToolCall(now time.Time, agent *domain.ManagedAgent, toolID string, u ToolCallUsage) Result {
	applyUsage(agent, now, u)

	var result Result
	if agent.Budget != nil {
		result = e.evaluateBudgetConfig(now, agent, *agent.Budget)
	} else {
		result = e.evaluateLegacy(now, agent)
	}
	return result
}

func applyUsage(agent *domain.ManagedAgent, now time.Time, u ToolCallUsage) {
	agent.Usage.TokensUsed.Today += float64(u.TokensUsed)
	agent.Usage.TokensUsed.Week += float64(u.TokensUsed)
	agent.Usage.TokensUsed.Month += float64(u.TokensUsed)
	agent.Usage.TokensUsed.Year += float64(u.TokensUsed)

	agent.Usage.CostUSD.Today += u.CostUSD
	agent.Usage.CostUSD.Week += u.CostUSD
	agent.Usage.CostUSD.Month += u.CostUSD
	agent.Usage.CostUSD.Year += u.CostUSD

	agent.Usage.ToolCallsToday++
	agent.Usage.ToolCallsMonth++
	if u.IsExternalAction {
		agent.Usage.ExternalActions++
	}
	if u.Err != "" {
		agent.Usage.ErrorCount++
	}
	agent.Usage.LastUpdated = now
}

type horizonCaps struct {
	horizon     domain.BudgetHorizon
	costCap     float64
	tokenCap    int64
	costUsage   float64
	tokenUsage  float64
	exceedKind  string
	costLabel   string
	tokenLabel  string
}

func (e *Enforcer) evaluateBudgetConfig(now time.Time, agent *domain.ManagedAgent, cfg domain.BudgetConfig) Result {
	horizons := []horizonCaps{
		{domain.HorizonDaily, cfg.DailyCostCapUSD, cfg.DailyTokenCap, agent.Usage.CostUSD.Today, agent.Usage.TokensUsed.Today, "daily_exceeded", "Daily cost budget exceeded", "Daily token budget exceeded"},
		{domain.HorizonWeekly, cfg.WeeklyCostCapUSD, cfg.WeeklyTokenCap, agent.Usage.CostUSD.Week, agent.Usage.TokensUsed.Week, "weekly_exceeded", "Weekly cost budget exceeded", "Weekly token budget exceeded"},
		{domain.HorizonMonthly, cfg.MonthlyCostCapUSD, cfg.MonthlyTokenCap, agent.Usage.CostUSD.Month, agent.Usage.TokensUsed.Month, "exceeded", "Monthly cost budget exceeded", "Monthly token budget exceeded"},
		{domain.HorizonAnnual, cfg.AnnualCostCapUSD, cfg.AnnualTokenCap, agent.Usage.CostUSD.Year, agent.Usage.TokensUsed.Year, "annual_exceeded", "Annual cost budget exceeded", "Annual token budget exceeded"},
	}

	thresholds := cfg.WarningThresholds
	if len(thresholds) == 0 {
		thresholds = domain.DefaultWarningThresholds
	}

	var result Result

	// Warnings fire before the hard-cap/force-stop path (source order, per
	// SPEC_FULL.md §11 open question).
	for _, h := range horizons {
		if h.costCap > 0 {
			if alert, ok := e.fireWarning(now, agent, h.horizon, domain.BudgetKindCost, h.costUsage, h.costCap, thresholds); ok {
				result.Alerts = append(result.Alerts, alert)
			}
		}
		if h.tokenCap > 0 {
			if alert, ok := e.fireWarning(now, agent, h.horizon, domain.BudgetKindTokens, h.tokenUsage, float64(h.tokenCap), thresholds); ok {
				result.Alerts = append(result.Alerts, alert)
			}
		}
	}

	// Hard caps: daily -> weekly -> monthly -> annual, first breach wins.
	for _, h := range horizons {
		if h.costCap > 0 && h.costUsage >= h.costCap {
			if alert, ok := e.fireExceeded(now, agent, h.horizon, domain.BudgetKindCost, h.exceedKind, h.costUsage, h.costCap); ok {
				result.Alerts = append(result.Alerts, alert)
				result.ForceStop = true
				result.StopReason = h.costLabel
				return result
			}
		}
		if h.tokenCap > 0 && h.tokenUsage >= float64(h.tokenCap) {
			if alert, ok := e.fireExceeded(now, agent, h.horizon, domain.BudgetKindTokens, h.exceedKind, h.tokenUsage, float64(h.tokenCap)); ok {
				result.Alerts = append(result.Alerts, alert)
				result.ForceStop = true
				result.StopReason = h.tokenLabel
				return result
			}
		}
	}

	return result
}

// evaluateLegacy falls back to UsageCounters.LegacyMonthlyCostCapUSD /
// LegacyMonthlyTokenCap when no BudgetConfig is set.
func (e *Enforcer) evaluateLegacy(now time.Time, agent *domain.ManagedAgent) Result {
	var result Result

	if cap := agent.Usage.LegacyMonthlyCostCapUSD; cap > 0 && agent.Usage.CostUSD.Month >= cap {
		if alert, ok := e.fireExceeded(now, agent, domain.HorizonMonthly, domain.BudgetKindCost, "exceeded", agent.Usage.CostUSD.Month, cap); ok {
			result.Alerts = append(result.Alerts, alert)
			result.ForceStop = true
			result.StopReason = "Monthly cost budget exceeded"
			return result
		}
	}
	if cap := agent.Usage.LegacyMonthlyTokenCap; cap > 0 && int64(agent.Usage.TokensUsed.Month) >= cap {
		if alert, ok := e.fireExceeded(now, agent, domain.HorizonMonthly, domain.BudgetKindTokens, "exceeded", agent.Usage.TokensUsed.Month, float64(cap)); ok {
			result.Alerts = append(result.Alerts, alert)
			result.ForceStop = true
			result.StopReason = "Monthly token budget exceeded"
			return result
		}
	}
	return result
}

func (e *Enforcer) fireWarning(now time.Time, agent *domain.ManagedAgent, horizon domain.BudgetHorizon, kind domain.BudgetKind, usage, cap float64, thresholds []int) (domain.BudgetAlert, bool) {
	ratio := usage / cap
	// Highest crossed threshold only: firing every crossed threshold on the
	// same tick would emit warning_50 and warning_80 simultaneously the
	// first time usage jumps straight to 90%.
	best := -1
	for _, t := range thresholds {
		if ratio >= float64(t)/100.0 && t > best {
			best = t
		}
	}
	if best < 0 {
		return domain.BudgetAlert{}, false
	}
	alertKind := fmt.Sprintf("warning_%d", best)
	return e.fire(now, agent, horizon, kind, alertKind, usage, cap)
}

func (e *Enforcer) fireExceeded(now time.Time, agent *domain.ManagedAgent, horizon domain.BudgetHorizon, kind domain.BudgetKind, alertKind string, usage, cap float64) (domain.BudgetAlert, bool) {
	return e.fire(now, agent, horizon, kind, alertKind, usage, cap)
}

func (e *Enforcer) fire(now time.Time, agent *domain.ManagedAgent, horizon domain.BudgetHorizon, kind domain.BudgetKind, alertKind string, usage, cap float64) (domain.BudgetAlert, bool) {
	day := now.Format("2006-01-02")
	key := fmt.Sprintf("%s|%s|%s|%s", agent.ID, alertKind, kind, horizon)

	e.mu.Lock()
	dayMap, ok := e.fired[day]
	if !ok {
		dayMap = make(map[string]bool)
		e.fired[day] = dayMap
	}
	if dayMap[key] {
		e.mu.Unlock()
		return domain.BudgetAlert{}, false
	}
	dayMap[key] = true
	e.mu.Unlock()

	return domain.BudgetAlert{
		ID:           uuid.NewString(),
		OrgID:        agent.OrgID,
		AgentID:      agent.ID,
		Kind:         alertKind,
		BudgetKind:   kind,
		Horizon:      horizon,
		CurrentValue: usage,
		LimitValue:   cap,
		CreatedAt:    now,
	}, true
}

// ResetDaily clears the per-day fired-alert set so the same warnings and
// caps can fire again. Called by the lifecycle manager's daily rollover.
func (e *Enforcer) ResetDaily(now time.Time) {
	day := now.Format("2006-01-02")
	e.mu.Lock()
	delete(e.fired, day)
	e.mu.Unlock()
}
