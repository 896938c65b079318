// Package domain holds the data model of the Agent Lifecycle & Runtime
// Core: organizations, managed agents, their configuration, state history,
// health, usage, budget, and the events and sessions built on top of them.
package domain

import "time"

// AgentState is the authoritative lifecycle state of a ManagedAgent.
type AgentState string

const (
	StateDraft        AgentState = "draft"
	StateConfiguring  AgentState = "configuring"
	StateReady        AgentState = "ready"
	StateProvisioning AgentState = "provisioning"
	StateDeploying    AgentState = "deploying"
	StateStarting     AgentState = "starting"
	StateRunning      AgentState = "running"
	StateDegraded     AgentState = "degraded"
	StateStopped      AgentState = "stopped"
	StateError        AgentState = "error"
	StateUpdating     AgentState = "updating"
	StateDestroying   AgentState = "destroying"
)

// MaxStateHistory bounds StateTransition retention per agent.
const MaxStateHistory = 50

// MaxRecentHealthChecks bounds HealthStatus.RecentChecks retention per agent.
const MaxRecentHealthChecks = 10

// MaxBudgetAlerts bounds the in-memory budget-alert ring.
const MaxBudgetAlerts = 500

// HealthLabel is the rolling liveness classification of an agent.
type HealthLabel string

const (
	HealthHealthy   HealthLabel = "healthy"
	HealthDegraded  HealthLabel = "degraded"
	HealthUnhealthy HealthLabel = "unhealthy"
	HealthUnknown   HealthLabel = "unknown"
)

// Organization owns a bounded set of managed agents under a plan tier.
type Organization struct {
	ID          string
	Name        string
	Subdomain   string
	PlanTier    string
	MaxAgents   int
	MonthlyCostCapUSD   float64
	MonthlyTokenCap     int64
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Identity carries an agent's persona configuration.
type Identity struct {
	Role        string
	Tone        string
	Language    string
	DateOfBirth *time.Time // month/day observed by the birthday scheduler
}

// ModelRef identifies which LLM backs an agent and at what thinking level.
type ModelRef struct {
	Provider      string
	ModelID       string
	ThinkingLevel string
}

// DeploymentDescriptor names the target adapter and its target-specific
// parameters (opaque to the lifecycle manager).
type DeploymentDescriptor struct {
	Target  string // registered deploy.Target adapter name
	Region  string
	Params  map[string]string
}

// ChannelSet is the set of inbound/outbound channels enabled for an agent.
type ChannelSet struct {
	Email bool
	Chat  bool
}

// WorkspacePolicy bounds what workspace resources an agent may touch.
type WorkspacePolicy struct {
	ReadOnly       bool
	AllowedPaths   []string
}

// HeartbeatPolicy configures the health-check loop cadence and thresholds.
type HeartbeatPolicy struct {
	IntervalSeconds int // default 30
	TimeoutSeconds  int // default 60, used by deploy-to-running wait
}

// AgentConfig is the closed, versioned configuration snapshot of an agent.
// Per the Design Notes, this is a closed algebraic shape: identity, model,
// and deployment merge deeply on update; everything else overlays shallowly.
type AgentConfig struct {
	Name                string
	DisplayName         string
	Identity            Identity
	Model               ModelRef
	Deployment          DeploymentDescriptor
	Channels            ChannelSet
	Workspace           WorkspacePolicy
	Heartbeat           HeartbeatPolicy
	PermissionProfileID string
}

// Complete reports whether the configuration satisfies the completeness
// predicate required for draft -> ready.
func (c AgentConfig) Complete() bool {
	return c.Name != "" &&
		c.DisplayName != "" &&
		c.Identity.Role != "" &&
		c.Model.ModelID != "" &&
		c.Deployment.Target != "" &&
		c.PermissionProfileID != ""
}

// StateTransition is an append-only record of one lifecycle move.
type StateTransition struct {
	From        AgentState
	To          AgentState
	Reason      string
	TriggeredBy string // user id, or "system"
	Timestamp   time.Time
	Error       string
}

// HealthCheckResult is one observation recorded in HealthStatus.RecentChecks.
type HealthCheckResult struct {
	Timestamp time.Time
	Healthy   bool
	Label     HealthLabel
}

// HealthStatus is the rolling health record of a managed agent, mutated
// only by the lifecycle manager's health-check loop.
type HealthStatus struct {
	Label               HealthLabel
	LastCheckAt         time.Time
	UptimeSeconds        int64
	ConsecutiveFailures int
	RecentChecks        []HealthCheckResult
}

// HorizonCounters holds a value bucketed over the four standard horizons.
type HorizonCounters struct {
	Today   float64
	Week    float64
	Month   float64
	Year    float64
}

// UsageCounters tracks token/cost consumption and activity for one agent.
type UsageCounters struct {
	TokensUsed   HorizonCounters
	CostUSD      HorizonCounters
	ToolCallsToday int64
	ToolCallsMonth int64
	ExternalActions int64
	ActiveSessions  int64
	ErrorCount      int64
	ErrorRate1h     float64
	LastUpdated     time.Time

	// Legacy fields, honored only when BudgetConfig is absent (spec.md §9
	// open question: BudgetConfig takes precedence exclusively when set).
	LegacyMonthlyCostCapUSD float64
	LegacyMonthlyTokenCap   int64
}

// BudgetHorizon identifies one of the four enforcement horizons.
type BudgetHorizon string

const (
	HorizonDaily   BudgetHorizon = "daily"
	HorizonWeekly  BudgetHorizon = "weekly"
	HorizonMonthly BudgetHorizon = "monthly"
	HorizonAnnual  BudgetHorizon = "annual"
)

// BudgetConfig defines per-horizon caps and warning thresholds for an agent.
// A zero cap on a horizon means that horizon is not enforced.
type BudgetConfig struct {
	DailyCostCapUSD    float64
	WeeklyCostCapUSD   float64
	MonthlyCostCapUSD  float64
	AnnualCostCapUSD   float64
	DailyTokenCap      int64
	WeeklyTokenCap     int64
	MonthlyTokenCap    int64
	AnnualTokenCap     int64
	WarningThresholds  []int // percent, default {50, 80, 95}
	OrgPoolDelegation  bool
}

// DefaultWarningThresholds is applied when BudgetConfig.WarningThresholds
// is empty.
var DefaultWarningThresholds = []int{50, 80, 95}

// BudgetKind distinguishes which resource a budget alert concerns.
type BudgetKind string

const (
	BudgetKindCost   BudgetKind = "cost"
	BudgetKindTokens BudgetKind = "tokens"
)

// BudgetAlert is an append-only record of a crossed warning threshold or
// hard cap, bounded to the last MaxBudgetAlerts in memory and always
// persisted.
type BudgetAlert struct {
	ID           string
	OrgID        string
	AgentID      string
	Kind         string // "warning_N", "exceeded", "daily_exceeded", "weekly_exceeded", "annual_exceeded"
	BudgetKind   BudgetKind
	Horizon      BudgetHorizon
	CurrentValue float64
	LimitValue   float64
	Acknowledged bool
	CreatedAt    time.Time
}

// LifecycleEventKind enumerates the kinds of events the lifecycle manager
// emits to subscribers.
type LifecycleEventKind string

const (
	EventCreated       LifecycleEventKind = "created"
	EventDeployed      LifecycleEventKind = "deployed"
	EventStarted       LifecycleEventKind = "started"
	EventStopped       LifecycleEventKind = "stopped"
	EventUpdated       LifecycleEventKind = "updated"
	EventError         LifecycleEventKind = "error"
	EventBudgetWarning LifecycleEventKind = "budget_warning"
	EventBudgetExceeded LifecycleEventKind = "budget_exceeded"
	EventAutoRecovered LifecycleEventKind = "auto_recovered"
	EventBirthday      LifecycleEventKind = "birthday"
	EventToolCall      LifecycleEventKind = "tool_call"
)

// LifecycleEvent is a structured notification of a state change or
// significant occurrence on an agent. Not persisted by the core.
type LifecycleEvent struct {
	ID        string
	AgentID   string
	OrgID     string
	Kind      LifecycleEventKind
	Data      map[string]interface{}
	Timestamp time.Time
}

// SessionStatus is the lifecycle state of a gateway-owned Session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionRunning    SessionStatus = "running"
	SessionTerminated SessionStatus = "terminated"
	SessionError      SessionStatus = "error"
)

// Session is a live conversation hosted by the Runtime Gateway, tied to an
// agent by id. The gateway exclusively owns Session records.
type Session struct {
	ID        string
	AgentID   string
	OrgID     string
	Status    SessionStatus
	CreatedAt time.Time

	// ParentSessionID is set for sub-agent sessions created via POST /spawn.
	ParentSessionID string
}

// ManagedAgent is the core's in-memory + persisted record of an agent,
// including its configuration snapshot, state, health, and usage. The
// Lifecycle Manager exclusively owns these records; all other components
// hold weak references by id.
type ManagedAgent struct {
	ID            string
	OrgID         string
	Config        AgentConfig
	State         AgentState
	StateHistory  []StateTransition
	Health        HealthStatus
	Usage         UsageCounters
	Budget        *BudgetConfig
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastDeployedAt *time.Time
	Version       int64

	// Tags are free-form operator-supplied labels (e.g. "team", "env"),
	// unused by the lifecycle state machine itself; set at creation and
	// overlaid key by key via ConfigPatch.Tags.
	Tags map[string]string
}

// AppendTransition records a transition, evicting the oldest entry once the
// history exceeds MaxStateHistory. Callers must hold the agent's lock.
func (a *ManagedAgent) AppendTransition(t StateTransition) {
	a.StateHistory = append(a.StateHistory, t)
	if len(a.StateHistory) > MaxStateHistory {
		a.StateHistory = a.StateHistory[len(a.StateHistory)-MaxStateHistory:]
	}
}

// AppendHealthCheck records a health observation, evicting the oldest entry
// once the ring exceeds MaxRecentHealthChecks. Callers must hold the
// agent's lock.
func (h *HealthStatus) AppendHealthCheck(r HealthCheckResult) {
	h.RecentChecks = append(h.RecentChecks, r)
	if len(h.RecentChecks) > MaxRecentHealthChecks {
		h.RecentChecks = h.RecentChecks[len(h.RecentChecks)-MaxRecentHealthChecks:]
	}
}
