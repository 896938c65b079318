// Package lifecycle implements the Lifecycle State Machine: the
// authoritative state graph for every ManagedAgent, its persistence
// coordinator, health-check loop supervisor, event bus, debounced usage
// flush, and birthday scheduler.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/agent-core/infrastructure/errors"
	"github.com/r3e-network/agent-core/infrastructure/logging"
	"github.com/r3e-network/agent-core/infrastructure/metrics"
	"github.com/r3e-network/agent-core/infrastructure/resilience"
	"github.com/r3e-network/agent-core/internal/budget"
	"github.com/r3e-network/agent-core/internal/deploy"
	"github.com/r3e-network/agent-core/internal/domain"
	"github.com/r3e-network/agent-core/internal/permission"
	"github.com/r3e-network/agent-core/internal/persistence"
)

// DeployTimeout bounds how long Deploy waits for a healthy status report
// before settling the agent into degraded rather than running.
const DeployTimeout = 60 * time.Second

// DefaultHealthInterval is the health-check loop's default tick period.
const DefaultHealthInterval = 30 * time.Second

// DefaultFlushDebounce is the default debounce window for the usage flush.
const DefaultFlushDebounce = 5 * time.Second

// agentEntry bundles a ManagedAgent with its own lock so that per-agent
// mutual exclusion does not require holding the manager-wide lock across an
// external call (deployer / persistence / permission resolver).
type agentEntry struct {
	mu    sync.Mutex
	agent *domain.ManagedAgent
}

// Manager is the single authoritative owner of every ManagedAgent record in
// the process. The Runtime Gateway and Skill & Permission Resolver hold
// only agent ids.
type Manager struct {
	logger *logging.Logger

	mu      sync.RWMutex
	entries map[string]*agentEntry

	store      persistence.Store
	storeReady bool

	deployRegistry *deploy.Registry
	enforcer       *budget.Enforcer
	permissions    *permission.Resolver
	metrics        *metrics.Metrics

	dirtyMu    sync.Mutex
	dirty      map[string]bool
	flushTimer *time.Timer
	flushEvery time.Duration

	healthMu    sync.Mutex
	healthStop  map[string]context.CancelFunc
	healthEvery time.Duration

	alertsMu sync.Mutex
	alerts   []domain.BudgetAlert

	subMu       sync.Mutex
	subscribers []subscription
	nextSubID   int

	birthdayHook func(agentID, orgID string, age int)
	lastBirthdayDate string

	clock func() time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewManager constructs a Manager with persistence wiring deferred — per
// the design note on module-level singletons with late-bound persistence,
// callers must invoke SetPersistence before any write path succeeds.
// metricsCollector may be nil, in which case deployment-op metrics are
// skipped (matching cmd/engine's METRICS_ENABLED gate).
func NewManager(logger *logging.Logger, registry *deploy.Registry, enforcer *budget.Enforcer, permissions *permission.Resolver, metricsCollector *metrics.Metrics) *Manager {
	return &Manager{
		logger:         logger,
		entries:        make(map[string]*agentEntry),
		deployRegistry: registry,
		enforcer:       enforcer,
		permissions:    permissions,
		metrics:        metricsCollector,
		dirty:          make(map[string]bool),
		flushEvery:     DefaultFlushDebounce,
		healthStop:     make(map[string]context.CancelFunc),
		healthEvery:    DefaultHealthInterval,
		clock:          time.Now,
		shutdownCh:     make(chan struct{}),
	}
}

// recordDeployOp reports one deployment-target operation to the
// RecordDeploymentOp metric (when a collector is wired) and to the
// structured logger.
func (m *Manager) recordDeployOp(ctx context.Context, target, operation string, err error, duration time.Duration) {
	if m.logger != nil {
		m.logger.LogDeploymentOp(ctx, target, operation, err)
	}
	if m.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.RecordDeploymentOp("engine", target, operation, status, duration)
}

func (m *Manager) now() time.Time { return m.clock() }

// SetPersistence installs the real persistence backend, loads every
// existing ManagedAgent, and restarts health loops for any agent already in
// running or degraded — the three steps the design note calls for.
func (m *Manager) SetPersistence(ctx context.Context, store persistence.Store) error {
	agents, err := store.GetAllManagedAgents(ctx)
	if err != nil {
		return fmt.Errorf("loading managed agents: %w", err)
	}

	m.mu.Lock()
	m.store = store
	m.storeReady = true
	for _, a := range agents {
		m.entries[a.ID] = &agentEntry{agent: a}
	}
	m.mu.Unlock()

	for _, a := range agents {
		if a.State == domain.StateRunning || a.State == domain.StateDegraded {
			m.startHealthLoop(a.ID)
		}
		if a.Config.PermissionProfileID != "" {
			m.permissions.BindAgent(a.ID, a.Config.PermissionProfileID)
		}
	}
	return nil
}

func (m *Manager) requireReady() error {
	m.mu.RLock()
	ready := m.storeReady
	m.mu.RUnlock()
	if !ready {
		return errors.AgentNotReady()
	}
	return nil
}

func (m *Manager) entry(agentID string) (*agentEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[agentID]
	return e, ok
}

// persist writes agent through to the backing store with bounded retry
// (3 attempts, 100ms -> 2s exponential backoff). Exhausted retries are
// logged; in-memory state remains authoritative regardless.
func (m *Manager) persist(ctx context.Context, agent *domain.ManagedAgent) {
	cfg := resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second, Multiplier: 2.0, Jitter: 0.1}
	err := resilience.Retry(ctx, cfg, func() error {
		return m.store.UpsertManagedAgent(ctx, agent)
	})
	if err != nil && m.logger != nil {
		m.logger.WithFields(map[string]interface{}{"agent_id": agent.ID}).WithError(err).Error("persisting managed agent failed after retries")
	}
}

func (m *Manager) recordTransition(ctx context.Context, agent *domain.ManagedAgent, from, to domain.AgentState, reason, triggeredBy, errMsg string) {
	t := domain.StateTransition{From: from, To: to, Reason: reason, TriggeredBy: triggeredBy, Timestamp: m.now(), Error: errMsg}
	agent.AppendTransition(t)
	agent.State = to
	agent.UpdatedAt = m.now()

	if err := m.store.AddStateTransition(ctx, agent.ID, t); err != nil && m.logger != nil {
		m.logger.WithFields(map[string]interface{}{"agent_id": agent.ID}).WithError(err).Error("appending state transition failed")
	}
}

// CreateAgent registers a new agent in state draft, promoting immediately
// to ready if the configuration is already complete.
func (m *Manager) CreateAgent(ctx context.Context, id, orgID string, cfg domain.AgentConfig, tags map[string]string) (*domain.ManagedAgent, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}

	now := m.now()
	agent := &domain.ManagedAgent{
		ID:        id,
		OrgID:     orgID,
		Config:    cfg,
		State:     domain.StateDraft,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
		Tags:      tags,
	}

	if cfg.Complete() {
		agent.AppendTransition(domain.StateTransition{From: domain.StateDraft, To: domain.StateReady, Reason: "configuration complete", TriggeredBy: "system", Timestamp: now})
		agent.State = domain.StateReady
	}

	m.mu.Lock()
	m.entries[id] = &agentEntry{agent: agent}
	m.mu.Unlock()

	if cfg.PermissionProfileID != "" {
		m.permissions.BindAgent(id, cfg.PermissionProfileID)
	}

	m.persist(ctx, agent)
	m.emit(id, orgID, domain.EventCreated, map[string]interface{}{"state": string(agent.State)})

	return cloneAgent(agent), nil
}

// GetAgent returns a snapshot copy of a managed agent, or a not-found error.
func (m *Manager) GetAgent(agentID string) (*domain.ManagedAgent, error) {
	e, ok := m.entry(agentID)
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAgent(e.agent), nil
}

// ListAgents returns a snapshot of every managed agent.
func (m *Manager) ListAgents() []*domain.ManagedAgent {
	m.mu.RLock()
	entries := make([]*agentEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*domain.ManagedAgent, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, cloneAgent(e.agent))
		e.mu.Unlock()
	}
	return out
}

// UpdateConfig deep-merges patch onto the agent's configuration, bumps
// version, and persists before returning. An empty patch is a no-op except
// that version still increments, per the round-trip test property.
func (m *Manager) UpdateConfig(ctx context.Context, agentID string, patch ConfigPatch, triggeredBy string) (*domain.ManagedAgent, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	agent := e.agent

	prevProfile := agent.Config.PermissionProfileID
	agent.Config = applyPatch(agent.Config, patch)
	if len(patch.Tags) > 0 {
		if agent.Tags == nil {
			agent.Tags = make(map[string]string, len(patch.Tags))
		}
		for k, v := range patch.Tags {
			agent.Tags[k] = v
		}
	}
	agent.Version++
	agent.UpdatedAt = m.now()

	if agent.State == domain.StateDraft && agent.Config.Complete() {
		m.recordTransition(ctx, agent, domain.StateDraft, domain.StateReady, "configuration complete", triggeredBy, "")
	}

	if agent.Config.PermissionProfileID != "" && agent.Config.PermissionProfileID != prevProfile {
		m.permissions.BindAgent(agentID, agent.Config.PermissionProfileID)
	}

	m.persist(ctx, agent)
	m.emit(agentID, agent.OrgID, domain.EventUpdated, map[string]interface{}{"version": agent.Version})

	return cloneAgent(agent), nil
}

// Deploy drives an agent from {ready, stopped, error} through provisioning,
// deploying and starting, settling into running or degraded depending on
// whether a healthy status arrives within DeployTimeout.
func (m *Manager) Deploy(ctx context.Context, agentID, triggeredBy string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	agent := e.agent
	if !isOneOf(agent.State, domain.StateReady, domain.StateStopped, domain.StateError) {
		e.mu.Unlock()
		if agent.State == domain.StateDraft {
			return errors.IncompleteConfig(agentID)
		}
		return errors.InvalidStateForOp(string(agent.State), "deploy")
	}

	from := agent.State
	m.recordTransition(ctx, agent, from, domain.StateProvisioning, "deploy requested", triggeredBy, "")
	m.recordTransition(ctx, agent, domain.StateProvisioning, domain.StateDeploying, "provisioning complete", triggeredBy, "")
	m.recordTransition(ctx, agent, domain.StateDeploying, domain.StateStarting, "pushing configuration", triggeredBy, "")
	cfg := agent.Config
	e.mu.Unlock()

	target, err := m.deployRegistry.Dispatch(cfg)
	if err != nil {
		e.mu.Lock()
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateError, err.Error(), triggeredBy, err.Error())
		m.persist(ctx, agent)
		e.mu.Unlock()
		m.emit(agentID, agent.OrgID, domain.EventError, map[string]interface{}{"error": err.Error()})
		return err
	}

	deployStart := m.now()
	result := target.Deploy(ctx, cfg, nil)
	var deployErr error
	if !result.Success {
		deployErr = fmt.Errorf("%s", result.Error)
	}
	m.recordDeployOp(ctx, target.Name(), "deploy", deployErr, m.now().Sub(deployStart))
	if !result.Success {
		e.mu.Lock()
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateError, result.Error, triggeredBy, result.Error)
		m.persist(ctx, agent)
		e.mu.Unlock()
		m.emit(agentID, agent.OrgID, domain.EventError, map[string]interface{}{"error": result.Error})
		return fmt.Errorf("deploy failed: %s", result.Error)
	}

	healthy := m.waitForHealthy(ctx, target, cfg, DeployTimeout)

	e.mu.Lock()
	now := m.now()
	agent.LastDeployedAt = &now
	if healthy {
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateRunning, "healthy status observed", triggeredBy, "")
	} else {
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateDegraded, "no healthy status within deploy timeout", triggeredBy, "")
	}
	m.persist(ctx, agent)
	e.mu.Unlock()

	m.startHealthLoop(agentID)
	m.emit(agentID, agent.OrgID, domain.EventDeployed, map[string]interface{}{"healthy": healthy})
	return nil
}

// waitForHealthy polls target.GetStatus until a healthy report arrives or
// timeout elapses.
func (m *Manager) waitForHealthy(ctx context.Context, target deploy.Target, cfg domain.AgentConfig, timeout time.Duration) bool {
	deadline := m.now().Add(timeout)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		report, err := target.GetStatus(ctx, cfg)
		if err == nil && report.HealthStatus == domain.HealthHealthy {
			return true
		}
		if m.now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Stop moves an agent from {running, degraded, starting, error} to stopped.
func (m *Manager) Stop(ctx context.Context, agentID, reason, triggeredBy string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	agent := e.agent
	if !isOneOf(agent.State, domain.StateRunning, domain.StateDegraded, domain.StateStarting, domain.StateError) {
		e.mu.Unlock()
		return errors.InvalidStateForOp(string(agent.State), "stop")
	}
	from := agent.State
	cfg := agent.Config
	e.mu.Unlock()

	target, err := m.deployRegistry.Dispatch(cfg)
	var stopErr error
	if err == nil {
		stopStart := m.now()
		stopErr = target.Stop(ctx, cfg)
		m.recordDeployOp(ctx, target.Name(), "stop", stopErr, m.now().Sub(stopStart))
	} else {
		stopErr = err
	}

	m.stopHealthLoop(agentID)

	e.mu.Lock()
	if reason == "" {
		reason = "stop requested"
	}
	m.recordTransition(ctx, agent, from, domain.StateStopped, reason, triggeredBy, errString(stopErr))
	m.persist(ctx, agent)
	e.mu.Unlock()

	m.emit(agentID, agent.OrgID, domain.EventStopped, map[string]interface{}{"reason": reason})
	return stopErr
}

// Restart stops and redeploys an agent's underlying workload idempotently,
// used by the health-check loop's auto-recovery path.
func (m *Manager) Restart(ctx context.Context, agentID, triggeredBy string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	agent := e.agent
	from := agent.State
	cfg := agent.Config
	m.recordTransition(ctx, agent, from, domain.StateStarting, "restarting", triggeredBy, "")
	e.mu.Unlock()

	target, err := m.deployRegistry.Dispatch(cfg)
	if err != nil {
		e.mu.Lock()
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateError, err.Error(), triggeredBy, err.Error())
		m.persist(ctx, agent)
		e.mu.Unlock()
		return err
	}

	restartStart := m.now()
	restartErr := target.Restart(ctx, cfg)
	m.recordDeployOp(ctx, target.Name(), "restart", restartErr, m.now().Sub(restartStart))
	if restartErr != nil {
		e.mu.Lock()
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateError, restartErr.Error(), triggeredBy, restartErr.Error())
		m.persist(ctx, agent)
		e.mu.Unlock()
		return restartErr
	}

	e.mu.Lock()
	m.recordTransition(ctx, agent, domain.StateStarting, domain.StateRunning, "restart succeeded", triggeredBy, "")
	agent.Health.ConsecutiveFailures = 0
	m.persist(ctx, agent)
	e.mu.Unlock()

	m.emit(agentID, agent.OrgID, domain.EventAutoRecovered, map[string]interface{}{"restarted": true})
	return nil
}

// HotUpdate applies patch to a running/degraded agent's configuration via
// the deployer's UpdateConfig, preserving the terminal sub-state.
func (m *Manager) HotUpdate(ctx context.Context, agentID string, patch ConfigPatch, triggeredBy string) (*domain.ManagedAgent, error) {
	if err := m.requireReady(); err != nil {
		return nil, err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return nil, errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	agent := e.agent
	if !isOneOf(agent.State, domain.StateRunning, domain.StateDegraded) {
		e.mu.Unlock()
		return nil, errors.InvalidStateForOp(string(agent.State), "hot-update")
	}
	priorState := agent.State
	m.recordTransition(ctx, agent, priorState, domain.StateUpdating, "hot update in progress", triggeredBy, "")
	agent.Config = applyPatch(agent.Config, patch)
	agent.Version++
	cfg := agent.Config
	e.mu.Unlock()

	target, err := m.deployRegistry.Dispatch(cfg)
	var applyErr error
	if err == nil {
		applyStart := m.now()
		applyErr = target.UpdateConfig(ctx, cfg)
		m.recordDeployOp(ctx, target.Name(), "updateConfig", applyErr, m.now().Sub(applyStart))
	} else {
		applyErr = err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if applyErr != nil {
		m.recordTransition(ctx, agent, domain.StateUpdating, domain.StateDegraded, applyErr.Error(), triggeredBy, applyErr.Error())
		m.persist(ctx, agent)
		m.emit(agentID, agent.OrgID, domain.EventError, map[string]interface{}{"error": applyErr.Error()})
		return cloneAgent(agent), applyErr
	}

	m.recordTransition(ctx, agent, domain.StateUpdating, priorState, "hot update succeeded", triggeredBy, "")
	m.persist(ctx, agent)
	m.emit(agentID, agent.OrgID, domain.EventUpdated, map[string]interface{}{"version": agent.Version, "hot": true})
	return cloneAgent(agent), nil
}

// Destroy tears down an agent: best-effort stop, transition to destroying,
// then removal of the in-memory and persisted record.
func (m *Manager) Destroy(ctx context.Context, agentID, triggeredBy string) error {
	if err := m.requireReady(); err != nil {
		return err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	agent := e.agent
	if agent.State == domain.StateDestroying {
		e.mu.Unlock()
		return errors.Conflict("agent is already being destroyed")
	}
	from := agent.State
	cfg := agent.Config
	m.recordTransition(ctx, agent, from, domain.StateDestroying, "destroy requested", triggeredBy, "")
	e.mu.Unlock()

	m.stopHealthLoop(agentID)

	if target, err := m.deployRegistry.Dispatch(cfg); err == nil {
		_ = target.Stop(ctx, cfg)
	}

	if err := m.store.DeleteManagedAgent(ctx, agentID); err != nil && m.logger != nil {
		m.logger.WithFields(map[string]interface{}{"agent_id": agentID}).WithError(err).Error("deleting managed agent failed")
	}

	m.mu.Lock()
	delete(m.entries, agentID)
	m.mu.Unlock()
	m.permissions.UnbindAgent(agentID)

	m.emit(agentID, agent.OrgID, domain.EventStopped, map[string]interface{}{"destroyed": true})
	return nil
}

// RecordToolCall folds a tool-call usage delta into an agent's counters,
// evaluates budget rules, marks the agent dirty for the debounced flush,
// and force-stops the agent if a hard cap was exceeded.
func (m *Manager) RecordToolCall(ctx context.Context, agentID, toolID string, usage budget.ToolCallUsage) (budget.Result, error) {
	if err := m.requireReady(); err != nil {
		return budget.Result{}, err
	}
	e, ok := m.entry(agentID)
	if !ok {
		return budget.Result{}, errors.NotFound("agent", agentID)
	}

	e.mu.Lock()
	agent := e.agent
	result := m.enforcer.RecordToolCall(m.now(), agent, toolID, usage)
	orgID := agent.OrgID
	e.mu.Unlock()

	m.markDirty(agentID)
	m.emit(agentID, orgID, domain.EventToolCall, map[string]interface{}{"tool_id": toolID})

	if len(result.Alerts) > 0 {
		m.recordAlerts(ctx, result.Alerts)
		for _, a := range result.Alerts {
			kind := domain.EventBudgetWarning
			if a.Kind != "" && !isWarningKind(a.Kind) {
				kind = domain.EventBudgetExceeded
			}
			m.emit(agentID, orgID, kind, map[string]interface{}{"alert_kind": a.Kind, "budget_kind": string(a.BudgetKind)})
		}
	}

	if result.ForceStop {
		if err := m.Stop(ctx, agentID, result.StopReason, "system"); err != nil && m.logger != nil {
			m.logger.WithFields(map[string]interface{}{"agent_id": agentID}).WithError(err).Error("force-stop after budget exceeded failed")
		}
	}

	return result, nil
}

func isWarningKind(kind string) bool {
	return len(kind) >= 8 && kind[:8] == "warning_"
}

func (m *Manager) recordAlerts(ctx context.Context, alerts []domain.BudgetAlert) {
	m.alertsMu.Lock()
	for _, a := range alerts {
		m.alerts = append(m.alerts, a)
	}
	if len(m.alerts) > domain.MaxBudgetAlerts {
		m.alerts = m.alerts[len(m.alerts)-domain.MaxBudgetAlerts:]
	}
	m.alertsMu.Unlock()

	for _, a := range alerts {
		err := m.store.Execute(ctx, "INSERT INTO budget_alerts (id, org_id, agent_id, kind, budget_kind, horizon, current_value, limit_value, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)",
			a.ID, a.OrgID, a.AgentID, a.Kind, string(a.BudgetKind), string(a.Horizon), a.CurrentValue, a.LimitValue, a.CreatedAt)
		if err != nil && m.logger != nil {
			m.logger.WithFields(map[string]interface{}{"alert_id": a.ID}).WithError(err).Error("persisting budget alert failed")
		}
	}
}

// Alerts returns a snapshot of the in-memory budget-alert ring.
func (m *Manager) Alerts() []domain.BudgetAlert {
	m.alertsMu.Lock()
	defer m.alertsMu.Unlock()
	out := make([]domain.BudgetAlert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

func isOneOf(s domain.AgentState, options ...domain.AgentState) bool {
	for _, o := range options {
		if s == o {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// cloneAgent returns a deep-enough copy so callers cannot mutate the
// manager's authoritative state through the returned pointer.
func cloneAgent(a *domain.ManagedAgent) *domain.ManagedAgent {
	cp := *a
	cp.StateHistory = append([]domain.StateTransition(nil), a.StateHistory...)
	cp.Health.RecentChecks = append([]domain.HealthCheckResult(nil), a.Health.RecentChecks...)
	if a.Budget != nil {
		b := *a.Budget
		cp.Budget = &b
	}
	return &cp
}
