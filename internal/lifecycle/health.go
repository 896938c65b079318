package lifecycle

import (
	"context"
	"time"

	"github.com/r3e-network/agent-core/internal/domain"
)

// startHealthLoop starts (or restarts) the single health-check task for
// agentID. A second invocation always cancels the prior interval first, so
// at most one loop per agent is ever running.
func (m *Manager) startHealthLoop(agentID string) {
	m.stopHealthLoop(agentID)

	ctx, cancel := context.WithCancel(context.Background())

	m.healthMu.Lock()
	m.healthStop[agentID] = cancel
	m.healthMu.Unlock()

	interval := m.healthEvery
	if e, ok := m.entry(agentID); ok {
		e.mu.Lock()
		if s := e.agent.Config.Heartbeat.IntervalSeconds; s > 0 {
			interval = time.Duration(s) * time.Second
		}
		e.mu.Unlock()
	}

	go m.runHealthLoop(ctx, agentID, interval)
}

// stopHealthLoop cancels agentID's health-check task if one is running.
// Called on stop, destroy, and before every restart of the loop.
func (m *Manager) stopHealthLoop(agentID string) {
	m.healthMu.Lock()
	cancel, ok := m.healthStop[agentID]
	if ok {
		delete(m.healthStop, agentID)
	}
	m.healthMu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) runHealthLoop(ctx context.Context, agentID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.healthTick(ctx, agentID)
		}
	}
}

// healthTick performs one poll-and-evaluate cycle. Health-check ticks
// serialize against lifecycle transitions on the same agent via the
// agent's own lock.
func (m *Manager) healthTick(ctx context.Context, agentID string) {
	e, ok := m.entry(agentID)
	if !ok {
		m.stopHealthLoop(agentID)
		return
	}

	e.mu.Lock()
	agent := e.agent
	if !isOneOf(agent.State, domain.StateRunning, domain.StateDegraded) {
		e.mu.Unlock()
		m.stopHealthLoop(agentID)
		return
	}
	cfg := agent.Config
	e.mu.Unlock()

	target, err := m.deployRegistry.Dispatch(cfg)
	if err != nil {
		return
	}

	report, statusErr := target.GetStatus(ctx, cfg)
	healthy := statusErr == nil && report.HealthStatus == domain.HealthHealthy

	e.mu.Lock()
	defer e.mu.Unlock()

	label := domain.HealthUnhealthy
	if statusErr == nil {
		label = report.HealthStatus
	}
	agent.Health.AppendHealthCheck(domain.HealthCheckResult{Timestamp: m.now(), Healthy: healthy, Label: label})
	agent.Health.LastCheckAt = m.now()
	agent.Health.Label = label
	if statusErr == nil {
		agent.Health.UptimeSeconds = report.UptimeSeconds
	}

	if healthy {
		agent.Health.ConsecutiveFailures = 0
		if agent.State == domain.StateDegraded {
			m.recordTransition(ctx, agent, domain.StateDegraded, domain.StateRunning, "health check recovered", "system", "")
			m.persist(ctx, agent)
			m.emit(agentID, agent.OrgID, domain.EventAutoRecovered, map[string]interface{}{"restarted": false})
		}
		return
	}

	agent.Health.ConsecutiveFailures++
	failures := agent.Health.ConsecutiveFailures

	if failures >= 2 && agent.State == domain.StateRunning {
		m.recordTransition(ctx, agent, domain.StateRunning, domain.StateDegraded, "health check failing", "system", "")
		m.persist(ctx, agent)
	}

	if failures >= 5 {
		cfgSnapshot := agent.Config
		m.recordTransition(ctx, agent, agent.State, domain.StateStarting, "restart after repeated health failures", "system", "")
		m.persist(ctx, agent)

		if err := target.Restart(ctx, cfgSnapshot); err != nil {
			m.recordTransition(ctx, agent, domain.StateStarting, domain.StateError, err.Error(), "system", err.Error())
			m.persist(ctx, agent)
			m.stopHealthLoop(agentID)
			return
		}

		agent.Health.ConsecutiveFailures = 0
		m.recordTransition(ctx, agent, domain.StateStarting, domain.StateRunning, "restart after repeated health failures succeeded", "system", "")
		m.persist(ctx, agent)
		m.emit(agentID, agent.OrgID, domain.EventAutoRecovered, map[string]interface{}{"restarted": true})
	}
}
