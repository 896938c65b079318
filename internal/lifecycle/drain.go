package lifecycle

import (
	"context"
	"fmt"

	"github.com/r3e-network/agent-core/internal/deploy"
	"github.com/r3e-network/agent-core/internal/domain"
)

// DrainTarget stops every running or degraded agent deployed to the named
// target, aggregating per-agent failures via deploy.StopAll instead of
// aborting at the first one. Used ahead of decommissioning a deployment
// target (e.g. retiring a managed-platform region).
func (m *Manager) DrainTarget(ctx context.Context, targetName, triggeredBy string) error {
	target, found := m.deployRegistry.Get(targetName)
	if !found {
		return fmt.Errorf("drain target: no adapter registered for %q", targetName)
	}

	var cfgs []domain.AgentConfig
	var agentIDs []string
	m.forEachAgent(func(e *agentEntry) {
		if e.agent.Config.Deployment.Target != targetName {
			return
		}
		if !isOneOf(e.agent.State, domain.StateRunning, domain.StateDegraded) {
			return
		}
		cfgs = append(cfgs, e.agent.Config)
		agentIDs = append(agentIDs, e.agent.ID)
	})

	if stopErr := deploy.StopAll(ctx, target, cfgs); stopErr != nil {
		return fmt.Errorf("drain target %q: %w", targetName, stopErr)
	}

	for _, id := range agentIDs {
		_ = m.Stop(ctx, id, "target drained", triggeredBy)
	}
	return nil
}
