package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/r3e-network/agent-core/internal/deploy"
	"github.com/r3e-network/agent-core/internal/domain"
)

// fakeTarget is a deterministic deploy.Target double: every call records its
// invocation and returns whatever the test configured, with no real
// subprocess, network, or sleep involved.
type fakeTarget struct {
	mu sync.Mutex

	name string

	deployResult deploy.DeployResult
	stopErr      error
	restartErr   error
	updateErr    error
	statusReport deploy.StatusReport
	statusErr    error

	deployCalls int
	stopCalls   int
	restartCalls int
	updateCalls int
	statusCalls int
}

func newFakeTarget(name string) *fakeTarget {
	return &fakeTarget{
		name:         name,
		deployResult: deploy.DeployResult{Success: true},
		statusReport: deploy.StatusReport{Status: deploy.StatusRunning, HealthStatus: domain.HealthHealthy},
	}
}

func (f *fakeTarget) Name() string { return f.name }

func (f *fakeTarget) Deploy(_ context.Context, _ domain.AgentConfig, _ deploy.ProgressSink) deploy.DeployResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployCalls++
	return f.deployResult
}

func (f *fakeTarget) Stop(_ context.Context, _ domain.AgentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeTarget) Restart(_ context.Context, _ domain.AgentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls++
	return f.restartErr
}

func (f *fakeTarget) UpdateConfig(_ context.Context, _ domain.AgentConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	return f.updateErr
}

func (f *fakeTarget) GetStatus(_ context.Context, _ domain.AgentConfig) (deploy.StatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.statusReport, f.statusErr
}

var _ deploy.Target = (*fakeTarget)(nil)

func completeConfig(target, profile string) domain.AgentConfig {
	return domain.AgentConfig{
		Name:                fmt.Sprintf("agent-%s", target),
		DisplayName:         "Test Agent",
		Identity:            domain.Identity{Role: "support"},
		Model:               domain.ModelRef{ModelID: "gpt-5"},
		Deployment:          domain.DeploymentDescriptor{Target: target},
		PermissionProfileID: profile,
		Heartbeat:           domain.HeartbeatPolicy{IntervalSeconds: 30, TimeoutSeconds: 60},
	}
}
