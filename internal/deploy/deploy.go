// Package deploy implements the Deployment Orchestrator: a target-agnostic
// interface over heterogeneous deployment targets (local container engine,
// SSH-over-network remote host, managed platform A/B), dispatched on
// AgentConfig.Deployment.Target via a name-keyed adapter registry.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/r3e-network/agent-core/internal/domain"
)

// Status is the coarse workload status reported by GetStatus.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// ProgressEvent reports one phase of a long-running Deploy call.
type ProgressEvent struct {
	Phase     string
	Message   string
	Timestamp time.Time
}

// ProgressSink receives phased progress during Deploy. Implementations must
// not block; the orchestrator does not buffer events on the caller's behalf.
type ProgressSink func(ProgressEvent)

// DeployResult is the outcome of a Deploy call.
type DeployResult struct {
	Success bool
	Error   string
}

// StatusReport is the outcome of a GetStatus call.
type StatusReport struct {
	Status        Status
	HealthStatus  domain.HealthLabel
	UptimeSeconds int64
	Metrics       map[string]float64
}

// Target is the uniform interface every deployment adapter implements.
// Implementations vary in how they achieve each operation; none of deploy,
// stop, restart, updateConfig or getStatus assume a particular transport.
type Target interface {
	Name() string
	Deploy(ctx context.Context, cfg domain.AgentConfig, sink ProgressSink) DeployResult
	Stop(ctx context.Context, cfg domain.AgentConfig) error
	Restart(ctx context.Context, cfg domain.AgentConfig) error
	UpdateConfig(ctx context.Context, cfg domain.AgentConfig) error
	GetStatus(ctx context.Context, cfg domain.AgentConfig) (StatusReport, error)
}

// Registry dispatches on AgentConfig.Deployment.Target. New targets are
// added by registering an adapter keyed by target name.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRegistry returns an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]Target)}
}

// Register installs an adapter under its own Name().
func (r *Registry) Register(t Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[t.Name()] = t
}

// Get resolves the adapter registered under name.
func (r *Registry) Get(name string) (Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[name]
	return t, ok
}

// Dispatch resolves cfg.Deployment.Target and returns the matching adapter,
// or an error naming the unregistered target.
func (r *Registry) Dispatch(cfg domain.AgentConfig) (Target, error) {
	t, ok := r.Get(cfg.Deployment.Target)
	if !ok {
		return nil, fmt.Errorf("no deployment target adapter registered for %q", cfg.Deployment.Target)
	}
	return t, nil
}

// StopAll performs a best-effort stop of every config in cfgs against the
// given target, aggregating failures instead of stopping at the first error.
func StopAll(ctx context.Context, t Target, cfgs []domain.AgentConfig) error {
	var result *multierror.Error
	for _, cfg := range cfgs {
		if err := t.Stop(ctx, cfg); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop %s: %w", cfg.Name, err))
		}
	}
	return result.ErrorOrNil()
}

// RestartAll is the restart analogue of StopAll.
func RestartAll(ctx context.Context, t Target, cfgs []domain.AgentConfig) error {
	var result *multierror.Error
	for _, cfg := range cfgs {
		if err := t.Restart(ctx, cfg); err != nil {
			result = multierror.Append(result, fmt.Errorf("restart %s: %w", cfg.Name, err))
		}
	}
	return result.ErrorOrNil()
}
