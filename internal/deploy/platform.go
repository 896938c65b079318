package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/r3e-network/agent-core/infrastructure/logging"
	"github.com/r3e-network/agent-core/infrastructure/resilience"
	"github.com/r3e-network/agent-core/internal/domain"
)

// statusShape describes where a managed platform's status JSON carries the
// fields the orchestrator cares about. Two real platforms rarely agree on a
// response shape, hence the per-vendor jsonpath expressions rather than a
// shared struct.
type statusShape struct {
	runningPath string // e.g. "$.state.phase"
	runningVal  string // the value meaning "running"
	healthPath  string // e.g. "$.health.status"
	uptimePath  string // e.g. "$.metrics.uptimeSeconds"
}

// PlatformTarget adapts agents onto a managed cloud platform's REST API,
// reached over HTTP and guarded by a circuit breaker so a flapping platform
// API does not cascade into every lifecycle call blocking on it.
type PlatformTarget struct {
	name    string
	baseURL string
	apiKey  string
	shape   statusShape
	client  *http.Client
	cb      *resilience.CircuitBreaker
	logger  *logging.Logger
}

// NewPlatformATarget constructs the adapter for managed platform A, whose
// status payload nests state under "state.phase" / "health.status".
func NewPlatformATarget(baseURL, apiKey string, logger *logging.Logger) *PlatformTarget {
	return newPlatformTarget("platform-a", baseURL, apiKey, statusShape{
		runningPath: "$.state.phase",
		runningVal:  "RUNNING",
		healthPath:  "$.health.status",
		uptimePath:  "$.metrics.uptimeSeconds",
	}, logger)
}

// NewPlatformBTarget constructs the adapter for managed platform B, whose
// status payload is flatter: "status" / "healthy".
func NewPlatformBTarget(baseURL, apiKey string, logger *logging.Logger) *PlatformTarget {
	return newPlatformTarget("platform-b", baseURL, apiKey, statusShape{
		runningPath: "$.status",
		runningVal:  "active",
		healthPath:  "$.healthy",
		uptimePath:  "$.uptime_s",
	}, logger)
}

func newPlatformTarget(name, baseURL, apiKey string, shape statusShape, logger *logging.Logger) *PlatformTarget {
	cfg := resilience.DefaultConfig()
	if logger != nil {
		cfg.OnStateChange = func(from, to resilience.State) {
			logger.WithFields(map[string]interface{}{
				"target": name, "from": from.String(), "to": to.String(),
			}).Warn("deployment target circuit breaker state changed")
		}
	}
	return &PlatformTarget{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		shape:   shape,
		client:  &http.Client{Timeout: 15 * time.Second},
		cb:      resilience.New(cfg),
		logger:  logger,
	}
}

func (p *PlatformTarget) Name() string { return p.name }

func (p *PlatformTarget) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	var respBody []byte
	err = p.cb.Execute(ctx, func() error {
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, string(respBody))
		}
		return nil
	})
	return respBody, err
}

func (p *PlatformTarget) Deploy(ctx context.Context, cfg domain.AgentConfig, sink ProgressSink) DeployResult {
	report := func(phase, msg string) {
		if sink != nil {
			sink(ProgressEvent{Phase: phase, Message: msg, Timestamp: time.Now()})
		}
	}
	report("provisioning", "submitting deployment to "+p.name)

	_, err := p.doRequest(ctx, http.MethodPost, "/v1/workloads/"+cfg.Name, map[string]interface{}{
		"model":  cfg.Model.ModelID,
		"region": cfg.Deployment.Region,
		"params": cfg.Deployment.Params,
	})
	if err != nil {
		return DeployResult{Success: false, Error: err.Error()}
	}
	report("started", p.name+" accepted the workload")
	return DeployResult{Success: true}
}

func (p *PlatformTarget) Stop(ctx context.Context, cfg domain.AgentConfig) error {
	_, err := p.doRequest(ctx, http.MethodPost, "/v1/workloads/"+cfg.Name+"/stop", nil)
	return err
}

func (p *PlatformTarget) Restart(ctx context.Context, cfg domain.AgentConfig) error {
	_, err := p.doRequest(ctx, http.MethodPost, "/v1/workloads/"+cfg.Name+"/restart", nil)
	return err
}

func (p *PlatformTarget) UpdateConfig(ctx context.Context, cfg domain.AgentConfig) error {
	_, err := p.doRequest(ctx, http.MethodPatch, "/v1/workloads/"+cfg.Name, map[string]interface{}{
		"model":  cfg.Model.ModelID,
		"params": cfg.Deployment.Params,
	})
	return err
}

func (p *PlatformTarget) GetStatus(ctx context.Context, cfg domain.AgentConfig) (StatusReport, error) {
	raw, err := p.doRequest(ctx, http.MethodGet, "/v1/workloads/"+cfg.Name+"/status", nil)
	if err != nil {
		return StatusReport{Status: StatusError, HealthStatus: domain.HealthUnhealthy}, err
	}

	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return StatusReport{Status: StatusError, HealthStatus: domain.HealthUnhealthy}, fmt.Errorf("parsing %s status: %w", p.name, err)
	}

	status := StatusPending
	if running, err := jsonpath.Get(p.shape.runningPath, parsed); err == nil {
		if fmt.Sprintf("%v", running) == p.shape.runningVal {
			status = StatusRunning
		} else {
			status = StatusStopped
		}
	}

	health := domain.HealthUnknown
	if healthVal, err := jsonpath.Get(p.shape.healthPath, parsed); err == nil {
		switch v := healthVal.(type) {
		case bool:
			if v {
				health = domain.HealthHealthy
			} else {
				health = domain.HealthUnhealthy
			}
		case string:
			switch v {
			case "healthy", "ok", "HEALTHY":
				health = domain.HealthHealthy
			case "degraded":
				health = domain.HealthDegraded
			default:
				health = domain.HealthUnhealthy
			}
		}
	}

	var uptime int64
	if uptimeVal, err := jsonpath.Get(p.shape.uptimePath, parsed); err == nil {
		switch v := uptimeVal.(type) {
		case float64:
			uptime = int64(v)
		}
	}

	return StatusReport{Status: status, HealthStatus: health, UptimeSeconds: uptime, Metrics: map[string]float64{}}, nil
}
