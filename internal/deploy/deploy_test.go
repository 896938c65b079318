package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r3e-network/agent-core/infrastructure/logging"
	"github.com/r3e-network/agent-core/internal/domain"
)

func testConfig(name, image string) domain.AgentConfig {
	return domain.AgentConfig{
		Name: name,
		Deployment: domain.DeploymentDescriptor{
			Target: "container",
			Params: map[string]string{"image": image},
		},
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	target := NewContainerTarget(logging.NewFromEnv("test"))
	reg.Register(target)

	got, err := reg.Dispatch(testConfig("a", "img"))
	require.NoError(t, err)
	require.Equal(t, "container", got.Name())

	_, err = reg.Dispatch(domain.AgentConfig{Deployment: domain.DeploymentDescriptor{Target: "unregistered"}})
	require.Error(t, err)
}

func TestStopAllAggregatesFailures(t *testing.T) {
	ctx := context.Background()
	target := NewContainerTarget(logging.NewFromEnv("test"))

	cfgs := []domain.AgentConfig{
		testConfig("running-agent", "img"),
		testConfig("never-deployed", "img"),
	}
	_, err := target.Deploy(ctx, cfgs[0], nil), error(nil)
	require.NoError(t, err)

	err = StopAll(ctx, target, cfgs)
	require.Error(t, err, "stopping a never-deployed agent should surface as an aggregated failure")
	require.Contains(t, err.Error(), "never-deployed")
}

func TestRestartAllSucceedsWhenAllRunning(t *testing.T) {
	ctx := context.Background()
	target := NewContainerTarget(logging.NewFromEnv("test"))

	cfgs := []domain.AgentConfig{testConfig("a", "img"), testConfig("b", "img")}
	for _, cfg := range cfgs {
		result := target.Deploy(ctx, cfg, nil)
		require.True(t, result.Success)
	}

	require.NoError(t, RestartAll(ctx, target, cfgs))
}
