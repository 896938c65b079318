package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadTargetsConfig loads the deployment-target registry from
// config/targets.yaml: which deploy.Target adapters are enabled and their
// adapter-specific settings.
func LoadTargetsConfig() (*TargetsConfig, error) {
	return LoadTargetsConfigFromPath(filepath.Join("config", "targets.yaml"))
}

// LoadTargetsConfigFromPath loads the targets configuration from a specific path.
func LoadTargetsConfigFromPath(path string) (*TargetsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets config: %w", err)
	}

	var cfg TargetsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse targets config: %w", err)
	}
	return &cfg, nil
}

// LoadTargetsConfigOrDefault loads the targets config or returns the
// built-in default registry if the file is absent.
func LoadTargetsConfigOrDefault() *TargetsConfig {
	cfg, err := LoadTargetsConfig()
	if err != nil {
		return DefaultTargetsConfig()
	}
	return cfg
}

// DefaultTargetsConfig returns the default deployment-target registry: every
// adapter the orchestrator ships with, enabled.
func DefaultTargetsConfig() *TargetsConfig {
	return &TargetsConfig{
		Targets: map[string]*TargetSettings{
			"container": {
				Enabled:     true,
				Description: "Local container engine adapter",
			},
			"remote-shell": {
				Enabled:     true,
				Description: "SSH-over-network remote host adapter",
			},
			"platform-a": {
				Enabled:     true,
				Description: "Managed platform A adapter",
			},
			"platform-b": {
				Enabled:     true,
				Description: "Managed platform B adapter",
			},
		},
	}
}
