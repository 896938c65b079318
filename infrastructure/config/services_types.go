package config

// TargetSettings holds configuration for a single deployment-target adapter
// from targets.yaml.
type TargetSettings struct {
	// Enabled determines if the orchestrator registers this adapter.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Description is a human-readable description.
	Description string `yaml:"description" json:"description"`

	// Extra holds any additional adapter-specific configuration (e.g. an
	// SSH host for remote-shell, a base URL for a managed-platform adapter).
	Extra map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// TargetsConfig holds configuration for every registered deployment target.
type TargetsConfig struct {
	Targets map[string]*TargetSettings `yaml:"targets" json:"targets"`
}

// IsEnabled checks if a target adapter is enabled in the configuration.
func (c *TargetsConfig) IsEnabled(name string) bool {
	if c == nil || c.Targets == nil {
		return false
	}
	settings, ok := c.Targets[name]
	if !ok {
		return false
	}
	return settings.Enabled
}

// GetSettings returns the settings for a target adapter, or nil if absent.
func (c *TargetsConfig) GetSettings(name string) *TargetSettings {
	if c == nil || c.Targets == nil {
		return nil
	}
	return c.Targets[name]
}

// EnabledTargets returns the names of every enabled target adapter.
func (c *TargetsConfig) EnabledTargets() []string {
	if c == nil || c.Targets == nil {
		return nil
	}
	var enabled []string
	for name, settings := range c.Targets {
		if settings.Enabled {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// DisabledTargets returns the names of every disabled target adapter.
func (c *TargetsConfig) DisabledTargets() []string {
	if c == nil || c.Targets == nil {
		return nil
	}
	var disabled []string
	for name, settings := range c.Targets {
		if !settings.Enabled {
			disabled = append(disabled, name)
		}
	}
	return disabled
}
