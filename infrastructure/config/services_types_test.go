package config

import (
	"sort"
	"testing"
)

func TestTargetsConfigIsEnabled(t *testing.T) {
	cfg := &TargetsConfig{
		Targets: map[string]*TargetSettings{
			"enabled-target":  {Enabled: true},
			"disabled-target": {Enabled: false},
		},
	}

	t.Run("enabled target", func(t *testing.T) {
		if !cfg.IsEnabled("enabled-target") {
			t.Error("IsEnabled() should return true for enabled target")
		}
	})

	t.Run("disabled target", func(t *testing.T) {
		if cfg.IsEnabled("disabled-target") {
			t.Error("IsEnabled() should return false for disabled target")
		}
	})

	t.Run("nonexistent target", func(t *testing.T) {
		if cfg.IsEnabled("nonexistent") {
			t.Error("IsEnabled() should return false for nonexistent target")
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *TargetsConfig
		if nilCfg.IsEnabled("any") {
			t.Error("IsEnabled() should return false for nil config")
		}
	})

	t.Run("nil targets map", func(t *testing.T) {
		emptyCfg := &TargetsConfig{Targets: nil}
		if emptyCfg.IsEnabled("any") {
			t.Error("IsEnabled() should return false for nil targets map")
		}
	})
}

func TestTargetsConfigGetSettings(t *testing.T) {
	cfg := &TargetsConfig{
		Targets: map[string]*TargetSettings{
			"test-target": {Enabled: true, Description: "Test"},
		},
	}

	t.Run("existing target", func(t *testing.T) {
		settings := cfg.GetSettings("test-target")
		if settings == nil {
			t.Fatal("GetSettings() returned nil for existing target")
		}
		if settings.Description != "Test" {
			t.Errorf("Description = %s, want Test", settings.Description)
		}
	})

	t.Run("nonexistent target", func(t *testing.T) {
		settings := cfg.GetSettings("nonexistent")
		if settings != nil {
			t.Error("GetSettings() should return nil for nonexistent target")
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *TargetsConfig
		settings := nilCfg.GetSettings("any")
		if settings != nil {
			t.Error("GetSettings() should return nil for nil config")
		}
	})
}

func TestTargetsConfigEnabledTargets(t *testing.T) {
	cfg := &TargetsConfig{
		Targets: map[string]*TargetSettings{
			"target-a": {Enabled: true},
			"target-b": {Enabled: false},
			"target-c": {Enabled: true},
			"target-d": {Enabled: false},
		},
	}

	t.Run("returns enabled targets", func(t *testing.T) {
		enabled := cfg.EnabledTargets()
		if len(enabled) != 2 {
			t.Fatalf("len(EnabledTargets()) = %d, want 2", len(enabled))
		}
		sort.Strings(enabled)
		if enabled[0] != "target-a" || enabled[1] != "target-c" {
			t.Errorf("EnabledTargets() = %v, want [target-a target-c]", enabled)
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *TargetsConfig
		enabled := nilCfg.EnabledTargets()
		if enabled != nil {
			t.Error("EnabledTargets() should return nil for nil config")
		}
	})
}

func TestTargetsConfigDisabledTargets(t *testing.T) {
	cfg := &TargetsConfig{
		Targets: map[string]*TargetSettings{
			"target-a": {Enabled: true},
			"target-b": {Enabled: false},
		},
	}

	t.Run("returns disabled targets", func(t *testing.T) {
		disabled := cfg.DisabledTargets()
		if len(disabled) != 1 || disabled[0] != "target-b" {
			t.Errorf("DisabledTargets() = %v, want [target-b]", disabled)
		}
	})

	t.Run("nil config", func(t *testing.T) {
		var nilCfg *TargetsConfig
		disabled := nilCfg.DisabledTargets()
		if disabled != nil {
			t.Error("DisabledTargets() should return nil for nil config")
		}
	})
}

func TestTargetSettingsStruct(t *testing.T) {
	settings := TargetSettings{
		Enabled:     true,
		Description: "Test target",
		Extra: map[string]any{
			"key": "value",
		},
	}

	if !settings.Enabled {
		t.Error("Enabled should be true")
	}
	if settings.Description != "Test target" {
		t.Errorf("Description = %s, want 'Test target'", settings.Description)
	}
	if settings.Extra["key"] != "value" {
		t.Error("Extra map not set correctly")
	}
}
