package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTargetsConfig(t *testing.T) {
	cfg := DefaultTargetsConfig()
	if cfg == nil {
		t.Fatal("DefaultTargetsConfig() returned nil")
	}

	expectedTargets := []string{"container", "remote-shell", "platform-a", "platform-b"}

	for _, name := range expectedTargets {
		settings, ok := cfg.Targets[name]
		if !ok {
			t.Errorf("missing target %q in default config", name)
			continue
		}
		if !settings.Enabled {
			t.Errorf("target %q should be enabled by default", name)
		}
		if settings.Description == "" {
			t.Errorf("target %q has no description", name)
		}
	}
}

func TestLoadTargetsConfigFromPath(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "targets.yaml")

		configContent := `
targets:
  container:
    enabled: true
    description: "Test container adapter"
`
		if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadTargetsConfigFromPath(configPath)
		if err != nil {
			t.Fatalf("LoadTargetsConfigFromPath() error = %v", err)
		}

		target, ok := cfg.Targets["container"]
		if !ok {
			t.Fatal("container not found in config")
		}
		if !target.Enabled {
			t.Error("target should be enabled")
		}
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := LoadTargetsConfigFromPath("/nonexistent/path/targets.yaml")
		if err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "targets.yaml")

		if err := os.WriteFile(configPath, []byte("invalid: yaml: content:"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadTargetsConfigFromPath(configPath)
		if err == nil {
			t.Error("expected error for invalid yaml")
		}
	})
}

func TestLoadTargetsConfigOrDefault(t *testing.T) {
	cfg := LoadTargetsConfigOrDefault()
	if cfg == nil {
		t.Fatal("LoadTargetsConfigOrDefault() returned nil")
	}
	if len(cfg.Targets) == 0 {
		t.Error("expected non-empty targets map")
	}
}
