package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FAULTSIM_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":50051" || cfg.Storage.Backend != BackendMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Simulation.Lookback != 120*time.Second || cfg.Simulation.Seed != 42 {
		t.Fatalf("unexpected simulation defaults: %+v", cfg.Simulation)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "faultsim.yaml")
	data := []byte(`
server:
  address: ":6000"
storage:
  backend: file
  dir: /var/lib/faultsim
simulation:
  seed: 7
  interval: 500ms
  profiles:
    temperature:
      startValue: 40
      min: 20
      max: 90
      noise: 0.5
      trend: 0.05
      period: 5m
detection:
  bounds:
    temperature: {lower: 25, upper: 60}
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FAULTSIM_SEED", "99")
	t.Setenv("FAULTSIM_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":6000" || cfg.Storage.Dir != "/var/lib/faultsim" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Simulation.Seed != 99 {
		t.Fatalf("expected env seed override, got %d", cfg.Simulation.Seed)
	}
	if cfg.Simulation.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected interval %v", cfg.Simulation.Interval)
	}
	if p := cfg.Simulation.Profiles["temperature"]; p.Period != 5*time.Minute || p.Max != 90 {
		t.Fatalf("unexpected profile %+v", p)
	}
	if cfg.Detection.Bounds["temperature"].Upper != 60 {
		t.Fatalf("unexpected bounds %+v", cfg.Detection.Bounds)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("expected json logging")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FAULTSIM_STORAGE_BACKEND", "etcd")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected unknown backend to be rejected")
	}
	t.Setenv("FAULTSIM_STORAGE_BACKEND", "valkey")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected missing valkey addr to be rejected")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
