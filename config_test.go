package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tuning-service/tuning"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.CAN.Generation != "gen4" {
		t.Errorf("expected default generation gen4, got %s", cfg.CAN.Generation)
	}
	if cfg.Limits.EcoKmh != 25 || cfg.Limits.SportKmh != 35 {
		t.Errorf("unexpected default limits: %+v", cfg.Limits)
	}
	if cfg.Tuning.Enabled {
		t.Error("tuning must default to disabled")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
can:
  generation: gen5smart
  heartbeat_ms: 250
sensor:
  pulses_per_revolution: 2
  default_mode: eco
tuning:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)

	if cfg.CAN.Generation != "gen5smart" {
		t.Errorf("expected gen5smart, got %s", cfg.CAN.Generation)
	}
	if cfg.CAN.HeartbeatMs != 250 {
		t.Errorf("expected heartbeat 250ms, got %d", cfg.CAN.HeartbeatMs)
	}
	if !cfg.Tuning.Enabled {
		t.Error("expected tuning enabled")
	}
	// Untouched sections keep their defaults.
	if cfg.Limits.AbsoluteMaxKmh != 60 {
		t.Errorf("expected default absolute max 60, got %.1f", cfg.Limits.AbsoluteMaxKmh)
	}

	scfg, err := cfg.SensorConfig()
	if err != nil {
		t.Fatalf("SensorConfig: %v", err)
	}
	if scfg.PulsesPerRevolution != 2 || scfg.DefaultMode != tuning.ModeEco {
		t.Errorf("unexpected sensor config: %+v", scfg)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TUNING_GENERATION", "gen2")
	t.Setenv("TUNING_ENABLED", "true")
	t.Setenv("TUNING_LISTEN_ADDR", ":9999")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))

	if cfg.CAN.Generation != "gen2" {
		t.Errorf("env generation override ignored: %s", cfg.CAN.Generation)
	}
	if !cfg.Tuning.Enabled {
		t.Error("env enabled override ignored")
	}
	if !cfg.Server.Enabled || cfg.Server.ListenAddr != ":9999" {
		t.Errorf("env listen addr override ignored: %+v", cfg.Server)
	}
}

func TestDeviceConfig_Converters(t *testing.T) {
	cfg := DefaultConfig()

	gen, err := cfg.Generation()
	if err != nil {
		t.Fatalf("Generation: %v", err)
	}
	if gen != tuning.Gen4 {
		t.Errorf("expected Gen4, got %s", gen)
	}

	params := cfg.ProcessingParams()
	if params.SignalTimeout != 3*time.Second {
		t.Errorf("expected 3s signal timeout, got %s", params.SignalTimeout)
	}

	cfg.CAN.Generation = "bogus"
	if _, err := cfg.Generation(); err == nil {
		t.Error("expected error for bogus generation")
	}

	cfg.Sensor.DefaultMode = "bogus"
	if _, err := cfg.SensorConfig(); err == nil {
		t.Error("expected error for bogus default mode")
	}
}
