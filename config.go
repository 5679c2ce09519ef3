package main

import (
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"tuning-service/tuning"
)

// DeviceConfig is the configuration snapshot consumed at start. Runtime
// changes go through the IPC setters, never through this struct.
type DeviceConfig struct {
	CAN    CANConfig    `yaml:"can"`
	Sensor SensorYAML   `yaml:"sensor"`
	Limits LimitsYAML   `yaml:"limits"`
	Safety SafetyYAML   `yaml:"safety"`
	Tuning TuningYAML   `yaml:"tuning"`
	Update UpdateConfig `yaml:"update"`
	Server ServerConfig `yaml:"server"`
}

type CANConfig struct {
	Generation        string `yaml:"generation"` // gen1..gen5smart
	Bitrate           int    `yaml:"bitrate"`
	EnableDiagnostics bool   `yaml:"enable_diagnostics"`
	HeartbeatMs       int    `yaml:"heartbeat_ms"`
	TimeoutMs         int    `yaml:"timeout_ms"`
	ErrorThreshold    uint32 `yaml:"error_threshold"`
	ProfilePath       string `yaml:"profile_path"` // optional .ini generation overrides
}

type SensorYAML struct {
	PulsesPerRevolution int     `yaml:"pulses_per_revolution"`
	WheelCircumferenceM float64 `yaml:"wheel_circumference_m"`
	MaxSpeedKmh         float64 `yaml:"max_speed_kmh"`
	DefaultMode         string  `yaml:"default_mode"`
	Smoothing           bool    `yaml:"smoothing"`
	SmoothingWindow     int     `yaml:"smoothing_window"`
	AntiAlias           bool    `yaml:"anti_alias"`
	AntiAliasKmh        float64 `yaml:"anti_alias_threshold_kmh"`
	Adaptive            bool    `yaml:"adaptive"`
	SignalTimeoutMs     int     `yaml:"signal_timeout_ms"`
	FrequencyDivider    float64 `yaml:"frequency_divider"`
}

type LimitsYAML struct {
	EcoKmh              float64 `yaml:"eco_kmh"`
	SportKmh            float64 `yaml:"sport_kmh"`
	StealthThresholdKmh float64 `yaml:"stealth_threshold_kmh"`
	StealthMarginKmh    float64 `yaml:"stealth_margin_kmh"`
	AbsoluteMaxKmh      float64 `yaml:"absolute_max_kmh"`
}

type SafetyYAML struct {
	TemperatureWarnC     float64 `yaml:"temperature_warn_c"`
	TemperatureCriticalC float64 `yaml:"temperature_critical_c"`
	QualityFloor         uint32  `yaml:"quality_floor"`
	QualityCritical      uint32  `yaml:"quality_critical"`
	RecoveryChecks       int     `yaml:"recovery_checks"`
}

type TuningYAML struct {
	Enabled bool `yaml:"enabled"`
	Stealth bool `yaml:"stealth"`
}

type UpdateConfig struct {
	ManifestURL string `yaml:"manifest_url"`
	IntervalS   int    `yaml:"interval_s"`
}

type ServerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *DeviceConfig {
	return &DeviceConfig{
		CAN: CANConfig{
			Generation:     "gen4",
			Bitrate:        500000,
			HeartbeatMs:    500,
			TimeoutMs:      2000,
			ErrorThreshold: 50,
		},
		Sensor: SensorYAML{
			PulsesPerRevolution: 1,
			WheelCircumferenceM: 2.2,
			MaxSpeedKmh:         99,
			DefaultMode:         "disabled",
			Smoothing:           true,
			SmoothingWindow:     8,
			AntiAlias:           true,
			AntiAliasKmh:        0.5,
			Adaptive:            true,
			SignalTimeoutMs:     3000,
			FrequencyDivider:    1.0,
		},
		Limits: LimitsYAML{
			EcoKmh:              25,
			SportKmh:            35,
			StealthThresholdKmh: 25,
			StealthMarginKmh:    1.5,
			AbsoluteMaxKmh:      60,
		},
		Safety: SafetyYAML{
			TemperatureWarnC:     70,
			TemperatureCriticalC: 85,
			QualityFloor:         50,
			QualityCritical:      20,
			RecoveryChecks:       3,
		},
		Update: UpdateConfig{
			IntervalS: 30,
		},
		Server: ServerConfig{
			Enabled:    false,
			ListenAddr: ":8090",
		},
	}
}

// LoadConfig reads the YAML snapshot, falling back to defaults, then
// applies environment variable overrides.
func LoadConfig(path string) *DeviceConfig {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Errorf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
	} else {
		log.Infof("[config] loaded from %s", path)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: TUNING_GENERATION, TUNING_ENABLED, TUNING_STEALTH,
// TUNING_LISTEN_ADDR, TUNING_UPDATE_URL.
func (c *DeviceConfig) applyEnvOverrides() {
	if v := os.Getenv("TUNING_GENERATION"); v != "" {
		c.CAN.Generation = v
	}
	if v := os.Getenv("TUNING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tuning.Enabled = b
		}
	}
	if v := os.Getenv("TUNING_STEALTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Tuning.Stealth = b
		}
	}
	if v := os.Getenv("TUNING_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
		c.Server.Enabled = true
	}
	if v := os.Getenv("TUNING_UPDATE_URL"); v != "" {
		c.Update.ManifestURL = v
	}
}

// Generation parses the configured Bosch generation.
func (c *DeviceConfig) Generation() (tuning.BoschGeneration, error) {
	return tuning.ParseGeneration(c.CAN.Generation)
}

// SensorConfig converts the YAML sensor section to the core type.
func (c *DeviceConfig) SensorConfig() (tuning.SensorConfig, error) {
	mode, err := tuning.ParseOperatingMode(c.Sensor.DefaultMode)
	if err != nil {
		return tuning.SensorConfig{}, err
	}
	return tuning.SensorConfig{
		PulsesPerRevolution: c.Sensor.PulsesPerRevolution,
		WheelCircumference:  c.Sensor.WheelCircumferenceM,
		MaxSpeedLimit:       c.Sensor.MaxSpeedKmh,
		DefaultMode:         mode,
		EnableSmoothing:     c.Sensor.Smoothing,
		EnableAntiAlias:     c.Sensor.AntiAlias,
	}, nil
}

// ProcessingParams converts the YAML sensor section to the core type.
func (c *DeviceConfig) ProcessingParams() tuning.ProcessingParams {
	return tuning.ProcessingParams{
		FrequencyDivider:   c.Sensor.FrequencyDivider,
		SmoothingWindow:    c.Sensor.SmoothingWindow,
		AntiAliasThreshold: c.Sensor.AntiAliasKmh,
		SignalTimeout:      time.Duration(c.Sensor.SignalTimeoutMs) * time.Millisecond,
		AdaptiveProcessing: c.Sensor.Adaptive,
	}
}

// ModeLimits converts the YAML limits section to the core type.
func (c *DeviceConfig) ModeLimits() tuning.ModeLimits {
	return tuning.ModeLimits{
		EcoCeiling:       c.Limits.EcoKmh,
		SportCeiling:     c.Limits.SportKmh,
		StealthThreshold: c.Limits.StealthThresholdKmh,
		StealthMargin:    c.Limits.StealthMarginKmh,
		AbsoluteMax:      c.Limits.AbsoluteMaxKmh,
	}
}

// SafetyConfig converts the YAML safety section to the core type.
func (c *DeviceConfig) SafetyConfig() tuning.SafetyConfig {
	return tuning.SafetyConfig{
		TemperatureWarn:     c.Safety.TemperatureWarnC,
		TemperatureCritical: c.Safety.TemperatureCriticalC,
		QualityFloor:        c.Safety.QualityFloor,
		QualityCritical:     c.Safety.QualityCritical,
		RecoveryChecks:      c.Safety.RecoveryChecks,
	}
}
