package tuning

import (
	"fmt"
	"time"
)

// BoschGeneration selects which message layout and checksum rule the
// protocol handler applies. Changing it takes effect on the next frame.
type BoschGeneration int

const (
	Gen1 BoschGeneration = iota + 1
	Gen2
	Gen3
	Gen4
	Gen5Smart
)

func (g BoschGeneration) String() string {
	switch g {
	case Gen1:
		return "gen1"
	case Gen2:
		return "gen2"
	case Gen3:
		return "gen3"
	case Gen4:
		return "gen4"
	case Gen5Smart:
		return "gen5smart"
	default:
		return fmt.Sprintf("gen?(%d)", int(g))
	}
}

// ParseGeneration maps a configuration string to a BoschGeneration.
func ParseGeneration(s string) (BoschGeneration, error) {
	switch s {
	case "gen1", "1":
		return Gen1, nil
	case "gen2", "2":
		return Gen2, nil
	case "gen3", "3":
		return Gen3, nil
	case "gen4", "4":
		return Gen4, nil
	case "gen5smart", "gen5", "5":
		return Gen5Smart, nil
	default:
		return 0, fmt.Errorf("unknown bosch generation %q", s)
	}
}

// OperatingMode selects the speed transform applied by the emulator.
type OperatingMode int

const (
	ModeDisabled OperatingMode = iota
	ModeEco
	ModeSport
	ModeUnlimited
	ModeStealth
)

func (m OperatingMode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeEco:
		return "eco"
	case ModeSport:
		return "sport"
	case ModeUnlimited:
		return "unlimited"
	case ModeStealth:
		return "stealth"
	default:
		return fmt.Sprintf("mode?(%d)", int(m))
	}
}

// ParseOperatingMode maps a configuration string to an OperatingMode.
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch s {
	case "disabled", "off":
		return ModeDisabled, nil
	case "eco":
		return ModeEco, nil
	case "sport":
		return ModeSport, nil
	case "unlimited":
		return ModeUnlimited, nil
	case "stealth":
		return ModeStealth, nil
	default:
		return ModeDisabled, fmt.Errorf("unknown operating mode %q", s)
	}
}

// PerformanceMode is selected by the safety monitor; Reduced tightens the
// emulator's divider bounds and slew.
type PerformanceMode int

const (
	PerformanceNormal PerformanceMode = iota
	PerformanceReduced
	PerformanceMaximum
)

func (p PerformanceMode) String() string {
	switch p {
	case PerformanceNormal:
		return "normal"
	case PerformanceReduced:
		return "reduced"
	case PerformanceMaximum:
		return "maximum"
	default:
		return fmt.Sprintf("perf?(%d)", int(p))
	}
}

// SystemState is the top-level state owned by the Supervisor. All other
// components treat it as read-only input.
type SystemState int

const (
	StateInit SystemState = iota
	StateNormal
	StateTuningActive
	StateStealthMode
	StateError
	StateShutdown
)

func (s SystemState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateNormal:
		return "normal"
	case StateTuningActive:
		return "tuning-active"
	case StateStealthMode:
		return "stealth-mode"
	case StateError:
		return "error"
	case StateShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("state?(%d)", int(s))
	}
}

// SystemStatus is the protocol handler's view of the drive system.
// It is exposed to other components as a by-value snapshot.
type SystemStatus struct {
	Connected    bool
	CurrentSpeed float64 // km/h as reported on the bus
	MotorPower   uint8   // percent
	BatteryLevel uint8   // percent
	AssistLevel  uint8
	LastMessage  time.Time
	LastError    uint16
	ErrorCount   uint32
	ValidFrames  uint64
}

// SensorConfig holds the static per-session sensor tuning values.
// Replaced wholesale on reconfiguration, never partially mutated.
type SensorConfig struct {
	PulsesPerRevolution int
	WheelCircumference  float64 // meters
	MaxSpeedLimit       float64 // km/h, absolute plausibility ceiling
	DefaultMode         OperatingMode
	EnableSmoothing     bool
	EnableAntiAlias     bool
}

// ProcessingParams are the emulator's signal-processing knobs.
type ProcessingParams struct {
	FrequencyDivider   float64
	SmoothingWindow    int
	AntiAliasThreshold float64 // km/h, changes smaller than this are suppressed
	SignalTimeout      time.Duration
	AdaptiveProcessing bool
}

// ModeLimits holds the per-mode ceilings and the stealth threshold rule.
// The stealth threshold is configurable rather than hard-coded.
type ModeLimits struct {
	EcoCeiling       float64 // km/h
	SportCeiling     float64 // km/h
	StealthThreshold float64 // km/h, the controller's assist cut-off
	StealthMargin    float64 // km/h reported below the threshold
	AbsoluteMax      float64 // km/h
}

// SignalStats are the emulator's running counters. Updated once per
// processing cycle, read by the safety monitor and diagnostics.
type SignalStats struct {
	TotalPulses      uint64
	ValidPulses      uint64
	DroppedPulses    uint64
	EmittedPulses    uint64
	CurrentSpeed     float64 // km/h measured at the wheel
	OutputSpeed      float64 // km/h as emitted
	AverageSpeed     float64
	MaxSpeed         float64
	AverageFrequency float64 // Hz
	LastPulse        time.Time
	SignalQuality    uint32 // 0..100
	SignalValid      bool
}

// HealthStatus is the safety monitor's verdict for one check period.
type HealthStatus struct {
	OK                 bool
	TemperatureWarning bool
	CriticalError      bool
	Fault              TuningFault
	Reason             string
}

// SafetyConfig holds the safety monitor thresholds.
type SafetyConfig struct {
	TemperatureWarn     float64 // °C
	TemperatureCritical float64 // °C
	QualityFloor        uint32  // below this the signal is degraded
	QualityCritical     uint32  // below this the signal is unusable
	RecoveryChecks      int     // consecutive good checks before recovery
}
