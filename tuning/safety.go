package tuning

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// StatusSource and StatsSource are the views the safety monitor needs of
// the protocol handler and emulator.
type StatusSource interface {
	Status() SystemStatus
	ErrorsExceeded() bool
}

type StatsSource interface {
	Stats() SignalStats
}

// TemperatureSource supplies the controller temperature reading in °C. The
// sensor itself is a collaborator outside the core.
type TemperatureSource func() (float64, error)

// SafetyMonitor periodically evaluates system health. It never transitions
// system state itself; the supervisor interprets its verdicts.
type SafetyMonitor struct {
	mu       sync.Mutex
	cfg      SafetyConfig
	protocol StatusSource
	emulator StatsSource
	tempSrc  TemperatureSource

	lastHealth HealthStatus
	goodStreak int
}

func NewSafetyMonitor(cfg SafetyConfig, protocol StatusSource, emulator StatsSource, tempSrc TemperatureSource) *SafetyMonitor {
	if cfg.RecoveryChecks < 1 {
		cfg.RecoveryChecks = 3
	}
	if cfg.TemperatureWarn <= 0 {
		cfg.TemperatureWarn = 70
	}
	if cfg.TemperatureCritical <= 0 {
		cfg.TemperatureCritical = 85
	}
	if cfg.QualityFloor == 0 {
		cfg.QualityFloor = 50
	}
	if cfg.QualityCritical == 0 {
		cfg.QualityCritical = 20
	}
	if tempSrc == nil {
		tempSrc = func() (float64, error) { return 0, ErrNoSignal }
	}
	return &SafetyMonitor{
		cfg:      cfg,
		protocol: protocol,
		emulator: emulator,
		tempSrc:  tempSrc,
	}
}

// CheckHealth combines the protocol error counter, the signal quality and
// the temperature reading into one verdict. Invoked on a coarse period.
func (sm *SafetyMonitor) CheckHealth(now time.Time) HealthStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	h := HealthStatus{OK: true}

	if temp, err := sm.tempSrc(); err == nil {
		if temp >= sm.cfg.TemperatureCritical {
			h = critical(FaultOverTemperature, fmt.Sprintf("temperature %.1f°C over critical limit", temp))
		} else if temp >= sm.cfg.TemperatureWarn {
			h.TemperatureWarning = true
			h.Fault = FaultOverTemperature
			h.Reason = fmt.Sprintf("temperature %.1f°C over warning limit", temp)
		}
	}

	if !h.CriticalError && sm.protocol != nil && sm.protocol.ErrorsExceeded() {
		h = critical(FaultChecksumErrors, "frame error count over threshold")
	}

	if !h.CriticalError && sm.emulator != nil {
		stats := sm.emulator.Stats()
		if stats.SignalValid {
			if stats.SignalQuality < sm.cfg.QualityCritical {
				h = critical(FaultSignalQualityLow, fmt.Sprintf("signal quality %d below critical floor", stats.SignalQuality))
			} else if stats.SignalQuality < sm.cfg.QualityFloor {
				h.TemperatureWarning = true
				if h.Reason == "" {
					h.Fault = FaultSignalQualityLow
					h.Reason = fmt.Sprintf("signal quality %d below floor", stats.SignalQuality)
				}
			}
		}
	}

	h.OK = !h.CriticalError && !h.TemperatureWarning

	// Recovery debounce: a single good reading is not recovery.
	if h.CriticalError {
		sm.goodStreak = 0
	} else {
		sm.goodStreak++
	}

	if h.CriticalError && !sm.lastHealth.CriticalError {
		log.Errorf("[SAFETY] critical: %s", h.Reason)
	} else if h.TemperatureWarning && !sm.lastHealth.TemperatureWarning {
		log.Warnf("[SAFETY] warning: %s", h.Reason)
	} else if h.OK && !sm.lastHealth.OK {
		log.Infof("[SAFETY] healthy again (streak %d/%d)", sm.goodStreak, sm.cfg.RecoveryChecks)
	}
	sm.lastHealth = h
	return h
}

// CanRecover reports whether the triggering condition has stayed clear for
// the debounce period. Re-evaluated every health check while in Error.
func (sm *SafetyMonitor) CanRecover() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.goodStreak >= sm.cfg.RecoveryChecks
}

// LastHealth returns the most recent verdict.
func (sm *SafetyMonitor) LastHealth() HealthStatus {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.lastHealth
}

func critical(fault TuningFault, reason string) HealthStatus {
	return HealthStatus{CriticalError: true, Fault: fault, Reason: reason}
}
