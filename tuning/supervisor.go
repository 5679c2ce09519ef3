package tuning

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Transition describes one supervisor state change.
type Transition struct {
	From SystemState
	To   SystemState
}

func (t Transition) Changed() bool { return t.From != t.To }

// Supervisor is the single writer of the top-level SystemState. All other
// components read snapshots through State(); none of them may transition
// it. Flag setters only record intent, applied on the next Step.
type Supervisor struct {
	mu    sync.RWMutex
	state SystemState

	tuningEnabled  bool
	stealthEnabled bool
	armed          bool
	shutdownReq    bool
}

func NewSupervisor() *Supervisor {
	return &Supervisor{state: StateInit, armed: true}
}

// State returns the current state snapshot.
func (s *Supervisor) State() SystemState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetTuningEnabled records the external tuning-enabled configuration flag.
func (s *Supervisor) SetTuningEnabled(enabled bool) {
	s.mu.Lock()
	s.tuningEnabled = enabled
	s.mu.Unlock()
}

func (s *Supervisor) TuningEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tuningEnabled
}

// SetStealthEnabled records the stealth-enabled configuration flag.
func (s *Supervisor) SetStealthEnabled(enabled bool) {
	s.mu.Lock()
	s.stealthEnabled = enabled
	s.mu.Unlock()
}

// SetArmed is driven by the vehicle-state arming gate; tuning cannot
// activate while unarmed.
func (s *Supervisor) SetArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

// RequestShutdown makes the next Step enter the terminal Shutdown state.
func (s *Supervisor) RequestShutdown() {
	s.mu.Lock()
	s.shutdownReq = true
	s.mu.Unlock()
}

// Step evaluates the transition rules once. Side effects (disabling the
// transform, sending the shutdown frame) belong to the caller.
func (s *Supervisor) Step(health HealthStatus, canRecover bool) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state

	switch {
	case s.shutdownReq && s.state != StateShutdown:
		s.state = StateShutdown

	case health.CriticalError && s.state != StateError && s.state != StateShutdown:
		s.state = StateError

	default:
		switch s.state {
		case StateInit:
			s.state = StateNormal
		case StateNormal:
			if s.tuningEnabled && s.armed {
				s.state = StateTuningActive
			}
		case StateTuningActive:
			if !s.tuningEnabled || !s.armed {
				s.state = StateNormal
			} else if s.stealthEnabled {
				s.state = StateStealthMode
			}
		case StateStealthMode:
			if !s.stealthEnabled || !s.tuningEnabled || !s.armed {
				s.state = StateTuningActive
			}
		case StateError:
			if canRecover {
				s.state = StateNormal
			}
		case StateShutdown:
			// Terminal.
		}
	}

	if s.state != from {
		log.Infof("[SUPERVISOR] %s -> %s", from, s.state)
	}
	return Transition{From: from, To: s.state}
}
