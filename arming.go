package main

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ArmEngineOnDelay is how long the vehicle must stay ready-to-drive before
// the tuning transform is allowed to activate.
const ArmEngineOnDelay = time.Second + 500*time.Millisecond

type VehicleState int

const (
	VehicleStateEngineNotReady VehicleState = iota
	VehicleStateEngineReady
)

// ArmingGate turns the externally published vehicle state into the
// supervisor's armed flag. Arming is delayed after power-on so the drive
// system has settled before any pulse manipulation starts; disarming is
// immediate.
type ArmingGate struct {
	armedCallback func(bool)
	vehicleState  VehicleState
	engineOnTimer *time.Timer
	mu            sync.Mutex
	ctx           context.Context
}

func NewArmingGate(ctx context.Context, armedCallback func(bool)) *ArmingGate {
	a := &ArmingGate{
		armedCallback: armedCallback,
		vehicleState:  VehicleStateEngineNotReady,
		ctx:           ctx,
	}

	a.engineOnTimer = time.NewTimer(ArmEngineOnDelay)
	a.engineOnTimer.Stop()

	go a.timerLoop()

	return a
}

func (a *ArmingGate) Destroy() {
	if a.engineOnTimer != nil {
		a.engineOnTimer.Stop()
	}
}

func (a *ArmingGate) timerLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.engineOnTimer.C:
			a.mu.Lock()
			if a.vehicleState == VehicleStateEngineReady {
				log.Infof("[ARMING] engine-on delay elapsed, arming")
				a.armedCallback(true)
			}
			a.mu.Unlock()
		}
	}
}

// HandleVehicleState maps a published vehicle state string onto the gate.
// Only "ready-to-drive" arms; every other state disarms immediately.
func (a *ArmingGate) HandleVehicleState(state string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := VehicleStateEngineNotReady
	if state == "ready-to-drive" {
		next = VehicleStateEngineReady
	}

	if next == a.vehicleState {
		return
	}
	a.vehicleState = next
	a.engineOnTimer.Stop()

	if next == VehicleStateEngineReady {
		log.Infof("[ARMING] ready-to-drive, awaiting engine-on delay (%.1fs)", ArmEngineOnDelay.Seconds())
		a.engineOnTimer.Reset(ArmEngineOnDelay)
	} else {
		log.Infof("[ARMING] vehicle state %q, disarming", state)
		a.armedCallback(false)
	}
}
