package tuning

import (
	"context"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

// PulseDriver emits output pulse edges towards the motor controller. The
// hardware-adjacent implementation lives outside this package; the emulator
// only ever asks for the next edge.
type PulseDriver interface {
	EmitEdge(at time.Time) error
}

// NullDriver discards edges. Used when no output line is wired and in tests.
type NullDriver struct{}

func (NullDriver) EmitEdge(time.Time) error { return nil }

// DemoSource synthesizes wheel pulses for bench use: it ramps speed up and
// down over a fixed profile and feeds edges into a capture callback at the
// cadence a real sensor would produce.
type DemoSource struct {
	PulsesPerRevolution int
	WheelCircumference  float64 // meters
	PeakSpeed           float64 // km/h
	Period              time.Duration
}

// Run produces edges until the context is cancelled. emit is called from
// this goroutine only, satisfying the single-producer contract.
func (d *DemoSource) Run(ctx context.Context, emit func(time.Time)) {
	ppr := d.PulsesPerRevolution
	if ppr < 1 {
		ppr = 1
	}
	circ := d.WheelCircumference
	if circ <= 0 {
		circ = 2.2
	}
	peak := d.PeakSpeed
	if peak <= 0 {
		peak = 35
	}
	period := d.Period
	if period <= 0 {
		period = 60 * time.Second
	}

	log.Infof("[SENSOR] demo source running: peak %.1f km/h over %s", peak, period)
	start := time.Now()
	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	for {
		elapsed := time.Since(start)
		phase := float64(elapsed%period) / float64(period)
		// Smooth ramp up then down across the period.
		speed := peak * 0.5 * (1 - math.Cos(2*math.Pi*phase))
		var next time.Duration
		if speed < 1 {
			next = 500 * time.Millisecond // standstill, poll for the ramp
		} else {
			intervalSec := circ * 3.6 / (speed * float64(ppr))
			next = time.Duration(intervalSec * float64(time.Second))
		}
		timer.Reset(next)
		select {
		case <-ctx.Done():
			return
		case now := <-timer.C:
			if speed >= 1 {
				emit(now)
			}
		}
	}
}
