package tuning

import (
	"math"
	"testing"
	"time"
)

func newTestEmulator(mods ...func(*SensorConfig, *ProcessingParams, *ModeLimits)) *SensorEmulator {
	cfg := SensorConfig{
		PulsesPerRevolution: 1,
		WheelCircumference:  2.2,
		MaxSpeedLimit:       99,
		DefaultMode:         ModeDisabled,
	}
	params := ProcessingParams{
		FrequencyDivider: 1.0,
		SmoothingWindow:  8,
		SignalTimeout:    3 * time.Second,
	}
	limits := ModeLimits{
		EcoCeiling:       25,
		SportCeiling:     35,
		StealthThreshold: 25,
		StealthMargin:    1.5,
		AbsoluteMax:      60,
	}
	for _, mod := range mods {
		mod(&cfg, &params, &limits)
	}
	return NewSensorEmulator(cfg, params, limits, nil)
}

// feedPulses pushes n edges at a constant speed and runs a processing cycle
// after each. Returns the timestamp of the last edge.
func feedPulses(e *SensorEmulator, start time.Time, speedKmh float64, n int) time.Time {
	interval := e.intervalFromSpeed(speedKmh)
	ts := start
	for i := 0; i < n; i++ {
		ts = ts.Add(interval)
		e.OnCapture(ts)
		e.Tick(ts)
	}
	return ts
}

func TestEmulator_MeasuresSpeed(t *testing.T) {
	e := newTestEmulator()
	feedPulses(e, time.Now(), 20, 5)

	stats := e.Stats()
	if !stats.SignalValid {
		t.Fatal("expected valid signal after pulse train")
	}
	if math.Abs(stats.CurrentSpeed-20) > 0.1 {
		t.Errorf("expected ~20 km/h, got %.2f", stats.CurrentSpeed)
	}
	// 20 km/h on a 2.2 m wheel with 1 ppr is ~2.53 Hz.
	if math.Abs(stats.AverageFrequency-2.53) > 0.1 {
		t.Errorf("expected ~2.53 Hz, got %.2f", stats.AverageFrequency)
	}
}

func TestEmulator_PassthroughWhenDisabled(t *testing.T) {
	e := newTestEmulator()
	// Tuning never enabled: output equals input even above every ceiling.
	feedPulses(e, time.Now(), 40, 5)

	stats := e.Stats()
	if math.Abs(stats.OutputSpeed-40) > 0.1 {
		t.Errorf("passthrough expected 40 km/h, got %.2f", stats.OutputSpeed)
	}
}

func TestEmulator_DisabledModeIsPassthroughEvenWhenEnabled(t *testing.T) {
	e := newTestEmulator()
	e.EnableTuning()
	feedPulses(e, time.Now(), 40, 5)

	stats := e.Stats()
	if math.Abs(stats.OutputSpeed-40) > 0.1 {
		t.Errorf("disabled mode must pass through, got %.2f", stats.OutputSpeed)
	}
}

func TestEmulator_EcoClamp(t *testing.T) {
	e := newTestEmulator()
	e.SetOperatingMode(ModeEco)
	e.EnableTuning()

	feedPulses(e, time.Now(), 40, 12)

	stats := e.Stats()
	if math.Abs(stats.OutputSpeed-25) > 0.2 {
		t.Errorf("eco at 40 km/h must report ~25, got %.2f", stats.OutputSpeed)
	}
	if math.Abs(stats.CurrentSpeed-40) > 0.1 {
		t.Errorf("measured speed must stay true: %.2f", stats.CurrentSpeed)
	}
}

func TestEmulator_DisableTuningForcesPassthrough(t *testing.T) {
	e := newTestEmulator()
	e.SetOperatingMode(ModeEco)
	e.EnableTuning()
	last := feedPulses(e, time.Now(), 40, 12)

	e.DisableTuning()
	feedPulses(e, last, 40, 12)

	stats := e.Stats()
	if math.Abs(stats.OutputSpeed-40) > 0.2 {
		t.Errorf("disable must force passthrough, got %.2f", stats.OutputSpeed)
	}
	// The selected mode survives the fail-safe.
	if e.OperatingMode() != ModeEco {
		t.Errorf("mode selection lost: %s", e.OperatingMode())
	}
}

func TestEmulator_PulseAccountingInvariant(t *testing.T) {
	e := newTestEmulator()
	now := time.Now()
	last := feedPulses(e, now, 20, 10)

	// An implausibly fast pulse is dropped.
	e.OnCapture(last.Add(time.Millisecond))
	e.Tick(last.Add(time.Millisecond))

	stats := e.Stats()
	if stats.TotalPulses != stats.ValidPulses+stats.DroppedPulses {
		t.Errorf("invariant broken: total=%d valid=%d dropped=%d",
			stats.TotalPulses, stats.ValidPulses, stats.DroppedPulses)
	}
	if stats.DroppedPulses == 0 {
		t.Error("expected the implausible pulse to be dropped")
	}
}

func TestEmulator_ImplausibleSpeedDropped(t *testing.T) {
	e := newTestEmulator()
	now := time.Now()
	last := feedPulses(e, now, 20, 5)
	before := e.Stats()

	// Interval equivalent to 150 km/h, over the 99 km/h plausibility limit.
	fast := e.intervalFromSpeed(150)
	e.OnCapture(last.Add(fast))
	e.Tick(last.Add(fast))

	stats := e.Stats()
	if stats.DroppedPulses != before.DroppedPulses+1 {
		t.Errorf("expected one more dropped pulse, got %d", stats.DroppedPulses)
	}
	if math.Abs(stats.CurrentSpeed-20) > 0.5 {
		t.Errorf("speed must not jump on a dropped pulse: %.2f", stats.CurrentSpeed)
	}
}

func TestEmulator_StaleSignalStopsOutput(t *testing.T) {
	e := newTestEmulator()
	last := feedPulses(e, time.Now(), 20, 5)

	e.Tick(last.Add(4 * time.Second))

	stats := e.Stats()
	if stats.SignalValid {
		t.Error("expected invalid signal after timeout")
	}
	if stats.OutputSpeed != 0 || stats.CurrentSpeed != 0 {
		t.Errorf("stale signal must zero speeds, got in=%.1f out=%.1f",
			stats.CurrentSpeed, stats.OutputSpeed)
	}

	// Recovery: the first pulse after a gap only resyncs.
	resync := last.Add(5 * time.Second)
	e.OnCapture(resync)
	e.Tick(resync)
	if !e.Stats().SignalValid {
		t.Error("expected valid signal after resync pulse")
	}

	feedPulses(e, resync, 20, 3)
	if math.Abs(e.Stats().CurrentSpeed-20) > 0.1 {
		t.Errorf("expected ~20 km/h after recovery, got %.2f", e.Stats().CurrentSpeed)
	}
}

func TestEmulator_EmitsEdges(t *testing.T) {
	e := newTestEmulator()
	last := feedPulses(e, time.Now(), 20, 5)

	before := e.Stats().EmittedPulses
	interval := e.intervalFromSpeed(20)
	for i := 0; i < 5; i++ {
		last = last.Add(interval)
		e.OnCapture(last)
		e.Tick(last)
	}
	if e.Stats().EmittedPulses <= before {
		t.Error("expected output edges while signal is valid")
	}
}

func TestEmulator_MaxSpeedTracked(t *testing.T) {
	e := newTestEmulator()
	now := time.Now()
	last := feedPulses(e, now, 20, 5)
	feedPulses(e, last, 35, 5)

	stats := e.Stats()
	if math.Abs(stats.MaxSpeed-35) > 0.5 {
		t.Errorf("expected max ~35 km/h, got %.2f", stats.MaxSpeed)
	}
}

func TestEmulator_AdaptiveDividerBounded(t *testing.T) {
	e := newTestEmulator(func(_ *SensorConfig, p *ProcessingParams, _ *ModeLimits) {
		p.AdaptiveProcessing = true
	})
	e.SetDividerBounds(DividerBounds{Min: 0.5, Max: 1.3, Slew: 0.1})
	e.SetOperatingMode(ModeEco)
	e.EnableTuning()

	// 40 km/h against a 25 km/h ceiling wants divider 1.6, clamped to 1.3
	// and approached at the slew rate.
	feedPulses(e, time.Now(), 40, 30)

	d := e.FrequencyDivider()
	if d > 1.3+1e-9 {
		t.Errorf("divider exceeded bound: %.3f", d)
	}
	if d < 1.29 {
		t.Errorf("divider should converge to the bound, got %.3f", d)
	}

	stats := e.Stats()
	want := 40.0 / 1.3
	if math.Abs(stats.OutputSpeed-want) > 0.5 {
		t.Errorf("expected output ~%.2f (input/divider), got %.2f", want, stats.OutputSpeed)
	}
}

func TestEmulator_ReducedPerformanceTightensDivider(t *testing.T) {
	e := newTestEmulator(func(_ *SensorConfig, p *ProcessingParams, _ *ModeLimits) {
		p.AdaptiveProcessing = true
	})
	e.SetDividerBounds(DividerBounds{Min: 0.5, Max: 1.8, Slew: 0.2})
	e.SetOperatingMode(ModeEco)
	e.EnableTuning()
	e.SetPerformanceMode(PerformanceReduced)

	feedPulses(e, time.Now(), 40, 30)

	// Reduced mode halves the headroom above 1.0: max 1.8 becomes 1.4.
	if d := e.FrequencyDivider(); d > 1.4+1e-9 {
		t.Errorf("reduced mode divider exceeded tightened bound: %.3f", d)
	}
}

func TestEmulator_CalibrationGuard(t *testing.T) {
	e := newTestEmulator()
	feedPulses(e, time.Now(), 20, 5)

	e.SetOperatingMode(ModeEco)
	if err := e.CalibrateWheelCircumference(10); err != ErrTuningActive {
		t.Errorf("expected ErrTuningActive with mode eco, got %v", err)
	}

	e.SetOperatingMode(ModeDisabled)
	e.EnableTuning()
	if err := e.CalibratePulseCount(2); err != ErrTuningActive {
		t.Errorf("expected ErrTuningActive while tuning active, got %v", err)
	}

	e.DisableTuning()
	if err := e.CalibratePulseCount(2); err != nil {
		t.Errorf("calibration should be allowed when idle: %v", err)
	}
}

func TestEmulator_CalibrateWheelCircumference(t *testing.T) {
	e := newTestEmulator()
	feedPulses(e, time.Now(), 20, 5)

	// Operator says the wheel is actually doing 10 km/h, so the
	// circumference must be half the configured 2.2 m.
	if err := e.CalibrateWheelCircumference(10); err != nil {
		t.Fatalf("CalibrateWheelCircumference: %v", err)
	}
	if math.Abs(e.cfg.WheelCircumference-1.1) > 0.01 {
		t.Errorf("expected ~1.1 m, got %.3f", e.cfg.WheelCircumference)
	}

	if err := e.ResetCalibration(); err != nil {
		t.Fatalf("ResetCalibration: %v", err)
	}
	if e.cfg.WheelCircumference != 2.2 {
		t.Errorf("expected 2.2 m after reset, got %.3f", e.cfg.WheelCircumference)
	}
}

func TestEmulator_CalibrateWithoutSignal(t *testing.T) {
	e := newTestEmulator()
	if err := e.CalibrateWheelCircumference(20); err != ErrNoSignal {
		t.Errorf("expected ErrNoSignal, got %v", err)
	}
}

func TestEmulator_SelfTest(t *testing.T) {
	e := newTestEmulator()
	if err := e.RunSelfTest(); err != nil {
		t.Errorf("self-test should pass on a sane configuration: %v", err)
	}

	e.SetOperatingMode(ModeSport)
	if err := e.RunSelfTest(); err != ErrTuningActive {
		t.Errorf("self-test must be refused outside disabled mode, got %v", err)
	}
}

func TestEmulator_InjectTestPulse(t *testing.T) {
	e := newTestEmulator()

	for i := 0; i < 5; i++ {
		if err := e.InjectTestPulse(20); err != nil {
			t.Fatalf("InjectTestPulse: %v", err)
		}
	}
	if math.Abs(e.Stats().CurrentSpeed-20) > 0.1 {
		t.Errorf("expected ~20 km/h from injected pulses, got %.2f", e.Stats().CurrentSpeed)
	}

	if err := e.InjectTestPulse(-1); err != ErrNoSignal {
		t.Errorf("expected ErrNoSignal for non-positive speed, got %v", err)
	}
}

func TestEmulator_SmoothingDampensStep(t *testing.T) {
	e := newTestEmulator(func(c *SensorConfig, _ *ProcessingParams, _ *ModeLimits) {
		c.EnableSmoothing = true
	})
	e.SetOperatingMode(ModeSport)
	e.EnableTuning()
	now := time.Now()
	last := feedPulses(e, now, 20, 10)

	// One faster pulse: the smoothed output moves only part of the way.
	next := last.Add(e.intervalFromSpeed(30))
	e.OnCapture(next)
	e.Tick(next)

	out := e.Stats().OutputSpeed
	if out >= 29 {
		t.Errorf("smoothing should dampen the step, got %.2f", out)
	}
	if out < 20 {
		t.Errorf("smoothed output below previous level: %.2f", out)
	}
}

func TestEmulator_AntiAliasSuppression(t *testing.T) {
	e := newTestEmulator(func(c *SensorConfig, p *ProcessingParams, _ *ModeLimits) {
		c.EnableAntiAlias = true
		p.AntiAliasThreshold = 0.5
	})
	e.SetOperatingMode(ModeSport)
	e.EnableTuning()
	now := time.Now()
	last := feedPulses(e, now, 20, 5)
	stable := e.Stats().OutputSpeed

	// A 0.2 km/h wobble stays under the threshold and is suppressed.
	next := last.Add(e.intervalFromSpeed(20.2))
	e.OnCapture(next)
	e.Tick(next)

	if got := e.Stats().OutputSpeed; got != stable {
		t.Errorf("sub-threshold change must be suppressed: %.2f != %.2f", got, stable)
	}
}

func TestEmulator_PassthroughBypassesFilters(t *testing.T) {
	e := newTestEmulator(func(c *SensorConfig, p *ProcessingParams, _ *ModeLimits) {
		c.EnableSmoothing = true
		c.EnableAntiAlias = true
		p.AntiAliasThreshold = 0.5
		p.AdaptiveProcessing = true
	})

	// Tuning never enabled: a speed step must show up immediately, not
	// lagged by the smoothing window or stuck by the anti-alias filter.
	last := feedPulses(e, time.Now(), 20, 10)
	next := last.Add(e.intervalFromSpeed(40))
	e.OnCapture(next)
	e.Tick(next)

	if got := e.Stats().OutputSpeed; math.Abs(got-40) > 0.1 {
		t.Errorf("passthrough must report the true speed, got %.2f", got)
	}

	// Same after the safety monitor forces passthrough mid-ride.
	e.SetOperatingMode(ModeEco)
	e.EnableTuning()
	last = feedPulses(e, next, 40, 10)
	e.DisableTuning()

	next = last.Add(e.intervalFromSpeed(30))
	e.OnCapture(next)
	e.Tick(next)
	if got := e.Stats().OutputSpeed; math.Abs(got-30) > 0.1 {
		t.Errorf("fail-safe output must track the true speed, got %.2f", got)
	}
}

func TestEmulator_SetAntiAliasThreshold(t *testing.T) {
	e := newTestEmulator(func(c *SensorConfig, p *ProcessingParams, _ *ModeLimits) {
		c.EnableAntiAlias = true
		p.AntiAliasThreshold = 0.5
	})
	e.SetOperatingMode(ModeSport)
	e.EnableTuning()
	last := feedPulses(e, time.Now(), 20, 5)
	stable := e.Stats().OutputSpeed

	// Widening the window suppresses a 1 km/h wobble that the initial
	// 0.5 km/h threshold would have let through.
	e.SetAntiAliasThreshold(2.0)
	next := last.Add(e.intervalFromSpeed(21))
	e.OnCapture(next)
	e.Tick(next)

	if got := e.Stats().OutputSpeed; got != stable {
		t.Errorf("change under the widened threshold must be suppressed: %.2f != %.2f", got, stable)
	}
}

func TestEmulator_QualityDegradesOnDrops(t *testing.T) {
	e := newTestEmulator()
	now := time.Now()
	last := feedPulses(e, now, 20, 10)

	clean := e.Stats().SignalQuality
	if clean < 90 {
		t.Fatalf("expected high quality on a clean train, got %d", clean)
	}

	// A burst of bounce pulses drags quality down.
	for i := 0; i < 20; i++ {
		last = last.Add(time.Millisecond)
		e.OnCapture(last)
		e.Tick(last)
	}
	if got := e.Stats().SignalQuality; got >= clean {
		t.Errorf("quality should degrade on drops: %d >= %d", got, clean)
	}
}
