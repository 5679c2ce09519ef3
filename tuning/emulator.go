package tuning

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultSignalTimeout marks the input signal stale when no pulse
	// arrived within this window.
	DefaultSignalTimeout = 3 * time.Second

	// DefaultSmoothingWindow is the moving-average length used when
	// smoothing is enabled.
	DefaultSmoothingWindow = 8

	// selfTestSpeed and selfTestPulses drive the loopback self-test.
	selfTestSpeed  = 20.0
	selfTestPulses = 10
)

// speedWindow is a fixed-size moving average over emitted speed values.
// The oldest sample is replaced once the window is full.
type speedWindow struct {
	data  []float64
	head  int
	count int
	sum   float64
}

func newSpeedWindow(size int) *speedWindow {
	if size < 1 {
		size = DefaultSmoothingWindow
	}
	return &speedWindow{data: make([]float64, size)}
}

func (w *speedWindow) Reset() {
	w.head = 0
	w.count = 0
	w.sum = 0
	for i := range w.data {
		w.data[i] = 0
	}
}

func (w *speedWindow) Average(v float64) float64 {
	var last float64
	if w.count >= len(w.data) {
		last = w.data[w.head]
	} else {
		w.count++
	}
	w.data[w.head] = v
	w.sum = (w.sum - last) + v
	w.head = (w.head + 1) % len(w.data)
	return w.sum / float64(w.count)
}

// SensorEmulator consumes wheel pulse timestamps and regenerates a
// transformed pulse cadence according to the active operating mode. It is
// the single writer of SignalStats and of its mode fields; mode selection
// is written through setters by the safety monitor and configuration.
type SensorEmulator struct {
	mu     sync.RWMutex
	cfg    SensorConfig
	params ProcessingParams
	limits ModeLimits
	bounds DividerBounds
	driver PulseDriver

	defaults SensorConfig // for ResetCalibration

	mode         OperatingMode
	perfMode     PerformanceMode
	tuningActive bool

	ring   *captureRing
	window *speedWindow

	stats        SignalStats
	ringDropped  uint64 // ring drops already folded into stats
	lastCapture  time.Time
	lastInterval time.Duration
	lastEmitted  float64 // anti-alias reference, km/h
	divider      float64

	outputInterval time.Duration
	nextEdge       time.Time

	dropEMA   float64
	jitterEMA float64
}

// NewSensorEmulator creates an emulator. driver may be nil; edges are then
// discarded.
func NewSensorEmulator(cfg SensorConfig, params ProcessingParams, limits ModeLimits, driver PulseDriver) *SensorEmulator {
	if cfg.PulsesPerRevolution < 1 {
		cfg.PulsesPerRevolution = 1
	}
	if cfg.WheelCircumference <= 0 {
		cfg.WheelCircumference = 2.2
	}
	if cfg.MaxSpeedLimit <= 0 {
		cfg.MaxSpeedLimit = 99
	}
	if params.SignalTimeout <= 0 {
		params.SignalTimeout = DefaultSignalTimeout
	}
	if params.SmoothingWindow < 1 {
		params.SmoothingWindow = DefaultSmoothingWindow
	}
	if params.FrequencyDivider <= 0 {
		params.FrequencyDivider = 1
	}
	if driver == nil {
		driver = NullDriver{}
	}
	e := &SensorEmulator{
		cfg:      cfg,
		params:   params,
		limits:   limits,
		bounds:   DividerBounds{Min: 0.5, Max: 2.0, Slew: 0.25},
		driver:   driver,
		defaults: cfg,
		mode:     cfg.DefaultMode,
		perfMode: PerformanceNormal,
		ring:     newCaptureRing(DefaultCaptureRingSize),
		divider:  params.FrequencyDivider,
	}
	e.window = newSpeedWindow(params.SmoothingWindow)
	return e
}

// OnCapture records one input edge. Called from the capture interrupt
// context; it must never block or compute.
func (e *SensorEmulator) OnCapture(ts time.Time) {
	e.ring.Push(ts)
}

// Tick runs one processing cycle: drains captured edges, maintains signal
// validity, emits scheduled output edges and refreshes statistics.
func (e *SensorEmulator) Tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Edges lost to ring overflow are pulses that physically happened.
	if d := e.ring.Dropped(); d > e.ringDropped {
		n := d - e.ringDropped
		e.ringDropped = d
		e.stats.TotalPulses += n
		e.stats.DroppedPulses += n
	}

	for {
		ts, ok := e.ring.Pop()
		if !ok {
			break
		}
		e.processCapture(ts)
	}

	// Stale input: stop emitting rather than fabricate a signal.
	if e.stats.SignalValid && now.Sub(e.lastCapture) > e.params.SignalTimeout {
		e.stats.SignalValid = false
		e.outputInterval = 0
		e.stats.CurrentSpeed = 0
		e.stats.OutputSpeed = 0
		e.window.Reset()
		log.Warnf("[SENSOR] signal stale (no pulse for %s), output stopped", e.params.SignalTimeout)
	}

	if e.stats.SignalValid && e.outputInterval > 0 && !now.Before(e.nextEdge) {
		if err := e.driver.EmitEdge(now); err != nil {
			log.Errorf("[SENSOR] emit edge: %v", err)
		} else {
			e.stats.EmittedPulses++
		}
		next := e.nextEdge.Add(e.outputInterval)
		if next.Before(now) {
			next = now.Add(e.outputInterval)
		}
		e.nextEdge = next
	}

	e.updateQuality()
}

// processCapture runs the per-pulse pipeline. Caller holds the lock.
func (e *SensorEmulator) processCapture(ts time.Time) {
	e.stats.TotalPulses++

	// First pulse, or first after a stale gap: resync only.
	if e.lastCapture.IsZero() || !e.stats.SignalValid && ts.Sub(e.lastCapture) > e.params.SignalTimeout {
		e.stats.ValidPulses++
		e.stats.SignalValid = true
		e.lastCapture = ts
		e.stats.LastPulse = ts
		return
	}

	interval := ts.Sub(e.lastCapture)
	if interval <= 0 {
		// Zero-interval or out-of-order timestamp.
		e.stats.DroppedPulses++
		return
	}

	inputSpeed := e.speedFromInterval(interval)
	if inputSpeed > e.cfg.MaxSpeedLimit {
		// Contact bounce or electrical noise, not wheel motion.
		e.stats.DroppedPulses++
		e.lastCapture = ts
		e.dropEMA = 0.9*e.dropEMA + 0.1
		return
	}

	jitter := 0.0
	if e.lastInterval > 0 {
		jitter = math.Abs(float64(interval-e.lastInterval)) / float64(e.lastInterval)
		if jitter > 1 {
			jitter = 1
		}
	}
	e.jitterEMA = 0.9*e.jitterEMA + 0.1*jitter
	e.dropEMA = 0.9 * e.dropEMA

	e.stats.ValidPulses++
	e.stats.SignalValid = true
	e.lastCapture = ts
	e.lastInterval = interval
	e.stats.LastPulse = ts
	e.stats.CurrentSpeed = inputSpeed
	if inputSpeed > e.stats.MaxSpeed {
		e.stats.MaxSpeed = inputSpeed
	}
	if e.stats.AverageSpeed == 0 {
		e.stats.AverageSpeed = inputSpeed
	} else {
		e.stats.AverageSpeed += 0.1 * (inputSpeed - e.stats.AverageSpeed)
	}
	freq := 1 / interval.Seconds()
	if e.stats.AverageFrequency == 0 {
		e.stats.AverageFrequency = freq
	} else {
		e.stats.AverageFrequency += 0.1 * (freq - e.stats.AverageFrequency)
	}

	// Passthrough bypasses the whole output pipeline: with tuning off, or
	// forced off by the safety monitor, the emitted cadence is the captured
	// cadence, filters included.
	out := inputSpeed
	if e.tuningActive && e.mode != ModeDisabled {
		target := e.applyTransform(inputSpeed)
		if e.cfg.EnableSmoothing {
			target = e.window.Average(target)
		}
		if e.cfg.EnableAntiAlias && e.lastEmitted > 0 &&
			math.Abs(target-e.lastEmitted) < e.params.AntiAliasThreshold {
			target = e.lastEmitted
		}
		out = e.applyDivider(inputSpeed, target)
	}
	e.lastEmitted = out
	e.stats.OutputSpeed = out

	if out > 0 {
		e.outputInterval = e.intervalFromSpeed(out)
		if e.nextEdge.IsZero() || e.nextEdge.Before(ts) {
			e.nextEdge = ts.Add(e.outputInterval)
		}
	} else {
		e.outputInterval = 0
	}
}

// applyTransform runs the active mode strategy. Only reached while the
// transform pipeline is active; passthrough never gets here.
func (e *SensorEmulator) applyTransform(inputSpeed float64) float64 {
	out := transformFor(e.mode).Apply(inputSpeed, e.limits)
	if e.mode != ModeUnlimited && e.limits.AbsoluteMax > 0 && out > e.limits.AbsoluteMax {
		out = e.limits.AbsoluteMax
	}
	return out
}

// applyDivider derives the emitted speed from the target via the frequency
// divider. With adaptive processing the divider is recomputed from the
// input/target discrepancy within the generation's bounds and slew limit;
// otherwise the instantaneous ratio is used directly.
func (e *SensorEmulator) applyDivider(inputSpeed, target float64) float64 {
	if target <= 0 || inputSpeed <= 0 {
		return target
	}
	raw := inputSpeed / target
	if !e.params.AdaptiveProcessing {
		e.divider = raw
		return target
	}

	min, max, slew := e.bounds.Min, e.bounds.Max, e.bounds.Slew
	switch e.perfMode {
	case PerformanceReduced:
		slew *= 0.5
		if max > 1 {
			max = 1 + (max-1)*0.5
		}
	case PerformanceMaximum:
		slew *= 1.5
	}

	want := raw
	if want < min {
		want = min
	}
	if want > max {
		want = max
	}
	if slew > 0 {
		if want > e.divider+slew {
			want = e.divider + slew
		}
		if want < e.divider-slew {
			want = e.divider - slew
		}
	}
	e.divider = want
	return inputSpeed / e.divider
}

func (e *SensorEmulator) speedFromInterval(interval time.Duration) float64 {
	return e.cfg.WheelCircumference * 3.6 /
		(interval.Seconds() * float64(e.cfg.PulsesPerRevolution))
}

func (e *SensorEmulator) intervalFromSpeed(kmh float64) time.Duration {
	sec := e.cfg.WheelCircumference * 3.6 / (kmh * float64(e.cfg.PulsesPerRevolution))
	return time.Duration(sec * float64(time.Second))
}

// updateQuality recomputes the bounded 0..100 quality score from the recent
// drop rate and jitter. Caller holds the lock.
func (e *SensorEmulator) updateQuality() {
	q := 100*(1-e.dropEMA) - 30*e.jitterEMA
	if q < 0 {
		q = 0
	}
	if q > 100 {
		q = 100
	}
	e.stats.SignalQuality = uint32(q)
}

// --- mode and tuning control ---

func (e *SensorEmulator) SetOperatingMode(mode OperatingMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == mode {
		return
	}
	log.Infof("[SENSOR] operating mode %s -> %s", e.mode, mode)
	e.mode = mode
	e.window.Reset()
}

func (e *SensorEmulator) OperatingMode() OperatingMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

func (e *SensorEmulator) SetPerformanceMode(mode PerformanceMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.perfMode == mode {
		return
	}
	log.Infof("[SENSOR] performance mode %s -> %s", e.perfMode, mode)
	e.perfMode = mode
}

func (e *SensorEmulator) PerformanceMode() PerformanceMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.perfMode
}

// EnableTuning allows the mode transform to run. The supervisor calls this
// when entering TuningActive or StealthMode.
func (e *SensorEmulator) EnableTuning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tuningActive {
		log.Infof("[SENSOR] tuning enabled (mode %s)", e.mode)
	}
	e.tuningActive = true
}

// DisableTuning forces passthrough regardless of the selected mode. This is
// the fail-safe path; the mode selection itself is left untouched.
func (e *SensorEmulator) DisableTuning() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tuningActive {
		log.Warnf("[SENSOR] tuning disabled, passthrough active")
	}
	e.tuningActive = false
	e.window.Reset()
}

func (e *SensorEmulator) TuningActive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tuningActive
}

// --- runtime configuration setters ---

func (e *SensorEmulator) SetSpeedLimit(kmh float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kmh > 0 {
		e.limits.AbsoluteMax = kmh
	}
}

func (e *SensorEmulator) SetModeLimits(lim ModeLimits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = lim
}

func (e *SensorEmulator) ModeLimitsSnapshot() ModeLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// SetFrequencyDivider seeds the divider state; adaptive processing slews
// from this value.
func (e *SensorEmulator) SetFrequencyDivider(d float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d > 0 {
		e.divider = d
		e.params.FrequencyDivider = d
	}
}

func (e *SensorEmulator) FrequencyDivider() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.divider
}

// SetDividerBounds applies the generation-specific divider tolerance.
func (e *SensorEmulator) SetDividerBounds(b DividerBounds) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bounds = b
}

func (e *SensorEmulator) SetSmoothing(enable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.EnableSmoothing = enable
	e.window.Reset()
}

func (e *SensorEmulator) SetSmoothingWindow(size int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if size < 1 {
		return
	}
	e.params.SmoothingWindow = size
	e.window = newSpeedWindow(size)
}

func (e *SensorEmulator) SetAntiAlias(enable bool, threshold float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.EnableAntiAlias = enable
	if threshold > 0 {
		e.params.AntiAliasThreshold = threshold
	}
}

// SetAntiAliasThreshold adjusts the suppression window without touching the
// enable flag.
func (e *SensorEmulator) SetAntiAliasThreshold(threshold float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if threshold > 0 {
		e.params.AntiAliasThreshold = threshold
	}
}

func (e *SensorEmulator) SetAdaptiveProcessing(enable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.params.AdaptiveProcessing = enable
}

// Stats returns a read-only snapshot.
func (e *SensorEmulator) Stats() SignalStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// --- calibration and self-test ---
//
// These override the live capture source and are only reachable while the
// operating mode is Disabled, so a field unit cannot corrupt live
// processing.

func (e *SensorEmulator) calibrationAllowed() error {
	if e.mode != ModeDisabled || e.tuningActive {
		return ErrTuningActive
	}
	return nil
}

// CalibrateWheelCircumference solves the circumference from the last
// measured pulse interval and a reference speed supplied by the operator.
func (e *SensorEmulator) CalibrateWheelCircumference(refSpeedKmh float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.calibrationAllowed(); err != nil {
		return err
	}
	if e.lastInterval <= 0 {
		return ErrNoSignal
	}
	e.cfg.WheelCircumference = refSpeedKmh * e.lastInterval.Seconds() *
		float64(e.cfg.PulsesPerRevolution) / 3.6
	log.Infof("[SENSOR] wheel circumference calibrated to %.3f m", e.cfg.WheelCircumference)
	return nil
}

// CalibratePulseCount sets the pulses-per-revolution count.
func (e *SensorEmulator) CalibratePulseCount(ppr int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.calibrationAllowed(); err != nil {
		return err
	}
	if ppr < 1 {
		return ErrNoSignal
	}
	e.cfg.PulsesPerRevolution = ppr
	return nil
}

// ResetCalibration restores the configured session values.
func (e *SensorEmulator) ResetCalibration() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.calibrationAllowed(); err != nil {
		return err
	}
	e.cfg.WheelCircumference = e.defaults.WheelCircumference
	e.cfg.PulsesPerRevolution = e.defaults.PulsesPerRevolution
	return nil
}

// InjectTestPulse feeds one synthetic capture equivalent to the given
// speed, as if the wheel had produced it.
func (e *SensorEmulator) InjectTestPulse(speedKmh float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.calibrationAllowed(); err != nil {
		return err
	}
	if speedKmh <= 0 {
		return ErrNoSignal
	}
	interval := e.intervalFromSpeed(speedKmh)
	ts := e.lastCapture.Add(interval)
	if e.lastCapture.IsZero() {
		ts = time.Now()
	}
	e.processCapture(ts)
	return nil
}

// RunSelfTest injects a pulse train at a known speed and verifies the
// measured value is within tolerance.
func (e *SensorEmulator) RunSelfTest() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.calibrationAllowed(); err != nil {
		return err
	}
	interval := e.intervalFromSpeed(selfTestSpeed)
	ts := time.Now()
	for i := 0; i < selfTestPulses; i++ {
		ts = ts.Add(interval)
		e.processCapture(ts)
	}
	measured := e.stats.CurrentSpeed
	if math.Abs(measured-selfTestSpeed) > selfTestSpeed*0.05 {
		log.Errorf("[SENSOR] self-test failed: expected %.1f km/h, measured %.1f", selfTestSpeed, measured)
		return ErrSelfTestFailed
	}
	log.Infof("[SENSOR] self-test passed (%.2f km/h)", measured)
	return nil
}
