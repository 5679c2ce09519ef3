package main

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/brutella/can"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"tuning-service/tuning"
)

// Task periods, matching the firmware-style cadence of each concern: fast
// edge regeneration, bus housekeeping, coarse safety checks.
const (
	sensorTickPeriod  = 5 * time.Millisecond
	canTickPeriod     = 10 * time.Millisecond
	safetyCheckPeriod = 1 * time.Second
	supervisorPeriod  = 100 * time.Millisecond
	telemetryPeriod   = 500 * time.Millisecond
	speedReflectEvery = 10 // CAN ticks between reflected speed frames
	demoPeakSpeed     = 42.0
	demoRampPeriod    = 90 * time.Second
)

type TuningApp struct {
	redis      *redis.Client
	ipcRx      *IPCRx
	ipcTx      *IPCTx
	diag       *Diag
	arming     *ArmingGate
	diagServer *DiagServer
	updater    *Updater

	protocol   *tuning.ProtocolHandler
	emulator   *tuning.SensorEmulator
	safety     *tuning.SafetyMonitor
	supervisor *tuning.Supervisor

	demo *tuning.DemoSource

	mu             sync.Mutex
	lastHealth     tuning.HealthStatus
	preStealthMode tuning.OperatingMode

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	done         chan struct{}
	shutdownOnce sync.Once
}

func NewTuningApp(opts *Options, cfg *DeviceConfig) (*TuningApp, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &TuningApp{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	app.redis = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.RedisServerAddr, opts.RedisServerPort),
		Password:     "",
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	defer connectCancel()

	log.Infof("connecting to redis at %s:%d...", opts.RedisServerAddr, opts.RedisServerPort)
	if err := app.redis.Ping(connectCtx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	app.ipcTx = NewIPCTx(app.redis)
	app.diag = NewDiag(app.redis)

	go app.redisHealthCheck()

	sensorCfg, err := cfg.SensorConfig()
	if err != nil {
		cancel()
		return nil, err
	}
	app.emulator = tuning.NewSensorEmulator(sensorCfg, cfg.ProcessingParams(), cfg.ModeLimits(), tuning.NullDriver{})

	gen, err := cfg.Generation()
	if err != nil {
		cancel()
		return nil, err
	}

	var publish tuning.PublishFunc
	if opts.CANDevice != "" && opts.CANDevice != "none" {
		bus, err := can.NewBusForInterfaceWithName(opts.CANDevice)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize CAN bus: %v", err)
		}
		publish = bus.Publish
		bus.Subscribe(&frameHandler{app: app})
		go func() {
			if err := bus.ConnectAndPublish(); err != nil {
				log.Errorf("[CAN] bus publish error: %v", err)
			}
		}()
	} else {
		log.Warnf("[CAN] no bus device configured, frames are discarded")
	}

	app.protocol, err = tuning.NewProtocolHandler(gen, publish, app.emulator.TuningActive)
	if err != nil {
		cancel()
		return nil, err
	}
	if cfg.CAN.HeartbeatMs > 0 {
		app.protocol.SetHeartbeatInterval(time.Duration(cfg.CAN.HeartbeatMs) * time.Millisecond)
	}
	if cfg.CAN.TimeoutMs > 0 {
		app.protocol.SetConnectionTimeout(time.Duration(cfg.CAN.TimeoutMs) * time.Millisecond)
	}
	if cfg.CAN.ErrorThreshold > 0 {
		app.protocol.SetErrorThreshold(cfg.CAN.ErrorThreshold)
	}
	app.protocol.SetDiagnostics(cfg.CAN.EnableDiagnostics)
	if cfg.CAN.ProfilePath != "" {
		profile, err := tuning.LoadProfile(cfg.CAN.ProfilePath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load generation profile: %v", err)
		}
		app.protocol.ApplyProfile(profile)
		log.Infof("[CAN] generation profile applied from %s", cfg.CAN.ProfilePath)
	}
	app.emulator.SetDividerBounds(app.protocol.DividerBounds())

	app.safety = tuning.NewSafetyMonitor(cfg.SafetyConfig(), app.protocol, app.emulator, app.temperatureSource())

	app.supervisor = tuning.NewSupervisor()
	app.supervisor.SetTuningEnabled(cfg.Tuning.Enabled)
	app.supervisor.SetStealthEnabled(cfg.Tuning.Stealth)

	app.arming = NewArmingGate(ctx, app.supervisor.SetArmed)

	app.ipcRx = NewIPCRx(app.redis, app.emulator, app.protocol, app.supervisor, app.arming, app.diag)
	if app.ipcRx == nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize IPC RX")
	}

	if cfg.Server.Enabled {
		app.diagServer = NewDiagServer(cfg.Server.ListenAddr, app.snapshot)
	}

	if cfg.Update.ManifestURL != "" {
		interval := time.Duration(cfg.Update.IntervalS) * time.Second
		app.updater = NewUpdater(cfg.Update.ManifestURL, interval, app.emulator.TuningActive)
	}

	if opts.DemoSensor {
		app.demo = &tuning.DemoSource{
			PulsesPerRevolution: sensorCfg.PulsesPerRevolution,
			WheelCircumference:  sensorCfg.WheelCircumference,
			PeakSpeed:           demoPeakSpeed,
			Period:              demoRampPeriod,
		}
	}

	log.Infof("tuning app initialized: generation=%s tuning=%v stealth=%v",
		gen, cfg.Tuning.Enabled, cfg.Tuning.Stealth)
	return app, nil
}

// frameHandler feeds inbound CAN frames into the protocol handler.
type frameHandler struct {
	app *TuningApp
}

func (h *frameHandler) Handle(frame can.Frame) {
	state := h.app.supervisor.State()
	if state == tuning.StateInit || state == tuning.StateShutdown {
		return
	}
	if err := h.app.protocol.HandleFrame(frame); err != nil {
		log.Errorf("[CAN] error handling frame: %v", err)
	}
}

// Run starts the periodic task loops.
func (app *TuningApp) Run() {
	app.startLoop("sensor", sensorTickPeriod, app.sensorTick)
	app.startLoop("can", canTickPeriod, app.canTick())
	app.startLoop("safety", safetyCheckPeriod, app.safetyTick)
	app.startLoop("supervisor", supervisorPeriod, app.supervisorTick)
	app.startLoop("telemetry", telemetryPeriod, func(time.Time) { app.publishTelemetry() })

	if app.diagServer != nil {
		app.diagServer.Start()
	}
	if app.updater != nil {
		app.updater.Start(app.ctx)
	}
	if app.demo != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.demo.Run(app.ctx, app.emulator.OnCapture)
		}()
	}
}

func (app *TuningApp) startLoop(name string, period time.Duration, fn func(time.Time)) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		log.Debugf("%s loop started (period %s)", name, period)
		for {
			select {
			case <-app.ctx.Done():
				return
			case now := <-ticker.C:
				fn(now)
			}
		}
	}()
}

func (app *TuningApp) sensorTick(now time.Time) {
	state := app.supervisor.State()
	if state == tuning.StateInit || state == tuning.StateShutdown {
		return
	}
	app.emulator.Tick(now)
}

// canTick returns the bus housekeeping closure; every Nth tick the
// transformed speed is reflected back for generations that read it from CAN.
func (app *TuningApp) canTick() func(time.Time) {
	var ticks int
	return func(now time.Time) {
		state := app.supervisor.State()
		if state == tuning.StateShutdown {
			return
		}
		app.protocol.Tick(now)

		ticks++
		if ticks%speedReflectEvery != 0 {
			return
		}
		if !app.protocol.SpeedOverCAN() {
			return
		}
		if state != tuning.StateTuningActive && state != tuning.StateStealthMode {
			return
		}
		stats := app.emulator.Stats()
		if !stats.SignalValid {
			return
		}
		frame := app.protocol.EncodeSpeed(stats.OutputSpeed)
		if err := app.publishFrame(frame); err != nil {
			log.Errorf("[CAN] speed reflect failed: %v", err)
		}
	}
}

func (app *TuningApp) publishFrame(frame can.Frame) error {
	// The protocol handler owns the publish path; frames built here go
	// through the same transport.
	return app.protocol.Publish(frame)
}

func (app *TuningApp) safetyTick(now time.Time) {
	h := app.safety.CheckHealth(now)

	app.mu.Lock()
	app.lastHealth = h
	app.mu.Unlock()

	// Thermal derating: warnings reduce performance, recovery restores it.
	if h.TemperatureWarning && h.Fault == tuning.FaultOverTemperature {
		app.emulator.SetPerformanceMode(tuning.PerformanceReduced)
	} else if h.OK {
		app.emulator.SetPerformanceMode(tuning.PerformanceNormal)
	}

	status := app.protocol.Status()
	stats := app.emulator.Stats()
	app.diag.SetFaultPresence(tuning.FaultCANTimeout, !status.Connected && !status.LastMessage.IsZero())
	app.diag.SetFaultPresence(tuning.FaultSignalLost, !stats.SignalValid && !stats.LastPulse.IsZero())
	app.diag.SetFaultPresence(tuning.FaultChecksumErrors, h.Fault == tuning.FaultChecksumErrors)
	app.diag.SetFaultPresence(tuning.FaultOverTemperature, h.Fault == tuning.FaultOverTemperature)
	app.diag.SetFaultPresence(tuning.FaultSignalQualityLow, h.Fault == tuning.FaultSignalQualityLow)
}

func (app *TuningApp) supervisorTick(time.Time) {
	app.mu.Lock()
	health := app.lastHealth
	app.mu.Unlock()

	tr := app.supervisor.Step(health, app.safety.CanRecover())
	app.applyTransition(tr)
}

// applyTransition performs the side effects of a state change. The
// supervisor only decides; activation and shutdown actions live here.
func (app *TuningApp) applyTransition(tr tuning.Transition) {
	if !tr.Changed() {
		return
	}

	// Leaving stealth for any reason restores the mode selected before the
	// stealth override, Error and Shutdown included.
	if tr.From == tuning.StateStealthMode {
		app.mu.Lock()
		restore := app.preStealthMode
		app.mu.Unlock()
		app.emulator.SetOperatingMode(restore)
	}

	switch tr.To {
	case tuning.StateTuningActive:
		app.emulator.EnableTuning()

	case tuning.StateStealthMode:
		app.mu.Lock()
		app.preStealthMode = app.emulator.OperatingMode()
		app.mu.Unlock()
		app.emulator.SetOperatingMode(tuning.ModeStealth)

	case tuning.StateNormal:
		app.emulator.DisableTuning()
		if tr.From == tuning.StateError {
			// Recovered; the error counter restarts from zero.
			app.protocol.ClearErrors()
		}

	case tuning.StateError:
		app.emulator.DisableTuning()

	case tuning.StateShutdown:
		app.shutdown()
	}

	app.publishTelemetry()
}

func (app *TuningApp) publishTelemetry() {
	status := app.protocol.Status()
	stats := app.emulator.Stats()

	rs := RedisStatus{
		Connected:    status.Connected,
		State:        app.supervisor.State().String(),
		Mode:         app.emulator.OperatingMode().String(),
		Generation:   app.protocol.Generation().String(),
		Speed:        status.CurrentSpeed,
		OutputSpeed:  stats.OutputSpeed,
		MotorPower:   status.MotorPower,
		BatteryLevel: status.BatteryLevel,
		AssistLevel:  status.AssistLevel,
		LastError:    status.LastError,
		ErrorCount:   status.ErrorCount,
		ValidFrames:  status.ValidFrames,
	}
	if err := app.ipcTx.SendStatus(rs); err != nil {
		log.Errorf("failed to send status: %v", err)
	}

	if err := app.ipcTx.SendStats(RedisStats{
		TotalPulses:      stats.TotalPulses,
		ValidPulses:      stats.ValidPulses,
		DroppedPulses:    stats.DroppedPulses,
		EmittedPulses:    stats.EmittedPulses,
		AverageSpeed:     stats.AverageSpeed,
		MaxSpeed:         stats.MaxSpeed,
		AverageFrequency: stats.AverageFrequency,
		SignalQuality:    stats.SignalQuality,
		SignalValid:      stats.SignalValid,
		LastPulse:        stats.LastPulse,
	}); err != nil {
		log.Errorf("failed to send stats: %v", err)
	}
}

// temperatureSource reads the controller temperature published by the
// thermal service.
func (app *TuningApp) temperatureSource() tuning.TemperatureSource {
	return func() (float64, error) {
		ctx, cancel := context.WithTimeout(app.ctx, time.Second)
		defer cancel()
		value, err := app.redis.HGet(ctx, RedisThermalKey, "temperature").Result()
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(value, 64)
	}
}

// snapshot assembles the diagnostic view served over websocket.
func (app *TuningApp) snapshot() DiagSnapshot {
	status := app.protocol.Status()
	stats := app.emulator.Stats()
	app.mu.Lock()
	health := app.lastHealth
	app.mu.Unlock()

	return DiagSnapshot{
		State:      app.supervisor.State().String(),
		Mode:       app.emulator.OperatingMode().String(),
		Generation: app.protocol.Generation().String(),
		Status:     status,
		Stats:      stats,
		Health:     health,
	}
}

// RequestShutdown asks the supervisor for an orderly stop; the next step
// enters Shutdown and triggers the shutdown side effects.
func (app *TuningApp) RequestShutdown() {
	app.supervisor.RequestShutdown()
}

// Done is closed once the shutdown sequence has completed.
func (app *TuningApp) Done() <-chan struct{} {
	return app.done
}

func (app *TuningApp) shutdown() {
	app.shutdownOnce.Do(func() {
		log.Infof("shutting down: notifying drive system")
		app.emulator.DisableTuning()
		if err := app.protocol.SendShutdown(); err != nil {
			log.Errorf("[CAN] shutdown notification failed: %v", err)
		}
		app.publishTelemetry()
		app.cancel()
		close(app.done)
	})
}

func (app *TuningApp) redisHealthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, 2*time.Second)
			if err := app.redis.Ping(ctx).Err(); err != nil {
				log.Errorf("redis health check failed: %v", err)
			}
			cancel()
		}
	}
}

func (app *TuningApp) Destroy() {
	log.Infof("shutting down tuning application...")

	app.cancel()

	if app.ipcRx != nil {
		app.ipcRx.Destroy()
	}
	if app.arming != nil {
		app.arming.Destroy()
	}
	if app.diagServer != nil {
		app.diagServer.Stop()
	}
	if app.diag != nil {
		app.diag.Destroy()
	}
	if app.ipcTx != nil {
		app.ipcTx.Destroy()
	}

	app.wg.Wait()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			log.Errorf("error closing redis connection: %v", err)
		}
	}

	log.Infof("tuning application shutdown complete")
}
