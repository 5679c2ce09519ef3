package main

import (
	"context"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"tuning-service/tuning"
)

// IPCRx consumes external control input: the vehicle state published by the
// vehicle service, and the tuning settings hash written by controllers. A
// settings publish carries the changed field name; the value is read back
// from the hash.
type IPCRx struct {
	redis      *redis.Client
	emulator   *tuning.SensorEmulator
	protocol   *tuning.ProtocolHandler
	supervisor *tuning.Supervisor
	arming     *ArmingGate
	diag       *Diag
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc

	settingsSubscription *redis.PubSub
	vehicleSubscription  *redis.PubSub
}

func NewIPCRx(redis *redis.Client, emulator *tuning.SensorEmulator, protocol *tuning.ProtocolHandler,
	supervisor *tuning.Supervisor, arming *ArmingGate, diag *Diag) *IPCRx {
	ctx, cancel := context.WithCancel(context.Background())

	rx := &IPCRx{
		redis:      redis,
		emulator:   emulator,
		protocol:   protocol,
		supervisor: supervisor,
		arming:     arming,
		diag:       diag,
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := rx.setupSubscriptions(); err != nil {
		log.Errorf("[IPC] failed to setup subscriptions: %v", err)
		rx.Destroy()
		return nil
	}

	rx.readInitialStates()

	return rx
}

func (rx *IPCRx) setupSubscriptions() error {
	rx.vehicleSubscription = rx.redis.Subscribe(rx.ctx, RedisVehicleChan)
	go rx.handleVehicleSubscription()

	rx.settingsSubscription = rx.redis.Subscribe(rx.ctx, RedisSettingsChan)
	go rx.handleSettingsSubscription()

	return nil
}

func (rx *IPCRx) handleVehicleSubscription() {
	log.Infof("[IPC] starting vehicle subscription handler")

	for {
		msg, err := rx.vehicleSubscription.Receive(rx.ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			// A closed client means the connection is gone for good;
			// panic so systemd restarts the service.
			if err.Error() == "redis: client is closed" {
				log.Errorf("[IPC] redis connection lost on vehicle subscription, restarting service")
				panic("redis disconnected")
			}
			log.Errorf("[IPC] vehicle subscription error: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			log.Debugf("[IPC] vehicle message: channel=%s payload=%s", m.Channel, m.Payload)

			state, err := rx.redis.HGet(rx.ctx, RedisVehicleKey, "state").Result()
			if err != nil && err != redis.Nil {
				log.Errorf("[IPC] failed to get vehicle state: %v", err)
				continue
			}
			if err != redis.Nil {
				rx.arming.HandleVehicleState(state)
			}

		case *redis.Subscription:
			log.Debugf("[IPC] vehicle subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

func (rx *IPCRx) handleSettingsSubscription() {
	log.Infof("[IPC] starting settings subscription handler")

	for {
		msg, err := rx.settingsSubscription.Receive(rx.ctx)
		if err != nil {
			if err == context.Canceled {
				return
			}
			if err.Error() == "redis: client is closed" {
				log.Errorf("[IPC] redis connection lost on settings subscription, restarting service")
				panic("redis disconnected")
			}
			log.Errorf("[IPC] settings subscription error: %v", err)
			continue
		}

		switch m := msg.(type) {
		case *redis.Message:
			log.Debugf("[IPC] settings message: field=%s", m.Payload)
			rx.applySetting(m.Payload)

		case *redis.Subscription:
			log.Debugf("[IPC] settings subscription event: %s %s", m.Channel, m.Kind)
		}
	}
}

// applySetting reads one field from the settings hash and applies it. The
// field name doubles as the publish payload.
func (rx *IPCRx) applySetting(field string) {
	value, err := rx.redis.HGet(rx.ctx, RedisSettingsKey, field).Result()
	if err == redis.Nil {
		log.Debugf("[IPC] settings field %q not set", field)
		return
	}
	if err != nil {
		log.Errorf("[IPC] failed to read settings field %q: %v", field, err)
		return
	}

	switch field {
	case "enabled":
		if b, err := strconv.ParseBool(value); err == nil {
			rx.supervisor.SetTuningEnabled(b)
			log.Infof("[IPC] tuning enabled set to %v", b)
		}
	case "stealth":
		if b, err := strconv.ParseBool(value); err == nil {
			rx.supervisor.SetStealthEnabled(b)
			log.Infof("[IPC] stealth enabled set to %v", b)
		}
	case "mode":
		mode, err := tuning.ParseOperatingMode(value)
		if err != nil {
			log.Errorf("[IPC] %v", err)
			return
		}
		rx.emulator.SetOperatingMode(mode)
	case "speed-limit":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			rx.emulator.SetSpeedLimit(f)
		}
	case "divider":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			rx.emulator.SetFrequencyDivider(f)
		}
	case "smoothing":
		if b, err := strconv.ParseBool(value); err == nil {
			rx.emulator.SetSmoothing(b)
		}
	case "smoothing-window":
		if n, err := strconv.Atoi(value); err == nil {
			rx.emulator.SetSmoothingWindow(n)
		}
	case "anti-alias":
		enable, err := strconv.ParseBool(value)
		if err != nil {
			return
		}
		threshold := 0.5
		if tv, err := rx.redis.HGet(rx.ctx, RedisSettingsKey, "anti-alias-threshold").Result(); err == nil {
			if f, err := strconv.ParseFloat(tv, 64); err == nil {
				threshold = f
			}
		}
		rx.emulator.SetAntiAlias(enable, threshold)
	case "anti-alias-threshold":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			rx.emulator.SetAntiAliasThreshold(f)
		}
	case "adaptive":
		if b, err := strconv.ParseBool(value); err == nil {
			rx.emulator.SetAdaptiveProcessing(b)
		}
	case "generation":
		gen, err := tuning.ParseGeneration(value)
		if err != nil {
			log.Errorf("[IPC] %v", err)
			return
		}
		if err := rx.protocol.SetGeneration(gen); err != nil {
			log.Errorf("[IPC] failed to set generation: %v", err)
			return
		}
		rx.emulator.SetDividerBounds(rx.protocol.DividerBounds())
	case "calibrate-circumference":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			if err := rx.emulator.CalibrateWheelCircumference(f); err != nil {
				log.Errorf("[IPC] circumference calibration refused: %v", err)
			}
		}
	case "calibrate-ppr":
		if n, err := strconv.Atoi(value); err == nil {
			if err := rx.emulator.CalibratePulseCount(n); err != nil {
				log.Errorf("[IPC] pulse count calibration refused: %v", err)
			}
		}
	case "reset-calibration":
		if err := rx.emulator.ResetCalibration(); err != nil {
			log.Errorf("[IPC] calibration reset refused: %v", err)
		}
	case "self-test":
		err := rx.emulator.RunSelfTest()
		rx.diag.SetFaultPresence(tuning.FaultSelfTestFailed, err != nil)
		if err != nil {
			log.Errorf("[IPC] self-test failed: %v", err)
		} else {
			log.Infof("[IPC] self-test passed")
		}
	case "inject-pulse":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			if err := rx.emulator.InjectTestPulse(f); err != nil {
				log.Errorf("[IPC] test pulse refused: %v", err)
			}
		}
	default:
		log.Debugf("[IPC] ignoring unknown settings field %q", field)
	}
}

func (rx *IPCRx) readInitialStates() {
	state, err := rx.redis.HGet(rx.ctx, RedisVehicleKey, "state").Result()
	if err != nil && err != redis.Nil {
		log.Errorf("[IPC] failed to read initial vehicle state: %v", err)
	} else if err != redis.Nil {
		log.Infof("[IPC] initial vehicle state: %s", state)
		rx.arming.HandleVehicleState(state)
	}

	fields, err := rx.redis.HKeys(rx.ctx, RedisSettingsKey).Result()
	if err != nil && err != redis.Nil {
		log.Errorf("[IPC] failed to read initial settings: %v", err)
		return
	}
	for _, field := range fields {
		switch field {
		case "self-test", "inject-pulse", "reset-calibration",
			"calibrate-circumference", "calibrate-ppr":
			// One-shot commands are not replayed at startup.
			continue
		}
		rx.applySetting(field)
	}
}

func (rx *IPCRx) Destroy() {
	rx.mu.Lock()
	defer rx.mu.Unlock()

	if rx.cancel != nil {
		rx.cancel()
	}

	if rx.settingsSubscription != nil {
		rx.settingsSubscription.Close()
	}

	if rx.vehicleSubscription != nil {
		rx.vehicleSubscription.Close()
	}
}
