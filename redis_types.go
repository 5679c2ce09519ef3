package main

import "time"

// Redis key and channel layout. The status and stats hashes are written by
// this service; the settings hash is written by external controllers and
// read back here on each settings notification.
const (
	RedisStatusKey      = "tuning-service"
	RedisStatsKey       = "tuning-service:stats"
	RedisSettingsKey    = "tuning-service:settings"
	RedisSettingsChan   = "tuning-service:settings"
	RedisVehicleKey     = "vehicle"
	RedisVehicleChan    = "vehicle"
	RedisThermalKey     = "thermal:controller"
	RedisFaultSetKey    = "tuning-service:fault"
	RedisEventStream    = "events:faults"
	RedisEventStreamMax = 1000
	RedisNotifyChan     = "tuning-service"
)

// RedisStatus mirrors the drive-system view published to the status hash.
type RedisStatus struct {
	Connected    bool
	State        string
	Mode         string
	Generation   string
	Speed        float64
	OutputSpeed  float64
	MotorPower   uint8
	BatteryLevel uint8
	AssistLevel  uint8
	LastError    uint16
	ErrorCount   uint32
	ValidFrames  uint64
}

// RedisStats mirrors the emulator's signal counters.
type RedisStats struct {
	TotalPulses      uint64
	ValidPulses      uint64
	DroppedPulses    uint64
	EmittedPulses    uint64
	AverageSpeed     float64
	MaxSpeed         float64
	AverageFrequency float64
	SignalQuality    uint32
	SignalValid      bool
	LastPulse        time.Time
}
