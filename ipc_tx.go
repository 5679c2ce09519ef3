package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

type IPCTx struct {
	redis *redis.Client
	mu    sync.Mutex
	ctx   context.Context

	lastState string
}

func NewIPCTx(redis *redis.Client) *IPCTx {
	return &IPCTx{
		redis: redis,
		ctx:   context.Background(),
	}
}

func (tx *IPCTx) Destroy() {}

func (tx *IPCTx) SendStatus(data RedisStatus) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	pipe := tx.redis.Pipeline()

	pipe.HSet(tx.ctx, RedisStatusKey, map[string]interface{}{
		"connected":     map[bool]string{true: "yes", false: "no"}[data.Connected],
		"state":         data.State,
		"mode":          data.Mode,
		"generation":    data.Generation,
		"speed":         fmt.Sprintf("%.2f", data.Speed),
		"output-speed":  fmt.Sprintf("%.2f", data.OutputSpeed),
		"motor-power":   data.MotorPower,
		"battery-level": data.BatteryLevel,
		"assist-level":  data.AssistLevel,
		"last-error":    fmt.Sprintf("0x%04X", data.LastError),
		"error-count":   data.ErrorCount,
		"valid-frames":  data.ValidFrames,
	})

	// Publish only on state changes so listeners are not flooded by the
	// periodic telemetry writes.
	if data.State != tx.lastState {
		pipe.Publish(tx.ctx, RedisNotifyChan, "state")
	}

	_, err := pipe.Exec(tx.ctx)
	if err != nil {
		return fmt.Errorf("failed to send status: %v", err)
	}
	tx.lastState = data.State
	return nil
}

func (tx *IPCTx) SendStats(data RedisStats) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := tx.redis.HSet(tx.ctx, RedisStatsKey, map[string]interface{}{
		"pulses-total":   data.TotalPulses,
		"pulses-valid":   data.ValidPulses,
		"pulses-dropped": data.DroppedPulses,
		"pulses-emitted": data.EmittedPulses,
		"avg-speed":      fmt.Sprintf("%.2f", data.AverageSpeed),
		"max-speed":      fmt.Sprintf("%.2f", data.MaxSpeed),
		"avg-frequency":  fmt.Sprintf("%.2f", data.AverageFrequency),
		"quality":        data.SignalQuality,
		"signal-valid":   map[bool]string{true: "yes", false: "no"}[data.SignalValid],
		"last-pulse":     data.LastPulse.UnixMilli(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to send stats: %v", err)
	}

	return nil
}
