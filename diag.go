package main

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"tuning-service/tuning"
)

// Diag maintains the fault set in Redis: a set of active fault codes, an
// event stream of edges, and a notification channel.
type Diag struct {
	redis       *redis.Client
	mu          sync.RWMutex
	faultStates map[tuning.TuningFault]bool
	ctx         context.Context
}

func NewDiag(redis *redis.Client) *Diag {
	return &Diag{
		redis:       redis,
		faultStates: make(map[tuning.TuningFault]bool),
		ctx:         context.Background(),
	}
}

func (d *Diag) Destroy() {}

func (d *Diag) SetFaultPresence(fault tuning.TuningFault, present bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setFaultLocked(fault, present)
}

// SetFaults reconciles the whole fault set in one call; faults absent from
// the map are cleared.
func (d *Diag) SetFaults(faults map[tuning.TuningFault]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for fault := tuning.FaultCANTimeout; fault <= tuning.FaultSelfTestFailed; fault++ {
		d.setFaultLocked(fault, faults[fault])
	}
}

func (d *Diag) setFaultLocked(fault tuning.TuningFault, present bool) {
	if fault == tuning.FaultNone {
		return
	}

	wasPresent := d.faultStates[fault]
	if wasPresent == present {
		return
	}

	d.faultStates[fault] = present

	config, ok := tuning.GetFaultConfig(fault)
	if !ok {
		log.Warnf("[DIAG] unknown fault code: %d", fault)
		return
	}

	if present {
		log.Warnf("[DIAG] fault set: code=%d, description=%s", fault, config.Description)
		d.reportFaultPresent(fault, config)
	} else {
		log.Infof("[DIAG] fault cleared: code=%d, description=%s", fault, config.Description)
		d.reportFaultAbsent(fault)
	}
}

func (d *Diag) reportFaultPresent(fault tuning.TuningFault, config tuning.FaultConfig) {
	pipe := d.redis.Pipeline()

	pipe.SAdd(d.ctx, RedisFaultSetKey, uint32(fault))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: RedisEventStream,
		MaxLen: RedisEventStreamMax,
		Values: map[string]interface{}{
			"group":       RedisStatusKey,
			"code":        uint32(fault),
			"description": config.Description,
		},
	})

	pipe.Publish(d.ctx, RedisNotifyChan, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		log.Errorf("[DIAG] failed to report fault present: %v", err)
	}
}

func (d *Diag) reportFaultAbsent(fault tuning.TuningFault) {
	pipe := d.redis.Pipeline()

	pipe.SRem(d.ctx, RedisFaultSetKey, uint32(fault))

	pipe.XAdd(d.ctx, &redis.XAddArgs{
		Stream: RedisEventStream,
		MaxLen: RedisEventStreamMax,
		Values: map[string]interface{}{
			"group": RedisStatusKey,
			"code":  -int32(fault),
		},
	})

	pipe.Publish(d.ctx, RedisNotifyChan, "fault")

	if _, err := pipe.Exec(d.ctx); err != nil {
		log.Errorf("[DIAG] failed to report fault absent: %v", err)
	}
}
