package main

import (
	"context"
	"sync"
	"testing"
)

type armedRecorder struct {
	mu    sync.Mutex
	calls []bool
}

func (r *armedRecorder) set(armed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, armed)
}

func (r *armedRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

func TestArmingGate_DisarmsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &armedRecorder{}
	gate := NewArmingGate(ctx, rec.set)
	defer gate.Destroy()

	// Transition to ready starts the delay; nothing fires synchronously.
	gate.HandleVehicleState("ready-to-drive")
	if len(rec.snapshot()) != 0 {
		t.Error("arming must wait for the engine-on delay")
	}

	// Leaving ready before the delay elapses disarms right away.
	gate.HandleVehicleState("parked")
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != false {
		t.Errorf("expected one immediate disarm, got %v", calls)
	}
}

func TestArmingGate_IgnoresRepeatedState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &armedRecorder{}
	gate := NewArmingGate(ctx, rec.set)
	defer gate.Destroy()

	gate.HandleVehicleState("parked")
	gate.HandleVehicleState("stand-by")
	if len(rec.snapshot()) != 0 {
		t.Errorf("not-ready to not-ready must not call back, got %v", rec.snapshot())
	}
}
