package tuning

import (
	"sync/atomic"
	"time"
)

// DefaultCaptureRingSize covers the maximum plausible pulses per sensor
// period with a wide margin (a 28" wheel at 99 km/h with one magnet is
// ~13 Hz; a 5 ms period sees at most one edge).
const DefaultCaptureRingSize = 64

// captureRing is a single-producer/single-consumer lock-free ring of pulse
// timestamps. The producer is the capture interrupt context, the consumer
// the sensor task; a burst can never silently overwrite an unread edge —
// the push fails and is accounted instead.
type captureRing struct {
	slots   []int64 // unix nanoseconds
	head    atomic.Uint64
	tail    atomic.Uint64
	dropped atomic.Uint64
}

func newCaptureRing(size int) *captureRing {
	if size < 1 {
		size = DefaultCaptureRingSize
	}
	return &captureRing{slots: make([]int64, size)}
}

// Push records one edge timestamp. Safe to call from the capture context;
// never blocks. Returns false when the ring is full.
func (r *captureRing) Push(ts time.Time) bool {
	head := r.head.Load()
	if head-r.tail.Load() >= uint64(len(r.slots)) {
		r.dropped.Add(1)
		return false
	}
	r.slots[head%uint64(len(r.slots))] = ts.UnixNano()
	r.head.Store(head + 1)
	return true
}

// Pop removes the oldest unread edge. Only the consumer may call it.
func (r *captureRing) Pop() (time.Time, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return time.Time{}, false
	}
	ns := r.slots[tail%uint64(len(r.slots))]
	r.tail.Store(tail + 1)
	return time.Unix(0, ns), true
}

// Len returns the number of unread edges.
func (r *captureRing) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Dropped returns the number of edges lost to ring overflow.
func (r *captureRing) Dropped() uint64 {
	return r.dropped.Load()
}
