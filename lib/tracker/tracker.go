package tracker

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time as monotonic nanoseconds. Values of one Clock are only comparable
// with each other.
type Clock func() int64

var processStart = time.Now()

// MonotonicClock measures nanoseconds since process start using the monotonic clock reading of
// time.Now, so wall clock jumps do not affect idle detection.
func MonotonicClock() int64 {
	return int64(time.Since(processStart))
}

// Tracker is the shared counter of one logical request.
//
// Thread-safety: All methods are safe for concurrent use. A *Tracker stays valid after it was removed
// from the registry, late charges against it are simply not observed by the registry anymore.
type Tracker struct {
	consumed   atomic.Int64
	peak       atomic.Int64
	lastActive atomic.Int64

	limit   int64
	created int64
	clock   Clock
}

// New creates a tracker with the given byte limit. A nil clock means MonotonicClock.
func New(limit int64, clock Clock) *Tracker {
	if clock == nil {
		clock = MonotonicClock
	}

	now := clock()
	t := &Tracker{
		limit:   limit,
		created: now,
		clock:   clock,
	}
	t.lastActive.Store(now)
	return t
}

// --------------------------------------------------------------------------
// Accounting
// --------------------------------------------------------------------------

// Consume adds bytes to the counter and marks the tracker active. Negative values are ignored.
func (t *Tracker) Consume(bytes int64) {
	if bytes < 0 {
		return
	}

	consumed := t.consumed.Add(bytes)
	t.touch()

	// raise the peak, a lost race only means someone else stored a higher value
	for {
		peak := t.peak.Load()
		if consumed <= peak || t.peak.CompareAndSwap(peak, consumed) {
			return
		}
	}
}

// Release subtracts bytes from the counter and marks the tracker active.
// The counter is clamped at zero: releasing more than was consumed leaves 0.
func (t *Tracker) Release(bytes int64) {
	if bytes < 0 {
		return
	}

	for {
		old := t.consumed.Load()
		next := old - bytes
		if next < 0 {
			next = 0
		}
		if t.consumed.CompareAndSwap(old, next) {
			break
		}
	}
	t.touch()
}

// CheckBytesLimit reports whether the consumed bytes exceed the limit. It has no side effects.
func (t *Tracker) CheckBytesLimit() bool {
	return t.consumed.Load() > t.limit
}

func (t *Tracker) touch() {
	t.lastActive.Store(t.clock())
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// BytesConsumed returns the current counter value
func (t *Tracker) BytesConsumed() int64 { return t.consumed.Load() }

// BytesLimit returns the limit the tracker was created with
func (t *Tracker) BytesLimit() int64 { return t.limit }

// LastActiveTime returns the clock reading of the last Consume or Release (or creation)
func (t *Tracker) LastActiveTime() int64 { return t.lastActive.Load() }

// PeakBytes returns the highest counter value observed
func (t *Tracker) PeakBytes() int64 { return t.peak.Load() }

// CreatedTime returns the clock reading at creation
func (t *Tracker) CreatedTime() int64 { return t.created }

// IdleFor returns how long the tracker has been inactive at now (a reading of the tracker's clock).
// Activity recorded after now yields 0.
func (t *Tracker) IdleFor(now int64) time.Duration {
	idle := now - t.lastActive.Load()
	if idle < 0 {
		return 0
	}
	return time.Duration(idle)
}
