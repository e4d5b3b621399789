package guard

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dMem/lib/tracker"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	log = logger.GetLogger("guard")

	// registered in the default metrics set, exposed with metrics.WritePrometheus
	breachCounter = metrics.NewCounter("dmem_guard_limit_exceeded_total")
)

// Source resolves the tracker of a logical request (implemented by *registry.Registry)
type Source interface {
	GetOrCreate(logID uint64) *tracker.Tracker
}

// Guard accounts the memory of one execution context.
//
// Thread-safety: Charge and Uncharge never block except for the first resolution. They may be called
// concurrently, although an execution context usually charges from a single goroutine.
type Guard struct {
	logID  uint64
	source Source

	tracker atomic.Pointer[tracker.Tracker]
	resolve sync.Mutex

	local atomic.Int64
}

// New creates a guard for the execution context of the given logical request
func New(logID uint64, source Source) *Guard {
	return &Guard{
		logID:  logID,
		source: source,
	}
}

// bind returns the tracker of the guard, resolving it on first use
func (g *Guard) bind() *tracker.Tracker {
	if t := g.tracker.Load(); t != nil {
		return t
	}

	g.resolve.Lock()
	defer g.resolve.Unlock()

	// another goroutine may have resolved it while we waited for the lock
	if t := g.tracker.Load(); t != nil {
		return t
	}
	t := g.source.GetOrCreate(g.logID)
	g.tracker.Store(t)
	return t
}

// Charge adds bytes to the shared tracker and to the local total.
// If the tracker is over its limit afterward, a *MemoryLimitExceeded is returned. The charge stays applied
// and the caller is expected to abort the query and uncharge what it frees.
func (g *Guard) Charge(bytes int64) error {
	if bytes < 0 {
		bytes = 0
	}

	t := g.bind()
	t.Consume(bytes)
	local := g.local.Add(bytes)

	if !t.CheckBytesLimit() {
		return nil
	}

	breachCounter.Inc()
	err := &MemoryLimitExceeded{
		LogID:    g.logID,
		Limit:    t.BytesLimit(),
		Consumed: t.BytesConsumed(),
		Local:    local,
	}
	log.Warningf("log_id:%d memory limit exceeded: limit %d, consumed %d, used %d", g.logID, err.Limit, err.Consumed, err.Local)
	return err
}

// Uncharge releases bytes from the shared tracker and the local total (clamped at zero).
// It does nothing if the guard never charged anything.
func (g *Guard) Uncharge(bytes int64) {
	if bytes < 0 {
		return
	}

	t := g.tracker.Load()
	if t == nil {
		return
	}

	t.Release(bytes)
	log.Debugf("log_id:%d memory tracker release %d bytes", g.logID, bytes)
	for {
		old := g.local.Load()
		next := max(old-bytes, 0)
		if g.local.CompareAndSwap(old, next) {
			return
		}
	}
}

// ReleaseAll uncharges the complete local total and returns the released amount.
// Use it when the context is abandoned without freeing its memory piece by piece.
func (g *Guard) ReleaseAll() int64 {
	t := g.tracker.Load()
	if t == nil {
		return 0
	}

	released := g.local.Swap(0)
	if released > 0 {
		t.Release(released)
		log.Debugf("log_id:%d released %d bytes of an abandoned context", g.logID, released)
	}
	return released
}

// LocalBytes returns the bytes charged through this guard and not uncharged yet
func (g *Guard) LocalBytes() int64 {
	return g.local.Load()
}

// LogID returns the logical request of the guard
func (g *Guard) LogID() uint64 {
	return g.logID
}

// Tracker returns the bound tracker, nil before the first charge
func (g *Guard) Tracker() *tracker.Tracker {
	return g.tracker.Load()
}
