package registry

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMem/lib/tracker"
	"github.com/ValentinKolb/dMem/lib/util"
	"github.com/VictoriaMetrics/metrics"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("registry")

// --------------------------------------------------------------------------
// Constants & Options
// --------------------------------------------------------------------------

const (
	defaultEvictionInterval = 10 * time.Second // how often the eviction cycle runs
	defaultIdleThreshold    = 60 * time.Second // idle time after which a tracker is evicted
)

// Options configures a Registry
type Options struct {
	BytesLimit       int64         // limit of newly created trackers (<= 0 = unlimited)
	EvictionInterval time.Duration // time between eviction cycles
	IdleThreshold    time.Duration // trackers idle for longer than this are evicted
	Clock            tracker.Clock // clock shared by the registry and all its trackers (nil = tracker.MonotonicClock)
	NotifyEvictions  bool          // publish evicted trackers on Evictions()
	Metrics          *metrics.Set  // set the registry metrics are registered in (nil = private set)
}

// DefaultOptions returns the default registry options. The default limit is unlimited.
func DefaultOptions() *Options {
	return &Options{
		BytesLimit:       math.MaxInt64,
		EvictionInterval: defaultEvictionInterval,
		IdleThreshold:    defaultIdleThreshold,
		Clock:            tracker.MonotonicClock,
	}
}

// Eviction describes a tracker that was removed by the eviction cycle
type Eviction struct {
	LogID    uint64
	Consumed int64         // bytes still charged when evicted (callers that never uncharged)
	Peak     int64         // highest consumption of the tracker
	Idle     time.Duration // idle time when evicted
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry is the concurrent id -> tracker map including the idle eviction loop.
//
// Thread-safety: All methods are safe for concurrent use.
type Registry struct {
	trackers *xsync.MapOf[uint64, *tracker.Tracker]

	bytesLimit       int64
	evictionInterval time.Duration
	idleThreshold    time.Duration
	clock            tracker.Clock

	// lifecycle of the eviction loop
	lifecycle sync.Mutex
	running   atomic.Bool
	stopped   bool
	stop      chan struct{}
	loop      sync.WaitGroup

	events       *util.LockFreeMPSC[Eviction] // nil if evictions are not published
	evictedPeaks *util.SizeHistogram
	evictedTotal atomic.Int64

	// metrics
	metricSet      *metrics.Set
	createdCounter *metrics.Counter
	evictedCounter *metrics.Counter
	cycleDuration  *metrics.Histogram

	// beforeRecheck is called for every candidate between the two eviction phases (tests only)
	beforeRecheck func(logID uint64)
}

// New creates a registry with the given options (optional). The eviction loop is not started.
func New(opts *Options) *Registry {
	if opts == nil {
		opts = DefaultOptions()
	}

	defaults := DefaultOptions()
	r := &Registry{
		trackers:         xsync.NewMapOf[uint64, *tracker.Tracker](),
		bytesLimit:       opts.BytesLimit,
		evictionInterval: opts.EvictionInterval,
		idleThreshold:    opts.IdleThreshold,
		clock:            opts.Clock,
		stop:             make(chan struct{}),
		evictedPeaks:     util.NewSizeHistogram(),
		metricSet:        opts.Metrics,
	}
	if r.bytesLimit <= 0 {
		r.bytesLimit = defaults.BytesLimit
	}
	if r.evictionInterval <= 0 {
		r.evictionInterval = defaults.EvictionInterval
	}
	if r.idleThreshold <= 0 {
		r.idleThreshold = defaults.IdleThreshold
	}
	if r.clock == nil {
		r.clock = defaults.Clock
	}
	if opts.NotifyEvictions {
		r.events = util.NewLockFreeMPSC[Eviction]()
	}
	if r.metricSet == nil {
		r.metricSet = metrics.NewSet()
	}
	r.registerMetrics()

	return r
}

func (r *Registry) registerMetrics() {
	r.createdCounter = r.metricSet.NewCounter("dmem_registry_trackers_created_total")
	r.evictedCounter = r.metricSet.NewCounter("dmem_registry_trackers_evicted_total")
	r.cycleDuration = r.metricSet.NewHistogram("dmem_registry_eviction_cycle_duration_seconds")
	r.metricSet.NewGauge("dmem_registry_trackers", func() float64 {
		return float64(r.trackers.Size())
	})
	r.metricSet.NewGauge("dmem_registry_consumed_bytes", func() float64 {
		var total int64
		r.trackers.Range(func(_ uint64, t *tracker.Tracker) bool {
			total += t.BytesConsumed()
			return true
		})
		return float64(total)
	})
}

// --------------------------------------------------------------------------
// Map Operations
// --------------------------------------------------------------------------

// GetOrCreate returns the tracker of the given id, creating it with the registry's limit if it does not
// exist yet. Concurrent calls for the same id return the same instance.
func (r *Registry) GetOrCreate(logID uint64) *tracker.Tracker {
	t, _ := r.trackers.LoadOrCompute(logID, func() *tracker.Tracker {
		r.createdCounter.Inc()
		return tracker.New(r.bytesLimit, r.clock)
	})
	return t
}

// Get returns the tracker of the given id without creating it
func (r *Registry) Get(logID uint64) (*tracker.Tracker, bool) {
	return r.trackers.Load(logID)
}

// Erase removes the tracker of the given id. Erasing a missing id is a no-op.
func (r *Registry) Erase(logID uint64) {
	r.trackers.Delete(logID)
}

// Len returns the number of live trackers
func (r *Registry) Len() int {
	return r.trackers.Size()
}

// Range calls fn for every tracker until fn returns false.
// Trackers inserted or removed during the iteration may or may not be visited.
func (r *Registry) Range(fn func(logID uint64, t *tracker.Tracker) bool) {
	r.trackers.Range(fn)
}

// BytesLimit returns the limit new trackers are created with
func (r *Registry) BytesLimit() int64 {
	return r.bytesLimit
}

// Metrics returns the metric set the registry registered its metrics in
func (r *Registry) Metrics() *metrics.Set {
	return r.metricSet
}

// --------------------------------------------------------------------------
// Eviction Loop
// --------------------------------------------------------------------------

// Start starts the eviction loop. Starting a running or shut down registry does nothing.
func (r *Registry) Start() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.stopped || !r.running.CompareAndSwap(false, true) {
		return
	}

	r.loop.Add(1)
	go r.evictionLoop()
	log.Infof("eviction loop started (interval=%s, idle threshold=%s)", r.evictionInterval, r.idleThreshold)
}

// Shutdown stops the eviction loop and waits for it to exit. The eviction queue (if any) is stopped, its
// channel gets closed. The registry can still be used as a map afterward, but the loop can't be restarted.
//
// Thread-safety: Shutdown is idempotent and may be called concurrently.
func (r *Registry) Shutdown() {
	r.lifecycle.Lock()
	if r.stopped {
		r.lifecycle.Unlock()
		return
	}
	r.stopped = true
	close(r.stop)
	r.lifecycle.Unlock()

	r.loop.Wait()
	r.running.Store(false)

	if r.events != nil {
		r.events.Stop()
	}
}

// IsRunning reports whether the eviction loop is running
func (r *Registry) IsRunning() bool {
	return r.running.Load()
}

// Evictions returns the channel evicted trackers are published on. It is nil unless the registry was
// created with NotifyEvictions. The channel is closed by Shutdown. There must be at most one reader.
func (r *Registry) Evictions() <-chan *Eviction {
	if r.events == nil {
		return nil
	}
	return r.events.Recv()
}

// evictionLoop runs EvictIdle every evictionInterval until Shutdown
func (r *Registry) evictionLoop() {
	defer r.loop.Done()

	timer := time.NewTimer(r.evictionInterval)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-timer.C:
		}

		r.EvictIdle()
		timer.Reset(r.evictionInterval)
	}
}

// EvictIdle runs one eviction cycle and returns the number of evicted trackers.
// It is called by the eviction loop, calling it directly is safe as well.
func (r *Registry) EvictIdle() int {
	start := time.Now()

	/*
		Note: `now` is read once per cycle. A tracker that is used after this point has a last active time
		later than `now`, its idle time at `now` is 0, so the recheck below keeps it.
	*/
	now := r.clock()

	type candidate struct {
		logID   uint64
		tracker *tracker.Tracker
	}

	// phase 1: scan
	var candidates []candidate
	r.trackers.Range(func(logID uint64, t *tracker.Tracker) bool {
		if t.IdleFor(now) > r.idleThreshold {
			candidates = append(candidates, candidate{logID: logID, tracker: t})
		}
		return true
	})

	// phase 2: recheck and delete
	evicted := 0
	for _, c := range candidates {
		if r.beforeRecheck != nil {
			r.beforeRecheck(c.logID)
		}

		var ev *Eviction
		r.trackers.Compute(c.logID, func(current *tracker.Tracker, loaded bool) (*tracker.Tracker, bool) {
			if !loaded {
				return current, true // erased in the meantime, nothing to do
			}

			// the entry was replaced (erased and recreated) or used again since the scan
			if current != c.tracker {
				return current, false
			}
			idle := current.IdleFor(now)
			if idle <= r.idleThreshold {
				return current, false
			}

			ev = &Eviction{
				LogID:    c.logID,
				Consumed: current.BytesConsumed(),
				Peak:     current.PeakBytes(),
				Idle:     idle,
			}
			return current, true
		})

		if ev == nil {
			continue
		}

		evicted++
		r.evictedTotal.Add(1)
		r.evictedCounter.Inc()
		r.evictedPeaks.AddSample(ev.Peak)

		if ev.Consumed > 0 {
			log.Debugf("evicted tracker log_id:%d with %s still charged (peak %s, idle %s)",
				ev.LogID, humanize.IBytes(uint64(ev.Consumed)), humanize.IBytes(uint64(ev.Peak)), ev.Idle)
		} else {
			log.Debugf("evicted tracker log_id:%d (peak %s, idle %s)", ev.LogID, humanize.IBytes(uint64(ev.Peak)), ev.Idle)
		}

		if r.events != nil {
			r.events.Push(ev)
		}
	}

	r.cycleDuration.UpdateDuration(start)
	if evicted > 0 {
		log.Infof("eviction cycle removed %d of %d trackers in %s", evicted, evicted+r.trackers.Size(), time.Since(start))
	}

	return evicted
}

// --------------------------------------------------------------------------
// Statistics
// --------------------------------------------------------------------------

// Stats is a point-in-time summary of the registry
type Stats struct {
	Trackers      int                    `json:"trackers"`
	Breached      int                    `json:"breached"`       // trackers currently over their limit
	TotalConsumed int64                  `json:"total_consumed"` // sum over all live trackers
	Consumption   util.Stats             `json:"consumption"`    // spread of consumption over live trackers
	Evicted       int64                  `json:"evicted"`        // trackers evicted since creation
	EvictedPeaks  util.HistogramSnapshot `json:"evicted_peaks"`  // peak consumption of evicted trackers
}

// Stats collects a summary of all live trackers. This is O(n) in the number of trackers.
func (r *Registry) Stats() Stats {
	values := make([]float64, 0, r.trackers.Size())
	stats := Stats{}

	r.trackers.Range(func(_ uint64, t *tracker.Tracker) bool {
		consumed := t.BytesConsumed()
		values = append(values, float64(consumed))
		stats.TotalConsumed += consumed
		if t.CheckBytesLimit() {
			stats.Breached++
		}
		return true
	})

	stats.Trackers = len(values)
	stats.Consumption = util.NewStats(values)
	stats.Evicted = r.evictedTotal.Load()
	stats.EvictedPeaks = r.evictedPeaks.Snapshot()
	return stats
}

// String returns a short human-readable summary
func (s Stats) String() string {
	return fmt.Sprintf("trackers=%d breached=%d consumed=%s evicted=%d",
		s.Trackers, s.Breached, humanize.IBytes(uint64(max(s.TotalConsumed, 0))), s.Evicted)
}
