package reclaim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("reclaim")

// --------------------------------------------------------------------------
// Constants & Options
// --------------------------------------------------------------------------

const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
)

// Options configures a Daemon
type Options struct {
	Interval                   time.Duration // time between reclaim cycles
	StatsInterval              time.Duration // time between two allocator stats dumps
	FreeRate                   int           // reserved, not used by the reclaim policy
	MinMemoryUseSize           uint64        // reclaim only if used + free exceeds this
	MinMemoryFreeSizeToRelease uint64        // reclaim only if free exceeds this, and only the part above it
	ReleaseChunkSize           uint64        // bytes per ReleaseToSystem call
	StatsChunkSize             int           // max bytes per stats dump log line
	StatsMaxLen                int           // max length of the stats dump requested from the allocator
	Metrics                    *metrics.Set  // set the daemon metrics are registered in (nil = private set)
}

// DefaultOptions returns the default daemon options
func DefaultOptions() *Options {
	return &Options{
		Interval:                   10 * time.Second,
		StatsInterval:              60 * time.Second,
		FreeRate:                   20,
		MinMemoryUseSize:           8 * GiB,
		MinMemoryFreeSizeToRelease: 2 * GiB,
		ReleaseChunkSize:           8 * MiB,
		StatsChunkSize:             1800,
		StatsMaxLen:                16 * KiB,
	}
}

// ReclaimReport describes the outcome of one reclaim step
type ReclaimReport struct {
	Stats     AllocatorStats `json:"stats"`
	Excess    uint64         `json:"excess"`    // free bytes above MinMemoryFreeSizeToRelease (0 if not triggered)
	Chunks    int            `json:"chunks"`    // ReleaseToSystem calls
	Released  uint64         `json:"released"`  // bytes requested to be released
	Remainder uint64         `json:"remainder"` // excess left for a later cycle (< one chunk)
	Triggered bool           `json:"triggered"` // both thresholds were exceeded
	Duration  time.Duration  `json:"duration"`
	Err       error          `json:"-"` // stats could not be read, the step was skipped
}

// --------------------------------------------------------------------------
// Daemon
// --------------------------------------------------------------------------

// Daemon is the allocator reclaim loop.
//
// Thread-safety: All methods are safe for concurrent use. ReclaimOnce and DumpStats may run concurrently
// with the loop, but the allocator then sees overlapping calls.
type Daemon struct {
	alloc Allocator
	opts  Options

	// lifecycle
	lifecycle sync.Mutex
	running   atomic.Bool
	stopped   bool
	cancel    context.CancelFunc
	loop      sync.WaitGroup

	lastDump time.Time // only accessed by the loop goroutine

	// last polled allocator stats (for the gauges)
	lastUsed atomic.Uint64
	lastFree atomic.Uint64

	// metrics
	metricSet       *metrics.Set
	cyclesCounter   *metrics.Counter
	triggerCounter  *metrics.Counter
	releasedCounter *metrics.Counter
	errorCounter    *metrics.Counter
}

// New creates a daemon for the given allocator. A nil allocator disables the daemon: Start, ReclaimOnce
// and DumpStats do nothing. Zero option values are replaced by their defaults (except FreeRate).
func New(alloc Allocator, opts *Options) *Daemon {
	if opts == nil {
		opts = DefaultOptions()
	}

	o := *opts
	defaults := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = defaults.Interval
	}
	if o.StatsInterval <= 0 {
		o.StatsInterval = defaults.StatsInterval
	}
	if o.ReleaseChunkSize == 0 {
		o.ReleaseChunkSize = defaults.ReleaseChunkSize
	}
	if o.StatsChunkSize <= 0 {
		o.StatsChunkSize = defaults.StatsChunkSize
	}
	if o.StatsMaxLen <= 0 {
		o.StatsMaxLen = defaults.StatsMaxLen
	}

	d := &Daemon{
		alloc:     alloc,
		opts:      o,
		metricSet: o.Metrics,
	}
	if d.metricSet == nil {
		d.metricSet = metrics.NewSet()
	}
	d.registerMetrics()

	return d
}

func (d *Daemon) registerMetrics() {
	d.cyclesCounter = d.metricSet.NewCounter("dmem_reclaim_cycles_total")
	d.triggerCounter = d.metricSet.NewCounter("dmem_reclaim_triggered_total")
	d.releasedCounter = d.metricSet.NewCounter("dmem_reclaim_released_bytes_total")
	d.errorCounter = d.metricSet.NewCounter("dmem_reclaim_stats_errors_total")
	d.metricSet.NewGauge("dmem_allocator_used_bytes", func() float64 {
		return float64(d.lastUsed.Load())
	})
	d.metricSet.NewGauge("dmem_allocator_free_bytes", func() float64 {
		return float64(d.lastFree.Load())
	})
}

// Enabled reports whether the daemon has an allocator to work with
func (d *Daemon) Enabled() bool {
	return d.alloc != nil
}

// Allocator returns the allocator of the daemon (nil if disabled)
func (d *Daemon) Allocator() Allocator {
	return d.alloc
}

// Options returns a copy of the effective options
func (d *Daemon) Options() Options {
	return d.opts
}

// Start runs the loop in a background goroutine. It does nothing if the daemon is disabled, running or
// shut down.
func (d *Daemon) Start() {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if !d.Enabled() {
		log.Infof("no allocator available, memory reclamation disabled")
		return
	}
	if d.stopped || !d.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.loop.Add(1)
	go func() {
		defer d.loop.Done()
		_ = d.Run(ctx)
	}()
}

// Shutdown stops the loop started by Start and waits for it to exit. The daemon can't be restarted.
//
// Thread-safety: Shutdown is idempotent and may be called concurrently.
func (d *Daemon) Shutdown() {
	d.lifecycle.Lock()
	if d.stopped {
		d.lifecycle.Unlock()
		return
	}
	d.stopped = true
	if d.cancel != nil {
		d.cancel()
	}
	d.lifecycle.Unlock()

	d.loop.Wait()
	d.running.Store(false)
}

// IsRunning reports whether the loop started by Start is running
func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

// Run executes reclaim cycles until ctx is done, the first cycle runs immediately.
// It returns nil when ctx is canceled, so it can be used as an actor of a run group directly.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.Enabled() {
		<-ctx.Done()
		return nil
	}

	log.Infof("reclaim loop started (allocator=%s, interval=%s, min use=%s, min free=%s, chunk=%s)",
		d.alloc.Name(), d.opts.Interval,
		humanize.IBytes(d.opts.MinMemoryUseSize), humanize.IBytes(d.opts.MinMemoryFreeSizeToRelease),
		humanize.IBytes(d.opts.ReleaseChunkSize))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("reclaim loop stopped")
			return nil
		case <-timer.C:
		}

		if d.lastDump.IsZero() || time.Since(d.lastDump) >= d.opts.StatsInterval {
			d.DumpStats()
			d.lastDump = time.Now()
		}
		d.ReclaimOnce()

		timer.Reset(d.opts.Interval)
	}
}

// ReclaimOnce polls the allocator and releases the excess free memory (one cycle without the stats dump)
func (d *Daemon) ReclaimOnce() ReclaimReport {
	report := ReclaimReport{}
	if !d.Enabled() {
		return report
	}

	start := time.Now()
	d.cyclesCounter.Inc()

	stats, err := d.alloc.Stats()
	if err != nil {
		d.errorCounter.Inc()
		log.Warningf("failed to read %s allocator stats, skipping cycle: %v", d.alloc.Name(), err)
		report.Err = err
		return report
	}
	report.Stats = stats
	d.lastUsed.Store(stats.UsedBytes)
	d.lastFree.Store(stats.FreeBytes)

	if stats.Allocated() <= d.opts.MinMemoryUseSize || stats.FreeBytes <= d.opts.MinMemoryFreeSizeToRelease {
		report.Duration = time.Since(start)
		return report
	}

	report.Triggered = true
	report.Excess = stats.FreeBytes - d.opts.MinMemoryFreeSizeToRelease
	d.triggerCounter.Inc()

	// a remainder smaller than one chunk is left for a later cycle
	remaining := report.Excess
	chunk := d.opts.ReleaseChunkSize
	for remaining >= chunk {
		d.alloc.ReleaseToSystem(chunk)
		remaining -= chunk
		report.Released += chunk
		report.Chunks++
		log.Debugf("released %s to the system, %s left", humanize.IBytes(chunk), humanize.IBytes(remaining))
	}
	report.Remainder = remaining
	report.Duration = time.Since(start)
	d.releasedCounter.Add(int(report.Released))

	log.Warningf("allocated %s (used %s, free %s), released %s in %d chunks in %s",
		humanize.IBytes(stats.Allocated()), humanize.IBytes(stats.UsedBytes), humanize.IBytes(stats.FreeBytes),
		humanize.IBytes(report.Released), report.Chunks, report.Duration)

	return report
}

// DumpStats logs the allocator stats dump, split into lines of at most StatsChunkSize bytes.
// It returns the number of lines written.
func (d *Daemon) DumpStats() int {
	if !d.Enabled() {
		return 0
	}

	chunks := splitChunks(d.alloc.DumpStats(d.opts.StatsMaxLen), d.opts.StatsChunkSize)
	for i, c := range chunks {
		log.Infof("%s allocator stats [%d/%d]: %s", d.alloc.Name(), i+1, len(chunks), c)
	}
	return len(chunks)
}

// splitChunks splits s into consecutive pieces of at most size bytes
func splitChunks(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	chunks := make([]string, 0, (len(s)+size-1)/size)
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
