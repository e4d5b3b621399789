package reclaim

import (
	"fmt"
	"os"
	"runtime/debug"
	"runtime/metrics"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultMinReleaseGap is the minimal time between two debug.FreeOSMemory calls of a RuntimeAllocator
const DefaultMinReleaseGap = time.Second

const (
	sampleHeapObjects  = "/memory/classes/heap/objects:bytes"
	sampleHeapFree     = "/memory/classes/heap/free:bytes"
	sampleHeapReleased = "/memory/classes/heap/released:bytes"
	sampleHeapUnused   = "/memory/classes/heap/unused:bytes"
	sampleTotal        = "/memory/classes/total:bytes"
	sampleGCCycles     = "/gc/cycles/total:gc-cycles"
	sampleGCGoal       = "/gc/heap/goal:bytes"
	sampleGoroutines   = "/sched/goroutines:goroutines"
)

// RuntimeAllocator exposes the Go runtime heap as an Allocator.
//
// Used bytes are the bytes of live and unswept heap objects, free bytes the heap memory that is retained
// by the runtime but neither in use nor returned to the OS. The runtime can't release an exact number of
// bytes, so ReleaseToSystem only accumulates requests and calls debug.FreeOSMemory (a forced GC plus
// scavenge) at most once per MinReleaseGap.
//
// Thread-safety: All methods are safe for concurrent use.
type RuntimeAllocator struct {
	minReleaseGap time.Duration
	freeOSMemory  func()

	mu          sync.Mutex
	pending     uint64    // requested bytes not yet covered by a FreeOSMemory call
	lastRelease time.Time // time of the last FreeOSMemory call

	releaseCalls atomic.Uint64 // number of FreeOSMemory calls
}

// NewRuntimeAllocator creates a runtime allocator. minReleaseGap <= 0 means DefaultMinReleaseGap.
func NewRuntimeAllocator(minReleaseGap time.Duration) *RuntimeAllocator {
	if minReleaseGap <= 0 {
		minReleaseGap = DefaultMinReleaseGap
	}
	return &RuntimeAllocator{
		minReleaseGap: minReleaseGap,
		freeOSMemory:  debug.FreeOSMemory,
	}
}

func (a *RuntimeAllocator) Name() string {
	return "go-runtime"
}

// Stats samples runtime/metrics for the heap object and heap free classes
func (a *RuntimeAllocator) Stats() (AllocatorStats, error) {
	samples := []metrics.Sample{
		{Name: sampleHeapObjects},
		{Name: sampleHeapFree},
	}
	metrics.Read(samples)

	for _, s := range samples {
		if s.Value.Kind() != metrics.KindUint64 {
			return AllocatorStats{}, fmt.Errorf("runtime metric %s is not supported", s.Name)
		}
	}

	return AllocatorStats{
		UsedBytes: samples[0].Value.Uint64(),
		FreeBytes: samples[1].Value.Uint64(),
	}, nil
}

// ReleaseToSystem records the request and frees OS memory if the last release is at least
// MinReleaseGap ago
func (a *RuntimeAllocator) ReleaseToSystem(bytes uint64) {
	a.mu.Lock()
	a.pending += bytes
	if !a.lastRelease.IsZero() && time.Since(a.lastRelease) < a.minReleaseGap {
		a.mu.Unlock()
		return
	}
	a.pending = 0
	a.lastRelease = time.Now()
	a.mu.Unlock()

	a.releaseCalls.Add(1)
	a.freeOSMemory()
}

// ReleaseCalls returns how often the runtime was asked to return memory to the OS
func (a *RuntimeAllocator) ReleaseCalls() uint64 {
	return a.releaseCalls.Load()
}

// Pending returns the requested bytes that were not followed by a FreeOSMemory call yet
func (a *RuntimeAllocator) Pending() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending
}

// DumpStats renders the runtime memory classes, GC counters and the process RSS/VMS
func (a *RuntimeAllocator) DumpStats(maxLen int) string {
	samples := []metrics.Sample{
		{Name: sampleTotal},
		{Name: sampleHeapObjects},
		{Name: sampleHeapFree},
		{Name: sampleHeapReleased},
		{Name: sampleHeapUnused},
		{Name: sampleGCGoal},
		{Name: sampleGCCycles},
		{Name: sampleGoroutines},
	}
	metrics.Read(samples)

	var b strings.Builder
	b.WriteString("allocator=go-runtime")
	for _, s := range samples {
		if s.Value.Kind() != metrics.KindUint64 {
			continue
		}
		v := s.Value.Uint64()
		if strings.HasSuffix(s.Name, ":bytes") {
			fmt.Fprintf(&b, " %s=%s", s.Name, humanize.IBytes(v))
		} else {
			fmt.Fprintf(&b, " %s=%d", s.Name, v)
		}
	}
	fmt.Fprintf(&b, " release_calls=%d", a.releaseCalls.Load())

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil {
			fmt.Fprintf(&b, " process_rss=%s process_vms=%s", humanize.IBytes(mem.RSS), humanize.IBytes(mem.VMS))
		}
	}

	return truncate(b.String(), maxLen)
}
