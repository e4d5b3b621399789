package reclaim

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeAllocator reports fixed stats and records every release call
type fakeAllocator struct {
	mu       sync.Mutex
	stats    AllocatorStats
	err      error
	dump     string
	releases []uint64
	polls    atomic.Int64
}

func (f *fakeAllocator) Name() string { return "fake" }

func (f *fakeAllocator) Stats() (AllocatorStats, error) {
	f.polls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.err
}

func (f *fakeAllocator) DumpStats(maxLen int) string { return truncate(f.dump, maxLen) }

func (f *fakeAllocator) ReleaseToSystem(bytes uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, bytes)
}

func (f *fakeAllocator) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.releases)
}

func TestReclaimExactMultiple(t *testing.T) {
	alloc := &fakeAllocator{stats: AllocatorStats{UsedBytes: 10 * GiB, FreeBytes: 3 * GiB}}
	d := New(alloc, nil)

	report := d.ReclaimOnce()
	require.NoError(t, report.Err)
	assert.True(t, report.Triggered)
	assert.Equal(t, uint64(1*GiB), report.Excess)
	assert.Equal(t, 128, report.Chunks)
	assert.Equal(t, uint64(1*GiB), report.Released)
	assert.Equal(t, uint64(0), report.Remainder)

	require.Len(t, alloc.releases, 128)
	for _, r := range alloc.releases {
		assert.Equal(t, uint64(8*MiB), r)
	}
}

func TestReclaimLeavesRemainder(t *testing.T) {
	alloc := &fakeAllocator{stats: AllocatorStats{UsedBytes: 10 * GiB, FreeBytes: 3*GiB + 4*MiB}}
	d := New(alloc, nil)

	report := d.ReclaimOnce()
	assert.Equal(t, uint64(1*GiB+4*MiB), report.Excess)
	assert.Equal(t, 128, report.Chunks)
	assert.Equal(t, uint64(4*MiB), report.Remainder)
	assert.Equal(t, 128, alloc.releaseCount())
}

func TestReclaimThresholds(t *testing.T) {
	tests := []struct {
		name  string
		stats AllocatorStats
	}{
		{"allocated at min use size", AllocatorStats{UsedBytes: 5 * GiB, FreeBytes: 3 * GiB}},
		{"allocated below min use size", AllocatorStats{UsedBytes: 1 * GiB, FreeBytes: 6 * GiB}},
		{"free at min free size", AllocatorStats{UsedBytes: 20 * GiB, FreeBytes: 2 * GiB}},
		{"free below min free size", AllocatorStats{UsedBytes: 20 * GiB, FreeBytes: 1 * GiB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &fakeAllocator{stats: tt.stats}
			report := New(alloc, nil).ReclaimOnce()
			assert.False(t, report.Triggered)
			assert.Equal(t, 0, report.Chunks)
			assert.Equal(t, 0, alloc.releaseCount())
		})
	}
}

func TestReclaimExcessBelowOneChunk(t *testing.T) {
	alloc := &fakeAllocator{stats: AllocatorStats{UsedBytes: 10 * GiB, FreeBytes: 2*GiB + 1*MiB}}
	report := New(alloc, nil).ReclaimOnce()

	assert.True(t, report.Triggered)
	assert.Equal(t, 0, report.Chunks)
	assert.Equal(t, uint64(1*MiB), report.Remainder)
}

func TestReclaimStatsError(t *testing.T) {
	alloc := &fakeAllocator{err: errors.New("unavailable")}
	report := New(alloc, nil).ReclaimOnce()

	assert.Error(t, report.Err)
	assert.False(t, report.Triggered)
	assert.Equal(t, 0, alloc.releaseCount())
}

func TestDisabledDaemon(t *testing.T) {
	d := New(nil, nil)
	assert.False(t, d.Enabled())

	d.Start()
	assert.False(t, d.IsRunning())
	assert.Equal(t, ReclaimReport{}, d.ReclaimOnce())
	assert.Equal(t, 0, d.DumpStats())
	d.Shutdown()
}

func TestDumpStatsChunking(t *testing.T) {
	alloc := &fakeAllocator{dump: strings.Repeat("x", 4000)}
	d := New(alloc, nil)
	assert.Equal(t, 3, d.DumpStats(), "4000 bytes in 1800 byte lines")

	d = New(alloc, &Options{StatsMaxLen: 1000})
	assert.Equal(t, 1, d.DumpStats(), "dump is bounded by StatsMaxLen")

	alloc.dump = ""
	assert.Equal(t, 0, d.DumpStats())
}

func TestSplitChunks(t *testing.T) {
	assert.Nil(t, splitChunks("", 10))
	assert.Equal(t, []string{"abc"}, splitChunks("abc", 10))
	assert.Equal(t, []string{"abc", "def", "g"}, splitChunks("abcdefg", 3))
	assert.Equal(t, []string{"abc", "def"}, splitChunks("abcdef", 3))
}

func TestDaemonLoop(t *testing.T) {
	alloc := &fakeAllocator{stats: AllocatorStats{UsedBytes: 10 * GiB, FreeBytes: 3 * GiB}}
	d := New(alloc, &Options{Interval: 5 * time.Millisecond})

	d.Start()
	d.Start()
	require.True(t, d.IsRunning())

	require.Eventually(t, func() bool { return alloc.polls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, alloc.releaseCount(), 2*128)

	d.Shutdown()
	d.Shutdown()
	assert.False(t, d.IsRunning())

	// no restart after shutdown
	polls := alloc.polls.Load()
	d.Start()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, polls, alloc.polls.Load())
}

func TestDaemonShutdownIsPrompt(t *testing.T) {
	d := New(&fakeAllocator{}, &Options{Interval: time.Hour})
	d.Start()

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return promptly")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 10*time.Second, opts.Interval)
	assert.Equal(t, 60*time.Second, opts.StatsInterval)
	assert.Equal(t, 20, opts.FreeRate)
	assert.Equal(t, uint64(8*GiB), opts.MinMemoryUseSize)
	assert.Equal(t, uint64(2*GiB), opts.MinMemoryFreeSizeToRelease)
	assert.Equal(t, uint64(8*MiB), opts.ReleaseChunkSize)
	assert.Equal(t, 1800, opts.StatsChunkSize)

	// zero values fall back to defaults
	d := New(NopAllocator{}, &Options{})
	assert.Equal(t, uint64(8*MiB), d.Options().ReleaseChunkSize)
	assert.Equal(t, 10*time.Second, d.Options().Interval)
}
