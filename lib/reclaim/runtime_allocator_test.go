package reclaim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeAllocatorStats(t *testing.T) {
	a := NewRuntimeAllocator(0)
	assert.Equal(t, "go-runtime", a.Name())

	stats, err := a.Stats()
	require.NoError(t, err)
	assert.Greater(t, stats.UsedBytes, uint64(0))
	assert.Equal(t, stats.UsedBytes+stats.FreeBytes, stats.Allocated())
}

func TestRuntimeAllocatorReleaseIsRateLimited(t *testing.T) {
	a := NewRuntimeAllocator(time.Hour)
	calls := 0
	a.freeOSMemory = func() { calls++ }

	for i := 0; i < 128; i++ {
		a.ReleaseToSystem(8 * MiB)
	}

	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(1), a.ReleaseCalls())
	assert.Equal(t, uint64(127*8*MiB), a.Pending())
}

func TestRuntimeAllocatorReleaseAfterGap(t *testing.T) {
	a := NewRuntimeAllocator(time.Millisecond)
	calls := 0
	a.freeOSMemory = func() { calls++ }

	a.ReleaseToSystem(1)
	time.Sleep(5 * time.Millisecond)
	a.ReleaseToSystem(1)

	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(0), a.Pending())
}

func TestRuntimeAllocatorDump(t *testing.T) {
	a := NewRuntimeAllocator(0)

	dump := a.DumpStats(0)
	assert.Contains(t, dump, "allocator=go-runtime")
	assert.Contains(t, dump, "/memory/classes/heap/objects:bytes=")

	assert.Len(t, a.DumpStats(10), 10)
}

func TestNopAllocator(t *testing.T) {
	var a Allocator = NopAllocator{}
	stats, err := a.Stats()
	require.NoError(t, err)
	assert.Equal(t, AllocatorStats{}, stats)
	assert.Empty(t, a.DumpStats(100))
	a.ReleaseToSystem(1 << 30)

	report := New(a, nil).ReclaimOnce()
	assert.False(t, report.Triggered)
}
