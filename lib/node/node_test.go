package node

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/lib/reclaim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10*time.Second, cfg.MemoryGCInterval)
	assert.Equal(t, 60*time.Second, cfg.MemoryStatsInterval)
	assert.Equal(t, 20, cfg.MemoryFreeRate)
	assert.Equal(t, uint64(8<<30), cfg.MinMemoryUseSize)
	assert.Equal(t, uint64(2<<30), cfg.MinMemoryFreeSizeToRelease)
	assert.Equal(t, 60*time.Second, cfg.TrackerGCInterval)
	assert.Equal(t, uint64(1_000_000), cfg.PerTxnMaxNumLocks)

	assert.Greater(t, cfg.EffectiveTrackerLimit(), int64(0))
	assert.Contains(t, cfg.String(), "MEMORY TRACKERS")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryGCInterval = 0
	cfg.TrackerBytesLimit = -1
	cfg.ReleaseChunkSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory gc interval")
	assert.Contains(t, err.Error(), "bytes limit")
	assert.Contains(t, err.Error(), "chunk size")

	cfg = DefaultConfig()
	cfg.TrackerMemoryPercent = 0
	assert.Error(t, cfg.Validate())

	// the percentage is irrelevant with an explicit limit
	cfg.TrackerBytesLimit = 1 << 20
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, int64(1<<20), cfg.EffectiveTrackerLimit())

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}

func TestEffectiveTrackerLimitFromHostMemory(t *testing.T) {
	cfg := DefaultConfig()
	limit := cfg.EffectiveTrackerLimit()

	cfg.TrackerMemoryPercent = 50
	bigger := cfg.EffectiveTrackerLimit()
	if limit == math.MaxInt64 {
		assert.Equal(t, int64(math.MaxInt64), bigger, "unknown host memory means unlimited")
	} else {
		assert.Greater(t, bigger, limit)
	}
}

func TestNodeLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TrackerBytesLimit = 1000
	cfg.MemoryGCInterval = 10 * time.Millisecond
	cfg.TrackerEvictionInterval = 10 * time.Millisecond

	n, err := New(cfg, reclaim.NopAllocator{})
	require.NoError(t, err)
	n.Start()
	n.Start()

	assert.True(t, n.Registry().IsRunning())
	assert.True(t, n.Reclaimer().IsRunning())
	assert.Equal(t, int64(1000), n.Registry().BytesLimit())

	g1 := n.NewGuard(42)
	g2 := n.NewGuard(42)
	require.NoError(t, g1.Charge(600))
	require.Error(t, g2.Charge(600))
	assert.Same(t, g1.Tracker(), g2.Tracker())

	var buf bytes.Buffer
	n.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), "dmem_registry_trackers 1")
	assert.Contains(t, buf.String(), "dmem_reclaim_cycles_total")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Shutdown()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not return promptly")
	}

	assert.False(t, n.Registry().IsRunning())
	assert.False(t, n.Reclaimer().IsRunning())
}

func TestDisableReclaim(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableReclaim = true

	n, err := New(cfg, reclaim.NopAllocator{})
	require.NoError(t, err)
	n.Start()
	defer n.Shutdown()

	assert.False(t, n.Reclaimer().Enabled())
	assert.False(t, n.Reclaimer().IsRunning())
	nodeCfg := n.Config()
	assert.Contains(t, nodeCfg.String(), "Enabled")
}
