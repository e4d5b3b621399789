package tracker

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) read() int64            { return c.now.Load() }
func (c *fakeClock) advance(d time.Duration) { c.now.Add(int64(d)) }

func TestConsumeRelease(t *testing.T) {
	tr := New(1000, nil)

	tr.Consume(400)
	tr.Consume(300)
	assert.Equal(t, int64(700), tr.BytesConsumed())
	assert.False(t, tr.CheckBytesLimit())

	tr.Consume(301)
	assert.Equal(t, int64(1001), tr.BytesConsumed())
	assert.True(t, tr.CheckBytesLimit())

	tr.Release(1)
	assert.False(t, tr.CheckBytesLimit(), "consumed == limit is not a breach")

	tr.Release(5000)
	assert.Equal(t, int64(0), tr.BytesConsumed())
	assert.Equal(t, int64(1001), tr.PeakBytes())
	assert.Equal(t, int64(1000), tr.BytesLimit())
}

func TestNegativeInputIgnored(t *testing.T) {
	tr := New(10, nil)
	tr.Consume(5)
	tr.Consume(-3)
	tr.Release(-3)
	assert.Equal(t, int64(5), tr.BytesConsumed())
}

func TestZeroLimit(t *testing.T) {
	tr := New(0, nil)
	assert.False(t, tr.CheckBytesLimit())
	tr.Consume(1)
	assert.True(t, tr.CheckBytesLimit())
}

// TestReplayClampedSum checks that any sequential replay equals the running sum clamped at zero
func TestReplayClampedSum(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := New(1<<40, nil)

	var expected int64
	for i := 0; i < 10000; i++ {
		n := rng.Int63n(1 << 20)
		if rng.Intn(2) == 0 {
			tr.Consume(n)
			expected += n
		} else {
			tr.Release(n)
			expected = max(expected-n, 0)
		}
		require.Equal(t, expected, tr.BytesConsumed(), "step %d", i)
	}
}

func TestConcurrentUpdatesNotLost(t *testing.T) {
	tr := New(1<<40, nil)

	const workers = 16
	const rounds = 10000

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				tr.Consume(3)
				tr.Release(1)
			}
		}()
	}
	wg.Wait()

	// releases never outrun consumes per worker, so the clamp never triggers
	assert.Equal(t, int64(workers*rounds*2), tr.BytesConsumed())
	assert.GreaterOrEqual(t, tr.PeakBytes(), tr.BytesConsumed())
}

func TestActivityAndIdle(t *testing.T) {
	clock := &fakeClock{}
	clock.advance(time.Second)

	tr := New(100, clock.read)
	assert.Equal(t, int64(time.Second), tr.CreatedTime())
	assert.Equal(t, int64(time.Second), tr.LastActiveTime())

	clock.advance(30 * time.Second)
	assert.Equal(t, 30*time.Second, tr.IdleFor(clock.read()))

	tr.Consume(1)
	assert.Equal(t, time.Duration(0), tr.IdleFor(clock.read()))

	clock.advance(5 * time.Second)
	tr.Release(1)
	assert.Equal(t, int64(36*time.Second), tr.LastActiveTime())
	assert.Equal(t, time.Duration(0), tr.IdleFor(0), "future activity is not idle")
}

func TestMonotonicClockAdvances(t *testing.T) {
	a := MonotonicClock()
	time.Sleep(time.Millisecond)
	assert.Greater(t, MonotonicClock(), a)
}
