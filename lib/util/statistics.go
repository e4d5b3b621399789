package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

// Stats summarises a set of samples (e.g. the consumption of all live trackers)
type Stats struct {
	Count        int     `json:"count"`
	Sum          float64 `json:"sum"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes count, sum, mean, population standard deviation, min and max of the values.
// An empty input yields the zero value.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	minV, maxV := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	mean := sum / float64(len(values))

	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}

	ratio := 1.0
	if maxV > 0 {
		ratio = minV / maxV
	}

	return Stats{
		Count:        len(values),
		Sum:          sum,
		StdDeviation: math.Sqrt(sumSquaredDiffs / float64(len(values))),
		Min:          minV,
		Max:          maxV,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets, from 1 KiB to 64 GiB.
// Values above the last boundary land in an overflow bucket.
var sizeBoundaries = []int64{
	1 << 10, 16 << 10, 256 << 10, // KiB
	1 << 20, 8 << 20, 64 << 20, 512 << 20, // MiB
	1 << 30, 4 << 30, 16 << 30, 64 << 30, // GiB
}

// SizeHistogram tracks the distribution of byte sizes in exponential buckets.
//
// Thread-safety: All methods are safe for concurrent use.
type SizeHistogram struct {
	mu      sync.RWMutex
	buckets []int64
	count   int64
	sum     int64
	max     int64
}

// HistogramSnapshot is a point-in-time copy of a SizeHistogram
type HistogramSnapshot struct {
	Count      int64   `json:"count"`
	Sum        int64   `json:"sum"`
	Max        int64   `json:"max"`
	Boundaries []int64 `json:"boundaries"`
	Buckets    []int64 `json:"buckets"`
	P50        int64   `json:"p50"`
	P99        int64   `json:"p99"`
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]int64, len(sizeBoundaries)+1),
	}
}

func bucketFor(size int64) int {
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			return i
		}
	}
	return len(sizeBoundaries)
}

// AddSample records one size; negative sizes count as zero
func (h *SizeHistogram) AddSample(size int64) {
	if size < 0 {
		size = 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets[bucketFor(size)]++
	h.count++
	h.sum += size
	if size > h.max {
		h.max = size
	}
}

// Count returns the number of samples
func (h *SizeHistogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Average returns the mean of all samples, 0 without samples
func (h *SizeHistogram) Average() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return 0
	}
	return h.sum / h.count
}

// Percentile estimates the given percentile (0-100) as the upper bound of the bucket it falls in.
// The overflow bucket reports the largest sample seen.
func (h *SizeHistogram) Percentile(percentile int) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.percentileLocked(percentile)
}

func (h *SizeHistogram) percentileLocked(percentile int) int64 {
	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	if target == 0 {
		target = 1
	}

	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative >= target {
			if i < len(sizeBoundaries) {
				return min(sizeBoundaries[i], h.max)
			}
			return h.max
		}
	}
	return h.max
}

// Snapshot returns a copy of the histogram state
func (h *SizeHistogram) Snapshot() HistogramSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HistogramSnapshot{
		Count:      h.count,
		Sum:        h.sum,
		Max:        h.max,
		Boundaries: append([]int64(nil), sizeBoundaries...),
		Buckets:    append([]int64(nil), h.buckets...),
		P50:        h.percentileLocked(50),
		P99:        h.percentileLocked(99),
	}
}

// Reset clears all samples
func (h *SizeHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count, h.sum, h.max = 0, 0, 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
