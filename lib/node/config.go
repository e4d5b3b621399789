package node

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ValentinKolb/dMem/lib/reclaim"
	"github.com/dustin/go-humanize"
	"github.com/pbnjay/memory"
)

// --------------------------------------------------------------------------
// Node configuration
// --------------------------------------------------------------------------

// Config holds the process-wide memory settings. It is static for the lifetime of a Node.
type Config struct {
	// allocator reclamation
	MemoryGCInterval           time.Duration // time between reclaim cycles
	MemoryStatsInterval        time.Duration // time between allocator stats dumps
	MemoryFreeRate             int           // reserved, not used by the reclaim policy
	MinMemoryUseSize           uint64        // reclaim only above this many allocated bytes
	MinMemoryFreeSizeToRelease uint64        // free bytes that are kept by the allocator
	ReleaseChunkSize           uint64        // bytes per release call
	DisableReclaim             bool          // never start the reclaim loop

	// tracker registry
	TrackerGCInterval       time.Duration // idle time after which a tracker is evicted
	TrackerEvictionInterval time.Duration // time between eviction cycles
	TrackerBytesLimit       int64         // limit per logical request (0 = TrackerMemoryPercent of the host memory)
	TrackerMemoryPercent    int           // share of the host memory used as default limit
	PublishEvictions        bool          // publish evicted trackers on Registry().Evictions()

	// consumed by the transaction layer, not by the memory accounting
	PerTxnMaxNumLocks uint64
}

// DefaultConfig returns the default node configuration
func DefaultConfig() Config {
	return Config{
		MemoryGCInterval:           10 * time.Second,
		MemoryStatsInterval:        60 * time.Second,
		MemoryFreeRate:             20,
		MinMemoryUseSize:           8 * reclaim.GiB,
		MinMemoryFreeSizeToRelease: 2 * reclaim.GiB,
		ReleaseChunkSize:           8 * reclaim.MiB,
		TrackerGCInterval:          60 * time.Second,
		TrackerEvictionInterval:    10 * time.Second,
		TrackerBytesLimit:          0,
		TrackerMemoryPercent:       25,
		PerTxnMaxNumLocks:          1_000_000,
	}
}

// Validate checks the configuration for values the node can't work with
func (c *Config) Validate() error {
	var errs []error

	if c.MemoryGCInterval <= 0 {
		errs = append(errs, fmt.Errorf("memory gc interval must be positive, got %s", c.MemoryGCInterval))
	}
	if c.MemoryStatsInterval <= 0 {
		errs = append(errs, fmt.Errorf("memory stats interval must be positive, got %s", c.MemoryStatsInterval))
	}
	if c.ReleaseChunkSize == 0 {
		errs = append(errs, errors.New("release chunk size must be positive"))
	}
	if c.TrackerGCInterval <= 0 {
		errs = append(errs, fmt.Errorf("tracker gc interval must be positive, got %s", c.TrackerGCInterval))
	}
	if c.TrackerEvictionInterval <= 0 {
		errs = append(errs, fmt.Errorf("tracker eviction interval must be positive, got %s", c.TrackerEvictionInterval))
	}
	if c.TrackerBytesLimit < 0 {
		errs = append(errs, fmt.Errorf("tracker bytes limit must not be negative, got %d", c.TrackerBytesLimit))
	}
	if c.TrackerBytesLimit == 0 && (c.TrackerMemoryPercent <= 0 || c.TrackerMemoryPercent > 100) {
		errs = append(errs, fmt.Errorf("tracker memory percent must be in (0, 100], got %d", c.TrackerMemoryPercent))
	}

	return errors.Join(errs...)
}

// EffectiveTrackerLimit returns the limit new trackers are created with. Without an explicit limit it is
// TrackerMemoryPercent of the host memory, or unlimited if the host memory is unknown.
func (c *Config) EffectiveTrackerLimit() int64 {
	if c.TrackerBytesLimit > 0 {
		return c.TrackerBytesLimit
	}

	total := memory.TotalMemory()
	if total == 0 {
		return math.MaxInt64
	}

	limit := total / 100 * uint64(c.TrackerMemoryPercent)
	if limit == 0 || limit > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(limit)
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Memory Reclamation")
	if c.DisableReclaim {
		addField("Enabled", "false")
	} else {
		addField("Interval", c.MemoryGCInterval.String())
		addField("Stats Interval", c.MemoryStatsInterval.String())
		addField("Free Rate", fmt.Sprintf("%d (reserved)", c.MemoryFreeRate))
		addField("Min Memory Use", humanize.IBytes(c.MinMemoryUseSize))
		addField("Min Free To Release", humanize.IBytes(c.MinMemoryFreeSizeToRelease))
		addField("Release Chunk Size", humanize.IBytes(c.ReleaseChunkSize))
	}

	addSection("Memory Trackers")
	addField("Idle Threshold", c.TrackerGCInterval.String())
	addField("Eviction Interval", c.TrackerEvictionInterval.String())
	if c.TrackerBytesLimit > 0 {
		addField("Bytes Limit", humanize.IBytes(uint64(c.TrackerBytesLimit)))
	} else if limit := c.EffectiveTrackerLimit(); limit == math.MaxInt64 {
		addField("Bytes Limit", "unlimited")
	} else {
		addField("Bytes Limit", fmt.Sprintf("%s (%d%% of host memory)", humanize.IBytes(uint64(limit)), c.TrackerMemoryPercent))
	}

	addSection("Transactions")
	addField("Max Locks Per Txn", fmt.Sprintf("%d", c.PerTxnMaxNumLocks))

	return sb.String()
}
