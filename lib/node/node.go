package node

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ValentinKolb/dMem/lib/guard"
	"github.com/ValentinKolb/dMem/lib/reclaim"
	"github.com/ValentinKolb/dMem/lib/registry"
	"github.com/VictoriaMetrics/metrics"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("node")

// Node owns the registry and the reclaim daemon of a process.
//
// Thread-safety: All methods are safe for concurrent use.
type Node struct {
	config    Config
	metricSet *metrics.Set
	registry  *registry.Registry
	reclaimer *reclaim.Daemon

	startOnce    sync.Once
	shutdownOnce sync.Once
}

// New validates the configuration and creates the node's components. alloc may be nil (no reclamation).
// Nothing is started yet.
func New(cfg Config, alloc reclaim.Allocator) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	if cfg.DisableReclaim {
		alloc = nil
	}

	set := metrics.NewSet()

	reg := registry.New(&registry.Options{
		BytesLimit:       cfg.EffectiveTrackerLimit(),
		EvictionInterval: cfg.TrackerEvictionInterval,
		IdleThreshold:    cfg.TrackerGCInterval,
		NotifyEvictions:  cfg.PublishEvictions,
		Metrics:          set,
	})

	daemon := reclaim.New(alloc, &reclaim.Options{
		Interval:                   cfg.MemoryGCInterval,
		StatsInterval:              cfg.MemoryStatsInterval,
		FreeRate:                   cfg.MemoryFreeRate,
		MinMemoryUseSize:           cfg.MinMemoryUseSize,
		MinMemoryFreeSizeToRelease: cfg.MinMemoryFreeSizeToRelease,
		ReleaseChunkSize:           cfg.ReleaseChunkSize,
		Metrics:                    set,
	})

	return &Node{
		config:    cfg,
		metricSet: set,
		registry:  reg,
		reclaimer: daemon,
	}, nil
}

// Start starts the eviction and the reclaim loop. Only the first call has an effect.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.registry.Start()
		n.reclaimer.Start()

		limit := "unlimited"
		if l := n.registry.BytesLimit(); l != math.MaxInt64 {
			limit = humanize.IBytes(uint64(l))
		}
		log.Infof("memory node started (tracker limit %s, reclaim enabled: %t)", limit, n.reclaimer.Enabled())
	})
}

// Shutdown stops both loops and waits for them. Only the first call has an effect.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.registry.Shutdown()
		n.reclaimer.Shutdown()
		log.Infof("memory node stopped (%s)", n.registry.Stats())
	})
}

// NewGuard creates the guard of a new execution context working on the given logical request
func (n *Node) NewGuard(logID uint64) *guard.Guard {
	return guard.New(logID, n.registry)
}

// Registry returns the tracker registry
func (n *Node) Registry() *registry.Registry {
	return n.registry
}

// Reclaimer returns the reclaim daemon
func (n *Node) Reclaimer() *reclaim.Daemon {
	return n.reclaimer
}

// Config returns the configuration the node was created with
func (n *Node) Config() Config {
	return n.config
}

// WritePrometheus writes the node's metrics in Prometheus text format
func (n *Node) WritePrometheus(w io.Writer) {
	n.metricSet.WritePrometheus(w)
}
