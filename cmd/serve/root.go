package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dMem/cmd/util"
	"github.com/ValentinKolb/dMem/lib/node"
	"github.com/ValentinKolb/dMem/lib/reclaim"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/ValentinKolb/dMem/rpc/server"
	"github.com/VictoriaMetrics/metrics"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logger.GetLogger("node")

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dMem server",
		Long:    `Start a memory node and serve its accounting calls. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMEM_<flag> (e.g. DMEM_MEM_TRACKER_BYTES_LIMIT=4GiB)`,
		PreRunE: processConfig,
		RunE:    serve,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := node.DefaultConfig()

	// server
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/dmem.sock, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Read and write timeout of connections in seconds (0 disables the timeout)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "channel"
	ServeCmd.PersistentFlags().Uint64(key, common.DefaultChannel, cmdUtil.WrapString("The channel the accounting service is served on"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of the Prometheus metrics endpoint (e.g. localhost:9100), empty disables it"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 4, cmdUtil.WrapString("Concurrent requests per connection (only for tcp and unix)"))

	key = "buffer-size"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size of the pooled read buffers in bytes (only for tcp and unix, 0 uses the transport default)"))

	// allocator reclamation
	key = "memory-gc-interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.MemoryGCInterval, cmdUtil.WrapString("Time between two allocator reclaim cycles"))

	key = "memory-stats-interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.MemoryStatsInterval, cmdUtil.WrapString("Time between two allocator stats dumps"))

	key = "memory-free-rate"
	ServeCmd.PersistentFlags().Int(key, defaults.MemoryFreeRate, cmdUtil.WrapString("Reserved, accepted for compatibility but not used by the reclaim policy"))

	key = "min-memory-use-size"
	ServeCmd.PersistentFlags().String(key, humanize.IBytes(defaults.MinMemoryUseSize), cmdUtil.WrapString("Reclaim only if the allocator holds more than this (e.g. 8GiB)"))

	key = "min-memory-free-size-to-release"
	ServeCmd.PersistentFlags().String(key, humanize.IBytes(defaults.MinMemoryFreeSizeToRelease), cmdUtil.WrapString("Free memory the allocator keeps, only the part above it is released (e.g. 2GiB)"))

	key = "release-chunk-size"
	ServeCmd.PersistentFlags().String(key, humanize.IBytes(defaults.ReleaseChunkSize), cmdUtil.WrapString("Bytes released per release call (e.g. 8MiB)"))

	key = "disable-reclaim"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Never release allocator memory to the operating system"))

	// tracker registry
	key = "mem-tracker-gc-interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.TrackerGCInterval, cmdUtil.WrapString("Idle time after which the tracker of a logical request is evicted"))

	key = "mem-tracker-eviction-interval"
	ServeCmd.PersistentFlags().Duration(key, defaults.TrackerEvictionInterval, cmdUtil.WrapString("Time between two tracker eviction cycles"))

	key = "mem-tracker-bytes-limit"
	ServeCmd.PersistentFlags().String(key, "0", cmdUtil.WrapString("Memory limit per logical request (e.g. 4GiB). 0 derives the limit from the host memory"))

	key = "mem-tracker-memory-percent"
	ServeCmd.PersistentFlags().Int(key, defaults.TrackerMemoryPercent, cmdUtil.WrapString("Share of the host memory used as limit per logical request if no explicit limit is set"))

	key = "per-txn-max-num-locks"
	ServeCmd.PersistentFlags().Uint64(key, defaults.PerTxnMaxNumLocks, cmdUtil.WrapString("Maximum number of locks per transaction"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Transport = common.TransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		BufferSize:     viper.GetInt("buffer-size"),
		TCPNoDelay:     true,
		TCPLingerSec:   -1,
	}
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Channel = viper.GetUint64("channel")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")

	cfg := node.DefaultConfig()
	cfg.MemoryGCInterval = viper.GetDuration("memory-gc-interval")
	cfg.MemoryStatsInterval = viper.GetDuration("memory-stats-interval")
	cfg.MemoryFreeRate = viper.GetInt("memory-free-rate")
	cfg.DisableReclaim = viper.GetBool("disable-reclaim")
	cfg.TrackerGCInterval = viper.GetDuration("mem-tracker-gc-interval")
	cfg.TrackerEvictionInterval = viper.GetDuration("mem-tracker-eviction-interval")
	cfg.TrackerMemoryPercent = viper.GetInt("mem-tracker-memory-percent")
	cfg.PerTxnMaxNumLocks = viper.GetUint64("per-txn-max-num-locks")
	cfg.PublishEvictions = true

	var err error
	if cfg.MinMemoryUseSize, err = parseBytes("min-memory-use-size"); err != nil {
		return err
	}
	if cfg.MinMemoryFreeSizeToRelease, err = parseBytes("min-memory-free-size-to-release"); err != nil {
		return err
	}
	if cfg.ReleaseChunkSize, err = parseBytes("release-chunk-size"); err != nil {
		return err
	}
	limit, err := parseBytes("mem-tracker-bytes-limit")
	if err != nil {
		return err
	}
	if limit > 1<<62 {
		return fmt.Errorf("mem-tracker-bytes-limit %s is too large", humanize.IBytes(limit))
	}
	cfg.TrackerBytesLimit = int64(limit)

	if err := cfg.Validate(); err != nil {
		return err
	}
	serveCmdConfig.Node = cfg

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// serve starts the memory node, the RPC server and the optional metrics endpoint and blocks until
// one of them fails or the process receives SIGINT or SIGTERM
func serve(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport(serveCmdConfig.Transport)
	if err != nil {
		return err
	}

	n, err := node.New(serveCmdConfig.Node, reclaim.DefaultAllocator())
	if err != nil {
		return err
	}
	n.Start()
	defer n.Shutdown()

	rpcServer := server.NewRPCServer(*serveCmdConfig, t, s, n)

	var g run.Group

	// rpc server
	g.Add(func() error {
		return rpcServer.Serve()
	}, func(error) {
		if err := rpcServer.Close(); err != nil {
			log.Errorf("failed to close rpc server: %v", err)
		}
	})

	// metrics endpoint
	if endpoint := serveCmdConfig.MetricsEndpoint; endpoint != "" {
		metricsServer := newMetricsServer(endpoint, n)
		g.Add(func() error {
			log.Infof("serving metrics on http://%s/metrics", endpoint)
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		})
	}

	// signals
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Infof("received %s, shutting down", sigErr.Signal)
		return nil
	}
	return err
}

// newMetricsServer exposes the node metrics and the process wide metrics in Prometheus format
func newMetricsServer(endpoint string, n *node.Node) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		n.WritePrometheus(w)
		metrics.WritePrometheus(w, true)
	})

	return &http.Server{
		Addr:              endpoint,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// parseBytes reads a byte size flag like "8GiB" or "1048576"
func parseBytes(key string) (uint64, error) {
	value := viper.GetString(key)
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}
