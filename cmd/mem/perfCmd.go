package mem

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/cmd/util"
	libUtil "github.com/ValentinKolb/dMem/lib/util"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/dustin/go-humanize"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dMem servers",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfChargeSize  int64 = 64 * 1024
	perfNumThreads        = 10
	perfLogIDSpread       = 100
	perfSkip              = make([]string, 0)

	// sessions and log ids of different perf runs must not collide
	perfSeed = libUtil.GenerateSeed()
)

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. charge,info)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "charge-size"
	perfTestCmd.Flags().String(key, "64KiB", util.WrapString("Bytes charged per operation"))
	key = "log-ids"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different logical requests to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	size, err := parseSize(viper.GetString("charge-size"))
	if err != nil {
		return err
	}
	perfChargeSize = size
	perfLogIDSpread = max(viper.GetInt("log-ids"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// perfResult combines the totals of testing.Benchmark with the latency distribution of a timer
type perfResult struct {
	bench testing.BenchmarkResult
	timer metrics.Timer
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dMem servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d, charge size: %s, log ids: %d\n", perfNumThreads, humanize.IBytes(uint64(perfChargeSize)), perfLogIDSpread)
	fmt.Println()

	fmt.Println("starting tests...")

	registry := metrics.NewRegistry()
	defer registry.UnregisterAll()

	results := make(map[string]perfResult)
	nextSession := atomic.Uint64{}
	nextSession.Store(perfSeed)

	benchmark := func(name string, op func(logID, session uint64) error) {
		timer := metrics.GetOrRegisterTimer(name, registry)
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(name) {
				return
			}

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				session := nextSession.Add(1)
				counter := 0
				for pb.Next() {
					start := time.Now()
					if err := op(getLogID(counter), session); err != nil {
						log.Printf("(%s) - error: %v\n", name, err)
					}
					timer.UpdateSince(start)
					counter++
				}

				// leave nothing charged behind
				if _, err := accountant.Detach(getLogID(counter), session, true); err != nil {
					log.Printf("(%s) - error detaching session: %v\n", name, err)
				}
			})
		})

		results[name] = perfResult{bench: result, timer: timer}
		printResult(name, results[name])
	}

	// charge and uncharge the same amount
	benchmark("charge-uncharge", func(logID, session uint64) error {
		if err := accountant.Charge(logID, session, perfChargeSize); err != nil {
			return err
		}
		_, err := accountant.Uncharge(logID, session, perfChargeSize)
		return err
	})

	// charges only, every session detaches (and releases) at the end
	benchmark("charge", func(logID, session uint64) error {
		return accountant.Charge(logID, session, perfChargeSize)
	})

	benchmark("info", func(logID, _ uint64) error {
		_, err := accountant.Info(logID)
		return err
	})

	// charge, uncharge and info depending on the log id
	benchmark("mixed", func(logID, session uint64) error {
		var err error
		switch logID % 3 {
		case 0:
			err = accountant.Charge(logID, session, perfChargeSize)
		case 1:
			_, err = accountant.Uncharge(logID, session, perfChargeSize)
		case 2:
			_, err = accountant.Info(logID)
		}
		return err
	})

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getLogID returns the i-th log id of this perf run (with wraparound)
func getLogID(i int) uint64 {
	return perfSeed + uint64(i%perfLogIDSpread)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.N == 0 || result.timer.Count() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := result.timer.Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\tp50 %s\tp99 %s\n",
		test, nsPerOp, time.Duration(nsPerOp), opsPerSec, time.Duration(ps[0]), time.Duration(ps[1]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "P50Ns", "P99Ns", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"Channel", "Serializer", "Transport",
		"Threads", "ChargeSize", "LogIDs",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec, p50, p99 float64
		skipped := "true"

		if result.bench.N > 0 && result.timer.Count() > 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
			ps := result.timer.Percentiles([]float64{0.5, 0.99})
			p50, p99 = ps[0], ps[1]
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			fmt.Sprintf("%.0f", p50),
			fmt.Sprintf("%.0f", p99),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetChannel(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.FormatInt(perfChargeSize, 10),
			strconv.Itoa(perfLogIDSpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
