package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dMem/cmd/mem"
	"github.com/ValentinKolb/dMem/cmd/serve"
	"github.com/ValentinKolb/dMem/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dmem",
		Short: "memory accounting for query nodes",
		Long: fmt.Sprintf(`dMem (v%s)

Per-request memory accounting with limits, idle tracker eviction
and bounded release of unused allocator memory to the OS.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dMem",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dMem v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(mem.MemoryCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
