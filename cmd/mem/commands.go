package mem

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dMem/cmd/util"
	"github.com/ValentinKolb/dMem/lib/guard"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	chargeCmd = &cobra.Command{
		Use:   "charge [log-id] [bytes]",
		Short: "Charges bytes to the tracker of a logical request (e.g. charge 42 64MiB)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID := util.ParseLogID(args[0])
			bytes, err := parseSize(args[1])
			if err != nil {
				return err
			}

			err = accountant.Charge(logID, session(), bytes)
			var exceeded *guard.MemoryLimitExceeded
			if errors.As(err, &exceeded) {
				fmt.Printf("charged, but the limit is exceeded: limit %s, consumed %s, session %s\n",
					humanize.IBytes(uint64(exceeded.Limit)), humanize.IBytes(uint64(exceeded.Consumed)), humanize.IBytes(uint64(exceeded.Local)))
				return nil
			} else if err != nil {
				return err
			}
			fmt.Println("charged successfully")
			return nil
		},
	}
	unchargeCmd = &cobra.Command{
		Use:   "uncharge [log-id] [bytes]",
		Short: "Uncharges bytes from the tracker of a logical request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID := util.ParseLogID(args[0])
			bytes, err := parseSize(args[1])
			if err != nil {
				return err
			}

			local, err := accountant.Uncharge(logID, session(), bytes)
			if err != nil {
				return err
			}
			fmt.Printf("uncharged successfully, session still holds %s\n", humanize.IBytes(uint64(local)))
			return nil
		},
	}
	detachCmd = &cobra.Command{
		Use:   "detach [log-id]",
		Short: "Drops a session, with --release everything it holds is uncharged first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			release, _ := cmd.Flags().GetBool("release")

			released, err := accountant.Detach(util.ParseLogID(args[0]), session(), release)
			if err != nil {
				return err
			}
			fmt.Printf("detached successfully, released %s\n", humanize.IBytes(uint64(released)))
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info [log-id]",
		Short: "Shows the tracker of a logical request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := accountant.Info(util.ParseLogID(args[0]))
			if err != nil {
				return err
			}
			if !info.Exists {
				fmt.Printf("no tracker for log_id:%d\n", info.LogID)
				return nil
			}

			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	allocatorCmd = &cobra.Command{
		Use:   "allocator",
		Short: "Shows allocator stats and a stats dump of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := accountant.Allocator()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
)

func init() {
	detachCmd.Flags().Bool("release", true, util.WrapString("Uncharge the bytes the session still holds"))
}

// parseSize parses a byte size like 1024, 64KiB or 8MB
func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %q is too large", s)
	}
	return int64(n), nil
}
