package mem

import (
	"github.com/ValentinKolb/dMem/cmd/util"
	"github.com/ValentinKolb/dMem/rpc/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	accountant *client.Accountant

	// MemoryCommands represents the memory accounting command group
	MemoryCommands = &cobra.Command{
		Use:                "mem",
		Short:              "Perform memory accounting operations against a dMem server",
		PersistentPreRunE:  setupAccountant,
		PersistentPostRunE: closeAccountant,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(MemoryCommands)

	MemoryCommands.PersistentFlags().Uint64("session", 1, util.WrapString("ID of the remote execution context the bytes are charged for"))

	MemoryCommands.AddCommand(chargeCmd)
	MemoryCommands.AddCommand(unchargeCmd)
	MemoryCommands.AddCommand(detachCmd)
	MemoryCommands.AddCommand(infoCmd)
	MemoryCommands.AddCommand(allocatorCmd)
	MemoryCommands.AddCommand(perfTestCmd)
}

// setupAccountant initializes the RPC accountant
func setupAccountant(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	accountant, err = client.NewRPCAccountant(
		util.GetChannel(),
		*util.GetClientConfig(),
		t,
		s,
	)
	return err
}

func closeAccountant(_ *cobra.Command, _ []string) error {
	if accountant == nil {
		return nil
	}
	return accountant.Close()
}

func session() uint64 {
	return viper.GetUint64("session")
}
