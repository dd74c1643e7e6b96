package kv

import (
	"github.com/ValentinKolb/hKV/cmd/util"
	"github.com/ValentinKolb/hKV/lib/store"
	"github.com/spf13/cobra"
)

var (
	kvStore store.IStore

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on the database in --data-dir",
		PersistentPreRunE:  openStore,
		PersistentPostRunE: closeStore,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(setECmd)
	KeyValueCommands.AddCommand(setEIfUnsetCmd)
	KeyValueCommands.AddCommand(casCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(scanCmd)
	KeyValueCommands.AddCommand(exportCmd)
	KeyValueCommands.AddCommand(importCmd)

	scanCmd.Flags().Int("count", 100, util.WrapString("Number of keys to aim for per scan step"))
}

// openStore opens the embedded database for the duration of one command
func openStore(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	opts, err := util.GetEngineOptions()
	if err != nil {
		return err
	}
	kvStore, _, err = util.OpenStore(opts)
	return err
}

// closeStore persists the database, the mutable region is only written on close
func closeStore(_ *cobra.Command, _ []string) error {
	if kvStore == nil {
		return nil
	}
	return kvStore.Close()
}
