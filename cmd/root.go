package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/hKV/cmd/bench"
	"github.com/ValentinKolb/hKV/cmd/inspect"
	"github.com/ValentinKolb/hKV/cmd/kv"
	"github.com/ValentinKolb/hKV/cmd/lock"
	"github.com/ValentinKolb/hKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "hkv",
		Short: "tiered hybrid log key-value store",
		Long: fmt.Sprintf(`hKV (v%s)

An embedded key-value store written in Go. Records live in a hybrid log that
spans an in-place updatable memory region, read-only memory segments and disk
files, addressed through one lock-free hash index.

Every flag can also be set as HKV_<FLAG> environment variable (e.g. HKV_DATA_DIR),
.env and .env.local files are loaded.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of hKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hKV v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(inspect.InspectCmd)
	RootCmd.AddCommand(versionCmd)

	util.SetupEngineFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
