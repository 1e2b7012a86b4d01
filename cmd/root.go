package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/artdb/cmd/bench"
	"github.com/ValentinKolb/artdb/cmd/data"
	"github.com/ValentinKolb/artdb/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "artdb",
		Short: "embedded transactional key-value store",
		Long: fmt.Sprintf(`artdb (v%s)

An embedded, in-memory transactional key-value store built on an adaptive
radix tree, with O(1) snapshots, ordered cursors and a single writer.
The commands work on export files and in-memory databases.

Every flag can also be set as environment variable ARTDB_<FLAG>
(e.g. ARTDB_KEY_MODE=fixed12), .env and .env.local are loaded.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of artdb",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("artdb v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(data.GenCmd)
	RootCmd.AddCommand(data.DumpCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupDBFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
