// Package cmd wires the chunked-download engine to a cobra CLI, the
// harness that exercises it end to end.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var DanzoEngineVersion = "dev"

var debug bool

var rootCmd = &cobra.Command{
	Use:     "danzoengine",
	Short:   "danzoengine is a multi-connection HTTP(S) downloader",
	Version: DanzoEngineVersion,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newCleanCmd())
}
