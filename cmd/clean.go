package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danzoengine/danzoengine/internal/output"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean <output-path>",
		Short: "Remove a stray on-disk temp directory left behind for a destination path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tempDir := filepath.Join(filepath.Dir(args[0]), ".danzoengine-temp")
			if _, err := os.Stat(tempDir); os.IsNotExist(err) {
				output.PrintInfo("nothing to clean")
				return nil
			}
			if err := os.RemoveAll(tempDir); err != nil {
				output.PrintError(fmt.Sprintf("failed to clean %s: %v", tempDir, err))
				return err
			}
			output.PrintSuccess(fmt.Sprintf("removed %s", tempDir))
			return nil
		},
	}
}
