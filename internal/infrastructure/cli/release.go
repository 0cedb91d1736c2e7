package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/testdeck/pkg/storage"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Work with release definition files",
}

var releaseCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a release definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		release, count, err := storage.LoadReleaseFile(storage.NewMemoryRepository(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Release %s: %d stories, definition is valid.\n", release, count)
		return nil
	},
}

func init() {
	releaseCmd.AddCommand(releaseCheckCmd)
	RootCmd.AddCommand(releaseCmd)
}
