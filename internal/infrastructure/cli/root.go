// Package cli implements the testdeck command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "testdeck",
	Version: Version,
	Short:   "Real-time coordinator for manual release-validation sessions",
	Long: `Testdeck coordinates manual release-validation sessions in real time.
Testers join a release session, request work, stream step progress and
submit results; the coordinator guarantees exclusive work-item claims,
abandonment recovery on disconnect, and a live shared dashboard.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() error {
	return RootCmd.Execute()
}
