package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/testdeck/internal/infrastructure/config"
	"github.com/felixgeelhaar/testdeck/pkg/storage"
)

var auditConfigPath string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the session event log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the session event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openEventLog()
		if err != nil {
			return err
		}

		fmt.Println("Verifying event log integrity...")
		violations, err := log.VerifyIntegrity()
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		if len(violations) == 0 {
			fmt.Println("Event log is intact and verified.")
			return nil
		}

		fmt.Printf("Found %d integrity violations:\n", len(violations))
		for _, v := range violations {
			fmt.Printf("  - %s\n", v)
		}
		os.Exit(1)
		return nil
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list [release]",
	Short: "List logged session events, optionally for one release",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := openEventLog()
		if err != nil {
			return err
		}

		evts, err := log.LoadAll()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			evts, err = log.LoadBySession(args[0])
			if err != nil {
				return err
			}
		}

		for _, e := range evts {
			fmt.Printf("%s  %-20s  %s  %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.AggregateID_, e.Actor)
		}
		fmt.Printf("%d events\n", len(evts))
		return nil
	},
}

func openEventLog() (*storage.EventLog, error) {
	cfg, err := config.Load(auditConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.EventLogDir == "" {
		return nil, fmt.Errorf("no event_log_dir configured")
	}
	return storage.NewEventLog(cfg.EventLogDir)
}

func init() {
	auditCmd.PersistentFlags().StringVarP(&auditConfigPath, "config", "c", "testdeck.yaml", "Path to the configuration file")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditListCmd)
	RootCmd.AddCommand(auditCmd)
}
