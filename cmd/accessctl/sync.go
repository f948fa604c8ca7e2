package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/driver"
)

var (
	syncCredential string
	syncJSON       bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push a credential to every device that should hold it",
	Long: `Runs a LiveSync pass for one credential: every device reachable through
the owner's access groups is updated and the per-device outcome printed.
The command fails when any device rejects the change.`,
	Example: `  accessctl sync --credential c-1`,
	Args:    cobra.NoArgs,
	RunE:    runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncCredential, "credential", "", "credential ID")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	if syncCredential == "" {
		return errors.New("--credential is required")
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	cmd.Printf("Synchronising credential %s...\n", syncCredential)
	report := env.sync.Sync(ctx, syncCredential)
	if err := report.Err(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	entry := audit.Entry{
		Action:       audit.ActionCredentialSync,
		CredentialID: syncCredential,
		Details:      map[string]any{"succeeded": report.Succeeded(), "failed": report.Failed()},
	}
	if report.Failed() > 0 {
		entry.Outcome = "device_errors"
	}
	recordAudit(cmd, entry)

	if syncJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		cmd.Println(string(data))
	} else {
		if len(report.Results) == 0 {
			cmd.Println("No reachable devices.")
		}
		for _, r := range report.Results {
			if r.OK() {
				cmd.Printf("  ok    %-20s %-10s %dms\n", r.DeviceID, r.Brand, r.Duration.Milliseconds())
				continue
			}
			cmd.Printf("  FAIL  %-20s %-10s %s: %v\n", r.DeviceID, r.Brand, driver.KindName(r.Err), r.Err)
		}
	}

	if failed := report.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d devices failed", failed, len(report.Results))
	}
	cmd.Printf("Credential %s synchronised to %d devices.\n", syncCredential, report.Succeeded())
	return nil
}
