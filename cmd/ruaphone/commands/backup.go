package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ruaphone/ruaphone/pkg/ruaphone/store"
)

// newBackupCmd creates the `ruaphone backup` command group.
func newBackupCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export or import the whole database",
		Long: `Exports every table to a single JSON file, or restores from one.
Import clears each table it recognizes before inserting, and skips tables
the current schema does not know.

Examples:
  ruaphone backup export my-backup.json
  ruaphone backup import my-backup.json --yes`,
	}
	cmd.AddCommand(newBackupExportCmd(version), newBackupImportCmd())
	return cmd
}

func newBackupExportCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Export the database to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			backup, err := a.store.Export(version)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(backup, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding backup: %w", err)
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return fmt.Errorf("writing backup: %w", err)
			}

			fmt.Printf("Exported %d records across %d tables to %s\n",
				backup.Summary.TotalRecords, backup.Summary.TotalTables, args[0])
			return nil
		},
	}
}

func newBackupImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore the database from a JSON backup",
		Long: `Restores a backup. This is destructive: every table present in the
backup is cleared before its records are inserted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading backup: %w", err)
			}
			var backup store.Backup
			if err := json.Unmarshal(data, &backup); err != nil {
				return fmt.Errorf("decoding backup: %w", err)
			}

			yes, _ := cmd.Flags().GetBool("yes")
			if !yes && !confirm("Importing overwrites existing data. Continue?") {
				fmt.Println("Aborted.")
				return nil
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.store.Import(&backup)
			if err != nil {
				return err
			}

			total := 0
			for table, n := range report.Imported {
				fmt.Printf("  %-20s %d records\n", table, n)
				total += n
			}
			for _, skipped := range report.Skipped {
				fmt.Printf("  %-20s skipped (unknown table)\n", skipped)
			}
			fmt.Printf("Imported %d records from %s\n", total, args[0])
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	return cmd
}
