package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kebairia/cloudbackup/internal/operations"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the configured paths from the remote backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.log.Sync()

		summary, err := s.operator.RunRestore(cmd.Context())
		if err != nil {
			var rErr *operations.RestoreError
			if errors.As(err, &rErr) {
				printRemediation(cmd.ErrOrStderr(), s.cfg.Backup.RootCloudDir, s.cfg.Backend.Type)
			}
			return err
		}
		printSummary(cmd.OutOrStdout(), summary)
		return nil
	},
}

func printSummary(w io.Writer, summary *operations.RestoreSummary) {
	if summary.NothingToRestore {
		fmt.Fprintf(w, "Nothing to restore: no backup exists at %q.\n", summary.RemotePath)
		return
	}
	fmt.Fprintln(w, "Files restored successfully from the backup.")
	fmt.Fprintf(w, "Backup date: %s\n", summary.CreatedAt.Format("02.01.2006 15:04:05"))
	fmt.Fprintf(w, "Restored %d paths:\n", len(summary.Paths))
	for _, p := range summary.Paths {
		fmt.Fprintf(w, "     * %q\n", p)
	}
}

func printRemediation(w io.Writer, rootCloudDir, backend string) {
	fmt.Fprintf(w, `Failed to restore files from the backup. What now?

Check on the %s backend whether %q exists.
    Yes: download %s from that location and restore from it manually.
    No:  there is no backup left to restore from.
`, backend, rootCloudDir, operations.BackupFilename)
}
