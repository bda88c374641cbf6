package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up the configured paths once",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.log.Sync()

		res, err := s.operator.RunBackup(cmd.Context())
		if err != nil {
			return err
		}
		if res.OK() {
			fmt.Fprintf(cmd.OutOrStdout(), "Backup finished with success: %s (%d bytes)\n",
				s.operator.RemoteBackupPath(), res.ArchiveSize)
		}
		return nil
	},
}
