package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kebairia/cloudbackup/internal/scheduler"
)

var (
	autoEvery string
	autoCron  string
)

var autoCmd = &cobra.Command{
	Use:   "auto",
	Short: "Back up periodically until interrupted",
	Long: `auto runs a backup right away and then on the configured schedule.
A failed run is retried after schedule.retry_after. Backend credentials are
renewed before a run once their lease ends or after the backend rejected them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.log.Sync()

		schedule := s.cfg.Schedule
		spec := schedule.Spec()
		switch {
		case autoCron != "":
			spec = autoCron
		case autoEvery != "":
			spec = "@every " + autoEvery
		}

		job := func(ctx context.Context) error {
			return s.keeper.Do(ctx, func(ctx context.Context) error {
				res, err := s.operator.RunBackup(ctx)
				if err != nil {
					return err
				}
				return res.Err
			})
		}
		sched, err := scheduler.New(spec, schedule.RetryAfter, job, s.log)
		if err != nil {
			return err
		}
		s.log.Info("starting scheduler", "schedule", spec, "retry_after", schedule.RetryAfter.String())
		return sched.Run(cmd.Context())
	},
}

func init() {
	autoCmd.Flags().StringVar(&autoEvery, "every", "", `interval between backups, e.g. "6h" (overrides schedule.every)`)
	autoCmd.Flags().StringVar(&autoCron, "cron", "", `cron expression, e.g. "0 */6 * * *" (overrides schedule.cron)`)
	autoCmd.MarkFlagsMutuallyExclusive("every", "cron")
}
