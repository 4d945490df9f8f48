package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/pipeline"
	"github.com/mailvault/mailvault/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled ingestion until interrupted",
	Long: `Run ingestion on the cron schedules configured per account and keep
going until interrupted. Accounts without a schedule, or with scheduling
disabled, are ignored.

Example config entry:
  [[accounts]]
  name = "work"
  schedule = "*/30 * * * *"
  enabled = true`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.ScheduledAccounts()) == 0 {
			return fmt.Errorf("no accounts with an enabled schedule in config")
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		blobs, err := openBlobs()
		if err != nil {
			return err
		}

		sched := scheduler.New(func(ctx context.Context, name string) error {
			account := cfg.GetAccount(name)
			if account == nil {
				return fmt.Errorf("account %q disappeared from config", name)
			}
			source, err := newSource(ctx, account)
			if err != nil {
				return err
			}
			defer source.Close()

			runner := pipeline.New(source, s, blobs,
				pipeline.WithLogger(logger),
				pipeline.WithBatchSize(cfg.Ingest.BatchSize))
			summary, err := runner.Run(ctx, account.IMAP.Identifier())
			if summary != nil {
				logger.Info("scheduled run recorded", "run_id", summary.RunID, "status", summary.Status)
			}
			return err
		}).WithLogger(logger)

		scheduled, errs := sched.AddAccountsFromConfig(cfg)
		for _, err := range errs {
			logger.Error("skipping account", "error", err)
		}
		if scheduled == 0 {
			return fmt.Errorf("no valid schedules")
		}

		sched.Start()
		fmt.Printf("Scheduler running with %d account(s); press Ctrl-C to stop.\n", scheduled)

		<-cmd.Context().Done()

		stopCtx := sched.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			logger.Warn("timed out waiting for running jobs")
		}
		return cmd.Context().Err()
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
