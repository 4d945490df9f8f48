package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var metricsSince string

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregated ingestion metrics",
	Long: `Aggregate the counters of completed ingestion runs.

With --since only runs started at or after the given date (YYYY-MM-DD,
UTC) are counted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if metricsSince != "" {
			var err error
			since, err = time.ParseInLocation("2006-01-02", metricsSince, time.UTC)
			if err != nil {
				return fmt.Errorf("--since: expected YYYY-MM-DD, got %q", metricsSince)
			}
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := s.GetRunMetrics(since)
		if err != nil {
			return err
		}

		if !since.IsZero() {
			fmt.Printf("Runs since %s:\n", since.Format("2006-01-02"))
		} else {
			fmt.Println("All runs:")
		}
		fmt.Printf("  Total:        %d (success %d, partial %d, failed %d)\n",
			m.Runs, m.Succeeded, m.Partial, m.Failed)
		fmt.Printf("  Fetched:      %d\n", m.Fetched)
		fmt.Printf("  Saved:        %d\n", m.Saved)
		fmt.Printf("  Duplicates:   %d\n", m.Duplicates)
		fmt.Printf("  Parse errors: %d\n", m.ParseErrors)
		fmt.Printf("  Save errors:  %d\n", m.SaveErrors)

		last, err := s.ListRuns(1)
		if err != nil {
			return err
		}
		if len(last) > 0 {
			run := last[0]
			fmt.Printf("Last run: %d (%s) started %s, fetched %d, saved %d\n",
				run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"),
				run.Fetched, run.Saved)
		}
		return nil
	},
}

func init() {
	metricsCmd.Flags().StringVar(&metricsSince, "since", "", "only count runs started on or after this date (YYYY-MM-DD)")
	rootCmd.AddCommand(metricsCmd)
}
