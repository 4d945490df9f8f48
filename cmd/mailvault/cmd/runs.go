package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		runs, err := s.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tSTATUS\tFETCHED\tSAVED\tDUP\tPARSE ERR\tSAVE ERR\tSOURCE")
		for _, run := range runs {
			duration := "-"
			if run.CompletedAt.Valid {
				duration = run.CompletedAt.Time.Sub(run.StartedAt).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
				run.ID,
				run.StartedAt.Format("2006-01-02 15:04:05"),
				duration,
				run.Status,
				run.Fetched, run.Saved, run.Duplicates, run.ParseErrors, run.SaveErrors,
				run.Source)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
