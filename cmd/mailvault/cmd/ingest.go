package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/pipeline"
	"github.com/mailvault/mailvault/internal/store"
)

var ingestBatchSize int

var ingestCmd = &cobra.Command{
	Use:   "ingest <account>",
	Short: "Fetch and archive new messages from an account",
	Long: `Fetch unseen messages from a configured IMAP account and archive them.

Each message is parsed, checked against the archive for duplicates,
matched against enabled filter rules, and saved together with its
attachments. Malformed messages are counted and skipped; they never
abort the run. The run's counters are recorded as a job run.

Examples:
  mailvault ingest work
  mailvault ingest work --batch-size 200`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := cfg.GetAccount(args[0])
		if account == nil {
			return fmt.Errorf("account %q not found in config", args[0])
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

		source, err := newSource(cmd.Context(), account)
		if err != nil {
			return err
		}
		defer source.Close()

		batchSize := cfg.Ingest.BatchSize
		if ingestBatchSize > 0 {
			batchSize = ingestBatchSize
		}

		runner := pipeline.New(source, s, blobs,
			pipeline.WithLogger(logger),
			pipeline.WithBatchSize(batchSize))

		summary, err := runner.Run(cmd.Context(), account.IMAP.Identifier())
		if summary != nil {
			printSummary(summary)
		}
		return err
	},
}

func printSummary(summary *pipeline.Summary) {
	fmt.Printf("Run %d: %s\n", summary.RunID, summary.Status)
	fmt.Printf("  Fetched:      %d\n", summary.Fetched)
	fmt.Printf("  Saved:        %d\n", summary.Saved)
	fmt.Printf("  Duplicates:   %d\n", summary.Duplicates)
	fmt.Printf("  Parse errors: %d\n", summary.ParseErrors)
	fmt.Printf("  Save errors:  %d\n", summary.SaveErrors)
	for action, n := range summary.Actions {
		fmt.Printf("  Action %-8s %d\n", string(action)+":", n)
	}
	if summary.Status == store.RunStatusPartial {
		fmt.Println("Some messages were skipped; see the log for details.")
	}
}

func init() {
	ingestCmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "messages per fetch (overrides config)")
	rootCmd.AddCommand(ingestCmd)
}
