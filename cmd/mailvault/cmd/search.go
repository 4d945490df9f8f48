package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/store"
	"github.com/mailvault/mailvault/internal/textutil"
)

var (
	searchFrom           string
	searchSubject        string
	searchSince          string
	searchUntil          string
	searchHasAttachment  bool
	searchIncludeDeleted bool
	searchLimit          int
	searchOffset         int
	searchJSON           bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the archive",
	Long: `Search archived emails by sender, subject, date range, and attachment
presence. Results come back newest first; soft-deleted emails are hidden
unless --include-deleted is given.

Dates are YYYY-MM-DD and interpreted as UTC.

Examples:
  mailvault search --from alice@example.com --has-attachment
  mailvault search --subject invoice --since 2024-01-01
  mailvault search --limit 20 --offset 40`,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := store.SearchQuery{
			Sender:          searchFrom,
			SubjectContains: searchSubject,
			HasAttachment:   searchHasAttachment,
			IncludeDeleted:  searchIncludeDeleted,
			Limit:           searchLimit,
			Offset:          searchOffset,
		}

		var err error
		if q.Since, err = parseDateFlag(searchSince); err != nil {
			return fmt.Errorf("--since: %w", err)
		}
		if q.Until, err = parseDateFlag(searchUntil); err != nil {
			return fmt.Errorf("--until: %w", err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		emails, total, err := s.SearchEmails(q)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if searchJSON {
			return json.NewEncoder(os.Stdout).Encode(struct {
				Total  int64          `json:"total"`
				Emails []*store.Email `json:"emails"`
			}{total, emails})
		}

		if total == 0 {
			fmt.Println("No matches.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATE\tFROM\tSUBJECT")
		for _, e := range emails {
			date := "-"
			if !e.ReceivedAt.IsZero() {
				date = e.ReceivedAt.Format("2006-01-02 15:04")
			}
			subject := textutil.TruncateRunes(strings.TrimSpace(e.Subject), 60)
			marker := ""
			if e.IsDeleted {
				marker = " (deleted)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s%s\n", e.ID, date, e.Sender, subject, marker)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nShowing %d of %d matches\n", len(emails), total)
		return nil
	},
}

// parseDateFlag parses an empty-or-YYYY-MM-DD flag value.
func parseDateFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

func init() {
	searchCmd.Flags().StringVar(&searchFrom, "from", "", "sender address (exact match)")
	searchCmd.Flags().StringVar(&searchSubject, "subject", "", "subject substring")
	searchCmd.Flags().StringVar(&searchSince, "since", "", "received on or after (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchUntil, "until", "", "received before (YYYY-MM-DD)")
	searchCmd.Flags().BoolVar(&searchHasAttachment, "has-attachment", false, "only emails with attachments")
	searchCmd.Flags().BoolVar(&searchIncludeDeleted, "include-deleted", false, "include soft-deleted emails")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "maximum results per page")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "results to skip")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output JSON")
	rootCmd.AddCommand(searchCmd)
}
