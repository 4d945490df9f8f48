package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var showBody bool

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one archived email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid email ID %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		email, err := s.GetEmail(id)
		if err != nil {
			return err
		}
		attachments, err := s.ListAttachments(id)
		if err != nil {
			return err
		}

		fmt.Printf("Message-ID: %s\n", email.MessageID)
		fmt.Printf("From:       %s\n", email.Sender)
		fmt.Printf("To:         %s\n", strings.Join(email.Recipients, ", "))
		if len(email.Cc) > 0 {
			fmt.Printf("Cc:         %s\n", strings.Join(email.Cc, ", "))
		}
		fmt.Printf("Subject:    %s\n", email.Subject)
		if !email.ReceivedAt.IsZero() {
			fmt.Printf("Date:       %s\n", email.ReceivedAt.Format("2006-01-02 15:04:05 MST"))
		}
		if email.IsDeleted {
			fmt.Printf("Deleted:    %s\n", email.DeletedAt.Time.Format("2006-01-02 15:04:05 MST"))
		}

		if len(attachments) > 0 {
			fmt.Println("Attachments:")
			for _, a := range attachments {
				fmt.Printf("  %d: %s (%s, %d bytes) %s\n", a.ID, a.Filename, a.ContentType, a.Size, shortHash(a.ContentHash))
			}
		}

		if showBody {
			fmt.Println()
			fmt.Println(email.Body)
		}
		return nil
	},
}

// shortHash abbreviates a content hash for display; a corrupt short
// value is shown as-is rather than sliced out of range.
func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func init() {
	showCmd.Flags().BoolVar(&showBody, "body", false, "print the message body")
	rootCmd.AddCommand(showCmd)
}
