package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var deleteHard bool

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an archived email",
	Long: `Delete an email from the archive.

By default the email is soft-deleted: it disappears from searches but
nothing is removed, and re-running ingestion will not bring it back.
With --hard the row, its attachment records, and any attachment blobs no
other email references are removed for good.`,
	Args: cobra.ExactArgs(1),
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

		if !deleteHard {
			if err := s.SoftDeleteEmail(id); err != nil {
				return err
			}
			fmt.Printf("Email %d soft-deleted\n", id)
			return nil
		}

		blobs, err := openBlobs()
		if err != nil {
			return err
		}

		orphaned, err := s.HardDeleteEmail(id)
		if err != nil {
			return err
		}
		removed := 0
		for _, hash := range orphaned {
			if err := blobs.Remove(hash); err != nil {
				logger.Warn("failed to remove orphaned blob", "hash", hash, "error", err)
				continue
			}
			removed++
		}
		fmt.Printf("Email %d permanently deleted (%d attachment blobs removed)\n", id, removed)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteHard, "hard", false, "permanently delete the email and orphaned attachment blobs")
	rootCmd.AddCommand(deleteCmd)
}
