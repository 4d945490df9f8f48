package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var attachmentOutput string

var attachmentCmd = &cobra.Command{
	Use:   "attachment",
	Short: "Export or delete individual attachments",
}

var attachmentExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export an attachment by ID",
	Long: `Write an attachment's bytes to a file.

Attachment IDs come from 'show <email-id>'. Without --output the
attachment's original filename is used; '-o -' streams to stdout.

Examples:
  mailvault attachment export 12
  mailvault attachment export 12 -o invoice.pdf
  mailvault attachment export 12 -o - > invoice.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid attachment ID %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		att, err := s.GetAttachment(id)
		if err != nil {
			return err
		}

		blobs, err := openBlobs()
		if err != nil {
			return err
		}

		src, err := os.Open(blobs.Path(att.ContentHash))
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("blob for attachment %d is missing (hash %s)", id, att.ContentHash)
			}
			return fmt.Errorf("open blob: %w", err)
		}
		defer src.Close()

		if attachmentOutput == "-" {
			_, err := io.Copy(os.Stdout, src)
			return err
		}

		dest := attachmentOutput
		if dest == "" {
			dest = att.Filename
		}
		out, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		if _, err := io.Copy(out, src); err != nil {
			out.Close()
			os.Remove(dest)
			return fmt.Errorf("write %s: %w", dest, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("close %s: %w", dest, err)
		}
		fmt.Printf("Wrote %s (%d bytes)\n", dest, att.Size)
		return nil
	},
}

var attachmentDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an attachment by ID",
	Long: `Remove one attachment record from the archive. The stored blob is
removed too unless another email still references the same content.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid attachment ID %q", args[0])
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		orphaned, err := s.DeleteAttachment(id)
		if err != nil {
			return err
		}
		if orphaned != "" {
			blobs, err := openBlobs()
			if err != nil {
				return err
			}
			if err := blobs.Remove(orphaned); err != nil {
				logger.Warn("failed to remove orphaned blob", "hash", orphaned, "error", err)
			}
		}
		fmt.Printf("Attachment %d deleted\n", id)
		return nil
	},
}

func init() {
	attachmentExportCmd.Flags().StringVarP(&attachmentOutput, "output", "o", "", "output path ('-' for stdout; default: original filename)")
	attachmentCmd.AddCommand(attachmentExportCmd)
	attachmentCmd.AddCommand(attachmentDeleteCmd)
	rootCmd.AddCommand(attachmentCmd)
}
