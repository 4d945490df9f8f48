// Package cmd implements the mailvault command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mailvault/mailvault/internal/attach"
	"github.com/mailvault/mailvault/internal/config"
	"github.com/mailvault/mailvault/internal/mailsource"
	"github.com/mailvault/mailvault/internal/oauth"
	"github.com/mailvault/mailvault/internal/store"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mailvault",
	Short: "Email ingestion and archival tool",
	Long: `mailvault pulls messages from IMAP mailboxes and archives them in a
local database: parsed, deduplicated, filtered through user rules, with
attachments stored content-addressed on disk.

Every ingestion run leaves an audit record with its counters, so partial
failures are visible instead of silent.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if err := os.MkdirAll(cfg.Data.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.mailvault/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// openStore opens the configured database.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return s, nil
}

// openBlobs opens the configured attachment store.
func openBlobs() (*attach.DirStore, error) {
	blobs, err := attach.NewDirStore(cfg.AttachmentsDir())
	if err != nil {
		return nil, fmt.Errorf("open attachment store: %w", err)
	}
	return blobs, nil
}

// newSource builds an authenticated IMAP source for an account. OAuth
// accounts get an auto-refreshing token source; everything else uses
// the stored password.
func newSource(ctx context.Context, account *config.Account) (*mailsource.IMAPSource, error) {
	identifier := account.IMAP.Identifier()

	if account.IMAP.UsesOAuth() {
		mgr, err := oauth.NewManager(cfg.ClientSecretsPath(), cfg.TokensDir(), logger)
		if err != nil {
			return nil, err
		}
		ts, err := mgr.TokenSource(ctx, identifier)
		if err != nil {
			return nil, err
		}
		return mailsource.NewIMAPSource(&account.IMAP, "",
			mailsource.WithLogger(logger),
			mailsource.WithTokenSource(ts)), nil
	}

	password, err := mailsource.LoadCredentials(cfg.CredentialsDir(), identifier)
	if err != nil {
		return nil, err
	}
	return mailsource.NewIMAPSource(&account.IMAP, password, mailsource.WithLogger(logger)), nil
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
