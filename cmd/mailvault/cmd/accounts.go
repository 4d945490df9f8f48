package cmd

import (
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mailvault/mailvault/internal/mailsource"
	"github.com/mailvault/mailvault/internal/oauth"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage configured IMAP accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts from the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Accounts) == 0 {
			fmt.Println("No accounts configured. Add [[accounts]] entries to the config file.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSERVER\tUSER\tMAILBOX\tSCHEDULE\tCREDENTIALS")
		for _, acc := range cfg.Accounts {
			schedule := acc.Schedule
			if schedule == "" {
				schedule = "-"
			} else if !acc.Enabled {
				schedule += " (disabled)"
			}
			creds := "missing"
			if acc.IMAP.UsesOAuth() {
				creds = "oauth: missing"
				if mgr, err := oauth.NewManager(cfg.ClientSecretsPath(), cfg.TokensDir(), logger); err == nil && mgr.HasToken(acc.IMAP.Identifier()) {
					creds = "oauth: authorized"
				}
			} else if mailsource.HasCredentials(cfg.CredentialsDir(), acc.IMAP.Identifier()) {
				creds = "stored"
			}
			mailbox := acc.IMAP.Mailbox
			if mailbox == "" {
				mailbox = "INBOX"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				acc.Name, acc.IMAP.Addr(), acc.IMAP.Username, mailbox, schedule, creds)
		}
		return w.Flush()
	},
}

var loginHeadless bool

var accountsLoginCmd = &cobra.Command{
	Use:   "login <account>",
	Short: "Store credentials for an account",
	Long: `Store credentials for an account. For password accounts this prompts
interactively and stores the password under the data directory, so it
stays out of shell history. For accounts with auth = "oauth2" it runs
the OAuth consent flow instead; use --headless on machines without a
browser.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		account := cfg.GetAccount(args[0])
		if account == nil {
			return fmt.Errorf("account %q not found in config", args[0])
		}

		if account.IMAP.UsesOAuth() {
			mgr, err := oauth.NewManager(cfg.ClientSecretsPath(), cfg.TokensDir(), logger)
			if err != nil {
				return err
			}
			identifier := account.IMAP.Identifier()
			if err := mgr.Authorize(cmd.Context(), identifier, loginHeadless); err != nil {
				return fmt.Errorf("authorize: %w", err)
			}
			fmt.Printf("Stored OAuth token for %s\n", identifier)
			return nil
		}

		fmt.Printf("Password for %s: ", account.IMAP.Username)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password := string(raw)
		if password == "" {
			return fmt.Errorf("password is required")
		}

		identifier := account.IMAP.Identifier()
		if err := mailsource.SaveCredentials(cfg.CredentialsDir(), identifier, password); err != nil {
			return err
		}
		fmt.Printf("Stored credentials for %s\n", identifier)
		return nil
	},
}

func init() {
	accountsLoginCmd.Flags().BoolVar(&loginHeadless, "headless", false, "use the device code flow instead of a browser")
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsLoginCmd)
	rootCmd.AddCommand(accountsCmd)
}
