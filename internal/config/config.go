// Package config handles loading and managing mailvault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/mailvault/mailvault/internal/mailsource"
)

// Account defines one IMAP account to ingest from.
type Account struct {
	Name     string                `toml:"name"` // short label used on the CLI
	IMAP     mailsource.IMAPConfig `toml:"imap"`
	Schedule string                `toml:"schedule"` // cron expression, empty = manual only
	Enabled  bool                  `toml:"enabled"`  // whether scheduled ingestion is active
}

// Config represents the mailvault configuration.
type Config struct {
	Data     DataConfig   `toml:"data"`
	Ingest   IngestConfig `toml:"ingest"`
	Accounts []Account    `toml:"accounts"`

	// Computed paths (not from config file)
	HomeDir string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir     string `toml:"data_dir"`
	DatabaseURL string `toml:"database_url"`
}

// IngestConfig holds pipeline tuning knobs.
type IngestConfig struct {
	BatchSize int `toml:"batch_size"` // messages per fetch (default: 50)
}

// DefaultHome returns the default mailvault home directory.
// Respects MAILVAULT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILVAULT_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailvault"
	}
	return filepath.Join(home, ".mailvault")
}

// Load reads the configuration from the specified file.
// If path is empty, uses the default location (~/.mailvault/config.toml).
func Load(path string) (*Config, error) {
	homeDir := DefaultHome()

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := &Config{
		HomeDir: homeDir,
		// Defaults
		Data: DataConfig{
			DataDir: homeDir,
		},
		Ingest: IngestConfig{
			BatchSize: 50,
		},
		Accounts: []Account{},
	}

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)

	return cfg, nil
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	if c.Data.DatabaseURL != "" {
		return c.Data.DatabaseURL
	}
	return filepath.Join(c.Data.DataDir, "mailvault.db")
}

// AttachmentsDir returns the path to the attachments directory.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.Data.DataDir, "attachments")
}

// CredentialsDir returns the path to the stored-credentials directory.
func (c *Config) CredentialsDir() string {
	return filepath.Join(c.Data.DataDir, "credentials")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// ClientSecretsPath returns the path to the OAuth client secrets file.
func (c *Config) ClientSecretsPath() string {
	return filepath.Join(c.HomeDir, "client_secrets.json")
}

// ScheduledAccounts returns accounts with scheduling enabled.
func (c *Config) ScheduledAccounts() []Account {
	var scheduled []Account
	for _, acc := range c.Accounts {
		if acc.Enabled && acc.Schedule != "" {
			scheduled = append(scheduled, acc)
		}
	}
	return scheduled
}

// GetAccount returns the account with the given name, or nil.
func (c *Config) GetAccount(name string) *Account {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i]
		}
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
