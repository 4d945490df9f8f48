package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MAILVAULT_HOME", home)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HomeDir != home {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, home)
	}
	if cfg.Data.DataDir != home {
		t.Errorf("DataDir = %q, want %q", cfg.Data.DataDir, home)
	}
	if cfg.Ingest.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Ingest.BatchSize)
	}
	if got := cfg.DatabasePath(); got != filepath.Join(home, "mailvault.db") {
		t.Errorf("DatabasePath = %q", got)
	}
	if got := cfg.AttachmentsDir(); got != filepath.Join(home, "attachments") {
		t.Errorf("AttachmentsDir = %q", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MAILVAULT_HOME", home)

	content := `
[data]
data_dir = "` + home + `"

[ingest]
batch_size = 10

[[accounts]]
name = "work"
schedule = "0 2 * * *"
enabled = true

[accounts.imap]
host = "imap.example.com"
tls = true
username = "me@example.com"
mailbox = "Archive"

[[accounts]]
name = "old"
schedule = "0 3 * * *"
enabled = false

[accounts.imap]
host = "imap.old.example"
username = "me@old.example"
`
	path := filepath.Join(home, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Ingest.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.Ingest.BatchSize)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(cfg.Accounts))
	}

	work := cfg.GetAccount("work")
	if work == nil {
		t.Fatal("GetAccount(work) = nil")
	}
	if work.IMAP.Host != "imap.example.com" || !work.IMAP.TLS || work.IMAP.Mailbox != "Archive" {
		t.Errorf("work IMAP = %+v", work.IMAP)
	}

	scheduled := cfg.ScheduledAccounts()
	if len(scheduled) != 1 || scheduled[0].Name != "work" {
		t.Errorf("scheduled = %+v", scheduled)
	}

	if cfg.GetAccount("nope") != nil {
		t.Error("GetAccount(nope) should be nil")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MAILVAULT_HOME", home)

	cfg, err := Load(filepath.Join(home, "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want default 50", cfg.Ingest.BatchSize)
	}
}
