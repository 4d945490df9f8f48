package oauth

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return &Manager{
		config:    &oauth2.Config{ClientID: "id", ClientSecret: "secret"},
		tokensDir: t.TempDir(),
		logger:    slog.Default(),
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)
	account := "imaps://alice@example.com@imap.example.com:993"

	if m.HasToken(account) {
		t.Fatal("HasToken true before any token saved")
	}

	token := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).UTC(),
	}
	if err := m.saveToken(account, token); err != nil {
		t.Fatalf("saveToken: %v", err)
	}

	if !m.HasToken(account) {
		t.Fatal("HasToken false after save")
	}

	got, err := m.loadToken(account)
	if err != nil {
		t.Fatalf("loadToken: %v", err)
	}
	if got.AccessToken != token.AccessToken || got.RefreshToken != token.RefreshToken {
		t.Errorf("loaded token = %+v, want %+v", got, token)
	}
}

func TestDeleteToken(t *testing.T) {
	m := newTestManager(t)
	account := "user@example.com"

	if err := m.saveToken(account, &oauth2.Token{AccessToken: "a"}); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	if err := m.DeleteToken(account); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if m.HasToken(account) {
		t.Error("token still present after delete")
	}

	// Deleting a missing token is not an error.
	if err := m.DeleteToken(account); err != nil {
		t.Errorf("DeleteToken on missing token: %v", err)
	}
}

func TestTokenPathSanitization(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name    string
		account string
	}{
		{"slashes", "a/b/c@example.com"},
		{"traversal", "../../etc/passwd"},
		{"backslashes", `a\b@example.com`},
		{"plain", "user@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := m.tokenPath(tt.account)
			if !strings.HasPrefix(path, filepath.Clean(m.tokensDir)) {
				t.Errorf("tokenPath(%q) = %q escapes tokens dir", tt.account, path)
			}
		})
	}
}

func TestTokenSourceMissingToken(t *testing.T) {
	m := newTestManager(t)

	_, err := m.TokenSource(context.Background(), "nobody@example.com")
	if err == nil {
		t.Fatal("expected error for missing token")
	}
	if !strings.Contains(err.Error(), "accounts login") {
		t.Errorf("error should mention accounts login, got: %v", err)
	}
}
