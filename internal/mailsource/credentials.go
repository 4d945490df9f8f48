package mailsource

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type credentialsFile struct {
	Password string `json:"password"`
}

// credentialsPath returns the path to the credentials file for the given identifier.
func credentialsPath(credsDir, identifier string) string {
	hash := sha256.Sum256([]byte(identifier))
	prefix := fmt.Sprintf("%x", hash[:8])
	return filepath.Join(credsDir, "imap_"+prefix+".json")
}

// SaveCredentials saves an IMAP password for the given identifier.
func SaveCredentials(credsDir, identifier, password string) error {
	if err := os.MkdirAll(credsDir, 0700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	creds := credentialsFile{Password: password}
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	path := credentialsPath(credsDir, identifier)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// LoadCredentials loads an IMAP password for the given identifier.
func LoadCredentials(credsDir, identifier string) (string, error) {
	path := credentialsPath(credsDir, identifier)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no credentials found for %s (run 'mailvault accounts login' first)", identifier)
		}
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	return creds.Password, nil
}

// HasCredentials returns true if credentials exist for the given identifier.
func HasCredentials(credsDir, identifier string) bool {
	path := credentialsPath(credsDir, identifier)
	_, err := os.Stat(path)
	return err == nil
}
