package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mailvault/mailvault/internal/attach"
	"github.com/mailvault/mailvault/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})

	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	return st
}

// NewTestBlobStore creates a temporary attachment store for testing.
func NewTestBlobStore(t *testing.T) *attach.DirStore {
	t.Helper()

	blobs, err := attach.NewDirStore(filepath.Join(t.TempDir(), "attachments"))
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	return blobs
}
