// Package attach persists attachment payloads outside the database.
//
// Blobs are content addressed by their SHA-256 hex digest, so the same
// payload referenced by many emails is stored once and Put is naturally
// idempotent.
package attach

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrStorage tags failures of the blob store. Callers check it with
// errors.Is to tell storage trouble apart from database errors.
var ErrStorage = errors.New("attachment storage")

// Store is the attachment blob backend.
type Store interface {
	// Put writes content and returns its SHA-256 hex digest. Writing a
	// payload that already exists succeeds without touching the existing
	// blob.
	Put(content []byte) (hash string, err error)

	// Remove deletes the blob for hash. Removing a blob that does not
	// exist is not an error.
	Remove(hash string) error

	// Path returns the filesystem path a blob lives at, whether or not
	// it exists yet.
	Path(hash string) string
}

// DirStore keeps blobs under root as <root>/<hash[:2]>/<hash>, sharding on
// the first hash byte to keep directories small.
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root: %v", ErrStorage, err)
	}
	return &DirStore{root: root}, nil
}

// Root returns the store's base directory.
func (s *DirStore) Root() string {
	return s.root
}

func (s *DirStore) Path(hash string) string {
	// A hash too short to shard cannot name a stored blob; map it to a
	// path that simply will not exist instead of slicing out of range.
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

func (s *DirStore) Put(content []byte) (string, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	dest := s.Path(hash)
	if _, err := os.Stat(dest); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("%w: create shard dir: %v", ErrStorage, err)
	}

	// Write to a temp file in the same directory and rename so a crash
	// mid-write never leaves a truncated blob at the final path.
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-"+hash[:8]+"-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: write blob: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: close blob: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("%w: finalize blob: %v", ErrStorage, err)
	}
	return hash, nil
}

func (s *DirStore) Remove(hash string) error {
	if len(hash) < 2 {
		return fmt.Errorf("%w: invalid hash %q", ErrStorage, hash)
	}
	err := os.Remove(s.Path(hash))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove blob: %v", ErrStorage, err)
	}
	// Drop the shard directory if it emptied out; best effort.
	os.Remove(filepath.Join(s.root, hash[:2]))
	return nil
}
