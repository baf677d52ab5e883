// Package files provides local filesystem storage for uploads and the
// per-job temporary artifacts the pipeline produces.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store saves uploads and creates per-job temp directories under a root dir.
type Store struct {
	root string
}

// NewStore creates the root directory if needed and returns a Store.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the directory uploads are stored under.
func (s *Store) Root() string {
	return s.root
}

// Save writes r to a new file under the root dir and returns its path.
// The name is flattened to its base to keep callers from escaping the root.
func (s *Store) Save(r io.Reader, name string) (string, error) {
	path := filepath.Join(s.root, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Delete removes a single file. A missing file is not an error.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// CreateTempDir creates (or reuses) a named directory under the root dir.
func (s *Store) CreateTempDir(name string) (string, error) {
	path := filepath.Join(s.root, filepath.Base(name))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating temp directory %s: %w", path, err)
	}
	return path, nil
}

// DeleteDir removes a directory and its contents. A missing directory is not
// an error.
func (s *Store) DeleteDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting directory %s: %w", path, err)
	}
	return nil
}
