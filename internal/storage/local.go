package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/helixir/document-acquisition-service/internal/domain"
	"github.com/helixir/document-acquisition-service/internal/pdf"
)

// LocalStore keeps documents under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, domain.NewValidationError("local_root", "storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %w", domain.ErrStorage, abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Path returns the absolute file path for key.
func (s *LocalStore) Path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Exists reports whether a file with a PDF signature is stored under key.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	f, err := os.Open(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: open %s: %w", domain.ErrStorage, key, err)
	}
	defer f.Close()

	head := make([]byte, headerProbeSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("%w: read %s: %w", domain.ErrStorage, key, err)
	}
	return pdf.HasSignature(head[:n]), nil
}

// Put writes data to a temporary file in the target directory and renames it
// into place, so readers never observe a partial document.
func (s *LocalStore) Put(_ context.Context, key string, data []byte) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	path := s.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", domain.ErrStorage, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".incoming-*.pdf")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", domain.ErrStorage, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: write %s: %w", domain.ErrStorage, key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: sync %s: %w", domain.ErrStorage, key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: close %s: %w", domain.ErrStorage, key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: rename %s: %w", domain.ErrStorage, key, err)
	}
	return path, nil
}

// Delete removes the file for key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrStorage, key, err)
	}
	return nil
}
