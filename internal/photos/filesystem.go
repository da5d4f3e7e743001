package photos

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cardsync/internal/csync"
)

// FilesystemStore keeps photo content as files named by checksum under a
// root directory. Writes are atomic (temp file + rename).
type FilesystemStore struct {
	root string
}

var _ csync.PhotoStore = (*FilesystemStore)(nil)

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating photo store directory: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(checksum string) string {
	return filepath.Join(s.root, checksum)
}

func (s *FilesystemStore) Put(_ context.Context, checksum string, r io.Reader, size int64) error {
	dest := s.path(checksum)

	// Idempotent per checksum: content-addressed files never change.
	if _, err := os.Stat(dest); err == nil {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading photo content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing photo content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

func (s *FilesystemStore) Get(_ context.Context, checksum string, w io.Writer) error {
	f, err := os.Open(s.path(checksum))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("photo not found: %s", checksum)
		}
		return fmt.Errorf("opening photo: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}
	return nil
}

func (s *FilesystemStore) Exists(_ context.Context, checksum string) (bool, error) {
	_, err := os.Stat(s.path(checksum))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking photo: %w", err)
}

func (s *FilesystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("photo store root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("photo store root is not a directory: %s", s.root)
	}
	return nil
}
