// Package photos stores contact photo content addressed by checksum, with
// memory, filesystem and S3 backends.
package photos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"cardsync/internal/csync"
)

// MemoryStore is an in-memory implementation of csync.PhotoStore, useful
// for testing. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	content map[string][]byte
}

var _ csync.PhotoStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{content: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, checksum string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading photo content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[checksum] = data
	return nil
}

func (m *MemoryStore) Get(_ context.Context, checksum string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[checksum]
	if !ok {
		return fmt.Errorf("photo not found: %s", checksum)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing photo content: %w", err)
	}
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, checksum string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok, nil
}

func (m *MemoryStore) ValidateSetup(context.Context) error { return nil }
