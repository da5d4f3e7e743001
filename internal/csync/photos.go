package csync

import (
	"context"
	"io"
)

// PhotoStore caches contact photo content addressed by SHA-256 checksum.
// It is a derived cache: sync never depends on it and losing it only costs
// a re-pull of photo data.
type PhotoStore interface {
	// Put stores content under its checksum. Idempotent per checksum.
	// size is the number of bytes that will be read from r.
	Put(ctx context.Context, checksum string, r io.Reader, size int64) error

	// Get writes the content for checksum to w.
	Get(ctx context.Context, checksum string, w io.Writer) error

	// Exists reports whether content for checksum is present.
	Exists(ctx context.Context, checksum string) (bool, error)

	// ValidateSetup verifies the backend is accessible and configured.
	ValidateSetup(ctx context.Context) error
}
