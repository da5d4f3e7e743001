package photos

import (
	"context"
	"fmt"

	"cardsync/internal/config"
	"cardsync/internal/csync"
)

// NewStoreFromConfig creates a photo store based on the config type.
func NewStoreFromConfig(ctx context.Context, cfg config.PhotosConfig) (csync.PhotoStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem photo store requires root to be set")
		}
		return NewFilesystemStore(cfg.Root)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown photo store type: %s", cfg.Type)
	}
}
