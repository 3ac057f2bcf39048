package persistence

import (
	"context"
	"fmt"

	"travellog/internal/config"
	"travellog/internal/travellog"
)

// NewPersistenceFromConfig creates a Persistence implementation based on the
// persistence config type. Type "none" returns nil: the synchronizer then
// falls back to its cache only.
func NewPersistenceFromConfig(ctx context.Context, cfg config.PersistenceConfig, encryptor travellog.Encryptor, passphrase PassphraseFunc) (travellog.Persistence, error) {
	var blobs BlobStore
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		blobs = NewMemoryBlobStore()
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem persistence requires root to be set")
		}
		fs, err := NewFileSystemBlobStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		blobs = fs
	case "s3":
		s3, err := NewS3BlobStore(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		blobs = s3
	default:
		return nil, fmt.Errorf("unknown persistence type: %s", cfg.Type)
	}
	return NewSnapshotStore(blobs, encryptor, passphrase), nil
}
