// Package storage stores uploaded images on the local filesystem or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pixora-labs/pixora/internal/config"
)

// Storage is the object store behind uploads.
type Storage interface {
	// Put stores data at key. It fails with ErrKeyExists unless
	// opts.Overwrite is set.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a URL for key. A zero expiry asks for a permanent public URL
	// where the backend has one.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// PutOptions configures how an object is stored.
type PutOptions struct {
	ContentType string
	// MaxSize rejects payloads larger than this many bytes. Zero means no limit.
	MaxSize   int64
	Overwrite bool
	Public    bool
}

// Provider names.
const (
	ProviderLocal = "local"
	ProviderS3    = "s3"
)

// New builds the configured Storage backend.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Provider {
	case ProviderLocal, "":
		return NewLocalStorage(cfg.BasePath, cfg.BaseURL)
	case ProviderS3:
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}
