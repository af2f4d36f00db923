package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
)

// ErrBlobNotFound indicates the storage key does not resolve to an uploaded object.
var ErrBlobNotFound = errors.New("blob not found")

// BlobChecker confirms that an uploaded document blob exists before its
// metadata is registered.
type BlobChecker interface {
	Exists(ctx context.Context, loc ObjectLocation) error
}

// GCSChecker checks object existence in a GCS bucket.
type GCSChecker struct {
	client *storage.Client
}

func NewGCSChecker(client *storage.Client) *GCSChecker {
	if client == nil {
		panic("gcs checker requires client")
	}
	return &GCSChecker{client: client}
}

func (c *GCSChecker) Exists(ctx context.Context, loc ObjectLocation) error {
	if loc.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if _, err := c.client.Bucket(loc.Bucket).Object(loc.FullPath).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("object attrs: %w", err)
	}
	return nil
}

// LocalChecker checks for files under BasePath; used for local development.
type LocalChecker struct {
	BasePath string
}

func NewLocalChecker(basePath string) *LocalChecker {
	if basePath == "" {
		panic("local checker requires basePath")
	}
	return &LocalChecker{BasePath: basePath}
}

func (c *LocalChecker) Exists(ctx context.Context, loc ObjectLocation) error {
	fullPath := filepath.Join(c.BasePath, filepath.FromSlash(loc.FullPath))
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("stat blob: %w", err)
	}
	if info.IsDir() {
		return ErrBlobNotFound
	}
	return nil
}

var (
	_ BlobChecker = (*GCSChecker)(nil)
	_ BlobChecker = (*LocalChecker)(nil)
)
