package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"github.com/vertextoedge/resumable-downloader/internal/port"
)

// Store implements port.KeyValueStore with one object per key in a bucket
type Store struct {
	bucket *blob.Bucket
	prefix string
}

// Ensure Store implements port.KeyValueStore
var _ port.KeyValueStore = (*Store)(nil)

// Open opens the bucket at url (mem://, file:///dir, s3://bucket, gs://bucket)
func Open(ctx context.Context, url, prefix string) (*Store, error) {
	bkt, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", url, err)
	}
	return New(bkt, prefix), nil
}

// New wraps an already opened bucket
func New(bkt *blob.Bucket, prefix string) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{bucket: bkt, prefix: prefix}
}

func (s *Store) objectKey(key string) string {
	return s.prefix + key + ".json"
}

// Get returns the value stored under key
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	r, err := s.bucket.NewReader(ctx, s.objectKey(key), nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return string(data), true, nil
}

// Set stores value under key
func (s *Store) Set(ctx context.Context, key, value string) error {
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, s.objectKey(key), []byte(value), opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Close closes the bucket
func (s *Store) Close() error {
	return s.bucket.Close()
}
