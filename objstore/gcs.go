package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSStore backs the object store with a Google Cloud Storage bucket,
// generalizing the teacher's gcs.Bucket (gcs/bucket.go) from a
// FUSE-file-backed abstraction to this module's plain byte-object
// contract.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

var _ Store = (*GCSStore)(nil)

func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objstore: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucketName)}, nil
}

func (g *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	return g.RangeRead(ctx, key, 0, -1)
}

func (g *GCSStore) RangeRead(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	r, err := g.bucket.Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objstore: gcs read %q: %w", key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCSStore) Put(ctx context.Context, key string, value []byte) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("objstore: gcs write %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("objstore: gcs close writer %q: %w", key, err)
	}
	return nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("objstore: gcs delete %q: %w", key, err)
	}
	return nil
}

func (g *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("objstore: gcs list %q: %w", prefix, err)
		}
		out = append(out, ObjectInfo{Key: attrs.Name, Size: attrs.Size})
	}
	return out, nil
}

func (g *GCSStore) Close() error { return g.client.Close() }
