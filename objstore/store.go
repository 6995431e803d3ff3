// Package objstore provides the polymorphic object-store abstraction
// the LSM engine (package kvstore) is layered on top of: S3-compatible,
// local filesystem, or in-memory, selected by the (out of scope) URL
// dispatch layer and handed to this module as a concrete Store.
//
// Grounded on the teacher's gcs.Conn/gcs.Bucket dynamic-dispatch shape
// (_examples/GoogleCloudPlatform-gcsfuse/gcs/gcs.go, gcs/bucket.go,
// gcs/conn.go), generalized from "GCS only" to spec.md §9's "small,
// stable method set (get/put/list/delete/range-read)".
package objstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get and RangeRead when the named
// object does not exist.
var ErrNotFound = errors.New("objstore: object not found")

// ObjectInfo describes a stored object's identity for List results.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Store is the minimal interface every backend (S3, GCS, local disk,
// in-memory) implements. All methods are safe for concurrent use.
type Store interface {
	// Get returns the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// RangeRead returns length bytes of key starting at offset,
	// letting callers avoid fetching whole objects. length < 0 means
	// "to end of object".
	RangeRead(ctx context.Context, key string, offset, length int64) ([]byte, error)

	// Put writes value under key, replacing any existing object.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error,
	// matching the GC idempotency requirement of spec.md §4.8.
	Delete(ctx context.Context, key string) error

	// List returns every object whose key has the given prefix,
	// ordered lexicographically by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Close releases any resources (network clients, file handles).
	Close() error
}

// ReadCloserStore is an optional extension for backends that can
// stream large objects without buffering the whole object in memory.
// No backend in this package implements it, and kvstore reads each
// segment whole with Get.
type ReadCloserStore interface {
	Store
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}
