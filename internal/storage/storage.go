// Package storage reads source images from a blob store bound to one bucket.
package storage

import "context"

// BlobStore is a read-only view of one bucket.
// Get fails with NOT_FOUND, OBJECT_TOO_LARGE or STORAGE_UNAVAILABLE.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key in the bucket in lexical order.
	List(ctx context.Context) ([]string, error)
}
