// Package storage defines the object store capability used by the gateway.
// Swap implementations by changing the concrete type injected at startup;
// the MinIO implementation works with any S3-compatible provider.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// ObjectInfo describes an object held in the store.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// PutOptions carries optional parameters for an object write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is the capability interface over a private bucket/key namespace.
// No business logic lives here.
type ObjectStore interface {
	// Put streams reader to the store under key. size must be the exact byte
	// count (pass -1 only if genuinely unknown; the backend will buffer it).
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	// Get retrieves the object's content as a stream. The caller must close it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Stat performs a HEAD-style existence and metadata check.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// Copy duplicates an object within the bucket.
	Copy(ctx context.Context, srcKey, dstKey string) error
	// List returns up to max objects under the given key prefix.
	List(ctx context.Context, prefix string, max int) ([]ObjectInfo, error)
	// PresignGet returns a time-limited URL granting read access to one object.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// URL constructs the direct (non-signed) URL for a key. Informational only:
	// the bucket is private, so the URL is not dereferenceable without signing.
	URL(key string) string
	// Bucket returns the container name objects are written to.
	Bucket() string
}

// Error wraps a failed store operation with enough context to retry it manually.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
