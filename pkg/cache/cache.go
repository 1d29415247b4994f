// Package cache stores derived artifacts that are expensive to recompute,
// such as the output of the auxiliary spec preprocessor.
//
// Entries are keyed by a [Keyer], which hashes every input that affects the
// artifact (file content, preprocessor command line), so a stale entry is
// never returned: a changed input simply produces a different key.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with optional expiry.
type Cache interface {
	// Get returns the cached value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any resources held by the cache.
	Close() error
}
