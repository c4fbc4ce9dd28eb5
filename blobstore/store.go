package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// Store is flat object storage for encoded annotation payloads. Keys use "/"
// as a hierarchy separator for List prefixes; implementations may or may not
// map that onto real directories.
type Store interface {
	// Get returns the full blob content, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put writes a blob atomically, replacing any existing content.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
