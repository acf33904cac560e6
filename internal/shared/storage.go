package shared

import (
	"context"
	"io"
)

// Storage defines raw file storage operations for a single storage key.
// Concurrent calls on distinct ids must be safe.
type Storage interface {
	// Upload writes the content of r at id with associated metadata.
	// An existing file at id is overwritten.
	Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error

	// Open returns a reader for the file at id.
	// Returns ErrNotFound if the id does not exist.
	Open(ctx context.Context, id string) (io.ReadCloser, error)

	// Exists checks whether a file exists at id.
	Exists(ctx context.Context, id string) (bool, error)

	// Delete removes the file at id.
	// Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error
}
