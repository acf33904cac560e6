// Package gcs provides a satchel Storage implementation for Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/zoobzio/satchel"
)

// Storage implements satchel.Storage for a GCS bucket.
type Storage struct {
	client *storage.Client
	bucket string
	prefix string
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix stores every file under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New creates a GCS storage with the given client and bucket name.
func New(client *storage.Client, bucket string, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		bucket: bucket,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) object(id string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + id)
}

// Upload streams r to id.
func (s *Storage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	writer := s.object(id).NewWriter(ctx)
	writer.ContentType = satchel.ContentType(metadata)
	writer.Metadata = satchel.StringMetadata(metadata)

	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// Open returns a reader over the object at id.
func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	reader, err := s.object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, satchel.ErrNotFound
		}
		return nil, err
	}
	return reader, nil
}

// Exists checks whether an object exists at id.
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.object(id).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object at id. A missing object is not an error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	err := s.object(id).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// Movable reports whether src is a GCS storage reachable with this client.
func (s *Storage) Movable(_ context.Context, src satchel.Storage, _ string) bool {
	other, ok := src.(*Storage)
	return ok && other.client == s.client
}

// Move rewrites the object server-side and deletes the source.
func (s *Storage) Move(ctx context.Context, src satchel.Storage, id, destID string) error {
	other, ok := src.(*Storage)
	if !ok {
		return fmt.Errorf("gcs: cannot move from %T", src)
	}
	if _, err := s.object(destID).CopierFrom(other.object(id)).Run(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return satchel.ErrNotFound
		}
		return err
	}
	return other.Delete(ctx, id)
}

var (
	_ satchel.Storage = (*Storage)(nil)
	_ satchel.Mover   = (*Storage)(nil)
)
