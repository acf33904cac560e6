// Package minio provides a satchel Storage implementation for MinIO.
package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/zoobzio/satchel"
)

// Storage implements satchel.Storage for a MinIO bucket.
type Storage struct {
	client *minio.Client
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

// New creates a MinIO storage with the given client and bucket name.
func New(client *minio.Client, bucket string, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		bucket: bucket,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(id string) string {
	return s.prefix + id
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// Upload streams r to id. The size is unknown so the client buffers parts.
func (s *Storage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(id), r, -1, minio.PutObjectOptions{
		ContentType:  satchel.ContentType(metadata),
		UserMetadata: satchel.StringMetadata(metadata),
	})
	return err
}

// Open returns the object at id.
func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, satchel.ErrNotFound
		}
		return nil, err
	}
	return obj, nil
}

// Exists checks whether an object exists at id.
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(id), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object at id.
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.client.RemoveObject(ctx, s.bucket, s.key(id), minio.RemoveObjectOptions{})
}

// DeleteMany removes ids with multi-object delete requests.
func (s *Storage) DeleteMany(ctx context.Context, ids []string) error {
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for _, id := range ids {
			select {
			case objects <- minio.ObjectInfo{Key: s.key(id)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var first error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if first == nil && !isNoSuchKey(rerr.Err) {
			first = fmt.Errorf("minio: delete %s: %w", rerr.ObjectName, rerr.Err)
		}
	}
	if first != nil {
		return first
	}
	return ctx.Err()
}

// Movable reports whether src is a MinIO storage reachable with this client.
func (s *Storage) Movable(_ context.Context, src satchel.Storage, _ string) bool {
	other, ok := src.(*Storage)
	return ok && other.client == s.client
}

// Move copies the object server-side and removes the source.
func (s *Storage) Move(ctx context.Context, src satchel.Storage, id, destID string) error {
	other, ok := src.(*Storage)
	if !ok {
		return fmt.Errorf("minio: cannot move from %T", src)
	}
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: s.key(destID)},
		minio.CopySrcOptions{Bucket: other.bucket, Object: other.key(id)},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return satchel.ErrNotFound
		}
		return err
	}
	return other.Delete(ctx, id)
}

var (
	_ satchel.Storage      = (*Storage)(nil)
	_ satchel.Mover        = (*Storage)(nil)
	_ satchel.MultiDeleter = (*Storage)(nil)
)
