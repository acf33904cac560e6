// Package s3 provides a satchel Storage implementation for AWS S3 and
// S3-compatible object stores.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/zoobzio/satchel"
)

// maxDeleteBatch is the DeleteObjects request limit.
const maxDeleteBatch = 1000

// Storage implements satchel.Storage for an S3 bucket.
type Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix stores every file under prefix, e.g. "cache/".
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New creates an S3 storage with the given client and bucket name.
func New(client *s3.Client, bucket string, opts ...Option) *Storage {
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

// Upload stores the content of r at id. The content type and metadata are
// kept as object headers.
func (s *Storage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	// PutObject needs a seekable body to sign plain HTTP requests.
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(satchel.ContentType(metadata)),
		Metadata:    satchel.StringMetadata(metadata),
	})
	return err
}

// Open returns the body of the object at id.
func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, satchel.ErrNotFound
		}
		return nil, err
	}
	return output.Body, nil
}

// Exists checks whether an object exists at id.
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the object at id. S3 does not report missing keys.
func (s *Storage) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err
}

// DeleteMany removes ids with batched DeleteObjects requests.
func (s *Storage) DeleteMany(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += maxDeleteBatch {
		end := min(start+maxDeleteBatch, len(ids))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, id := range ids[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(s.key(id))})
		}
		output, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		if len(output.Errors) > 0 {
			e := output.Errors[0]
			return fmt.Errorf("s3: delete %s: %s: %s", aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return nil
}

// Movable reports whether src is an S3 storage reachable with this client.
func (s *Storage) Movable(_ context.Context, src satchel.Storage, _ string) bool {
	other, ok := src.(*Storage)
	return ok && other.client == s.client
}

// Move copies the object server-side and deletes the source.
func (s *Storage) Move(ctx context.Context, src satchel.Storage, id, destID string) error {
	other, ok := src.(*Storage)
	if !ok {
		return fmt.Errorf("s3: cannot move from %T", src)
	}
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(s.key(destID)),
		CopySource:        aws.String(other.bucket + "/" + url.PathEscape(other.key(id))),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
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
