// Package azure provides a satchel Storage implementation for Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/zoobzio/satchel"
)

// Storage implements satchel.Storage for an Azure Blob container.
type Storage struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix stores every file under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New creates an Azure Blob storage with the given client and container name.
func New(client *azblob.Client, containerName string, opts ...Option) *Storage {
	s := &Storage{
		client:        client,
		containerName: containerName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(id string) string {
	return s.prefix + id
}

func notFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// Upload streams r to id as a block blob.
func (s *Storage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	contentType := satchel.ContentType(metadata)
	_, err := s.client.UploadStream(ctx, s.containerName, s.key(id), r, &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Metadata:    toPtrMap(satchel.StringMetadata(metadata)),
	})
	return err
}

// Open returns the body of the blob at id.
func (s *Storage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := s.client.DownloadStream(ctx, s.containerName, s.key(id), nil)
	if err != nil {
		if notFound(err) {
			return nil, satchel.ErrNotFound
		}
		return nil, err
	}
	return resp.Body, nil
}

// Exists checks whether a blob exists at id.
func (s *Storage) Exists(ctx context.Context, id string) (bool, error) {
	blobClient := s.client.ServiceClient().NewContainerClient(s.containerName).NewBlobClient(s.key(id))
	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the blob at id. A missing blob is not an error.
func (s *Storage) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteBlob(ctx, s.containerName, s.key(id), nil)
	if err != nil && !notFound(err) {
		return err
	}
	return nil
}

// toPtrMap converts map[string]string to map[string]*string.
func toPtrMap(m map[string]string) map[string]*string {
	if len(m) == 0 {
		return nil
	}
	result := make(map[string]*string, len(m))
	for k, v := range m {
		result[k] = &v
	}
	return result
}

var _ satchel.Storage = (*Storage)(nil)
