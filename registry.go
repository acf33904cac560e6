package satchel

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/zoobzio/capitan"
)

// Middleware wraps the storage registered under key.
// Middleware is applied once, when the Registry is built.
type Middleware func(r *Registry, key string, next Storage) Storage

// Registry maps storage keys to storages.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	raw     map[string]Storage
	wrapped map[string]Storage
}

// NewRegistry creates a Registry over storages. Middleware wraps every
// storage in order, the first middleware being outermost.
func NewRegistry(storages map[string]Storage, middleware ...Middleware) *Registry {
	r := &Registry{
		raw:     maps.Clone(storages),
		wrapped: make(map[string]Storage, len(storages)),
	}
	for key, s := range storages {
		for i := len(middleware) - 1; i >= 0; i-- {
			s = middleware[i](r, key, s)
		}
		r.wrapped[key] = s
	}
	return r
}

// Storage returns the storage registered under key, with middleware applied.
func (r *Registry) Storage(key string) (Storage, error) {
	s, ok := r.wrapped[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, key)
	}
	return s, nil
}

// Raw returns the storage registered under key without middleware.
func (r *Registry) Raw(key string) (Storage, error) {
	s, ok := r.raw[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, key)
	}
	return s, nil
}

// Keys returns the registered storage keys, sorted.
func (r *Registry) Keys() []string {
	return slices.Sorted(maps.Keys(r.raw))
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	_, ok := r.raw[key]
	return ok
}

// Open returns a reader for the content of f.
func (r *Registry) Open(ctx context.Context, f StoredFile) (io.ReadCloser, error) {
	s, err := r.Storage(f.Storage)
	if err != nil {
		return nil, err
	}
	return s.Open(ctx, f.ID)
}

// Exists reports whether f is present in its storage.
func (r *Registry) Exists(ctx context.Context, f StoredFile) (bool, error) {
	s, err := r.Storage(f.Storage)
	if err != nil {
		return false, err
	}
	return s.Exists(ctx, f.ID)
}

// Upload writes the content of body to key under id and returns the
// resulting reference. Failures are reported as *UploadError. When only a
// mirror failed, the reference is returned together with the *MirrorError.
func (r *Registry) Upload(ctx context.Context, key, id string, body io.Reader, metadata map[string]any) (StoredFile, error) {
	s, err := r.Storage(key)
	if err != nil {
		return StoredFile{}, err
	}
	start := time.Now()
	counted := &countingReader{r: body}
	err = s.Upload(ctx, id, counted, metadata)
	if err != nil && !isMirror(err) {
		return StoredFile{}, &UploadError{Storage: key, ID: id, Err: err}
	}
	capitan.Emit(ctx, UploadCompleted,
		FieldStorage.Field(key),
		FieldID.Field(id),
		FieldSize.Field(counted.n),
		FieldDuration.Field(time.Since(start)),
	)
	return StoredFile{Storage: key, ID: id, Metadata: maps.Clone(metadata)}, err
}

// Copy streams f into the storage key under id, carrying its metadata.
func (r *Registry) Copy(ctx context.Context, f StoredFile, key, id string) (StoredFile, error) {
	src, err := r.Open(ctx, f)
	if err != nil {
		return StoredFile{}, &UploadError{Storage: key, ID: id, Err: err}
	}
	defer func() { _ = src.Close() }()
	return r.Upload(ctx, key, id, src, f.Metadata)
}

// Move relocates f into the storage key under id. The storage's Mover is used
// when it accepts the file; otherwise the file is copied and the source deleted.
// Either way the source leaves its storage without passing through middleware,
// so mirrors of the source keep their copy.
// As with Upload, a mirror failure comes with the new reference.
func (r *Registry) Move(ctx context.Context, f StoredFile, key, id string) (StoredFile, error) {
	dest, err := r.Storage(key)
	if err != nil {
		return StoredFile{}, err
	}
	src, err := r.Raw(f.Storage)
	if err != nil {
		return StoredFile{}, err
	}
	if callMovable(ctx, dest, src, f.ID) {
		err := callMove(ctx, dest, src, f.ID, id)
		if err != nil && !isMirror(err) {
			return StoredFile{}, &UploadError{Storage: key, ID: id, Err: err}
		}
		return StoredFile{Storage: key, ID: id, Metadata: maps.Clone(f.Metadata)}, err
	}
	out, err := r.Copy(ctx, f, key, id)
	if err != nil && !isMirror(err) {
		return StoredFile{}, err
	}
	// The source is removed without middleware, as a Mover would remove it.
	if derr := src.Delete(ctx, f.ID); derr != nil {
		return out, derr
	}
	capitan.Emit(ctx, DeleteCompleted,
		FieldStorage.Field(f.Storage),
		FieldID.Field(f.ID),
	)
	return out, err
}

// Delete removes f from its storage. A *MirrorError means f itself is gone.
func (r *Registry) Delete(ctx context.Context, f StoredFile) error {
	s, err := r.Storage(f.Storage)
	if err != nil {
		return err
	}
	err = s.Delete(ctx, f.ID)
	if err != nil && !isMirror(err) {
		return err
	}
	capitan.Emit(ctx, DeleteCompleted,
		FieldStorage.Field(f.Storage),
		FieldID.Field(f.ID),
	)
	return err
}

// DeleteTree removes every leaf of tree. Leaves are grouped by storage; each
// group is removed with one MultiDeleter call when supported, otherwise with
// parallel single deletes on at most concurrency workers. Mirror failures do
// not stop the other groups and are returned once every group is removed.
func (r *Registry) DeleteTree(ctx context.Context, tree Tree, concurrency int) error {
	groups := make(map[string][]string)
	for _, f := range Leaves(tree) {
		groups[f.Storage] = append(groups[f.Storage], f.ID)
	}
	keys := slices.Sorted(maps.Keys(groups))
	tasks := make([]Task, 0, len(keys))
	var mirrored mirrorErrors
	for _, key := range keys {
		s, err := r.Storage(key)
		if err != nil {
			return err
		}
		ids := groups[key]
		tasks = append(tasks, func(ctx context.Context) error {
			if err := mirrored.keep(callDeleteMany(ctx, s, ids, concurrency)); err != nil {
				return err
			}
			capitan.Emit(ctx, DeleteCompleted,
				FieldStorage.Field(key),
				FieldCount.Field(int64(len(ids))),
			)
			return nil
		})
	}
	if err := Parallel(ctx, concurrency, tasks...); err != nil {
		return err
	}
	return mirrored.take()
}
