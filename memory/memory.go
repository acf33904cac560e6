// Package memory provides an in-process satchel storage.
// It is intended for tests and for caches that need not survive a restart.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/zoobzio/satchel/internal/shared"
)

type object struct {
	data     []byte
	metadata map[string]any
}

// Storage keeps file contents in a map.
type Storage struct {
	mu    sync.RWMutex
	files map[string]object
}

// New creates an empty Storage.
func New() *Storage {
	return &Storage{files: make(map[string]object)}
}

// Upload stores the content of r at id, replacing any existing file.
func (s *Storage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("memory: read %s: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = object{data: data, metadata: maps.Clone(metadata)}
	return nil
}

// Open returns a reader over a snapshot of the file at id.
func (s *Storage) Open(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.files[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Exists checks whether a file exists at id.
func (s *Storage) Exists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[id]
	return ok, nil
}

// Delete removes the file at id.
func (s *Storage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, id)
	return nil
}

// DeleteMany removes every file in ids under one lock.
func (s *Storage) DeleteMany(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.files, id)
	}
	return nil
}

// Movable reports whether src is a memory Storage holding id.
func (s *Storage) Movable(ctx context.Context, src shared.Storage, id string) bool {
	other, ok := src.(*Storage)
	if !ok {
		return false
	}
	found, _ := other.Exists(ctx, id)
	return found
}

// Move takes over the file at id in src as destID without copying its bytes.
func (s *Storage) Move(_ context.Context, src shared.Storage, id, destID string) error {
	other, ok := src.(*Storage)
	if !ok {
		return fmt.Errorf("memory: cannot move from %T", src)
	}

	other.mu.Lock()
	obj, found := other.files[id]
	delete(other.files, id)
	other.mu.Unlock()
	if !found {
		return shared.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[destID] = obj
	return nil
}

// Metadata returns the metadata stored with id.
func (s *Storage) Metadata(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.files[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(obj.metadata), true
}

// Content returns a copy of the bytes stored at id.
func (s *Storage) Content(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.files[id]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

// IDs returns the stored ids with the given prefix, sorted.
func (s *Storage) IDs(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id := range s.files {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of stored files.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
