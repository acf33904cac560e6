// Package bolt provides a satchel Storage implementation for BoltDB.
// File contents and their metadata live in two buckets of one database,
// which makes moves between storages sharing a database atomic.
package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zoobzio/satchel"
	"go.etcd.io/bbolt"
)

// Storage implements satchel.Storage for a BoltDB bucket.
type Storage struct {
	db     *bbolt.DB
	bucket []byte
	meta   []byte
}

// New creates a Bolt storage with the given database and bucket name.
func New(db *bbolt.DB, bucket string) *Storage {
	return &Storage{
		db:     db,
		bucket: []byte(bucket),
		meta:   []byte(bucket + ".meta"),
	}
}

// Upload stores the content of r at id, replacing any existing file.
func (s *Storage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("bolt: encode metadata: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.put(tx, id, data, meta)
	})
}

func (s *Storage) put(tx *bbolt.Tx, id string, data, meta []byte) error {
	b, err := tx.CreateBucketIfNotExists(s.bucket)
	if err != nil {
		return err
	}
	m, err := tx.CreateBucketIfNotExists(s.meta)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(id), data); err != nil {
		return err
	}
	return m.Put([]byte(id), meta)
}

func (s *Storage) remove(tx *bbolt.Tx, id string) error {
	if b := tx.Bucket(s.bucket); b != nil {
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
	}
	if m := tx.Bucket(s.meta); m != nil {
		return m.Delete([]byte(id))
	}
	return nil
}

// Open returns a reader over a copy of the file at id.
func (s *Storage) Open(_ context.Context, id string) (io.ReadCloser, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return satchel.ErrNotFound
		}
		v := b.Get([]byte(id))
		if v == nil {
			return satchel.ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Exists checks whether a file exists at id.
func (s *Storage) Exists(_ context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		exists = b != nil && b.Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

// Delete removes the file at id.
func (s *Storage) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.remove(tx, id)
	})
}

// DeleteMany removes every id in one transaction.
func (s *Storage) DeleteMany(ctx context.Context, ids []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.remove(tx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Metadata returns the metadata stored with id.
func (s *Storage) Metadata(_ context.Context, id string) (map[string]any, error) {
	var metadata map[string]any
	err := s.db.View(func(tx *bbolt.Tx) error {
		m := tx.Bucket(s.meta)
		if m == nil {
			return satchel.ErrNotFound
		}
		v := m.Get([]byte(id))
		if v == nil {
			return satchel.ErrNotFound
		}
		return json.Unmarshal(v, &metadata)
	})
	return metadata, err
}

// Movable reports whether src is a Bolt storage in the same database.
func (s *Storage) Movable(_ context.Context, src satchel.Storage, _ string) bool {
	other, ok := src.(*Storage)
	return ok && other.db == s.db
}

// Move renames the file from src into s in a single transaction.
func (s *Storage) Move(_ context.Context, src satchel.Storage, id, destID string) error {
	other, ok := src.(*Storage)
	if !ok || other.db != s.db {
		return fmt.Errorf("bolt: cannot move from %T", src)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(other.bucket)
		if b == nil {
			return satchel.ErrNotFound
		}
		v := b.Get([]byte(id))
		if v == nil {
			return satchel.ErrNotFound
		}
		data := bytes.Clone(v)
		var meta []byte
		if m := tx.Bucket(other.meta); m != nil {
			meta = bytes.Clone(m.Get([]byte(id)))
		}
		if err := other.remove(tx, id); err != nil {
			return err
		}
		return s.put(tx, destID, data, meta)
	})
}

var (
	_ satchel.Storage      = (*Storage)(nil)
	_ satchel.Mover        = (*Storage)(nil)
	_ satchel.MultiDeleter = (*Storage)(nil)
)
