// Package badger provides a satchel Persistence over a BadgerDB key.
//
// The record is the key and the attachment column is its value. Badger's
// optimistic transactions reject a commit when the key was written after the
// transaction read it; that and a changed value both report ErrConflict.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/zoobzio/satchel"
)

// Key implements satchel.Persistence for one BadgerDB key.
type Key struct {
	db    *badger.DB
	key   []byte
	codec satchel.Codec

	snapshot []byte
	loaded   bool
}

// Option configures a Key.
type Option func(*Key)

// WithCodec sets the codec for the value. If not specified, satchel.JSONCodec
// is used.
func WithCodec(codec satchel.Codec) Option {
	return func(k *Key) {
		k.codec = codec
	}
}

// New creates a Persistence for the value at key.
func New(db *badger.DB, key string, opts ...Option) *Key {
	k := &Key{
		db:    db,
		key:   []byte(key),
		codec: satchel.JSONCodec{},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Key) read(txn *badger.Txn) ([]byte, error) {
	item, err := txn.Get(k.key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", satchel.ErrRecordMissing, k.key)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Reload reads the value fresh and remembers it for the next Persist.
func (k *Key) Reload(_ context.Context) (satchel.Tree, error) {
	var data []byte
	err := k.db.View(func(txn *badger.Txn) error {
		var err error
		data, err = k.read(txn)
		return err
	})
	if err != nil {
		return nil, err
	}
	tree, err := satchel.DecodeTree(k.codec, data)
	if err != nil {
		return nil, err
	}
	k.snapshot = data
	k.loaded = true
	return tree, nil
}

// Persist writes tree if the value is unchanged since Reload.
func (k *Key) Persist(ctx context.Context, tree satchel.Tree) error {
	if !k.loaded {
		if _, err := k.Reload(ctx); err != nil {
			return err
		}
	}
	data, err := satchel.EncodeTree(k.codec, tree)
	if err != nil {
		return err
	}

	err = k.db.Update(func(txn *badger.Txn) error {
		current, err := k.read(txn)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, k.snapshot) {
			return fmt.Errorf("%w: %s changed", satchel.ErrConflict, k.key)
		}
		return txn.Set(k.key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s changed", satchel.ErrConflict, k.key)
	}
	if err != nil {
		return err
	}
	k.snapshot = data
	return nil
}

var _ satchel.Persistence = (*Key)(nil)
