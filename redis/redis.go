// Package redis provides a satchel Persistence over a Redis hash field.
//
// A record is a hash and the attachment column is one of its fields.
// Persist runs under WATCH so a write by any other client between Reload
// and Persist aborts the transaction.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/satchel"
)

// Field implements satchel.Persistence for one field of a Redis hash.
type Field struct {
	client *redis.Client
	key    string
	field  string
	codec  satchel.Codec

	snapshot []byte
	loaded   bool
}

// Option configures a Field.
type Option func(*Field)

// WithCodec sets the codec for the field value. If not specified,
// satchel.JSONCodec is used.
func WithCodec(codec satchel.Codec) Option {
	return func(f *Field) {
		f.codec = codec
	}
}

// New creates a Persistence for field of the hash at key.
func New(client *redis.Client, key, field string, opts ...Option) *Field {
	f := &Field{
		client: client,
		key:    key,
		field:  field,
		codec:  satchel.JSONCodec{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// reader is satisfied by both the client and a watched transaction.
type reader interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// read returns the raw field value. An absent field reads as empty.
func (f *Field) read(ctx context.Context, c reader) ([]byte, error) {
	n, err := c.Exists(ctx, f.key).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", satchel.ErrRecordMissing, f.key)
	}
	data, err := c.HGet(ctx, f.key, f.field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

// Reload reads the field fresh and remembers it for the next Persist.
func (f *Field) Reload(ctx context.Context) (satchel.Tree, error) {
	data, err := f.read(ctx, f.client)
	if err != nil {
		return nil, err
	}
	tree, err := satchel.DecodeTree(f.codec, data)
	if err != nil {
		return nil, err
	}
	f.snapshot = data
	f.loaded = true
	return tree, nil
}

// Persist writes tree if the field still holds the value seen by Reload.
// Returns ErrConflict if it changed before or during the transaction.
func (f *Field) Persist(ctx context.Context, tree satchel.Tree) error {
	if !f.loaded {
		if _, err := f.Reload(ctx); err != nil {
			return err
		}
	}
	data, err := satchel.EncodeTree(f.codec, tree)
	if err != nil {
		return err
	}

	err = f.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := f.read(ctx, tx)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, f.snapshot) {
			return fmt.Errorf("%w: %s %s changed", satchel.ErrConflict, f.key, f.field)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, f.key, f.field, data)
			return nil
		})
		return err
	}, f.key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s %s changed", satchel.ErrConflict, f.key, f.field)
	}
	if err != nil {
		return err
	}
	f.snapshot = data
	return nil
}

var _ satchel.Persistence = (*Field)(nil)
