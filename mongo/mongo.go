// Package mongo provides a satchel Persistence over a MongoDB document field.
//
// Persist is an UpdateOne filtered on the value read by Reload, so a
// concurrent write leaves the filter matching nothing.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/zoobzio/satchel"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Field implements satchel.Persistence for one string field of the document
// whose _id equals the key.
type Field struct {
	collection *mongo.Collection
	key        any
	field      string
	codec      satchel.Codec

	snapshot *string
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

// New creates a Persistence for field of the document with _id key.
func New(collection *mongo.Collection, key any, field string, opts ...Option) *Field {
	f := &Field{
		collection: collection,
		key:        key,
		field:      field,
		codec:      satchel.JSONCodec{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// decode extracts the field from a fetched document.
func (f *Field) decode(doc bson.M) (*string, error) {
	raw, ok := doc[f.field]
	if !ok || raw == nil {
		return nil, nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: field %s is %T", satchel.ErrInvalidTree, f.field, raw)
	}
	return &s, nil
}

// filter matches the document only while the field holds the snapshot.
func (f *Field) filter() bson.D {
	if f.snapshot == nil {
		return bson.D{
			{Key: "_id", Value: f.key},
			{Key: f.field, Value: bson.D{{Key: "$in", Value: bson.A{nil}}}},
		}
	}
	return bson.D{
		{Key: "_id", Value: f.key},
		{Key: f.field, Value: *f.snapshot},
	}
}

func (f *Field) update(value string) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{{Key: f.field, Value: value}}}}
}

// Reload reads the field fresh and remembers it for the next Persist.
func (f *Field) Reload(ctx context.Context) (satchel.Tree, error) {
	opts := options.FindOne().SetProjection(bson.D{{Key: f.field, Value: 1}})
	var doc bson.M
	err := f.collection.FindOne(ctx, bson.D{{Key: "_id", Value: f.key}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %v", satchel.ErrRecordMissing, f.key)
		}
		return nil, err
	}
	value, err := f.decode(doc)
	if err != nil {
		return nil, err
	}
	var data []byte
	if value != nil {
		data = []byte(*value)
	}
	tree, err := satchel.DecodeTree(f.codec, data)
	if err != nil {
		return nil, err
	}
	f.snapshot = value
	f.loaded = true
	return tree, nil
}

// Persist writes tree if the field is unchanged since Reload.
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
	value := string(data)

	res, err := f.collection.UpdateOne(ctx, f.filter(), f.update(value))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := f.collection.CountDocuments(ctx, bson.D{{Key: "_id", Value: f.key}}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %v", satchel.ErrRecordMissing, f.key)
		}
		return fmt.Errorf("%w: %v.%s changed", satchel.ErrConflict, f.key, f.field)
	}
	f.snapshot = &value
	return nil
}

var _ satchel.Persistence = (*Field)(nil)
