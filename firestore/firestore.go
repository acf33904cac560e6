// Package firestore provides a satchel Persistence over a Cloud Firestore
// document field.
//
// Persist is an Update preconditioned on the document's update time seen by
// Reload. Any write to the document in between, including to other fields,
// fails the precondition and reports ErrConflict.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/satchel"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Field implements satchel.Persistence for one string field of a document.
type Field struct {
	client     *firestore.Client
	collection string
	docID      string
	field      string
	codec      satchel.Codec

	updated time.Time
	loaded  bool
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

// New creates a Persistence for field of the document docID in collection.
func New(client *firestore.Client, collection, docID, field string, opts ...Option) *Field {
	f := &Field{
		client:     client,
		collection: collection,
		docID:      docID,
		field:      field,
		codec:      satchel.JSONCodec{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Field) doc() *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(f.docID)
}

// decode extracts the raw column bytes from document data.
func (f *Field) decode(data map[string]any) ([]byte, error) {
	switch v := data[f.field].(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: field %s is %T", satchel.ErrInvalidTree, f.field, v)
	}
}

// mapError translates Firestore status codes to satchel errors.
func (f *Field) mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s/%s", satchel.ErrRecordMissing, f.collection, f.docID)
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s/%s changed", satchel.ErrConflict, f.collection, f.docID)
	default:
		return err
	}
}

// Reload reads the document and remembers its update time.
func (f *Field) Reload(ctx context.Context) (satchel.Tree, error) {
	snap, err := f.doc().Get(ctx)
	if err != nil {
		return nil, f.mapError(err)
	}
	data, err := f.decode(snap.Data())
	if err != nil {
		return nil, err
	}
	tree, err := satchel.DecodeTree(f.codec, data)
	if err != nil {
		return nil, err
	}
	f.updated = snap.UpdateTime
	f.loaded = true
	return tree, nil
}

// Persist writes tree if the document is unchanged since Reload.
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
	res, err := f.doc().Update(ctx,
		[]firestore.Update{{Path: f.field, Value: string(data)}},
		firestore.LastUpdateTime(f.updated),
	)
	if err != nil {
		return f.mapError(err)
	}
	f.updated = res.UpdateTime
	return nil
}

var _ satchel.Persistence = (*Field)(nil)
