package satchel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"time"

	"github.com/zoobzio/capitan"
)

// Attacher owns the state of one attachment on one record.
//
// current is the tree the record points at (or will point at once saved),
// previous is the tree current replaced, kept until the replacement is
// finalized, and persisted is the last value known to be saved on the record.
// An Attacher is not safe for concurrent use; create one per operation.
//
// Mirror failures do not abort an operation. They are collected while it
// runs and returned as *MirrorError once the primary work has committed.
type Attacher struct {
	def       *Attachment
	record    string
	current   Tree
	previous  Tree
	persisted Tree
	replacing bool
	mirrored  mirrorErrors
}

// Attachment returns the definition this attacher belongs to.
func (a *Attacher) Attachment() *Attachment { return a.def }

// Record returns the record key.
func (a *Attacher) Record() string { return a.record }

// Get returns the current tree, or nil when nothing is attached.
func (a *Attacher) Get() Tree { return a.current }

// Previous returns the tree awaiting removal after a replacement.
func (a *Attacher) Previous() Tree { return a.previous }

// Persisted returns the last tree known to be saved on the record.
func (a *Attacher) Persisted() Tree { return a.persisted }

// File returns the current file when the attachment holds a single file.
func (a *Attacher) File() (StoredFile, bool) {
	leaf, ok := a.current.(Leaf)
	return leaf.File, ok
}

// Variant returns the file at path within the current tree.
func (a *Attacher) Variant(path ...string) (StoredFile, bool) {
	sub, ok := Lookup(a.current, path...)
	if !ok {
		return StoredFile{}, false
	}
	leaf, ok := sub.(Leaf)
	return leaf.File, ok
}

// Changed reports whether current differs from the persisted value.
func (a *Attacher) Changed() bool {
	return !Equal(a.current, a.persisted)
}

// Cached reports whether a tree is attached and all of it lives in cache.
func (a *Attacher) Cached() bool {
	return a.current != nil && inStorage(a.current, a.def.cache)
}

// Stored reports whether a tree is attached and all of it lives in store.
func (a *Attacher) Stored() bool {
	return a.current != nil && inStorage(a.current, a.def.store)
}

// Load sets the attacher from the value read off the record.
func (a *Attacher) Load(tree Tree) {
	a.current = tree
	a.persisted = tree
	a.previous = nil
}

// LoadData is Load for serialized column data.
func (a *Attacher) LoadData(data []byte) error {
	tree, err := DecodeTree(a.def.codec, data)
	if err != nil {
		return err
	}
	a.Load(tree)
	return nil
}

// Data serializes the current tree for the record's column.
func (a *Attacher) Data() ([]byte, error) {
	return EncodeTree(a.def.codec, a.current)
}

// Saved records that the current tree has been written to the record.
func (a *Attacher) Saved() {
	a.persisted = a.current
}

// Assign caches raw and makes it the current tree.
// A nil raw detaches the current tree.
func (a *Attacher) Assign(ctx context.Context, raw Raw) error {
	if raw == nil {
		a.Detach()
		return nil
	}
	return a.settle(a.def.handler.Assign(ctx, a, raw))
}

// Promote moves the cached current tree into store. See promote for the protocol.
func (a *Attacher) Promote(ctx context.Context, p Persistence) error {
	return a.settle(a.def.handler.Promote(ctx, a, p))
}

// Destroy deletes every file of the current tree, unless the keep policy
// retains them, and clears it.
func (a *Attacher) Destroy(ctx context.Context) error {
	return a.settle(a.def.handler.Destroy(ctx, a))
}

// Detach clears the current tree. The detached tree becomes previous and is
// removed by Finalize.
func (a *Attacher) Detach() {
	a.change(nil)
}

// Attach uploads raw straight to the storage key, bypassing the cache, and
// makes it the current tree. Validation applies as for Assign.
func (a *Attacher) Attach(ctx context.Context, raw Raw, key string) error {
	if raw == nil {
		return ErrNoFile
	}
	tree, err := a.upload(ctx, raw, key)
	if err != nil {
		return a.settle(err)
	}
	a.change(tree)
	return a.settle(nil)
}

// AssignCached re-attaches a tree that an earlier request already cached,
// given its serialized column data. Every file must live in the cache
// storage and still exist there.
func (a *Attacher) AssignCached(ctx context.Context, data []byte) error {
	tree, err := DecodeTree(a.def.codec, data)
	if err != nil {
		return err
	}
	if tree == nil {
		a.Detach()
		return nil
	}
	if err := a.def.schema.Validate(tree); err != nil {
		return err
	}
	for _, f := range Leaves(tree) {
		if f.Storage != a.def.cache {
			return fmt.Errorf("%w: %s is in %s", ErrNotCached, f.ID, f.Storage)
		}
		ok, err := a.def.registry.Exists(ctx, f)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrNotFound, f.ID, f.Storage)
		}
	}
	if msgs := a.validate(ctx, tree); len(msgs) > 0 {
		return &ValidationError{Attachment: a.def.name, Errors: msgs}
	}
	a.change(tree)
	return nil
}

// Finalize commits a replacement: the cached current tree is promoted, then
// the replaced tree is removed unless the keep policy retains it.
func (a *Attacher) Finalize(ctx context.Context, p Persistence) error {
	var mirrored error
	if a.Cached() {
		if err := a.Promote(ctx, p); err != nil {
			if !isMirror(err) {
				return err
			}
			mirrored = err
		}
	}
	return errors.Join(mirrored, a.removePrevious(ctx))
}

func (a *Attacher) removePrevious(ctx context.Context) error {
	if a.previous == nil {
		return nil
	}
	old := &Attacher{def: a.def, record: a.record, current: a.previous, replacing: true}
	err := old.settle(a.def.handler.Destroy(ctx, old))
	if err != nil && !isMirror(err) {
		return err
	}
	a.previous = nil
	return err
}

// settle finishes a public operation. A failed operation returns its own
// error; a successful one returns the mirror failures it collected. When the
// operation itself failed only on a mirror, as a Backup stage does, the
// collected failures are reported with it.
func (a *Attacher) settle(err error) error {
	mirrored := a.mirrored.take()
	if err != nil {
		if isMirror(err) {
			return errors.Join(err, mirrored)
		}
		return err
	}
	return mirrored
}

// change replaces current with tree. The first change after the persisted
// value moves it into previous; later changes before a save replace only
// the cached intermediate, which the cache storage expires on its own.
func (a *Attacher) change(tree Tree) {
	if !a.Changed() {
		a.previous = a.current
	}
	a.current = tree
}

func (a *Attacher) assign(ctx context.Context, raw Raw) error {
	start := time.Now()
	capitan.Emit(ctx, AssignStarted,
		FieldAttachment.Field(a.def.name),
		FieldRecord.Field(a.record),
	)

	tree, err := a.upload(ctx, raw, a.def.cache)
	if err != nil {
		capitan.Emit(ctx, AssignFailed,
			FieldAttachment.Field(a.def.name),
			FieldRecord.Field(a.record),
			FieldError.Field(err),
			FieldDuration.Field(time.Since(start)),
		)
		return err
	}
	a.change(tree)

	capitan.Emit(ctx, AssignCompleted,
		FieldAttachment.Field(a.def.name),
		FieldRecord.Field(a.record),
		FieldCount.Field(int64(len(Leaves(tree)))),
		FieldDuration.Field(time.Since(start)),
	)
	return nil
}

// upload builds a tree from raw in the storage key, analyzes and validates
// it. On any failure the files uploaded so far are deleted.
func (a *Attacher) upload(ctx context.Context, raw Raw, key string) (Tree, error) {
	tree, uploaded, err := BuildTree(ctx, raw, a.def.schema, a.def.concurrency,
		func(ctx context.Context, _ []string, f RawFile) (StoredFile, error) {
			return a.uploadFile(ctx, key, f)
		})
	if err != nil {
		a.cleanup(ctx, filesTree(uploaded))
		return nil, err
	}

	analyzed, err := a.analyze(ctx, tree)
	if err != nil {
		a.cleanup(ctx, tree)
		return nil, err
	}

	if msgs := a.validate(ctx, analyzed); len(msgs) > 0 {
		a.cleanup(ctx, analyzed)
		return nil, &ValidationError{Attachment: a.def.name, Errors: msgs}
	}
	return analyzed, nil
}

func (a *Attacher) uploadFile(ctx context.Context, key string, f RawFile) (StoredFile, error) {
	if f.Reader == nil {
		return StoredFile{}, ErrNoFile
	}
	meta := maps.Clone(f.Metadata)
	if meta == nil {
		meta = make(map[string]any, 3)
	}
	if f.Filename != "" {
		meta[MetaFilename] = f.Filename
	}
	if f.ContentType != "" {
		meta[MetaMimeType] = f.ContentType
	}

	body := &countingReader{r: f.Reader}
	stored, err := a.def.registry.Upload(ctx, key, a.def.newID(f.Filename), body, meta)
	if err := a.mirrored.keep(err); err != nil {
		return StoredFile{}, err
	}
	return stored.WithMetadata(map[string]any{MetaSize: body.n}), nil
}

func (a *Attacher) analyze(ctx context.Context, tree Tree) (Tree, error) {
	if len(a.def.analyzers) == 0 {
		return tree, nil
	}
	return MapParallel(ctx, tree, a.def.concurrency, func(ctx context.Context, _ []string, f StoredFile) (StoredFile, error) {
		for _, analyze := range a.def.analyzers {
			r, err := a.def.registry.Open(ctx, f)
			if err != nil {
				return StoredFile{}, err
			}
			extra, err := analyze(ctx, r, f)
			_ = r.Close()
			if err != nil {
				return StoredFile{}, err
			}
			f = f.WithMetadata(extra)
		}
		return f, nil
	})
}

func (a *Attacher) validate(ctx context.Context, tree Tree) []string {
	var msgs []string
	for _, v := range a.def.validators {
		msgs = append(msgs, v(ctx, tree)...)
	}
	return msgs
}

func (a *Attacher) destroy(ctx context.Context) error {
	if a.current == nil {
		return nil
	}
	start := time.Now()
	if !a.retains() {
		if err := a.mirrored.keep(a.def.registry.DeleteTree(ctx, a.current, a.def.concurrency)); err != nil {
			capitan.Emit(ctx, DestroyFailed,
				FieldAttachment.Field(a.def.name),
				FieldRecord.Field(a.record),
				FieldError.Field(err),
			)
			return err
		}
	}
	count := len(Leaves(a.current))
	a.current = nil

	capitan.Emit(ctx, DestroyCompleted,
		FieldAttachment.Field(a.def.name),
		FieldRecord.Field(a.record),
		FieldCount.Field(int64(count)),
		FieldDuration.Field(time.Since(start)),
	)
	return nil
}

// cleanup deletes orphaned files. Failures are reported as a signal since the
// operation that orphaned them has already failed for another reason.
func (a *Attacher) cleanup(ctx context.Context, tree Tree) {
	if tree == nil {
		return
	}
	if err := a.mirrored.keep(a.def.registry.DeleteTree(ctx, tree, a.def.concurrency)); err != nil {
		a.cleanupFailed(ctx, err)
	}
}

// filesTree gathers loose files into a branch so they can be deleted as a tree.
func filesTree(files []StoredFile) Tree {
	if len(files) == 0 {
		return nil
	}
	b := make(Branch, len(files))
	for i, f := range files {
		b[fmt.Sprint(i)] = Leaf{File: f}
	}
	return b
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// isConflict reports whether err is a promotion conflict.
func isConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
