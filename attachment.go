package satchel

import (
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Default storage keys.
const (
	DefaultCache = "cache"
	DefaultStore = "store"
)

// DefaultConcurrency bounds parallel leaf operations when not configured.
const DefaultConcurrency = 4

// KeepPolicy controls which files are retained when they stop being referenced.
type KeepPolicy struct {
	// Replaced keeps files that were replaced by a later assignment.
	Replaced bool `yaml:"replaced"`
	// Destroyed keeps files when the attachment is destroyed.
	Destroyed bool `yaml:"destroyed"`
}

// Validator inspects a freshly cached tree and returns error messages.
// An empty result accepts the tree.
type Validator func(ctx context.Context, tree Tree) []string

// Analyzer extracts metadata from the content of a cached file.
// The returned keys are merged over the file's metadata.
type Analyzer func(ctx context.Context, r io.Reader, f StoredFile) (map[string]any, error)

// IDGenerator returns the storage id for a new file.
type IDGenerator func(filename string) string

// DefaultIDGenerator returns a random hex id keeping the filename's extension.
func DefaultIDGenerator(filename string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if ext := strings.ToLower(path.Ext(filename)); ext != "" {
		return id + ext
	}
	return id
}

// Attachment is the immutable definition of one named attachment: where its
// files are cached and stored, which shapes it accepts, and how its
// lifecycle is extended. Build it once and share it; create an Attacher per
// record operation.
type Attachment struct {
	name          string
	registry      *Registry
	cache         string
	store         string
	schema        Schema
	concurrency   int
	codec         Codec
	keep          KeepPolicy
	validators    []Validator
	analyzers     []Analyzer
	newID         IDGenerator
	stages        []Stage
	movePromotion bool
	handler       Handler
}

// NewAttachment creates an Attachment named name whose files live in registry.
// Returns ErrUnknownStorage if the cache or store key is not registered.
func NewAttachment(name string, registry *Registry, opts ...Option) (*Attachment, error) {
	a := &Attachment{
		name:        name,
		registry:    registry,
		cache:       DefaultCache,
		store:       DefaultStore,
		schema:      Single(),
		concurrency: DefaultConcurrency,
		codec:       JSONCodec{},
		newID:       DefaultIDGenerator,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.codec == nil {
		a.codec = JSONCodec{}
	}
	if a.newID == nil {
		a.newID = DefaultIDGenerator
	}
	if a.concurrency < 1 {
		a.concurrency = 1
	}
	for _, key := range []string{a.cache, a.store} {
		if !registry.Has(key) {
			return nil, fmt.Errorf("attachment %s: %w: %q", name, ErrUnknownStorage, key)
		}
	}
	a.handler = compose(a.stages)
	return a, nil
}

// Name returns the attachment name.
func (a *Attachment) Name() string { return a.name }

// Registry returns the storages the attachment uses.
func (a *Attachment) Registry() *Registry { return a.registry }

// Cache returns the cache storage key.
func (a *Attachment) Cache() string { return a.cache }

// Store returns the store storage key.
func (a *Attachment) Store() string { return a.store }

// Schema returns the accepted tree shape.
func (a *Attachment) Schema() Schema { return a.schema }

// Concurrency returns the parallelism for leaf operations.
func (a *Attachment) Concurrency() int { return a.concurrency }

// Codec returns the column codec.
func (a *Attachment) Codec() Codec { return a.codec }

// Keep returns the retention policy.
func (a *Attachment) Keep() KeepPolicy { return a.keep }

// Attacher returns a fresh attacher for the record identified by record.
func (a *Attachment) Attacher(record string) *Attacher {
	return &Attacher{def: a, record: record}
}

// MaxSize rejects files larger than n bytes.
func MaxSize(n int64) Validator {
	return eachFile(func(f StoredFile) string {
		if size, ok := f.Size(); ok && size > n {
			return fmt.Sprintf("%s is larger than %d bytes", f.ID, n)
		}
		return ""
	})
}

// MinSize rejects files smaller than n bytes.
func MinSize(n int64) Validator {
	return eachFile(func(f StoredFile) string {
		if size, ok := f.Size(); ok && size < n {
			return fmt.Sprintf("%s is smaller than %d bytes", f.ID, n)
		}
		return ""
	})
}

// AllowMimeTypes rejects files whose MIME type is not listed.
func AllowMimeTypes(types ...string) Validator {
	return eachFile(func(f StoredFile) string {
		if !slices.Contains(types, f.MimeType()) {
			return fmt.Sprintf("%s has type %q, allowed: %s", f.ID, f.MimeType(), strings.Join(types, ", "))
		}
		return ""
	})
}

// AllowExtensions rejects files whose extension is not listed.
func AllowExtensions(exts ...string) Validator {
	return eachFile(func(f StoredFile) string {
		if !slices.Contains(exts, f.Extension()) {
			return fmt.Sprintf("%s has extension %q, allowed: %s", f.ID, f.Extension(), strings.Join(exts, ", "))
		}
		return ""
	})
}

func eachFile(check func(StoredFile) string) Validator {
	return func(_ context.Context, tree Tree) []string {
		var errs []string
		for _, f := range Leaves(tree) {
			if msg := check(f); msg != "" {
				errs = append(errs, msg)
			}
		}
		return errs
	}
}
