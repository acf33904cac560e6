// Package satchel manages files attached to records.
// A raw upload is cached, validated, and atomically promoted into permanent
// storage; attachments may hold a single file or a tree of named variants,
// and stored files can be replicated to mirror and backup storages.
// Storage backends and record persistence are supplied by the caller.
package satchel

import (
	"context"

	"github.com/zoobzio/satchel/internal/shared"
)

// Semantic errors for attachment operations (re-exported from internal/shared).
var (
	ErrNotFound       = shared.ErrNotFound
	ErrValidation     = shared.ErrValidation
	ErrUpload         = shared.ErrUpload
	ErrConflict       = shared.ErrConflict
	ErrRecordMissing  = shared.ErrRecordMissing
	ErrMirror         = shared.ErrMirror
	ErrBatchTask      = shared.ErrBatchTask
	ErrUnknownVariant = shared.ErrUnknownVariant
	ErrUnknownStorage = shared.ErrUnknownStorage
	ErrInvalidTree    = shared.ErrInvalidTree
	ErrNotCached      = shared.ErrNotCached
	ErrPoolClosed     = shared.ErrPoolClosed
	ErrNoFile         = shared.ErrNoFile
)

// Storage defines raw file storage operations for a single storage key.
// Implementations (memory, s3, minio, gcs, azure, bolt) satisfy this interface.
// See shared.Storage for the method contracts.
type Storage = shared.Storage

// Mover is implemented by storages that can take over a file from another
// storage without streaming it, e.g. a rename on the same backend.
type Mover interface {
	// Movable reports whether the file at id in src can be moved here.
	Movable(ctx context.Context, src Storage, id string) bool

	// Move relocates the file at id in src to destID in this storage.
	// The source file no longer exists afterwards.
	Move(ctx context.Context, src Storage, id, destID string) error
}

// MultiDeleter is implemented by storages that delete many ids in one call.
type MultiDeleter interface {
	// DeleteMany removes every file in ids. Missing ids are ignored.
	DeleteMany(ctx context.Context, ids []string) error
}

// Persistence reads and writes the attachment column of one record.
// It is implemented once per host framework (see SQLColumn, redis, badger).
type Persistence interface {
	// Reload reads the currently persisted attachment fresh from the backend
	// and remembers it as the compare value for the next Persist.
	// Returns ErrRecordMissing if the record no longer exists.
	Reload(ctx context.Context) (Tree, error)

	// Persist writes tree as the new attachment value only if the persisted
	// value is unchanged since the last Reload.
	// Returns ErrConflict if it changed.
	Persist(ctx context.Context, tree Tree) error
}

// Task is a unit of work executed by a Pool or a Dispatcher.
type Task func(ctx context.Context) error

// Dispatcher hands tasks to a background executor.
// Submit must not block on the task itself.
type Dispatcher interface {
	Submit(ctx context.Context, task Task) error
}
