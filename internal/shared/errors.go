// Package shared contains canonical type definitions shared across satchel.
package shared //nolint:revive // internal shared package is intentional

import "errors"

// Semantic errors for attachment operations.
var (
	// ErrNotFound indicates the requested file does not exist in its storage.
	ErrNotFound = errors.New("satchel: file not found")

	// ErrValidation indicates an assigned file was rejected by a validator.
	ErrValidation = errors.New("satchel: validation failed")

	// ErrUpload indicates a storage upload failed.
	ErrUpload = errors.New("satchel: upload failed")

	// ErrConflict indicates the persisted attachment changed during promotion.
	ErrConflict = errors.New("satchel: promotion conflict")

	// ErrRecordMissing indicates the owning record no longer exists.
	ErrRecordMissing = errors.New("satchel: record missing")

	// ErrMirror indicates a mirror or backup operation failed after the primary succeeded.
	ErrMirror = errors.New("satchel: mirror failed")

	// ErrBatchTask indicates a task inside a parallel batch failed.
	ErrBatchTask = errors.New("satchel: batch task failed")

	// ErrUnknownVariant indicates a variant name outside the declared set.
	ErrUnknownVariant = errors.New("satchel: unknown variant")

	// ErrUnknownStorage indicates a storage key that is not registered.
	ErrUnknownStorage = errors.New("satchel: unknown storage")

	// ErrInvalidTree indicates serialized attachment data is malformed.
	ErrInvalidTree = errors.New("satchel: invalid attachment data")

	// ErrNotCached indicates a file expected in cache storage lives elsewhere.
	ErrNotCached = errors.New("satchel: file is not cached")

	// ErrPoolClosed indicates a task was submitted to a closed or failed pool.
	ErrPoolClosed = errors.New("satchel: pool closed")

	// ErrNoFile indicates an operation needs an attached file but none is present.
	ErrNoFile = errors.New("satchel: no file attached")
)
