package satchel

import (
	"fmt"
	"strings"
)

// ValidationError reports why an assigned file was rejected.
type ValidationError struct {
	Attachment string
	Errors     []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("satchel: %s is invalid: %s", e.Attachment, strings.Join(e.Errors, "; "))
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UploadError reports a failed upload to a storage.
type UploadError struct {
	Storage string
	ID      string
	Err     error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("satchel: upload of %s to %s failed: %v", e.ID, e.Storage, e.Err)
}

// Is matches ErrUpload.
func (e *UploadError) Is(target error) bool {
	return target == ErrUpload
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// MirrorError reports a failed mirror or backup operation.
// The primary operation it followed has already been committed.
type MirrorError struct {
	Op     string // "upload" or "delete"
	Source string
	Mirror string
	ID     string
	Err    error
}

func (e *MirrorError) Error() string {
	return fmt.Sprintf("satchel: mirror %s of %s from %s to %s failed: %v", e.Op, e.ID, e.Source, e.Mirror, e.Err)
}

// Is matches ErrMirror.
func (e *MirrorError) Is(target error) bool {
	return target == ErrMirror
}

func (e *MirrorError) Unwrap() error {
	return e.Err
}

// TaskError wraps the first failure of a parallel batch.
type TaskError struct {
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("satchel: batch aborted: %v", e.Err)
}

// Is matches ErrBatchTask.
func (e *TaskError) Is(target error) bool {
	return target == ErrBatchTask
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
