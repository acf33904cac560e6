package satchel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zoobzio/satchel/internal/shared"
)

func TestErrorsReexported(t *testing.T) {
	tests := []struct {
		name   string
		public error
		shared error
	}{
		{"ErrNotFound", ErrNotFound, shared.ErrNotFound},
		{"ErrValidation", ErrValidation, shared.ErrValidation},
		{"ErrUpload", ErrUpload, shared.ErrUpload},
		{"ErrConflict", ErrConflict, shared.ErrConflict},
		{"ErrRecordMissing", ErrRecordMissing, shared.ErrRecordMissing},
		{"ErrMirror", ErrMirror, shared.ErrMirror},
		{"ErrBatchTask", ErrBatchTask, shared.ErrBatchTask},
		{"ErrUnknownVariant", ErrUnknownVariant, shared.ErrUnknownVariant},
		{"ErrUnknownStorage", ErrUnknownStorage, shared.ErrUnknownStorage},
		{"ErrInvalidTree", ErrInvalidTree, shared.ErrInvalidTree},
		{"ErrNotCached", ErrNotCached, shared.ErrNotCached},
		{"ErrPoolClosed", ErrPoolClosed, shared.ErrPoolClosed},
		{"ErrNoFile", ErrNoFile, shared.ErrNoFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.public != tt.shared {
				t.Errorf("%s: public error is not the same instance as shared", tt.name)
			}
			if !errors.Is(tt.public, tt.shared) {
				t.Errorf("%s: errors.Is(public, shared) = false", tt.name)
			}
		})
	}
}

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		cause    error
	}{
		{"validation", &ValidationError{Attachment: "avatar", Errors: []string{"too big"}}, ErrValidation, nil},
		{"upload", &UploadError{Storage: "store", ID: "a", Err: errBoom}, ErrUpload, errBoom},
		{"mirror", &MirrorError{Op: OpUpload, Source: "store", Mirror: "eu", ID: "a", Err: errBoom}, ErrMirror, errBoom},
		{"task", &TaskError{Err: errBoom}, ErrBatchTask, errBoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("expected %v to match its sentinel", tt.err)
			}
			if tt.cause != nil && !errors.Is(wrapped, tt.cause) {
				t.Errorf("expected %v to unwrap to its cause", tt.err)
			}
			if tt.err.Error() == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Attachment: "avatar", Errors: []string{"too big", "wrong type"}}
	want := "satchel: avatar is invalid: too big; wrong type"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
