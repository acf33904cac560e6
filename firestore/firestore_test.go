package firestore

import (
	"errors"
	"testing"

	"github.com/zoobzio/satchel"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNew(t *testing.T) {
	// Firestore client requires project/credentials, so we test with nil for unit tests
	f := New(nil, "users", "u1", "avatar")

	if f.collection != "users" {
		t.Errorf("collection: got %s, want users", f.collection)
	}
	if f.docID != "u1" {
		t.Errorf("docID: got %s, want u1", f.docID)
	}
	if f.field != "avatar" {
		t.Errorf("field: got %s, want avatar", f.field)
	}
}

func TestField_Decode(t *testing.T) {
	f := New(nil, "users", "u1", "avatar")

	t.Run("absent", func(t *testing.T) {
		data, err := f.decode(map[string]any{"name": "ada"})
		if err != nil || data != nil {
			t.Errorf("expected nil data, got %q (%v)", data, err)
		}
	})

	t.Run("string", func(t *testing.T) {
		data, err := f.decode(map[string]any{"avatar": "null"})
		if err != nil || string(data) != "null" {
			t.Errorf("expected null, got %q (%v)", data, err)
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := f.decode(map[string]any{"avatar": int64(1)})
		if !errors.Is(err, satchel.ErrInvalidTree) {
			t.Errorf("expected ErrInvalidTree, got %v", err)
		}
	})
}

func TestField_MapError(t *testing.T) {
	f := New(nil, "users", "u1", "avatar")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", status.Error(codes.NotFound, "no doc"), satchel.ErrRecordMissing},
		{"precondition", status.Error(codes.FailedPrecondition, "stale"), satchel.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.mapError(tt.err); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	t.Run("other", func(t *testing.T) {
		orig := status.Error(codes.Unavailable, "down")
		if err := f.mapError(orig); err != orig {
			t.Errorf("expected error passed through, got %v", err)
		}
	})
}

func TestField_ImplementsPersistence(t *testing.T) {
	var _ satchel.Persistence = (*Field)(nil)
}
