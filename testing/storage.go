package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/zoobzio/satchel"
)

// StorageContext holds the storage under test.
type StorageContext struct {
	Storage satchel.Storage
	// Sibling is a second storage of the same backend, used for Mover tests.
	// Leave nil to skip them.
	Sibling satchel.Storage
	// Prefix is prepended to every id so suites can share a bucket.
	Prefix  string
	Cleanup func() // optional cleanup function
}

func (tc *StorageContext) id(name string) string {
	return tc.Prefix + name
}

// RunStorageTests runs the conformance suite every Storage must pass.
func RunStorageTests(t *testing.T, tc *StorageContext) {
	t.Run("OpenNotFound", func(t *testing.T) { testOpenNotFound(t, tc) })
	t.Run("UploadAndOpen", func(t *testing.T) { testUploadAndOpen(t, tc) })
	t.Run("UploadOverwrite", func(t *testing.T) { testUploadOverwrite(t, tc) })
	t.Run("UploadEmpty", func(t *testing.T) { testUploadEmpty(t, tc) })
	t.Run("UploadMetadata", func(t *testing.T) { testUploadMetadata(t, tc) })
	t.Run("Exists", func(t *testing.T) { testExists(t, tc) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, tc) })
	t.Run("DeleteMissing", func(t *testing.T) { testDeleteMissing(t, tc) })
	if _, ok := tc.Storage.(satchel.MultiDeleter); ok {
		t.Run("DeleteMany", func(t *testing.T) { testDeleteMany(t, tc) })
	}
	if _, ok := tc.Storage.(satchel.Mover); ok && tc.Sibling != nil {
		t.Run("Move", func(t *testing.T) { testMove(t, tc) })
	}
}

func upload(t *testing.T, s satchel.Storage, id, content string) {
	t.Helper()
	err := s.Upload(context.Background(), id, bytes.NewBufferString(content), map[string]any{
		satchel.MetaFilename: "file.txt",
		satchel.MetaMimeType: "text/plain",
	})
	if err != nil {
		t.Fatalf("Upload %s failed: %v", id, err)
	}
}

func read(t *testing.T, s satchel.Storage, id string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), id)
	if err != nil {
		t.Fatalf("Open %s failed: %v", id, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s failed: %v", id, err)
	}
	return string(data)
}

func exists(t *testing.T, s satchel.Storage, id string) bool {
	t.Helper()
	ok, err := s.Exists(context.Background(), id)
	if err != nil {
		t.Fatalf("Exists %s failed: %v", id, err)
	}
	return ok
}

func testOpenNotFound(t *testing.T, tc *StorageContext) {
	_, err := tc.Storage.Open(context.Background(), tc.id("nonexistent"))
	if !errors.Is(err, satchel.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testUploadAndOpen(t *testing.T, tc *StorageContext) {
	id := tc.id("upload-open.txt")
	upload(t, tc.Storage, id, "hello satchel")
	if got := read(t, tc.Storage, id); got != "hello satchel" {
		t.Errorf("expected %q, got %q", "hello satchel", got)
	}
}

func testUploadOverwrite(t *testing.T, tc *StorageContext) {
	id := tc.id("overwrite.txt")
	upload(t, tc.Storage, id, "first")
	upload(t, tc.Storage, id, "second")
	if got := read(t, tc.Storage, id); got != "second" {
		t.Errorf("expected %q, got %q", "second", got)
	}
}

func testUploadEmpty(t *testing.T, tc *StorageContext) {
	id := tc.id("empty.txt")
	upload(t, tc.Storage, id, "")
	if got := read(t, tc.Storage, id); got != "" {
		t.Errorf("expected empty content, got %q", got)
	}
}

func testUploadMetadata(t *testing.T, tc *StorageContext) {
	id := tc.id("metadata.bin")
	err := tc.Storage.Upload(context.Background(), id, bytes.NewReader([]byte{0, 1, 2}), map[string]any{
		satchel.MetaFilename: "photo.jpg",
		satchel.MetaMimeType: "image/jpeg",
		satchel.MetaSize:     int64(3),
		"custom":             "value",
	})
	if err != nil {
		t.Fatalf("Upload with metadata failed: %v", err)
	}
	if !exists(t, tc.Storage, id) {
		t.Error("file with metadata should exist")
	}
}

func testExists(t *testing.T, tc *StorageContext) {
	id := tc.id("exists.txt")
	if exists(t, tc.Storage, id) {
		t.Fatal("file should not exist before upload")
	}
	upload(t, tc.Storage, id, "here")
	if !exists(t, tc.Storage, id) {
		t.Error("file should exist after upload")
	}
}

func testDelete(t *testing.T, tc *StorageContext) {
	id := tc.id("delete.txt")
	upload(t, tc.Storage, id, "bye")
	if err := tc.Storage.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if exists(t, tc.Storage, id) {
		t.Error("file should not exist after delete")
	}
}

func testDeleteMissing(t *testing.T, tc *StorageContext) {
	if err := tc.Storage.Delete(context.Background(), tc.id("never-existed")); err != nil {
		t.Errorf("deleting a missing id should succeed, got %v", err)
	}
}

func testDeleteMany(t *testing.T, tc *StorageContext) {
	md := tc.Storage.(satchel.MultiDeleter)
	ids := make([]string, 3)
	for i := range ids {
		ids[i] = tc.id(fmt.Sprintf("many-%d.txt", i))
		upload(t, tc.Storage, ids[i], "x")
	}
	keep := tc.id("many-keep.txt")
	upload(t, tc.Storage, keep, "x")

	if err := md.DeleteMany(context.Background(), append(ids, tc.id("many-missing"))); err != nil {
		t.Fatalf("DeleteMany failed: %v", err)
	}
	for _, id := range ids {
		if exists(t, tc.Storage, id) {
			t.Errorf("%s should be deleted", id)
		}
	}
	if !exists(t, tc.Storage, keep) {
		t.Error("unlisted file should survive DeleteMany")
	}
}

func testMove(t *testing.T, tc *StorageContext) {
	ctx := context.Background()
	mover := tc.Storage.(satchel.Mover)
	src := tc.id("move-src.txt")
	dst := tc.id("move-dst.txt")
	upload(t, tc.Sibling, src, "moving")

	if !mover.Movable(ctx, tc.Sibling, src) {
		t.Fatal("expected file in sibling storage to be movable")
	}
	if err := mover.Move(ctx, tc.Sibling, src, dst); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if got := read(t, tc.Storage, dst); got != "moving" {
		t.Errorf("expected %q, got %q", "moving", got)
	}
	if exists(t, tc.Sibling, src) {
		t.Error("source should not exist after move")
	}
}
