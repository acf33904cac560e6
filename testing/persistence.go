package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/zoobzio/satchel"
)

// PersistenceContext holds the record under test.
type PersistenceContext struct {
	// Open returns a new session on the record, with no Reload done yet.
	Open func() satchel.Persistence
	// Write replaces the stored value directly, creating the record if needed.
	Write func(t *testing.T, tree satchel.Tree)
	// Remove deletes the record.
	Remove func(t *testing.T)
}

// RunPersistenceTests runs the conformance suite every Persistence must pass.
func RunPersistenceTests(t *testing.T, pc *PersistenceContext) {
	t.Run("ReloadEmpty", func(t *testing.T) { testReloadEmpty(t, pc) })
	t.Run("PersistAndReload", func(t *testing.T) { testPersistAndReload(t, pc) })
	t.Run("PersistTwice", func(t *testing.T) { testPersistTwice(t, pc) })
	t.Run("PersistNil", func(t *testing.T) { testPersistNil(t, pc) })
	t.Run("ConcurrentWriter", func(t *testing.T) { testConcurrentWriter(t, pc) })
	t.Run("OneWinner", func(t *testing.T) { testOneWinner(t, pc) })
	t.Run("RecordMissing", func(t *testing.T) { testRecordMissing(t, pc) })
}

func leaf(storage, id string) satchel.Tree {
	return satchel.NewLeaf(satchel.StoredFile{Storage: storage, ID: id, Metadata: map[string]any{"filename": id}})
}

func reload(t *testing.T, p satchel.Persistence) satchel.Tree {
	t.Helper()
	tree, err := p.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	return tree
}

func testReloadEmpty(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, nil)
	if tree := reload(t, pc.Open()); tree != nil {
		t.Errorf("expected nil tree, got %v", tree)
	}
}

func testPersistAndReload(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, nil)
	want := satchel.Branch{
		"original": leaf("store", "orig.jpg"),
		"thumb":    leaf("store", "thumb.jpg"),
	}

	p := pc.Open()
	reload(t, p)
	if err := p.Persist(context.Background(), want); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if got := reload(t, pc.Open()); !satchel.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func testPersistTwice(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, nil)
	p := pc.Open()
	reload(t, p)
	if err := p.Persist(context.Background(), leaf("cache", "a")); err != nil {
		t.Fatalf("first Persist failed: %v", err)
	}
	if err := p.Persist(context.Background(), leaf("store", "b")); err != nil {
		t.Fatalf("second Persist by the same session failed: %v", err)
	}
	if got := reload(t, pc.Open()); !satchel.Equal(got, leaf("store", "b")) {
		t.Errorf("expected second value, got %v", got)
	}
}

func testPersistNil(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, leaf("store", "a"))
	p := pc.Open()
	reload(t, p)
	if err := p.Persist(context.Background(), nil); err != nil {
		t.Fatalf("Persist nil failed: %v", err)
	}
	if got := reload(t, pc.Open()); got != nil {
		t.Errorf("expected nil tree, got %v", got)
	}
}

func testConcurrentWriter(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, leaf("cache", "a"))
	p := pc.Open()
	reload(t, p)

	pc.Write(t, leaf("cache", "b"))

	err := p.Persist(context.Background(), leaf("store", "a"))
	if !errors.Is(err, satchel.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := reload(t, pc.Open()); !satchel.Equal(got, leaf("cache", "b")) {
		t.Errorf("concurrent write should survive, got %v", got)
	}
}

func testOneWinner(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, leaf("cache", "a"))
	first, second := pc.Open(), pc.Open()
	reload(t, first)
	reload(t, second)

	if err := first.Persist(context.Background(), leaf("store", "first")); err != nil {
		t.Fatalf("first Persist failed: %v", err)
	}
	if err := second.Persist(context.Background(), leaf("store", "second")); !errors.Is(err, satchel.ErrConflict) {
		t.Fatalf("expected ErrConflict for second session, got %v", err)
	}
	if got := reload(t, pc.Open()); !satchel.Equal(got, leaf("store", "first")) {
		t.Errorf("expected first value, got %v", got)
	}
}

func testRecordMissing(t *testing.T, pc *PersistenceContext) {
	pc.Write(t, leaf("cache", "a"))
	p := pc.Open()
	reload(t, p)

	pc.Remove(t)

	if err := p.Persist(context.Background(), leaf("store", "a")); err == nil {
		t.Error("Persist on a removed record should fail")
	}
	if _, err := pc.Open().Reload(context.Background()); !errors.Is(err, satchel.ErrRecordMissing) {
		t.Errorf("expected ErrRecordMissing, got %v", err)
	}
}
