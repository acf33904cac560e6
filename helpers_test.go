package satchel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/satchel/memory"
)

var errBoom = errors.New("boom")

// testEnv is a registry over in-memory cache and store storages.
type testEnv struct {
	cache *memory.Storage
	store *memory.Storage
	reg   *Registry
}

func newEnv(extra map[string]Storage, mw ...Middleware) *testEnv {
	e := &testEnv{cache: memory.New(), store: memory.New()}
	storages := map[string]Storage{DefaultCache: e.cache, DefaultStore: e.store}
	maps.Copy(storages, extra)
	e.reg = NewRegistry(storages, mw...)
	return e
}

func (e *testEnv) attachment(t *testing.T, opts ...Option) *Attachment {
	t.Helper()
	all := append([]Option{WithIDGenerator(seqIDs())}, opts...)
	a, err := NewAttachment("avatar", e.reg, all...)
	if err != nil {
		t.Fatalf("NewAttachment failed: %v", err)
	}
	return a
}

// seqIDs returns an IDGenerator producing f1.ext, f2.ext, ...
func seqIDs() IDGenerator {
	var n atomic.Int64
	return func(filename string) string {
		return fmt.Sprintf("f%d%s", n.Add(1), path.Ext(filename))
	}
}

func rawFile(content, filename string) RawFile {
	return NewRawFile(strings.NewReader(content), filename, "image/jpeg")
}

func mustExist(t *testing.T, reg *Registry, f StoredFile, want bool) {
	t.Helper()
	ok, err := reg.Exists(context.Background(), f)
	if err != nil {
		t.Fatalf("Exists %s/%s failed: %v", f.Storage, f.ID, err)
	}
	if ok != want {
		t.Errorf("expected %s/%s exists=%v, got %v", f.Storage, f.ID, want, ok)
	}
}

func content(t *testing.T, reg *Registry, f StoredFile) string {
	t.Helper()
	rc, err := reg.Open(context.Background(), f)
	if err != nil {
		t.Fatalf("Open %s/%s failed: %v", f.Storage, f.ID, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s/%s failed: %v", f.Storage, f.ID, err)
	}
	return string(data)
}

// faultyStorage wraps a storage and fails selected operations.
// It hides the Mover and MultiDeleter capabilities of the wrapped storage.
type faultyStorage struct {
	next Storage

	mu        sync.Mutex
	uploadErr error
	deleteErr error
	openErr   error
	failAfter int
	attempts  int
	uploads   []string
	deletes   []string
}

func newFaulty(next Storage) *faultyStorage {
	return &faultyStorage{next: next}
}

func (f *faultyStorage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	f.mu.Lock()
	f.attempts++
	fail := f.uploadErr != nil && f.attempts > f.failAfter
	err := f.uploadErr
	f.mu.Unlock()
	if fail {
		return err
	}
	if err := f.next.Upload(ctx, id, r, metadata); err != nil {
		return err
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, id)
	f.mu.Unlock()
	return nil
}

func (f *faultyStorage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	err := f.openErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.next.Open(ctx, id)
}

func (f *faultyStorage) Exists(ctx context.Context, id string) (bool, error) {
	return f.next.Exists(ctx, id)
}

func (f *faultyStorage) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	err := f.deleteErr
	f.deletes = append(f.deletes, id)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.next.Delete(ctx, id)
}

func (f *faultyStorage) Uploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.uploads...)
}

func (f *faultyStorage) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

// memRecord is one record's attachment column with compare-and-set sessions.
type memRecord struct {
	mu      sync.Mutex
	data    []byte
	missing bool
	writes  int
}

func newMemRecord(t *testing.T, tree Tree) *memRecord {
	t.Helper()
	data, err := MarshalTree(tree)
	if err != nil {
		t.Fatalf("MarshalTree failed: %v", err)
	}
	return &memRecord{data: data}
}

func (r *memRecord) session() *recordSession {
	return &recordSession{record: r}
}

func (r *memRecord) tree(t *testing.T) Tree {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	tree, err := UnmarshalTree(r.data)
	if err != nil {
		t.Fatalf("record column is corrupt: %v", err)
	}
	return tree
}

func (r *memRecord) set(t *testing.T, tree Tree) {
	t.Helper()
	data, err := MarshalTree(tree)
	if err != nil {
		t.Fatalf("MarshalTree failed: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.writes++
}

func (r *memRecord) remove() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing = true
}

func (r *memRecord) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type recordSession struct {
	record   *memRecord
	snapshot []byte
	reloads  int
	persists int
}

func (s *recordSession) Reload(_ context.Context) (Tree, error) {
	s.record.mu.Lock()
	defer s.record.mu.Unlock()
	s.reloads++
	if s.record.missing {
		return nil, ErrRecordMissing
	}
	s.snapshot = s.record.data
	return UnmarshalTree(s.snapshot)
}

func (s *recordSession) Persist(_ context.Context, tree Tree) error {
	data, err := MarshalTree(tree)
	if err != nil {
		return err
	}
	s.record.mu.Lock()
	defer s.record.mu.Unlock()
	s.persists++
	if s.record.missing {
		return ErrRecordMissing
	}
	if string(s.record.data) != string(s.snapshot) {
		return ErrConflict
	}
	s.record.data = data
	s.record.writes++
	s.snapshot = data
	return nil
}

// gatedPersistence holds every Persist call until all parties have reached it.
type gatedPersistence struct {
	Persistence
	gate *sync.WaitGroup
}

func (g gatedPersistence) Persist(ctx context.Context, tree Tree) error {
	g.gate.Done()
	g.gate.Wait()
	return g.Persistence.Persist(ctx, tree)
}

// stubPersistence answers with fixed functions.
type stubPersistence struct {
	reload  func(ctx context.Context) (Tree, error)
	persist func(ctx context.Context, tree Tree) error
}

func (s stubPersistence) Reload(ctx context.Context) (Tree, error) {
	return s.reload(ctx)
}

func (s stubPersistence) Persist(ctx context.Context, tree Tree) error {
	return s.persist(ctx, tree)
}

// save stores the attacher's current tree on the record, as a host save would.
func save(t *testing.T, rec *memRecord, a *Attacher) {
	t.Helper()
	rec.set(t, a.Get())
	a.Saved()
}

// recorder collects the fields of events emitted on a set of signals.
type recorder struct {
	mu        sync.Mutex
	events    map[capitan.Signal][][]capitan.Field
	listeners []*capitan.Listener
}

func listen(t *testing.T, signals ...capitan.Signal) *recorder {
	t.Helper()
	r := &recorder{events: make(map[capitan.Signal][][]capitan.Field)}
	for _, sig := range signals {
		r.listeners = append(r.listeners, capitan.Hook(sig, r.handle))
	}
	t.Cleanup(func() {
		for _, l := range r.listeners {
			l.Close()
		}
	})
	return r
}

func (r *recorder) handle(_ context.Context, e *capitan.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sig := e.Signal()
	r.events[sig] = append(r.events[sig], e.Fields())
}

// wait blocks until every queued event has been delivered.
func (r *recorder) wait() {
	ctx := context.Background()
	for _, l := range r.listeners {
		_ = l.Drain(ctx)
	}
}

func (r *recorder) count(sig capitan.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[sig])
}

func (r *recorder) fields(sig capitan.Signal) [][]capitan.Field {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]capitan.Field(nil), r.events[sig]...)
}
