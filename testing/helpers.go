// Package testing provides test utilities for satchel.
package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/satchel"
)

// Record is an in-memory record holding one attachment column.
// Each Persistence obtained from it keeps its own Reload snapshot, the way
// separate requests against one database row would.
type Record struct {
	mu      sync.Mutex
	data    []byte
	missing bool
	writes  int
}

// NewRecord creates a record whose column holds tree.
func NewRecord(tree satchel.Tree) *Record {
	data, err := satchel.MarshalTree(tree)
	if err != nil {
		panic("testing: marshal initial tree: " + err.Error())
	}
	return &Record{data: data}
}

// Persistence returns a new session on the record.
func (r *Record) Persistence() satchel.Persistence {
	return &recordSession{record: r}
}

// Tree returns the value currently stored in the column.
func (r *Record) Tree() satchel.Tree {
	r.mu.Lock()
	defer r.mu.Unlock()
	tree, err := satchel.UnmarshalTree(r.data)
	if err != nil {
		panic("testing: stored column is corrupt: " + err.Error())
	}
	return tree
}

// Set overwrites the column, as a concurrent writer would.
// A deleted record is recreated.
func (r *Record) Set(tree satchel.Tree) {
	data, err := satchel.MarshalTree(tree)
	if err != nil {
		panic("testing: marshal tree: " + err.Error())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.missing = false
	r.writes++
}

// Delete removes the record.
func (r *Record) Delete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing = true
}

// Writes returns the number of successful writes to the column.
func (r *Record) Writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type recordSession struct {
	record   *Record
	snapshot []byte
}

func (s *recordSession) Reload(_ context.Context) (satchel.Tree, error) {
	s.record.mu.Lock()
	defer s.record.mu.Unlock()
	if s.record.missing {
		return nil, satchel.ErrRecordMissing
	}
	s.snapshot = s.record.data
	return satchel.UnmarshalTree(s.snapshot)
}

func (s *recordSession) Persist(_ context.Context, tree satchel.Tree) error {
	data, err := satchel.MarshalTree(tree)
	if err != nil {
		return err
	}
	s.record.mu.Lock()
	defer s.record.mu.Unlock()
	if s.record.missing {
		return satchel.ErrRecordMissing
	}
	if string(s.record.data) != string(s.snapshot) {
		return satchel.ErrConflict
	}
	s.record.data = data
	s.record.writes++
	s.snapshot = data
	return nil
}

// Events records the fields of satchel events on a set of signals.
type Events struct {
	mu        sync.Mutex
	seen      map[capitan.Signal][]Fields
	listeners []*capitan.Listener
}

// Listen hooks signals for the rest of the test. Listeners are closed by
// t.Cleanup.
func Listen(t testing.TB, signals ...capitan.Signal) *Events {
	t.Helper()
	ev := &Events{seen: make(map[capitan.Signal][]Fields)}
	for _, sig := range signals {
		ev.listeners = append(ev.listeners, capitan.Hook(sig, ev.record))
	}
	t.Cleanup(ev.close)
	return ev
}

func (ev *Events) record(_ context.Context, e *capitan.Event) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.seen[e.Signal()] = append(ev.seen[e.Signal()], Fields(e.Fields()))
}

// Wait blocks until every event emitted so far has been recorded.
func (ev *Events) Wait(ctx context.Context) error {
	for _, l := range ev.listeners {
		if err := l.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Of returns the recorded events of sig in emission order.
func (ev *Events) Of(sig capitan.Signal) []Fields {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return append([]Fields(nil), ev.seen[sig]...)
}

// Count returns the number of recorded events of sig.
func (ev *Events) Count(sig capitan.Signal) int {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return len(ev.seen[sig])
}

func (ev *Events) close() {
	for _, l := range ev.listeners {
		l.Close()
	}
}

// Fields extracts satchel's typed fields from captured events.
type Fields []capitan.Field

// Attachment returns the attachment name.
func (f Fields) Attachment() string { return satchel.FieldAttachment.ExtractFromFields(f) }

// Record returns the record key.
func (f Fields) Record() string { return satchel.FieldRecord.ExtractFromFields(f) }

// Storage returns the storage key.
func (f Fields) Storage() string { return satchel.FieldStorage.ExtractFromFields(f) }

// Mirror returns the mirror or backup storage key.
func (f Fields) Mirror() string { return satchel.FieldMirror.ExtractFromFields(f) }

// ID returns the file id.
func (f Fields) ID() string { return satchel.FieldID.ExtractFromFields(f) }

// Op returns the replicated operation.
func (f Fields) Op() string { return satchel.FieldOp.ExtractFromFields(f) }

// Count returns the count field.
func (f Fields) Count() int64 { return satchel.FieldCount.ExtractFromFields(f) }

// Duration returns the duration field.
func (f Fields) Duration() time.Duration { return satchel.FieldDuration.ExtractFromFields(f) }

// Err returns the error field.
func (f Fields) Err() error { return satchel.FieldError.ExtractFromFields(f) }
