package satchel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// promotionAttempt is the state of one promote call.
type promotionAttempt struct {
	a         *Attacher
	cached    Tree
	candidate Tree
	moved     bool
	start     time.Time
}

// promote moves the cached current tree into the store storage.
//
// The persisted value is reloaded and must still equal the cached tree. Every
// leaf is then copied (or moved) into store under a fresh id and the new tree
// is persisted with compare-and-set. A concurrent change to the record makes
// Persist fail with ErrConflict; the candidate is removed and the cached tree
// is left as it was. Exactly one of several racing promotions wins.
//
// Store ids are fresh rather than the cached ids. Racing promotions of the
// same cached tree would otherwise write the same store ids, and the loser's
// rollback would delete the winner's files.
//
// A current tree that is not cached is already promoted and nothing happens.
func (a *Attacher) promote(ctx context.Context, p Persistence) error {
	if !a.Cached() {
		return nil
	}
	pa := &promotionAttempt{a: a, cached: a.current, start: time.Now()}
	capitan.Emit(ctx, PromoteStarted,
		FieldAttachment.Field(a.def.name),
		FieldRecord.Field(a.record),
		FieldCount.Field(int64(len(Leaves(pa.cached)))),
	)

	before, err := p.Reload(ctx)
	if err != nil {
		return pa.fail(ctx, err)
	}
	if !Equal(before, pa.cached) {
		return pa.conflict(ctx, ErrConflict)
	}

	if err := pa.transfer(ctx); err != nil {
		return pa.fail(ctx, err)
	}

	if err := p.Persist(ctx, pa.candidate); err != nil {
		if cerr := pa.rollback(ctx); cerr != nil {
			err = fmt.Errorf("%w (cleanup: %w)", err, cerr)
		}
		if isConflict(err) {
			return pa.conflict(ctx, err)
		}
		return pa.fail(ctx, err)
	}

	if !pa.moved {
		a.cleanup(ctx, pa.cached)
	}
	a.current = pa.candidate
	a.persisted = pa.candidate

	capitan.Emit(ctx, PromoteCompleted,
		FieldAttachment.Field(a.def.name),
		FieldRecord.Field(a.record),
		FieldStorage.Field(a.def.store),
		FieldDuration.Field(time.Since(pa.start)),
	)
	return nil
}

// transfer builds the candidate tree in store. On failure every leaf already
// transferred is undone so that store holds nothing from this attempt.
func (pa *promotionAttempt) transfer(ctx context.Context) error {
	a := pa.a
	pa.moved = a.def.movePromotion && pa.movable(ctx)

	var (
		mu   sync.Mutex
		done []transferred
	)
	candidate, err := MapParallel(ctx, pa.cached, a.def.concurrency,
		func(ctx context.Context, _ []string, f StoredFile) (StoredFile, error) {
			id := a.def.newID(f.Filename())
			var (
				out StoredFile
				err error
			)
			if pa.moved {
				out, err = a.def.registry.Move(ctx, f, a.def.store, id)
			} else {
				out, err = a.def.registry.Copy(ctx, f, a.def.store, id)
			}
			if err := a.mirrored.keep(err); err != nil {
				return StoredFile{}, err
			}
			mu.Lock()
			done = append(done, transferred{from: f, to: out})
			mu.Unlock()
			return out, nil
		})
	if err != nil {
		if uerr := pa.undo(ctx, done); uerr != nil {
			a.cleanupFailed(ctx, uerr)
		}
		return err
	}
	pa.candidate = candidate
	return nil
}

// movable reports whether every cached leaf can be moved into store.
// Promotion never mixes moves and copies.
func (pa *promotionAttempt) movable(ctx context.Context) bool {
	reg := pa.a.def.registry
	dest, err := reg.Storage(pa.a.def.store)
	if err != nil {
		return false
	}
	for _, f := range Leaves(pa.cached) {
		src, err := reg.Raw(f.Storage)
		if err != nil || !callMovable(ctx, dest, src, f.ID) {
			return false
		}
	}
	return true
}

// rollback removes the candidate after a failed Persist.
func (pa *promotionAttempt) rollback(ctx context.Context) error {
	var done []transferred
	from := Leaves(pa.cached)
	to := Leaves(pa.candidate)
	for i := range to {
		done = append(done, transferred{from: from[i], to: to[i]})
	}
	return pa.undo(ctx, done)
}

// undo reverses transfers: copies are deleted, moves are moved back into
// their original storage under their original ids. Every transfer is
// attempted even when another fails.
func (pa *promotionAttempt) undo(ctx context.Context, done []transferred) error {
	if len(done) == 0 {
		return nil
	}
	reg := pa.a.def.registry
	if !pa.moved {
		files := make([]StoredFile, len(done))
		for i, t := range done {
			files[i] = t.to
		}
		return pa.a.mirrored.keep(reg.DeleteTree(ctx, filesTree(files), pa.a.def.concurrency))
	}
	tasks := make([]Task, len(done))
	for i, t := range done {
		tasks[i] = func(ctx context.Context) error {
			_, err := reg.Move(ctx, t.to, t.from.Storage, t.from.ID)
			return pa.a.mirrored.keep(err)
		}
	}
	return parallelAll(ctx, pa.a.def.concurrency, tasks...)
}

func (pa *promotionAttempt) conflict(ctx context.Context, err error) error {
	capitan.Emit(ctx, PromoteConflict,
		FieldAttachment.Field(pa.a.def.name),
		FieldRecord.Field(pa.a.record),
		FieldError.Field(err),
		FieldDuration.Field(time.Since(pa.start)),
	)
	return err
}

func (pa *promotionAttempt) fail(ctx context.Context, err error) error {
	capitan.Emit(ctx, PromoteFailed,
		FieldAttachment.Field(pa.a.def.name),
		FieldRecord.Field(pa.a.record),
		FieldError.Field(err),
		FieldDuration.Field(time.Since(pa.start)),
	)
	return err
}

type transferred struct {
	from StoredFile
	to   StoredFile
}

func (a *Attacher) cleanupFailed(ctx context.Context, err error) {
	capitan.Emit(ctx, CleanupIncomplete,
		FieldAttachment.Field(a.def.name),
		FieldRecord.Field(a.record),
		FieldError.Field(err),
	)
}
