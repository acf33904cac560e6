package satchel

import "context"

// Unwrapper is implemented by storage middleware to expose the wrapped storage.
type Unwrapper interface {
	Unwrap() Storage
}

// unwrapStorage strips every middleware layer from s.
func unwrapStorage(s Storage) Storage {
	for {
		u, ok := s.(Unwrapper)
		if !ok {
			return s
		}
		s = u.Unwrap()
	}
}

// callMovable reports whether dest can take over id from src without streaming.
func callMovable(ctx context.Context, dest, src Storage, id string) bool {
	if m, ok := dest.(Mover); ok {
		return m.Movable(ctx, unwrapStorage(src), id)
	}
	return false
}

// callMove moves id from src into dest as destID. Callers check callMovable first.
func callMove(ctx context.Context, dest, src Storage, id, destID string) error {
	return dest.(Mover).Move(ctx, unwrapStorage(src), id, destID)
}

// callDeleteMany deletes ids in one call when s implements MultiDeleter and
// falls back to parallel single deletes otherwise.
func callDeleteMany(ctx context.Context, s Storage, ids []string, concurrency int) error {
	if len(ids) == 0 {
		return nil
	}
	if md, ok := s.(MultiDeleter); ok {
		return md.DeleteMany(ctx, ids)
	}
	tasks := make([]Task, len(ids))
	for i, id := range ids {
		tasks[i] = func(ctx context.Context) error {
			return s.Delete(ctx, id)
		}
	}
	return Parallel(ctx, concurrency, tasks...)
}
