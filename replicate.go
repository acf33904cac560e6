package satchel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
)

// Mirror operations.
const (
	OpUpload = "upload"
	OpDelete = "delete"
)

// MirrorConfig declares which storages are replicated where.
type MirrorConfig struct {
	// Mirrors maps a source storage key to the keys that mirror it.
	Mirrors map[string][]string `yaml:"mirrors"`
	// Upload replicates uploads (and moves) into the mirrors.
	Upload bool `yaml:"upload"`
	// Delete replicates deletes into the mirrors.
	Delete bool `yaml:"delete"`
	// UploadAsync hands mirror uploads to the Dispatcher.
	UploadAsync bool `yaml:"upload_async"`
	// DeleteAsync hands mirror deletes to the Dispatcher.
	DeleteAsync bool `yaml:"delete_async"`
	// BestEffort reports synchronous mirror failures as signals instead of
	// returning them.
	BestEffort bool `yaml:"best_effort"`
}

// Replicator copies writes on a storage to its mirrors.
// Install it with NewRegistry(storages, replicator.Middleware()).
type Replicator struct {
	cfg         MirrorConfig
	dispatcher  Dispatcher
	concurrency int
}

// ReplicatorOption configures a Replicator.
type ReplicatorOption func(*Replicator)

// WithDispatcher sets the executor for asynchronous mirror operations.
func WithDispatcher(d Dispatcher) ReplicatorOption {
	return func(r *Replicator) {
		r.dispatcher = d
	}
}

// WithMirrorConcurrency bounds parallel synchronous mirror operations.
func WithMirrorConcurrency(n int) ReplicatorOption {
	return func(r *Replicator) {
		r.concurrency = n
	}
}

// NewReplicator creates a Replicator for cfg.
// Asynchronous modes require WithDispatcher.
func NewReplicator(cfg MirrorConfig, opts ...ReplicatorOption) (*Replicator, error) {
	r := &Replicator{cfg: cfg, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	if (cfg.UploadAsync || cfg.DeleteAsync) && r.dispatcher == nil {
		return nil, errors.New("satchel: asynchronous mirroring requires a dispatcher")
	}
	for source, mirrors := range cfg.Mirrors {
		for _, m := range mirrors {
			if m == source {
				return nil, fmt.Errorf("satchel: storage %q mirrors itself", source)
			}
		}
	}
	return r, nil
}

// Config returns the mirror configuration.
func (r *Replicator) Config() MirrorConfig {
	return r.cfg
}

// Middleware returns the registry middleware that installs the mirrors.
// Mirror storages are written without middleware so mirrors never cascade.
func (r *Replicator) Middleware() Middleware {
	return func(reg *Registry, key string, next Storage) Storage {
		mirrors := r.cfg.Mirrors[key]
		if len(mirrors) == 0 {
			return next
		}
		return &mirroredStorage{
			next:     next,
			registry: reg,
			source:   key,
			mirrors:  mirrors,
			rep:      r,
		}
	}
}

// mirroredStorage wraps a source storage and replays its writes on mirrors.
type mirroredStorage struct {
	next     Storage
	registry *Registry
	source   string
	mirrors  []string
	rep      *Replicator
}

func (m *mirroredStorage) Unwrap() Storage {
	return m.next
}

func (m *mirroredStorage) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	return m.next.Open(ctx, id)
}

func (m *mirroredStorage) Exists(ctx context.Context, id string) (bool, error) {
	return m.next.Exists(ctx, id)
}

func (m *mirroredStorage) Upload(ctx context.Context, id string, r io.Reader, metadata map[string]any) error {
	if err := m.next.Upload(ctx, id, r, metadata); err != nil {
		return err
	}
	return m.mirrorUpload(ctx, id, metadata)
}

func (m *mirroredStorage) Delete(ctx context.Context, id string) error {
	if err := m.next.Delete(ctx, id); err != nil {
		return err
	}
	return m.mirrorDelete(ctx, []string{id})
}

func (m *mirroredStorage) DeleteMany(ctx context.Context, ids []string) error {
	if err := callDeleteMany(ctx, m.next, ids, m.rep.concurrency); err != nil {
		return err
	}
	return m.mirrorDelete(ctx, ids)
}

func (m *mirroredStorage) Movable(ctx context.Context, src Storage, id string) bool {
	return callMovable(ctx, m.next, src, id)
}

func (m *mirroredStorage) Move(ctx context.Context, src Storage, id, destID string) error {
	if err := callMove(ctx, m.next, src, id, destID); err != nil {
		return err
	}
	return m.mirrorUpload(ctx, destID, nil)
}

// mirrorUpload copies id from the source storage into every mirror.
// Moves carry no metadata, so mirrors of a moved file receive content only.
func (m *mirroredStorage) mirrorUpload(ctx context.Context, id string, metadata map[string]any) error {
	if !m.rep.cfg.Upload {
		return nil
	}
	return m.replicate(ctx, OpUpload, []string{id}, m.rep.cfg.UploadAsync,
		func(ctx context.Context, dst Storage, id string) error {
			rc, err := m.next.Open(ctx, id)
			if err != nil {
				return err
			}
			defer func() { _ = rc.Close() }()
			return dst.Upload(ctx, id, rc, metadata)
		})
}

func (m *mirroredStorage) mirrorDelete(ctx context.Context, ids []string) error {
	if !m.rep.cfg.Delete {
		return nil
	}
	return m.replicate(ctx, OpDelete, ids, m.rep.cfg.DeleteAsync,
		func(ctx context.Context, dst Storage, id string) error {
			return dst.Delete(ctx, id)
		})
}

// replicate runs op for every (mirror, id) pair. Every synchronous pair runs
// even when another fails; the failures are returned as joined *MirrorError
// values unless BestEffort is set. Asynchronous failures are only signalled.
func (m *mirroredStorage) replicate(
	ctx context.Context,
	op string,
	ids []string,
	async bool,
	fn func(ctx context.Context, dst Storage, id string) error,
) error {
	tasks := make([]Task, 0, len(m.mirrors)*len(ids))
	for _, mirror := range m.mirrors {
		for _, id := range ids {
			tasks = append(tasks, m.task(op, mirror, id, fn))
		}
	}

	if async {
		for _, task := range tasks {
			if err := m.rep.dispatcher.Submit(ctx, signalOnly(task)); err != nil {
				merr := m.failed(ctx, &MirrorError{Op: op, Source: m.source, Mirror: "*", ID: ids[0], Err: err})
				if m.rep.cfg.BestEffort {
					return nil
				}
				return merr
			}
		}
		return nil
	}

	if m.rep.cfg.BestEffort {
		for i, task := range tasks {
			tasks[i] = signalOnly(task)
		}
	}
	return parallelAll(ctx, m.rep.concurrency, tasks...)
}

// task builds one mirror operation. Failures emit MirrorFailed and are
// returned as *MirrorError.
func (m *mirroredStorage) task(op, mirror, id string, fn func(context.Context, Storage, string) error) Task {
	return func(ctx context.Context) error {
		start := time.Now()
		dst, err := m.registry.Raw(mirror)
		if err == nil {
			err = fn(ctx, dst, id)
		}
		if err != nil {
			return m.failed(ctx, &MirrorError{Op: op, Source: m.source, Mirror: mirror, ID: id, Err: err})
		}
		capitan.Emit(ctx, MirrorCompleted,
			FieldOp.Field(op),
			FieldStorage.Field(m.source),
			FieldMirror.Field(mirror),
			FieldID.Field(id),
			FieldDuration.Field(time.Since(start)),
		)
		return nil
	}
}

func (m *mirroredStorage) failed(ctx context.Context, err *MirrorError) error {
	capitan.Emit(ctx, MirrorFailed,
		FieldOp.Field(err.Op),
		FieldStorage.Field(err.Source),
		FieldMirror.Field(err.Mirror),
		FieldID.Field(err.ID),
		FieldError.Field(err),
	)
	return err
}

// signalOnly drops the error of a task that already signalled it.
func signalOnly(task Task) Task {
	return func(ctx context.Context) error {
		_ = task(ctx)
		return nil
	}
}

// isMirror reports whether err carries a mirror failure.
func isMirror(err error) bool {
	var merr *MirrorError
	return errors.As(err, &merr)
}

// mirrorErrors collects mirror failures of writes whose primary succeeded, so
// the operation can finish before they are reported.
type mirrorErrors struct {
	mu   sync.Mutex
	errs []error
}

// keep records err if it is a mirror failure and returns nil in its place.
// Any other error is returned unchanged.
func (m *mirrorErrors) keep(err error) error {
	if err == nil || !isMirror(err) {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return nil
}

// take returns the collected failures joined and resets the collection.
func (m *mirrorErrors) take() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := errors.Join(m.errs...)
	m.errs = nil
	return err
}
