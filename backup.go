package satchel

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
)

// BackupConfig configures the Backup stage.
type BackupConfig struct {
	// Storage is the key of the backup storage.
	Storage string `yaml:"storage"`
	// DeleteBackups removes backups when their stored file is deleted.
	DeleteBackups bool `yaml:"delete"`
	// BestEffort reports backup failures as signals instead of returning them.
	BestEffort bool `yaml:"best_effort"`
}

// Backup returns a stage copying every promoted file into cfg.Storage under
// the same id. With DeleteBackups, destroying or replacing the stored file
// removes its backup too. Cached files are never backed up.
//
// Backup runs after the wrapped operation has committed. Its failures are
// returned as joined *MirrorError values, or only signalled with BestEffort.
func Backup(cfg BackupConfig) Stage {
	return func(next Handler) Handler {
		return StageFuncs{
			Next: next,
			PromoteFunc: func(ctx context.Context, a *Attacher, p Persistence) error {
				pending := a.Cached()
				if err := next.Promote(ctx, a, p); err != nil {
					return err
				}
				if !pending {
					return nil
				}
				return backupTree(ctx, a, cfg, OpUpload, a.Get())
			},
			DestroyFunc: func(ctx context.Context, a *Attacher) error {
				tree := a.Get()
				if err := next.Destroy(ctx, a); err != nil {
					return err
				}
				if !cfg.DeleteBackups || tree == nil || a.retains() {
					return nil
				}
				return backupTree(ctx, a, cfg, OpDelete, tree)
			},
		}
	}
}

// retains reports whether the keep policy applies to this attacher's destroy.
func (a *Attacher) retains() bool {
	if a.replacing {
		return a.def.keep.Replaced
	}
	return a.def.keep.Destroyed
}

// backupTree applies op to the backup of every stored leaf of tree. One failed
// leaf does not stop the others.
func backupTree(ctx context.Context, a *Attacher, cfg BackupConfig, op string, tree Tree) error {
	reg := a.def.registry
	var tasks []Task
	for _, f := range Leaves(tree) {
		if f.Storage != a.def.store {
			continue
		}
		tasks = append(tasks, func(ctx context.Context) error {
			start := time.Now()
			err := backupFile(ctx, reg, cfg.Storage, op, f)
			if err != nil {
				merr := &MirrorError{Op: op, Source: f.Storage, Mirror: cfg.Storage, ID: f.ID, Err: err}
				capitan.Emit(ctx, BackupFailed,
					FieldOp.Field(op),
					FieldAttachment.Field(a.def.name),
					FieldRecord.Field(a.record),
					FieldStorage.Field(f.Storage),
					FieldMirror.Field(cfg.Storage),
					FieldID.Field(f.ID),
					FieldError.Field(merr),
				)
				if cfg.BestEffort {
					return nil
				}
				return merr
			}
			capitan.Emit(ctx, BackupCompleted,
				FieldOp.Field(op),
				FieldAttachment.Field(a.def.name),
				FieldRecord.Field(a.record),
				FieldStorage.Field(f.Storage),
				FieldMirror.Field(cfg.Storage),
				FieldID.Field(f.ID),
				FieldDuration.Field(time.Since(start)),
			)
			return nil
		})
	}
	return parallelAll(ctx, a.def.concurrency, tasks...)
}

func backupFile(ctx context.Context, reg *Registry, key, op string, f StoredFile) error {
	dst, err := reg.Raw(key)
	if err != nil {
		return err
	}
	if op == OpDelete {
		return dst.Delete(ctx, f.ID)
	}
	src, err := reg.Open(ctx, f)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	return dst.Upload(ctx, f.ID, src, f.Metadata)
}
