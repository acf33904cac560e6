package satchel

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/zoobzio/satchel/memory"
)

// mirrorEnv builds an environment whose store is mirrored to m1, m2 and m3.
func mirrorEnv(t *testing.T, cfg MirrorConfig, extra map[string]Storage, opts ...ReplicatorOption) (*testEnv, map[string]*memory.Storage) {
	t.Helper()
	if cfg.Mirrors == nil {
		cfg.Mirrors = map[string][]string{"store": {"m1", "m2", "m3"}}
	}
	rep, err := NewReplicator(cfg, opts...)
	if err != nil {
		t.Fatalf("NewReplicator failed: %v", err)
	}
	mirrors := map[string]*memory.Storage{"m1": memory.New(), "m2": memory.New(), "m3": memory.New()}
	storages := map[string]Storage{}
	for key, m := range mirrors {
		storages[key] = m
	}
	for key, s := range extra {
		storages[key] = s
	}
	return newEnv(storages, rep.Middleware()), mirrors
}

// rejectingDispatcher refuses every task.
type rejectingDispatcher struct{}

func (rejectingDispatcher) Submit(context.Context, Task) error { return errBoom }

// countingDispatcher runs tasks inline and counts them.
type countingDispatcher struct {
	n atomic.Int64
}

func (d *countingDispatcher) Submit(ctx context.Context, task Task) error {
	d.n.Add(1)
	return task(ctx)
}

func TestNewReplicator(t *testing.T) {
	if _, err := NewReplicator(MirrorConfig{UploadAsync: true}); err == nil {
		t.Error("asynchronous mirroring without a dispatcher should fail")
	}
	if _, err := NewReplicator(MirrorConfig{Mirrors: map[string][]string{"store": {"store"}}}); err == nil {
		t.Error("a storage mirroring itself should fail")
	}
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"eu"}}, Upload: true}
	rep, err := NewReplicator(cfg, WithMirrorConcurrency(2))
	if err != nil {
		t.Fatalf("NewReplicator failed: %v", err)
	}
	if !rep.Config().Upload || rep.concurrency != 2 {
		t.Error("config or options not applied")
	}
}

func TestReplicator_UploadFanOut(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true}, nil)
	sig := listen(t, MirrorCompleted)

	_, err := env.reg.Upload(context.Background(), "store", "a.jpg", strings.NewReader("data"), map[string]any{MetaFilename: "a.jpg"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	for key, m := range mirrors {
		got, ok := m.Content("a.jpg")
		if !ok || string(got) != "data" {
			t.Errorf("%s should hold a.jpg with the primary content", key)
		}
		if meta, _ := m.Metadata("a.jpg"); meta[MetaFilename] != "a.jpg" {
			t.Errorf("%s should receive the metadata, got %v", key, meta)
		}
		if m.Len() != 1 {
			t.Errorf("%s should hold exactly one file, has %d", key, m.Len())
		}
	}

	sig.wait()
	var seen []string
	for _, fields := range sig.fields(MirrorCompleted) {
		if FieldID.ExtractFromFields(fields) != "a.jpg" || FieldOp.ExtractFromFields(fields) != OpUpload {
			t.Error("MirrorCompleted carries the wrong id or op")
		}
		seen = append(seen, FieldMirror.ExtractFromFields(fields))
	}
	slices.Sort(seen)
	if !slices.Equal(seen, []string{"m1", "m2", "m3"}) {
		t.Errorf("expected one completion per mirror, got %v", seen)
	}
}

func TestReplicator_DeleteFanOut(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true, Delete: true}, nil)
	ctx := context.Background()

	f, err := env.reg.Upload(ctx, "store", "a.jpg", strings.NewReader("data"), nil)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := env.reg.Delete(ctx, f); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	for key, m := range mirrors {
		if m.Len() != 0 {
			t.Errorf("%s should be empty after the delete, has %v", key, m.IDs(""))
		}
	}
}

func TestReplicator_DeleteTree(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true, Delete: true}, nil)
	ctx := context.Background()

	tree := Branch{}
	for _, id := range []string{"a", "b"} {
		f, err := env.reg.Upload(ctx, "store", id, strings.NewReader(id), nil)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		tree[id] = NewLeaf(f)
	}
	if err := env.reg.DeleteTree(ctx, tree, 2); err != nil {
		t.Fatalf("DeleteTree failed: %v", err)
	}
	for key, m := range mirrors {
		if m.Len() != 0 {
			t.Errorf("%s should be empty, has %v", key, m.IDs(""))
		}
	}
}

func TestReplicator_Disabled(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Delete: true}, nil)
	ctx := context.Background()

	if _, err := env.reg.Upload(ctx, "store", "a.jpg", strings.NewReader("x"), nil); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	for key, m := range mirrors {
		if m.Len() != 0 {
			t.Errorf("upload mirroring is off, %s has %v", key, m.IDs(""))
		}
	}

	env, mirrors = mirrorEnv(t, MirrorConfig{Upload: true}, nil)
	f, _ := env.reg.Upload(ctx, "store", "a.jpg", strings.NewReader("x"), nil)
	if err := env.reg.Delete(ctx, f); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	for key, m := range mirrors {
		if _, ok := m.Content("a.jpg"); !ok {
			t.Errorf("delete mirroring is off, %s lost its copy", key)
		}
	}
}

func TestReplicator_NoCascade(t *testing.T) {
	cfg := MirrorConfig{
		Mirrors: map[string][]string{"store": {"m1"}, "m1": {"m2"}},
		Upload:  true,
	}
	env, mirrors := mirrorEnv(t, cfg, nil)

	if _, err := env.reg.Upload(context.Background(), "store", "a.jpg", strings.NewReader("x"), nil); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if mirrors["m1"].Len() != 1 {
		t.Error("m1 should mirror store")
	}
	if mirrors["m2"].Len() != 0 {
		t.Error("mirror writes must not be mirrored again")
	}
}

func TestReplicator_FailureIsReported(t *testing.T) {
	broken := newFaulty(memory.New())
	broken.uploadErr = errBoom
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"m1", "broken"}}, Upload: true}
	env, _ := mirrorEnv(t, cfg, map[string]Storage{"broken": broken})
	sig := listen(t, MirrorFailed)

	f, err := env.reg.Upload(context.Background(), "store", "a.jpg", strings.NewReader("x"), nil)
	var merr *MirrorError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *MirrorError, got %v", err)
	}
	if merr.Mirror != "broken" || merr.Source != "store" || merr.ID != "a.jpg" || merr.Op != OpUpload {
		t.Errorf("unexpected failure detail %+v", merr)
	}
	if errors.Is(err, ErrUpload) {
		t.Error("a mirror failure is not a primary upload failure")
	}
	if f.ID != "a.jpg" {
		t.Error("the primary reference should be returned with the mirror failure")
	}
	mustExist(t, env.reg, f, true)

	sig.wait()
	fields := sig.fields(MirrorFailed)
	if len(fields) != 1 || FieldMirror.ExtractFromFields(fields[0]) != "broken" {
		t.Errorf("expected one MirrorFailed for broken, got %d", len(fields))
	}
}

func TestReplicator_BestEffort(t *testing.T) {
	broken := newFaulty(memory.New())
	broken.uploadErr = errBoom
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"broken"}}, Upload: true, BestEffort: true}
	env, _ := mirrorEnv(t, cfg, map[string]Storage{"broken": broken})
	sig := listen(t, MirrorFailed)

	if _, err := env.reg.Upload(context.Background(), "store", "a.jpg", strings.NewReader("x"), nil); err != nil {
		t.Fatalf("best effort mirroring should not fail the upload, got %v", err)
	}
	sig.wait()
	if sig.count(MirrorFailed) != 1 {
		t.Errorf("expected 1 MirrorFailed, got %d", sig.count(MirrorFailed))
	}
}

func TestReplicator_Async(t *testing.T) {
	ctx := context.Background()
	bg := NewBackground(ctx, 2, 8)
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true, UploadAsync: true}, nil, WithDispatcher(bg))

	f, err := env.reg.Upload(ctx, "store", "a.jpg", strings.NewReader("x"), nil)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := bg.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	for key, m := range mirrors {
		if _, ok := m.Content(f.ID); !ok {
			t.Errorf("%s should hold a.jpg once the dispatcher drained", key)
		}
	}
}

func TestReplicator_AsyncFailureIsSignalled(t *testing.T) {
	ctx := context.Background()
	broken := newFaulty(memory.New())
	broken.uploadErr = errBoom
	d := &countingDispatcher{}
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"broken"}}, Upload: true, UploadAsync: true}
	env, _ := mirrorEnv(t, cfg, map[string]Storage{"broken": broken}, WithDispatcher(d))
	sig := listen(t, MirrorFailed)

	if _, err := env.reg.Upload(ctx, "store", "a.jpg", strings.NewReader("x"), nil); err != nil {
		t.Fatalf("asynchronous mirror failures are not returned, got %v", err)
	}
	if d.n.Load() != 1 {
		t.Errorf("expected 1 dispatched task, got %d", d.n.Load())
	}
	sig.wait()
	if sig.count(MirrorFailed) != 1 {
		t.Errorf("expected 1 MirrorFailed, got %d", sig.count(MirrorFailed))
	}
}

func TestReplicator_DispatcherRejects(t *testing.T) {
	cfg := MirrorConfig{Upload: true, UploadAsync: true}
	env, _ := mirrorEnv(t, cfg, nil, WithDispatcher(rejectingDispatcher{}))

	_, err := env.reg.Upload(context.Background(), "store", "a.jpg", strings.NewReader("x"), nil)
	var merr *MirrorError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *MirrorError, got %v", err)
	}
	if merr.Mirror != "*" || !errors.Is(err, errBoom) {
		t.Errorf("unexpected failure %+v", merr)
	}
}

func TestReplicator_Promotion(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true, Delete: true}, nil)
	att := env.attachment(t)
	a, rec := cachedAttacher(t, att, rawFile("content", "a.jpg"))

	for key, m := range mirrors {
		if m.Len() != 0 {
			t.Errorf("cache uploads are not mirrored, %s has %v", key, m.IDs(""))
		}
	}
	if err := a.Promote(context.Background(), rec.session()); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	f, _ := a.File()
	for key, m := range mirrors {
		if got, ok := m.Content(f.ID); !ok || string(got) != "content" {
			t.Errorf("%s should mirror the promoted file", key)
		}
	}
}

func TestReplicator_PromotionRollback(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true, Delete: true}, nil)
	att := env.attachment(t)
	a, _ := cachedAttacher(t, att, rawFile("content", "a.jpg"))
	cached := a.Get()

	p := stubPersistence{
		reload:  func(context.Context) (Tree, error) { return cached, nil },
		persist: func(context.Context, Tree) error { return ErrConflict },
	}
	if err := a.Promote(context.Background(), p); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	for key, m := range mirrors {
		if m.Len() != 0 {
			t.Errorf("rolled back candidate should leave %s, has %v", key, m.IDs(""))
		}
	}
}

func TestReplicator_PromotionKeepsPrimaryOnMirrorFailure(t *testing.T) {
	broken := newFaulty(memory.New())
	broken.uploadErr = errBoom
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"broken"}}, Upload: true}
	env, _ := mirrorEnv(t, cfg, map[string]Storage{"broken": broken})
	att := env.attachment(t)
	a, rec := cachedAttacher(t, att, rawFile("content", "a.jpg"))

	err := a.Promote(context.Background(), rec.session())
	if !errors.Is(err, ErrMirror) {
		t.Fatalf("expected ErrMirror, got %v", err)
	}
	if !a.Stored() || !Equal(rec.tree(t), a.Get()) {
		t.Error("the promotion should commit despite the mirror failure")
	}
	f, _ := a.File()
	mustExist(t, env.reg, f, true)
	if env.cache.Len() != 0 {
		t.Error("cached file should be removed after the commit")
	}
}

func TestReplicator_MovePromotion(t *testing.T) {
	env, mirrors := mirrorEnv(t, MirrorConfig{Upload: true}, nil)
	att := env.attachment(t, WithMovePromotion())
	a, rec := cachedAttacher(t, att, rawFile("content", "a.jpg"))

	if err := a.Promote(context.Background(), rec.session()); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	f, _ := a.File()
	for key, m := range mirrors {
		if got, ok := m.Content(f.ID); !ok || string(got) != "content" {
			t.Errorf("%s should mirror the moved file", key)
		}
	}
}

func TestReplicator_DestroyMirrorFailure(t *testing.T) {
	broken := newFaulty(memory.New())
	broken.deleteErr = errBoom
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"broken"}}, Upload: true, Delete: true}
	env, _ := mirrorEnv(t, cfg, map[string]Storage{"broken": broken})
	att := env.attachment(t)
	ctx := context.Background()

	a := att.Attacher("user:1")
	if err := a.Attach(ctx, rawFile("x", "a.jpg"), "store"); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	f, _ := a.File()

	if err := a.Destroy(ctx); !errors.Is(err, ErrMirror) {
		t.Fatalf("expected ErrMirror, got %v", err)
	}
	if a.Get() != nil {
		t.Error("the destroy should complete despite the mirror failure")
	}
	mustExist(t, env.reg, f, false)
}

func TestReplicator_MoveSourceKeepsMirrors(t *testing.T) {
	ctx := context.Background()
	cfg := MirrorConfig{Mirrors: map[string][]string{"cache": {"m1"}}, Upload: true, Delete: true}

	t.Run("copy and delete", func(t *testing.T) {
		plain := newFaulty(memory.New())
		env, mirrors := mirrorEnv(t, cfg, map[string]Storage{"plain": plain})
		src, err := env.reg.Upload(ctx, "cache", "a.jpg", strings.NewReader("x"), nil)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}

		if _, err := env.reg.Move(ctx, src, "plain", "b.jpg"); err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		mustExist(t, env.reg, src, false)
		if _, ok := mirrors["m1"].Content("a.jpg"); !ok {
			t.Error("the mirror of the source should keep its copy")
		}
	})

	t.Run("mover", func(t *testing.T) {
		env, mirrors := mirrorEnv(t, cfg, nil)
		src, err := env.reg.Upload(ctx, "cache", "a.jpg", strings.NewReader("x"), nil)
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}

		if _, err := env.reg.Move(ctx, src, "store", "b.jpg"); err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		if _, ok := mirrors["m1"].Content("a.jpg"); !ok {
			t.Error("the mirror of the source should keep its copy")
		}
	})
}

func TestReplicator_FailureDoesNotStopSiblings(t *testing.T) {
	broken := newFaulty(memory.New())
	broken.uploadErr = errBoom
	other := newFaulty(memory.New())
	other.uploadErr = errBoom
	cfg := MirrorConfig{Mirrors: map[string][]string{"store": {"broken", "m1", "other", "m2"}}, Upload: true}
	env, mirrors := mirrorEnv(t, cfg, map[string]Storage{"broken": broken, "other": other}, WithMirrorConcurrency(1))
	sig := listen(t, MirrorFailed, MirrorCompleted)

	_, err := env.reg.Upload(context.Background(), "store", "a.jpg", strings.NewReader("x"), nil)
	if !errors.Is(err, ErrMirror) {
		t.Fatalf("expected ErrMirror, got %v", err)
	}
	for _, key := range []string{"m1", "m2"} {
		if _, ok := mirrors[key].Content("a.jpg"); !ok {
			t.Errorf("%s should receive a.jpg although an earlier mirror failed", key)
		}
	}
	for _, key := range []string{"broken", "other"} {
		if !strings.Contains(err.Error(), "to "+key+" ") {
			t.Errorf("the error should report %s, got %v", key, err)
		}
	}

	sig.wait()
	if sig.count(MirrorFailed) != 2 || sig.count(MirrorCompleted) != 2 {
		t.Errorf("expected 2 failed and 2 completed, got %d and %d",
			sig.count(MirrorFailed), sig.count(MirrorCompleted))
	}
}
