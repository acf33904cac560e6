package satchel

import "context"

// Handler performs the lifecycle operations of an attacher.
type Handler interface {
	Assign(ctx context.Context, a *Attacher, raw Raw) error
	Promote(ctx context.Context, a *Attacher, p Persistence) error
	Destroy(ctx context.Context, a *Attacher) error
}

// Stage decorates a Handler. Stages are composed once, when an Attachment is
// built, in the order they were configured.
type Stage func(next Handler) Handler

// StageFuncs is a Handler that overrides selected operations and passes the
// rest to Next.
type StageFuncs struct {
	Next        Handler
	AssignFunc  func(ctx context.Context, a *Attacher, raw Raw) error
	PromoteFunc func(ctx context.Context, a *Attacher, p Persistence) error
	DestroyFunc func(ctx context.Context, a *Attacher) error
}

// Assign calls AssignFunc, or Next when it is nil.
func (s StageFuncs) Assign(ctx context.Context, a *Attacher, raw Raw) error {
	if s.AssignFunc != nil {
		return s.AssignFunc(ctx, a, raw)
	}
	return s.Next.Assign(ctx, a, raw)
}

// Promote calls PromoteFunc, or Next when it is nil.
func (s StageFuncs) Promote(ctx context.Context, a *Attacher, p Persistence) error {
	if s.PromoteFunc != nil {
		return s.PromoteFunc(ctx, a, p)
	}
	return s.Next.Promote(ctx, a, p)
}

// Destroy calls DestroyFunc, or Next when it is nil.
func (s StageFuncs) Destroy(ctx context.Context, a *Attacher) error {
	if s.DestroyFunc != nil {
		return s.DestroyFunc(ctx, a)
	}
	return s.Next.Destroy(ctx, a)
}

// core is the innermost handler holding the attacher's own behavior.
type core struct{}

func (core) Assign(ctx context.Context, a *Attacher, raw Raw) error {
	return a.assign(ctx, raw)
}

func (core) Promote(ctx context.Context, a *Attacher, p Persistence) error {
	return a.promote(ctx, p)
}

func (core) Destroy(ctx context.Context, a *Attacher) error {
	return a.destroy(ctx)
}

func compose(stages []Stage) Handler {
	var h Handler = core{}
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return h
}
