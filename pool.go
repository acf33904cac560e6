package satchel

import (
	"context"
	"errors"
	"sync"

	"github.com/zoobzio/capitan"
	"golang.org/x/sync/errgroup"
)

// Pool is a fixed-size worker pool draining a task queue.
//
// Tasks are queued with Submit and executed by Run with at most size tasks in
// flight. The pool is fail-fast: the first task error cancels the context
// shared by all tasks, no further tasks are started, and Run returns that
// error as a *TaskError once in-flight tasks have returned.
type Pool struct {
	size  int
	limit int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	closed  bool
	stopped bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueueLimit bounds the queue. Submit blocks while n tasks are waiting.
// Zero means unbounded.
func WithQueueLimit(n int) PoolOption {
	return func(p *Pool) {
		p.limit = n
	}
}

// NewPool creates a pool running at most size tasks concurrently.
// A size below one is treated as one.
func NewPool(size int, opts ...PoolOption) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int {
	return p.size
}

// Submit enqueues task. It blocks only when the queue is bounded and full.
// Returns ErrPoolClosed after Close or once the pool has stopped.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.limit > 0 && len(p.queue) >= p.limit && !p.closed && !p.stopped {
		p.cond.Wait()
	}
	if p.closed || p.stopped {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Broadcast()
	return nil
}

// Close marks the queue complete. Run returns once the remaining tasks finish.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
}

// Run executes queued tasks until the queue is closed and drained, a task
// fails, or ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	stop := context.AfterFunc(gctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopped = true
		p.cond.Broadcast()
	})
	defer stop()

	for {
		task, ok := p.next()
		if !ok {
			break
		}
		g.Go(func() error {
			// Dequeued before a sibling failed; never started.
			if gctx.Err() != nil {
				return nil
			}
			return task(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		taskErr := &TaskError{Err: err}
		capitan.Emit(ctx, BatchFailed,
			FieldError.Field(taskErr),
			FieldCount.Field(int64(p.size)),
		)
		return taskErr
	}
	return ctx.Err()
}

// RunToCompletion closes the queue and runs every task submitted so far.
func (p *Pool) RunToCompletion(ctx context.Context) error {
	p.Close()
	return p.Run(ctx)
}

// next blocks until a task is available, the queue is closed and empty, or
// the pool stopped.
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return nil, false
		}
		if len(p.queue) > 0 {
			task := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.cond.Broadcast()
			return task, true
		}
		if p.closed {
			return nil, false
		}
		p.cond.Wait()
	}
}

// Parallel runs tasks on a pool of the given size and waits for all of them.
func Parallel(ctx context.Context, size int, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	p := NewPool(size)
	for _, task := range tasks {
		if err := p.Submit(task); err != nil {
			return err
		}
	}
	return p.RunToCompletion(ctx)
}

// parallelAll runs every task with at most size in flight. A failure does not
// cancel its siblings; all failures are returned joined.
func parallelAll(ctx context.Context, size int, tasks ...Task) error {
	if size < 1 {
		size = 1
	}
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(size)
	for _, task := range tasks {
		g.Go(func() error {
			if err := task(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
