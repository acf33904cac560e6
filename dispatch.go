package satchel

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

// Background is a Dispatcher running tasks on a fixed set of goroutines.
// Task failures and panics are reported with the DispatchFailed signal; they
// never stop the workers.
type Background struct {
	tasks chan Task

	mu     sync.RWMutex
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBackground starts workers goroutines draining a queue of backlog tasks.
// Tasks run with a context derived from ctx; cancelling ctx aborts them.
func NewBackground(ctx context.Context, workers, backlog int) *Background {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	b := &Background{tasks: make(chan Task, backlog)}
	b.ctx, b.cancel = context.WithCancel(ctx)
	for range workers {
		b.wg.Add(1)
		go b.work()
	}
	return b
}

// Submit queues task. It blocks while the backlog is full.
// Returns ErrPoolClosed once Stop has been called.
func (b *Background) Submit(ctx context.Context, task Task) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrPoolClosed
	}
	select {
	case b.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ctx.Done():
		return ErrPoolClosed
	}
}

// Stop refuses new tasks and waits for queued ones to finish. If ctx expires
// first, running tasks are cancelled and the rest of the queue is dropped.
func (b *Background) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.tasks)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.wg.Wait()
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

func (b *Background) work() {
	defer b.wg.Done()
	for task := range b.tasks {
		if b.ctx.Err() != nil {
			continue
		}
		if err := b.run(task); err != nil {
			capitan.Emit(b.ctx, DispatchFailed, FieldError.Field(err))
		}
	}
}

func (b *Background) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("satchel: background task panicked: %v", r)
		}
	}()
	return task(b.ctx)
}
