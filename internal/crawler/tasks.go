package crawler

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// taskSet tracks the resource captures spawned while a page loads. Wait joins
// all of them and closes the set; later submissions are dropped.
type taskSet struct {
	mu     sync.Mutex
	closed bool
	group  *errgroup.Group
	ctx    context.Context
}

func newTaskSet(ctx context.Context) *taskSet {
	return &taskSet{group: &errgroup.Group{}, ctx: ctx}
}

// Go starts fn unless the set is closed and reports whether it was started.
func (t *taskSet) Go(fn func(ctx context.Context)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.group.Go(func() error {
		fn(t.ctx)
		return nil
	})
	return true
}

// Wait closes the set and blocks until every started task returns.
func (t *taskSet) Wait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	_ = t.group.Wait()
}
