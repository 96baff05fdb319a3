// Package lock implements the server's per-path shared/exclusive lock
// table. Acquisition blocks until the lock can be granted; waiters are
// served in FIFO order so that neither readers nor writers are starved.
package lock

import (
	"context"
	"sync"
)

// Table maps file paths to their lock state. The zero value is not usable;
// construct with NewTable. One Table is shared by every connection handler
// in the server process.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// entry is the lock state for a single path. All fields are guarded by
// Table.mu. Invariant: writer implies readers == 0. An entry exists only
// while it is held or waited on; the last release deletes it.
type entry struct {
	readers int
	writer  bool
	queue   []*waiter
}

// waiter is one queued acquisition. ready is closed when the lock has been
// granted to it.
type waiter struct {
	exclusive bool
	ready     chan struct{}
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// AcquireRead blocks until no writer holds path, then registers the caller
// as a reader. ctx aborts the wait (connection teardown); it has no effect
// once the lock is granted.
func (t *Table) AcquireRead(ctx context.Context, path string) error {
	return t.acquire(ctx, path, false)
}

// AcquireWrite blocks until path has no writer and no readers, then
// registers the caller as the writer.
func (t *Table) AcquireWrite(ctx context.Context, path string) error {
	return t.acquire(ctx, path, true)
}

func (t *Table) acquire(ctx context.Context, path string, exclusive bool) error {
	t.mu.Lock()
	e := t.entries[path]
	if e == nil {
		e = &entry{}
		t.entries[path] = e
	}
	// Grant immediately only when nobody is queued ahead. A reader that
	// jumped past a queued writer would let a reader stream starve it.
	if len(e.queue) == 0 && e.grantable(exclusive) {
		e.grant(exclusive)
		t.mu.Unlock()
		return nil
	}
	w := &waiter{exclusive: exclusive, ready: make(chan struct{})}
	e.queue = append(e.queue, w)
	t.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		select {
		case <-w.ready:
			// The grant raced with the cancellation. Undo it so the lock
			// is not leaked on a connection that has gone away.
			t.releaseLocked(path, exclusive)
		default:
			t.dropWaiter(path, w)
		}
		t.mu.Unlock()
		return ctx.Err()
	}
}

// ReleaseRead drops one reader registration for path and wakes whoever can
// now proceed. Releasing a path that is not held is a no-op.
func (t *Table) ReleaseRead(path string) {
	t.mu.Lock()
	t.releaseLocked(path, false)
	t.mu.Unlock()
}

// ReleaseWrite drops the writer registration for path and wakes whoever can
// now proceed.
func (t *Table) ReleaseWrite(path string) {
	t.mu.Lock()
	t.releaseLocked(path, true)
	t.mu.Unlock()
}

func (t *Table) releaseLocked(path string, exclusive bool) {
	e := t.entries[path]
	if e == nil {
		return
	}
	if exclusive {
		e.writer = false
	} else if e.readers > 0 {
		e.readers--
	}
	t.wakeLocked(path, e)
}

// wakeLocked grants to queued waiters in FIFO order: either the writer at
// the head of the queue, or the run of readers up to the next queued
// writer. Removes the entry once nothing holds or waits on it.
func (t *Table) wakeLocked(path string, e *entry) {
	for len(e.queue) > 0 {
		w := e.queue[0]
		if !e.grantable(w.exclusive) {
			break
		}
		e.queue = e.queue[1:]
		e.grant(w.exclusive)
		close(w.ready)
	}
	if e.readers == 0 && !e.writer && len(e.queue) == 0 {
		delete(t.entries, path)
	}
}

// dropWaiter removes a cancelled waiter from the queue. Dropping the head
// can unblock waiters behind it, e.g. readers queued behind a cancelled
// writer.
func (t *Table) dropWaiter(path string, w *waiter) {
	e := t.entries[path]
	if e == nil {
		return
	}
	for i, queued := range e.queue {
		if queued == w {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	t.wakeLocked(path, e)
}

func (e *entry) grantable(exclusive bool) bool {
	if exclusive {
		return !e.writer && e.readers == 0
	}
	return !e.writer
}

func (e *entry) grant(exclusive bool) {
	if exclusive {
		e.writer = true
	} else {
		e.readers++
	}
}
