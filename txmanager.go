package recdb

import (
	"context"
	"sync"
)

// gates orders transactions. A read waits for the read gate and holds back
// the write gate until it's done; a write waits for the write gate and
// holds back both. Reads queued back to back thus run concurrently, while
// each write runs alone, after everything queued before it.
type gates struct {
	mu    sync.Mutex
	read  <-chan struct{}
	write <-chan struct{}
}

func newGates() *gates {
	open := make(chan struct{})
	close(open)
	return &gates{read: open, write: open}
}

// enqueue registers a transaction. The transaction may start once wait is
// closed, and must close done when it ends.
func (g *gates) enqueue(writable bool) (wait <-chan struct{}, done chan struct{}) {
	done = make(chan struct{})
	g.mu.Lock()
	defer g.mu.Unlock()
	if writable {
		wait = g.write
		g.read, g.write = done, done
	} else {
		wait = g.read
		g.write = joinGates(g.write, done)
	}
	return wait, done
}

// joinGates returns a channel closed once both a and b are closed.
func joinGates(a, b <-chan struct{}) <-chan struct{} {
	select {
	case <-a:
		return b
	default:
	}
	c := make(chan struct{})
	go func() {
		<-a
		<-b
		close(c)
	}()
	return c
}

// schedule queues f, returning a channel that receives its result. Queue
// position is taken before schedule returns. Cancelling ctx abandons a
// transaction that hasn't started yet; a started one runs to completion.
func (db *DB) schedule(ctx context.Context, writable bool, f func(tx *Tx) error) <-chan error {
	wait, done := db.gates.enqueue(writable)
	db.metrics.txQueued.Inc()
	result := make(chan error, 1)
	go func() {
		var err error
		select {
		case <-wait:
			err = ctx.Err()
		case <-ctx.Done():
			err = ctx.Err()
		}
		db.metrics.txQueued.Dec()
		if err != nil {
			result <- err
			// successors must still observe our place in the order
			<-wait
			close(done)
			return
		}
		err = db.run(writable, f)
		close(done)
		result <- err
	}()
	return result
}

// ReadAsync queues a read transaction and returns immediately.
func (db *DB) ReadAsync(ctx context.Context, f func(tx *Tx) error) <-chan error {
	return db.schedule(ctx, false, f)
}

// WriteAsync queues a write transaction and returns immediately.
func (db *DB) WriteAsync(ctx context.Context, f func(tx *Tx) error) <-chan error {
	return db.schedule(ctx, true, f)
}

// Read runs a read transaction. Reads run concurrently with each other, but
// never with a write.
func (db *DB) Read(ctx context.Context, f func(tx *Tx) error) error {
	return <-db.ReadAsync(ctx, f)
}

// Write runs a write transaction. It is committed if f returns nil, and
// discarded otherwise.
func (db *DB) Write(ctx context.Context, f func(tx *Tx) error) error {
	return <-db.WriteAsync(ctx, f)
}
