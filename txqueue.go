package recdb

import (
	"runtime/debug"
	"sync"
)

// opQueue runs the operations of one transaction on a dedicated goroutine,
// one at a time and in submission order. Goroutines sharing a transaction
// therefore never touch the storage transaction concurrently.
type opQueue struct {
	ops    chan queuedOp
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

type queuedOp struct {
	f      func()
	result chan *panicked
}

func newOpQueue() *opQueue {
	q := &opQueue{
		ops:  make(chan queuedOp),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *opQueue) run() {
	defer close(q.done)
	for op := range q.ops {
		op.result <- runQueuedOp(op.f)
	}
}

func runQueuedOp(f func()) (p *panicked) {
	defer func() {
		if r := recover(); r != nil {
			if pp, ok := r.(*panicked); ok {
				p = pp
			} else {
				p = &panicked{r, string(debug.Stack())}
			}
		}
	}()
	f()
	return nil
}

// do runs f on the queue and waits for it. A panic in f is re-raised in the
// calling goroutine.
func (q *opQueue) do(f func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrTxClosed
	}
	result := make(chan *panicked, 1)
	q.ops <- queuedOp{f, result}
	if p := <-result; p != nil {
		panic(p)
	}
	return nil
}

// close waits for the running operation, then rejects all further ones.
func (q *opQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ops)
	q.mu.Unlock()
	<-q.done
}
