package recdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.events, ",")
}

func waitFor(c <-chan struct{}) error {
	select {
	case <-c:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("timed out")
	}
}

func TestTxManager_Ordering(t *testing.T) {
	db := setup(t, testSchema)
	ctx := context.Background()

	var log eventLog
	r1started := make(chan struct{})
	r2started := make(chan struct{})
	r1ended := make(chan struct{})

	// both reads must be running at once to get past their waits; their
	// start order is up to the runtime, so r2 logs after r1 does
	var g errgroup.Group
	r1 := db.ReadAsync(ctx, func(tx *Tx) error {
		log.add("1S")
		close(r1started)
		if err := waitFor(r2started); err != nil {
			return err
		}
		log.add("1E")
		close(r1ended)
		return nil
	})
	r2 := db.ReadAsync(ctx, func(tx *Tx) error {
		if err := waitFor(r1started); err != nil {
			return err
		}
		log.add("2S")
		close(r2started)
		if err := waitFor(r1ended); err != nil {
			return err
		}
		log.add("2E")
		return nil
	})
	w3 := db.WriteAsync(ctx, func(tx *Tx) error {
		log.add("3S")
		log.add("3E")
		return tx.Insert(usersStore, Record{"id": "u3"})
	})
	w4 := db.WriteAsync(ctx, func(tx *Tx) error {
		log.add("4S")
		_, err := tx.Lookup(usersStore, Record{"id": "u3"})
		log.add("4E")
		return err
	})
	for _, c := range []<-chan error{r1, r2, w3, w4} {
		c := c
		g.Go(func() error { return <-c })
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("** %v", err)
	}
	deepEqual(t, log.String(), "1S,2S,1E,2E,3S,3E,4S,4E")
}

func TestTxManager_ReadAfterWrite(t *testing.T) {
	db := setup(t, testSchema)
	ctx := context.Background()

	release := make(chan struct{})
	var log eventLog
	w1 := db.WriteAsync(ctx, func(tx *Tx) error {
		log.add("1S")
		if err := waitFor(release); err != nil {
			return err
		}
		log.add("1E")
		return nil
	})
	r2 := db.ReadAsync(ctx, func(tx *Tx) error {
		log.add("2S")
		return nil
	})

	select {
	case err := <-r2:
		t.Fatalf("** read finished before the preceding write: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	ensure(<-w1)
	ensure(<-r2)
	deepEqual(t, log.String(), "1S,1E,2S")
}

func TestTxManager_CancelQueued(t *testing.T) {
	db := setup(t, testSchema)

	release := make(chan struct{})
	var log eventLog
	w1 := db.WriteAsync(context.Background(), func(tx *Tx) error {
		log.add("1S")
		if err := waitFor(release); err != nil {
			return err
		}
		log.add("1E")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	w2 := db.WriteAsync(ctx, func(tx *Tx) error {
		log.add("2S")
		return nil
	})
	r3 := db.ReadAsync(context.Background(), func(tx *Tx) error {
		log.add("3S")
		return nil
	})

	cancel()
	if err := <-w2; !errors.Is(err, context.Canceled) {
		t.Errorf("** cancelled write err = %v, wanted context.Canceled", err)
	}
	// the cancelled write keeps its place: r3 still waits for w1
	select {
	case err := <-r3:
		t.Fatalf("** read finished before the preceding write: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	ensure(<-w1)
	ensure(<-r3)
	deepEqual(t, log.String(), "1S,1E,3S")
}

func TestTxManager_CancelledBeforeQueued(t *testing.T) {
	db := setup(t, testSchema)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.Write(ctx, func(tx *Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("** err = %v, wanted context.Canceled", err)
	}
	deepEqual(t, called, false)

	// the database is still usable
	write(t, db, func(tx *Tx) {
		ensure(tx.Insert(usersStore, Record{"id": "u1"}))
	})
}

func TestJoinGates(t *testing.T) {
	closed := make(chan struct{})
	close(closed)
	a := make(chan struct{})
	b := make(chan struct{})

	deepEqual(t, joinGates(closed, b), (<-chan struct{})(b))

	c := joinGates(a, b)
	close(b)
	select {
	case <-c:
		t.Fatalf("** joined gate closed while a is open")
	case <-time.After(10 * time.Millisecond):
	}
	close(a)
	if err := waitFor(c); err != nil {
		t.Fatalf("** joined gate: %v", err)
	}
}
