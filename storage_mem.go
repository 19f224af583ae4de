package recdb

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/google/btree"
)

const (
	memBucketSep    = "\x00"
	memBTreeDegree  = 32
	memStorageClose = "storage closed"
)

// memStorage is a transient in-memory storage. Each transaction works on
// copy-on-write clones of the bucket trees; commit swaps them in.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf(memStorageClose)
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf(memStorageClose)
		}
		s.writer = true
	}

	snap := make(map[string]*memBucket, len(s.buckets))
	for k, b := range s.buckets {
		snap[k] = b.clone()
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name, sub string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[memBucketKey(name, sub)]
	if b == nil {
		return nil
	}
	return memBucketHandle{tx: tx, b: b}
}

func (tx *memTx) CreateBucket(name, sub string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}

	// nested buckets imply their root, like in Bolt
	rootKey := memBucketKey(name, "")
	if tx.buckets[rootKey] == nil {
		tx.buckets[rootKey] = newMemBucket()
	}

	key := memBucketKey(name, sub)
	b := tx.buckets[key]
	if b == nil {
		b = newMemBucket()
		tx.buckets[key] = b
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) DeleteBucket(name, sub string) error {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if sub == "" {
		return ErrBucketNotFound
	}
	key := memBucketKey(name, sub)
	if tx.buckets[key] == nil {
		return ErrBucketNotFound
	}
	delete(tx.buckets, key)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf(memStorageClose)
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

func memBucketKey(name, sub string) string {
	return name + memBucketSep + sub
}

type memKV struct {
	key   []byte
	value []byte
}

func memKVLess(a, b memKV) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type memBucket struct {
	tree *btree.BTreeG[memKV]
	seq  uint64
}

func newMemBucket() *memBucket {
	return &memBucket{tree: btree.NewG(memBTreeDegree, memKVLess)}
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{tree: b.tree.Clone(), seq: b.seq}
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) Get(key []byte) []byte {
	kv, ok := b.b.tree.Get(memKV{key: key})
	if !ok {
		return nil
	}
	return kv.value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.b.tree.ReplaceOrInsert(memKV{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.b.tree.Delete(memKV{key: key})
	return nil
}

func (b memBucketHandle) NextSequence() (uint64, error) {
	if !b.tx.writable {
		return 0, fmt.Errorf("tx not writable")
	}
	b.b.seq++
	return b.b.seq, nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: b.b}
}

func (b memBucketHandle) Stats() bucketStats {
	var inuse int64
	b.b.tree.Ascend(func(kv memKV) bool {
		inuse += int64(len(kv.key) + len(kv.value))
		return true
	})
	return bucketStats{
		KeyN:      b.b.tree.Len(),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

// memCursor remembers the current key and re-seeks on every move, so it
// stays valid when the bucket is modified during iteration.
type memCursor struct {
	b   *memBucket
	cur []byte
}

func (c *memCursor) set(kv memKV, ok bool) ([]byte, []byte) {
	if !ok {
		c.cur = nil
		return nil, nil
	}
	c.cur = kv.key
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.set(c.b.tree.Min())
}

func (c *memCursor) Last() ([]byte, []byte) {
	return c.set(c.b.tree.Max())
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	var found memKV
	var ok bool
	c.b.tree.AscendGreaterOrEqual(memKV{key: seek}, func(kv memKV) bool {
		found, ok = kv, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	limit, bounded := prefixEnd(prefix)
	if !bounded {
		return c.Last()
	}
	var found memKV
	var ok bool
	c.b.tree.DescendLessOrEqual(memKV{key: limit}, func(kv memKV) bool {
		if bytes.Equal(kv.key, limit) {
			return true
		}
		found, ok = kv, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	var found memKV
	var ok bool
	c.b.tree.AscendGreaterOrEqual(memKV{key: c.cur}, func(kv memKV) bool {
		if bytes.Equal(kv.key, c.cur) {
			return true
		}
		found, ok = kv, true
		return false
	})
	return c.set(found, ok)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	var found memKV
	var ok bool
	c.b.tree.DescendLessOrEqual(memKV{key: c.cur}, func(kv memKV) bool {
		if bytes.Equal(kv.key, c.cur) {
			return true
		}
		found, ok = kv, true
		return false
	})
	return c.set(found, ok)
}
