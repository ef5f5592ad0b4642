package docstore

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync"
)

type memStorage struct {
	mu     sync.Mutex
	cond   *sync.Cond
	root   *memBucket
	closed bool
	writer bool
}

// newMemStorage returns a transient in-memory storage with Bolt's nested bucket semantics.
func newMemStorage() storage {
	s := &memStorage{root: &memBucket{}}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	// Committed trees are never mutated, so readers share the current root.
	// A writer copies each bucket level the first time it descends into it.
	tx := &memTx{
		writable: writable,
		base:     s,
		root:     s.root,
	}
	if writable {
		tx.root = s.root.shallowClone()
		tx.owned = map[*memBucket]bool{tx.root: true}
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.root = nil
	if s.cond != nil {
		s.cond.Broadcast()
	}
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	root     *memBucket
	owned    map[*memBucket]bool // buckets copied by this tx
	closed   bool
}

// own returns kv's bucket, first replacing it with a private copy if this is
// a writable tx that hasn't copied it yet. kv must live in an owned bucket.
func (tx *memTx) own(kv *memKV) *memBucket {
	if !tx.writable || tx.owned[kv.child] {
		return kv.child
	}
	kv.child = kv.child.shallowClone()
	tx.owned[kv.child] = true
	return kv.child
}

func (tx *memTx) handle() memBucketHandle {
	if tx.closed {
		panic("tx is closed")
	}
	return memBucketHandle{tx: tx, b: tx.root}
}

func (tx *memTx) Bucket(name []byte) storageBucket { return tx.handle().Bucket(name) }

func (tx *memTx) CreateBucket(name []byte) (storageBucket, error) {
	return tx.handle().CreateBucket(name)
}

func (tx *memTx) DeleteBucket(name []byte) error { return tx.handle().DeleteBucket(name) }

func (tx *memTx) Cursor() storageCursor { return tx.handle().Cursor() }

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
		return fmt.Errorf("storage closed")
	}
	tx.base.root = tx.root
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memBucket struct {
	items []memKV // sorted by key
}

// shallowClone copies one level. Keys and values are never modified in place,
// and children are copied when a writer descends into them.
func (b *memBucket) shallowClone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

// memKV holds either a value or a nested bucket, never both.
type memKV struct {
	key   []byte
	value []byte
	child *memBucket
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (b memBucketHandle) find(key []byte) (idx int, ok bool) {
	items := b.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

func (b memBucketHandle) checkWritable(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if len(key) == 0 {
		return fmt.Errorf("key required")
	}
	return nil
}

func (b memBucketHandle) Get(key []byte) []byte {
	i, ok := b.find(key)
	if !ok || b.b.items[i].child != nil {
		return nil
	}
	return b.b.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if err := b.checkWritable(key); err != nil {
		return err
	}
	key = slices.Clone(key)
	value = slices.Clone(value)
	if value == nil {
		value = []byte{}
	}

	i, ok := b.find(key)
	if ok {
		if b.b.items[i].child != nil {
			return errIncompatibleValue
		}
		b.b.items[i].value = value
		return nil
	}
	b.b.items = slices.Insert(b.b.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	if b.b.items[i].child != nil {
		return errIncompatibleValue
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) Bucket(name []byte) storageBucket {
	i, ok := b.find(name)
	if !ok || b.b.items[i].child == nil {
		return nil
	}
	return memBucketHandle{tx: b.tx, b: b.tx.own(&b.b.items[i])}
}

func (b memBucketHandle) CreateBucket(name []byte) (storageBucket, error) {
	i, ok := b.find(name)
	if ok {
		if b.b.items[i].child == nil {
			return nil, errIncompatibleValue
		}
		return memBucketHandle{tx: b.tx, b: b.tx.own(&b.b.items[i])}, nil
	}
	if err := b.checkWritable(name); err != nil {
		return nil, err
	}
	child := &memBucket{}
	b.tx.owned[child] = true
	b.b.items = slices.Insert(b.b.items, i, memKV{key: slices.Clone(name), child: child})
	return memBucketHandle{tx: b.tx, b: child}, nil
}

func (b memBucketHandle) DeleteBucket(name []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	i, ok := b.find(name)
	if !ok {
		return errBucketNotFound
	}
	if b.b.items[i].child == nil {
		return errIncompatibleValue
	}
	b.b.items = slices.Delete(b.b.items, i, i+1)
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{b: b.b, pos: -1}
}

type memCursor struct {
	b   *memBucket
	pos int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i < 0 || i >= len(c.b.items) {
		return nil, nil
	}
	kv := c.b.items[i]
	if kv.child != nil {
		return kv.key, nil
	}
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(0)
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	return c.at(c.pos + 1)
}
