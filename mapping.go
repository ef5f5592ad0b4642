package docstore

import (
	"iter"
	"sync"
)

// scanPageSize is how many entries an iteration reads per lock acquisition.
const scanPageSize = 128

// Mapping is a string-keyed persistent mapping. Iteration order carries no
// meaning. Keys and Values are lazy and restartable: each traversal re-reads
// the medium page by page, so it reflects the live mapping rather than a
// snapshot taken when the sequence was created.
type Mapping[V any] interface {
	Contains(key string) (bool, error)
	// Get fails with ErrNotFound if key is absent.
	Get(key string) (V, error)
	// Set creates or overwrites key. The key "\xff\xfe" is reserved and
	// fails with ErrInvalidName.
	Set(key string, v V) error
	// Delete fails with ErrNotFound if key is absent.
	Delete(key string) error
	Len() (int, error)
	Keys() iter.Seq2[string, error]
	Values() iter.Seq2[V, error]
	Entries() iter.Seq2[Entry[V], error]
}

type Entry[V any] struct {
	Key   string
	Value V
}

type rawEntry struct {
	key   []byte
	value []byte
}

// scanPos is where a scan resumes. Key-ordered media use after, SQLite uses rowid.
type scanPos struct {
	after []byte
	rowid int64
}

// rawMapping is what a backend provides: encoded keys to encoded values over
// one physical medium. Keys passed in are never empty.
type rawMapping interface {
	has(key []byte) (bool, error)
	get(key []byte) (value []byte, found bool, err error)
	put(key, value []byte) error
	del(key []byte) (found bool, err error)
	count() (int, error)
	// scan returns up to limit entries after pos. Values are left nil when
	// withValues is false.
	scan(pos scanPos, limit int, withValues bool) ([]rawEntry, scanPos, error)
}

// mapping implements Mapping over any rawMapping. It owns empty-key
// substitution, encoding, and locking; mu is the owning collection's lock.
type mapping[V any] struct {
	mu    *sync.RWMutex
	codec Codec[V]
	raw   rawMapping // guarded by mu
	path  string     // guarded by mu
}

func newMapping[V any](mu *sync.RWMutex, codec Codec[V]) *mapping[V] {
	return &mapping[V]{mu: mu, codec: codec, raw: closedMapping{}}
}

// rebind points the mapping at a new medium. Callers must hold mu for writing.
func (m *mapping[V]) rebind(raw rawMapping, path string) {
	m.raw, m.path = raw, path
}

func (m *mapping[V]) Contains(key string) (bool, error) {
	if reservedKey(key) {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ok, err := m.raw.has(encodeKey(key))
	return ok, storeErr("contains", m.path, key, ioErr(err))
}

func (m *mapping[V]) Get(key string) (V, error) {
	var zero V
	data, err := m.getRaw(key)
	if err != nil {
		return zero, err
	}
	v, err := m.codec.Decode(data)
	if err != nil {
		return zero, storeErr("get", m.pathLocked(), key, err)
	}
	return v, nil
}

func (m *mapping[V]) getRaw(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if reservedKey(key) {
		return nil, storeErr("get", m.path, key, ErrNotFound)
	}
	data, found, err := m.raw.get(encodeKey(key))
	if err != nil {
		return nil, storeErr("get", m.path, key, ioErr(err))
	}
	if !found {
		return nil, storeErr("get", m.path, key, ErrNotFound)
	}
	return data, nil
}

func (m *mapping[V]) pathLocked() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

func (m *mapping[V]) Set(key string, v V) error {
	if reservedKey(key) {
		return storeErr("set", m.pathLocked(), key, ErrInvalidName)
	}
	data, err := m.codec.Encode(v)
	if err != nil {
		return storeErr("set", m.pathLocked(), key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return storeErr("set", m.path, key, ioErr(m.raw.put(encodeKey(key), data)))
}

func (m *mapping[V]) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reservedKey(key) {
		return storeErr("delete", m.path, key, ErrNotFound)
	}
	found, err := m.raw.del(encodeKey(key))
	if err != nil {
		return storeErr("delete", m.path, key, ioErr(err))
	}
	if !found {
		return storeErr("delete", m.path, key, ErrNotFound)
	}
	return nil
}

func (m *mapping[V]) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, err := m.raw.count()
	return n, storeErr("len", m.path, "", ioErr(err))
}

// isEmpty is Len() == 0 for callers already holding mu.
func (m *mapping[V]) isEmpty() (bool, error) {
	page, _, err := m.raw.scan(scanPos{}, 1, false)
	return len(page) == 0, storeErr("len", m.path, "", ioErr(err))
}

func (m *mapping[V]) page(pos scanPos, withValues bool) ([]rawEntry, scanPos, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, next, err := m.raw.scan(pos, scanPageSize, withValues)
	return page, next, storeErr("scan", m.path, "", ioErr(err))
}

func (m *mapping[V]) scan(withValues bool) iter.Seq2[rawEntry, error] {
	return func(yield func(rawEntry, error) bool) {
		var pos scanPos
		for {
			page, next, err := m.page(pos, withValues)
			if err != nil {
				yield(rawEntry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < scanPageSize {
				return
			}
			pos = next
		}
	}
}

func (m *mapping[V]) Keys() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for e, err := range m.scan(false) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(decodeKey(e.key), nil) {
				return
			}
		}
	}
}

func (m *mapping[V]) Values() iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		for e, err := range m.Entries() {
			if !yield(e.Value, err) || err != nil {
				return
			}
		}
	}
}

func (m *mapping[V]) Entries() iter.Seq2[Entry[V], error] {
	return func(yield func(Entry[V], error) bool) {
		for e, err := range m.scan(true) {
			if err != nil {
				yield(Entry[V]{}, err)
				return
			}
			key := decodeKey(e.key)
			v, err := m.codec.Decode(e.value)
			if err != nil {
				yield(Entry[V]{}, storeErr("scan", m.pathLocked(), key, err))
				return
			}
			if !yield(Entry[V]{key, v}, nil) {
				return
			}
		}
	}
}

// closedMapping backs mappings of a collection that is closed or not yet open.
type closedMapping struct{}

func (closedMapping) has([]byte) (bool, error) { return false, ErrClosed }
func (closedMapping) get([]byte) ([]byte, bool, error) { return nil, false, ErrClosed }
func (closedMapping) put([]byte, []byte) error { return ErrClosed }
func (closedMapping) del([]byte) (bool, error) { return false, ErrClosed }
func (closedMapping) count() (int, error) { return 0, ErrClosed }
func (closedMapping) scan(scanPos, int, bool) ([]rawEntry, scanPos, error) {
	return nil, scanPos{}, ErrClosed
}
