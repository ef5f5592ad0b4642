package docstore

import (
	"errors"
	"iter"
	"math"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Collection is one named set of documents plus its index descriptors. The
// embedded Mapping holds the documents, keyed by their identifier.
//
// Every mapping operation takes the collection's read or write lock for the
// duration of that one operation only. Read-modify-write sequences need the
// caller's own coordination.
type Collection interface {
	Mapping[Document]

	Name() string

	// Create marks the collection as explicitly created, so it exists even
	// with no documents or indexes.
	Create() error

	// IsCreated reports whether the collection has documents, indexes, or
	// was explicitly created.
	IsCreated() (bool, error)

	// Drop removes all documents and indexes and clears the created flag.
	// The collection remains usable.
	Drop() error

	CreateIndex(name string, ix Index) error

	// DropIndex first removes documents already expired under any TTL
	// index, then removes the index. Fails with ErrNotFound if absent.
	DropIndex(name string) error

	Indexes() Mapping[Index]

	// Documents yields the current documents after an expiry sweep.
	Documents() iter.Seq2[Document, error]

	// RemoveExpired deletes documents that have aged out under a TTL index
	// and returns how many were deleted.
	RemoveExpired() (int, error)
}

// medium is a backend's physical realization of one collection.
type medium interface {
	path() string
	documents() rawMapping
	indexes() rawMapping
	ttlIndexes() rawMapping
	forceCreated() (bool, error)
	setForceCreated(v bool) error
	// clear atomically empties documents, indexes and TTL indexes and resets
	// the force-created flag.
	clear() error
	// rename relocates all persisted content; on failure nothing changes.
	rename(newName string) error
	close() error
}

type collection struct {
	*mapping[Document]

	mu     sync.RWMutex
	name   string // guarded by mu
	medium medium
	idx    *mapping[Index]
	ttl    *mapping[Index]
	opt    *Options
	closed bool // guarded by mu
}

var _ Collection = (*collection)(nil)

func newCollection(name string, m medium, opt *Options) (*collection, error) {
	c := &collection{
		name:   name,
		medium: m,
		opt:    opt,
	}
	c.mapping = newMapping[Document](&c.mu, DocumentCodec{})
	c.idx = newMapping[Index](&c.mu, IndexCodec{})
	c.ttl = newMapping[Index](&c.mu, IndexCodec{})

	c.mu.Lock()
	c.bind()
	c.mu.Unlock()

	if err := c.syncTTL(); err != nil {
		return nil, err
	}
	return c, nil
}

// bind points the mappings at the medium. Callers must hold mu for writing.
func (c *collection) bind() {
	p := c.medium.path()
	c.mapping.rebind(c.medium.documents(), p+"/documents")
	c.idx.rebind(c.medium.indexes(), p+"/indexes")
	c.ttl.rebind(c.medium.ttlIndexes(), p+"/ttl_indexes")
}

// syncTTL makes the TTL set match the index descriptors that carry
// expireAfterSeconds, repairing any divergence left by an interrupted write.
func (c *collection) syncTTL() error {
	want := make(map[string]Index)
	for e, err := range c.idx.Entries() {
		if err != nil {
			return err
		}
		if e.Value.IsTTL() {
			want[e.Key] = e.Value
		}
	}
	var stale []string
	for name, err := range c.ttl.Keys() {
		if err != nil {
			return err
		}
		if _, ok := want[name]; ok {
			delete(want, name)
		} else {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		if err := c.ttl.Delete(name); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	for name, ix := range want {
		if err := c.ttl.Set(name, ix); err != nil {
			return err
		}
	}
	return nil
}

func (c *collection) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *collection) Create() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storeErr("create", c.medium.path(), "", ErrClosed)
	}
	return storeErr("create", c.medium.path(), "", ioErr(c.medium.setForceCreated(true)))
}

func (c *collection) IsCreated() (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false, storeErr("is_created", c.medium.path(), "", ErrClosed)
	}
	if empty, err := c.mapping.isEmpty(); err != nil || !empty {
		return !empty, err
	}
	if empty, err := c.idx.isEmpty(); err != nil || !empty {
		return !empty, err
	}
	forced, err := c.medium.forceCreated()
	return forced, storeErr("is_created", c.medium.path(), "", ioErr(err))
}

func (c *collection) Drop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storeErr("drop", c.medium.path(), "", ErrClosed)
	}
	if err := c.medium.clear(); err != nil {
		return storeErr("drop", c.medium.path(), "", ioErr(err))
	}
	c.bind()
	c.opt.Logger.Debug("docstore: dropped collection", "path", c.medium.path())
	return nil
}

func (c *collection) CreateIndex(name string, ix Index) error {
	if err := c.idx.Set(name, ix); err != nil {
		return err
	}
	if ix.IsTTL() {
		return c.ttl.Set(name, ix)
	}
	// an index re-created without expiry stops being a TTL index
	if err := c.ttl.Delete(name); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (c *collection) DropIndex(name string) error {
	if _, err := c.RemoveExpired(); err != nil {
		return err
	}
	if err := c.idx.Delete(name); err != nil {
		return err
	}
	// the TTL set means nothing to callers, so its absence is not an error
	if err := c.ttl.Delete(name); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (c *collection) Indexes() Mapping[Index] {
	return c.idx
}

func (c *collection) Documents() iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		if _, err := c.RemoveExpired(); err != nil {
			yield(nil, err)
			return
		}
		for doc, err := range c.Values() {
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

func (c *collection) RemoveExpired() (int, error) {
	now := c.opt.Now()
	var expired []string
	for e, err := range c.ttl.Entries() {
		if err != nil {
			return 0, err
		}
		secs, ok := e.Value.ExpireAfterSeconds()
		// compound keys can't be TTL indexes
		if !ok || len(e.Value.Key) != 1 {
			continue
		}
		field := e.Value.Key[0].Field
		for d, err := range c.Entries() {
			if err != nil {
				return 0, err
			}
			if isExpired(lookupField(d.Value, field), secs, now) {
				expired = append(expired, d.Key)
			}
		}
	}

	var n int
	for _, key := range expired {
		err := c.Delete(key)
		if errors.Is(err, ErrNotFound) {
			continue // expired under two indexes, or deleted concurrently
		} else if err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		c.opt.Logger.Debug("docstore: removed expired documents", "collection", c.Name(), "count", n)
	}
	return n, nil
}

func (c *collection) rename(newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return storeErr("rename", c.medium.path(), "", ErrClosed)
	}
	oldPath := c.medium.path()
	if err := c.medium.rename(newName); err != nil {
		return storeErr("rename", oldPath, "", ioErr(err))
	}
	c.name = newName
	c.bind()
	c.opt.Logger.Debug("docstore: renamed collection", "from", oldPath, "to", c.medium.path())
	return nil
}

func (c *collection) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	p := c.medium.path()
	for _, m := range []interface{ rebind(rawMapping, string) }{c.mapping, c.idx, c.ttl} {
		m.rebind(closedMapping{}, p)
	}
	return storeErr("close", p, "", ioErr(c.medium.close()))
}

func lookupField(doc Document, field string) any {
	for _, e := range doc {
		if e.Key == field {
			return e.Value
		}
	}
	return nil
}

// isExpired reports whether v, a date or an array containing dates, is at
// least secs seconds older than now. Arrays expire by their earliest date.
// Anything else never expires.
func isExpired(v any, secs int64, now time.Time) bool {
	t, ok := earliestTime(v)
	if !ok {
		return false
	}
	if secs > maxExpirySeconds || secs < -maxExpirySeconds {
		// beyond time.Duration, whole seconds are precise enough
		return now.Unix()-t.Unix() >= secs
	}
	return now.Sub(t) >= time.Duration(secs)*time.Second
}

// maxExpirySeconds is the longest expiry a time.Duration can hold.
const maxExpirySeconds = int64(math.MaxInt64 / time.Second)

func earliestTime(v any) (time.Time, bool) {
	switch v := v.(type) {
	case bson.DateTime:
		return v.Time(), true
	case time.Time:
		return v, true
	case bson.A:
		var earliest time.Time
		var found bool
		for _, item := range v {
			if t, ok := earliestScalarTime(item); ok && (!found || t.Before(earliest)) {
				earliest, found = t, true
			}
		}
		return earliest, found
	default:
		return time.Time{}, false
	}
}

func earliestScalarTime(v any) (time.Time, bool) {
	switch v := v.(type) {
	case bson.DateTime:
		return v.Time(), true
	case time.Time:
		return v, true
	default:
		return time.Time{}, false
	}
}
