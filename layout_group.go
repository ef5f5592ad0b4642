package docstore

import (
	"bytes"
	"slices"
)

// groupLayout stores every value as one record directly under its key.
type groupLayout struct{}

func (groupLayout) mapping(s storage, path []string) rawMapping {
	return &groupMapping{store: s, path: path}
}

func (groupLayout) encodeFlag(v bool) ([]byte, error) {
	var b byte
	if v {
		b = 1
	}
	return appendRecord(nil, []byte{b}), nil
}

func (groupLayout) decodeFlag(raw []byte) (bool, error) {
	data, err := decodeRecord(raw)
	if err != nil {
		return false, err
	}
	if len(data) != 1 {
		return false, dataErrf(raw, 0, nil, "invalid flag record")
	}
	return data[0] != 0, nil
}

type groupMapping struct {
	store storage
	path  []string
}

func (m *groupMapping) view(f func(b storageBucket) error) error {
	return viewStorage(m.store, func(tx storageTx) error {
		b := bucketAt(tx, m.path)
		if b == nil {
			return nil
		}
		return f(b)
	})
}

func (m *groupMapping) has(key []byte) (bool, error) {
	var found bool
	err := m.view(func(b storageBucket) error {
		found = b.Get(key) != nil
		return nil
	})
	return found, err
}

func (m *groupMapping) get(key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := m.view(func(b storageBucket) error {
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		data, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		value, found = slices.Clone(data), true
		return nil
	})
	return value, found, err
}

func (m *groupMapping) put(key, value []byte) error {
	rec := appendRecord(make([]byte, 0, len(value)+maxRecordHeaderSize), value)
	return updateStorage(m.store, func(tx storageTx) error {
		b, err := requireBucket(tx, m.path)
		if err != nil {
			return err
		}
		return b.Put(key, rec)
	})
}

func (m *groupMapping) del(key []byte) (bool, error) {
	var found bool
	err := updateStorage(m.store, func(tx storageTx) error {
		b := bucketAt(tx, m.path)
		if b == nil || b.Get(key) == nil {
			return nil
		}
		found = true
		return b.Delete(key)
	})
	return found, err
}

func (m *groupMapping) count() (int, error) {
	var n int
	err := m.view(func(b storageBucket) error {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if v != nil {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *groupMapping) scan(pos scanPos, limit int, withValues bool) ([]rawEntry, scanPos, error) {
	var entries []rawEntry
	err := m.view(func(b storageBucket) error {
		c := b.Cursor()
		k, v := seekAfter(c, pos.after)
		for ; k != nil && len(entries) < limit; k, v = c.Next() {
			if v == nil {
				continue
			}
			e := rawEntry{key: slices.Clone(k)}
			if withValues {
				data, err := decodeRecord(v)
				if err != nil {
					return err
				}
				e.value = slices.Clone(data)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil || len(entries) == 0 {
		return nil, pos, err
	}
	return entries, scanPos{after: entries[len(entries)-1].key}, nil
}

// seekAfter positions c at the first key strictly greater than after, or at
// the first key when after is nil.
func seekAfter(c storageCursor, after []byte) (k, v []byte) {
	if after == nil {
		return c.First()
	}
	k, v = c.Seek(after)
	if k != nil && bytes.Equal(k, after) {
		k, v = c.Next()
	}
	return k, v
}
