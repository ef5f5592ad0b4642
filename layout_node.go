package docstore

import (
	"io"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// A node is one value stored as its own bucket:
//
//	attrs      msgpack nodeAttrs
//	c<uint32>  data chunks in order, big-endian index, at most maxChunkSize each
//
// Nodes are written through a nodeWriter and read back through a nodeReader,
// which verifies size and checksum once the last chunk has been consumed.

const (
	nodeVersion  = 1
	maxChunkSize = 64 * 1024
	attrsKey     = "attrs"
	chunkPrefix  = 'c'
)

type nodeAttrs struct {
	Version int    `msgpack:"v"`
	Size    int64  `msgpack:"size"`
	Chunks  uint32 `msgpack:"chunks"`
	Sum     uint64 `msgpack:"xxh64"`
}

func chunkKey(i uint32) []byte {
	return appendFixedUint32([]byte{chunkPrefix}, i)
}

// nodeLayout stores every value as a node under its key.
type nodeLayout struct{}

func (nodeLayout) mapping(s storage, path []string) rawMapping {
	return &nodeMapping{store: s, path: path}
}

func (nodeLayout) encodeFlag(v bool) ([]byte, error) {
	return encodeMsgpack(nil, v)
}

func (nodeLayout) decodeFlag(raw []byte) (bool, error) {
	var v bool
	err := decodeMsgpack(raw, &v)
	return v, err
}

type nodeWriter struct {
	b      storageBucket
	h      *xxhash.Digest
	buf    []byte
	size   int64
	chunks uint32
	err    error
}

func newNodeWriter(b storageBucket) *nodeWriter {
	return &nodeWriter{b: b, h: xxhash.New()}
}

func (w *nodeWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	var n int
	for len(p) > 0 {
		k := min(maxChunkSize-len(w.buf), len(p))
		w.buf = append(w.buf, p[:k]...)
		p = p[k:]
		n += k
		if len(w.buf) == maxChunkSize {
			if err := w.flush(); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (w *nodeWriter) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	w.h.Write(w.buf)
	if err := w.b.Put(chunkKey(w.chunks), w.buf); err != nil {
		w.err = err
		return err
	}
	w.size += int64(len(w.buf))
	w.chunks++
	// the storage may keep referencing buf until commit
	w.buf = nil
	return nil
}

// Close writes the final chunk and the attributes.
func (w *nodeWriter) Close() error {
	if w.err != nil {
		return w.err
	}
	if err := w.flush(); err != nil {
		return err
	}
	raw, err := encodeMsgpack(nil, &nodeAttrs{
		Version: nodeVersion,
		Size:    w.size,
		Chunks:  w.chunks,
		Sum:     w.h.Sum64(),
	})
	if err != nil {
		return err
	}
	w.err = io.ErrClosedPipe
	return w.b.Put([]byte(attrsKey), raw)
}

type nodeReader struct {
	b     storageBucket
	attrs nodeAttrs
	h     *xxhash.Digest
	next  uint32
	read  int64
	cur   []byte
}

func openNodeReader(b storageBucket) (*nodeReader, error) {
	raw := b.Get([]byte(attrsKey))
	if raw == nil {
		return nil, dataErrf(nil, 0, nil, "invalid node: missing attributes")
	}
	r := &nodeReader{b: b, h: xxhash.New()}
	if err := decodeMsgpack(raw, &r.attrs); err != nil {
		return nil, err
	}
	if r.attrs.Version != nodeVersion {
		return nil, dataErrf(raw, 0, nil, "invalid node: unsupported version %d", r.attrs.Version)
	}
	return r, nil
}

func (r *nodeReader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		if r.next == r.attrs.Chunks {
			return 0, r.verify()
		}
		chunk := r.b.Get(chunkKey(r.next))
		if chunk == nil {
			return 0, dataErrf(nil, 0, nil, "invalid node: missing chunk %d of %d", r.next, r.attrs.Chunks)
		}
		r.next++
		r.read += int64(len(chunk))
		r.h.Write(chunk)
		r.cur = chunk
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

func (r *nodeReader) verify() error {
	if r.read != r.attrs.Size {
		return dataErrf(nil, 0, nil, "invalid node: got %d bytes, expected %d", r.read, r.attrs.Size)
	}
	if sum := r.h.Sum64(); sum != r.attrs.Sum {
		return dataErrf(nil, 0, nil, "invalid node: checksum %016x, expected %016x", sum, r.attrs.Sum)
	}
	return io.EOF
}

func readNode(b storageBucket) ([]byte, error) {
	r, err := openNodeReader(b)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func writeNode(parent storageBucket, key, value []byte) error {
	if parent.Bucket(key) != nil {
		if err := parent.DeleteBucket(key); err != nil {
			return err
		}
	}
	b, err := parent.CreateBucket(key)
	if err != nil {
		return err
	}
	w := newNodeWriter(b)
	if _, err := w.Write(value); err != nil {
		return err
	}
	return w.Close()
}

type nodeMapping struct {
	store storage
	path  []string
}

func (m *nodeMapping) view(f func(b storageBucket) error) error {
	return viewStorage(m.store, func(tx storageTx) error {
		b := bucketAt(tx, m.path)
		if b == nil {
			return nil
		}
		return f(b)
	})
}

func (m *nodeMapping) has(key []byte) (bool, error) {
	var found bool
	err := m.view(func(b storageBucket) error {
		found = b.Bucket(key) != nil
		return nil
	})
	return found, err
}

func (m *nodeMapping) get(key []byte) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := m.view(func(b storageBucket) error {
		nb := b.Bucket(key)
		if nb == nil {
			return nil
		}
		var err error
		value, err = readNode(nb)
		found = err == nil
		return err
	})
	return value, found, err
}

func (m *nodeMapping) put(key, value []byte) error {
	return updateStorage(m.store, func(tx storageTx) error {
		b, err := requireBucket(tx, m.path)
		if err != nil {
			return err
		}
		return writeNode(b, key, value)
	})
}

func (m *nodeMapping) del(key []byte) (bool, error) {
	var found bool
	err := updateStorage(m.store, func(tx storageTx) error {
		b := bucketAt(tx, m.path)
		if b == nil || b.Bucket(key) == nil {
			return nil
		}
		found = true
		return b.DeleteBucket(key)
	})
	return found, err
}

func (m *nodeMapping) count() (int, error) {
	var n int
	err := m.view(func(b storageBucket) error {
		n = len(nestedBucketNames(b))
		return nil
	})
	return n, err
}

func (m *nodeMapping) scan(pos scanPos, limit int, withValues bool) ([]rawEntry, scanPos, error) {
	var entries []rawEntry
	err := m.view(func(b storageBucket) error {
		c := b.Cursor()
		k, v := seekAfter(c, pos.after)
		for ; k != nil && len(entries) < limit; k, v = c.Next() {
			if v != nil {
				continue
			}
			e := rawEntry{key: slices.Clone(k)}
			if withValues {
				data, err := readNode(b.Bucket(k))
				if err != nil {
					return err
				}
				e.value = data
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
