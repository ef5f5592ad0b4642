package docstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func storages(t *testing.T) map[string]storage {
	opt := Options{IsTesting: true}.withDefaults()
	bolt := must(openBolt(filepath.Join(t.TempDir(), "s.db"), &opt))
	mem := newMemStorage()
	t.Cleanup(func() {
		bolt.Close()
		mem.Close()
	})
	return map[string]storage{"bolt": bolt, "mem": mem}
}

func dumpBucket(b storageBucket) map[string]any {
	out := make(map[string]any)
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v == nil {
			out[string(k)] = dumpBucket(b.Bucket(k))
		} else {
			out[string(k)] = string(v)
		}
	}
	return out
}

func dumpAt(t testing.TB, s storage, path ...string) map[string]any {
	t.Helper()
	var out map[string]any
	ensure(viewStorage(s, func(tx storageTx) error {
		if b := bucketAt(tx, path); b != nil {
			out = dumpBucket(b)
		}
		return nil
	}))
	return out
}

func TestStorageNestedBuckets(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ensure(updateStorage(s, func(tx storageTx) error {
				b := must(requireBucket(tx, []string{"a", "b", "c"}))
				ensure(b.Put([]byte("k1"), []byte("v1")))
				ensure(b.Put([]byte("k2"), []byte("v2")))
				p := must(requireBucket(tx, []string{"a", "b"}))
				return p.Put([]byte("flag"), []byte("1"))
			}))

			deepEqual(t, dumpAt(t, s, "a"), map[string]any{
				"b": map[string]any{
					"c":    map[string]any{"k1": "v1", "k2": "v2"},
					"flag": "1",
				},
			})

			ensure(viewStorage(s, func(tx storageTx) error {
				deepEqual(t, nestedBucketNames(tx), []string{"a"})
				deepEqual(t, nestedBucketNames(bucketAt(tx, []string{"a", "b"})), []string{"c"})
				if bucketAt(tx, []string{"a", "x"}) != nil {
					t.Errorf("** bucketAt(a/x) != nil")
				}
				if v := bucketAt(tx, []string{"a", "b"}).Get([]byte("c")); v != nil {
					t.Errorf("** Get of a nested bucket = %q, wanted nil", v)
				}
				return nil
			}))
		})
	}
}

func TestStorageIncompatibleValue(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			err := updateStorage(s, func(tx storageTx) error {
				b := must(requireBucket(tx, []string{"a"}))
				ensure(b.Put([]byte("v"), []byte("x")))
				_, err := b.CreateBucket([]byte("v"))
				return err
			})
			if !errors.Is(err, errIncompatibleValue) {
				t.Fatalf("** CreateBucket over a value: %v, wanted errIncompatibleValue", err)
			}
			deepEqual(t, dumpAt(t, s, "a"), map[string]any(nil))
		})
	}
}

func TestStorageRollback(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			boom := errors.New("boom")
			err := updateStorage(s, func(tx storageTx) error {
				b := must(requireBucket(tx, []string{"a"}))
				ensure(b.Put([]byte("k"), []byte("v")))
				return boom
			})
			deepEqual(t, err, boom)
			deepEqual(t, dumpAt(t, s, "a"), map[string]any(nil))
		})
	}
}

func TestStorageCursorSeek(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ensure(updateStorage(s, func(tx storageTx) error {
				b := must(requireBucket(tx, []string{"a"}))
				for _, k := range []string{"k1", "k3", "k5"} {
					ensure(b.Put([]byte(k), []byte("v"+k)))
				}
				return nil
			}))
			ensure(viewStorage(s, func(tx storageTx) error {
				c := bucketAt(tx, []string{"a"}).Cursor()
				k, v := c.Seek([]byte("k2"))
				deepEqual(t, string(k), "k3")
				deepEqual(t, string(v), "vk3")
				k, _ = seekAfter(c, []byte("k3"))
				deepEqual(t, string(k), "k5")
				k, _ = seekAfter(c, []byte("k4"))
				deepEqual(t, string(k), "k5")
				k, _ = seekAfter(c, []byte("k5"))
				deepEqual(t, k, []byte(nil))
				k, _ = seekAfter(c, nil)
				deepEqual(t, string(k), "k1")
				return nil
			}))
		})
	}
}

func TestMoveBucket(t *testing.T) {
	for name, s := range storages(t) {
		t.Run(name, func(t *testing.T) {
			ensure(updateStorage(s, func(tx storageTx) error {
				src := must(requireBucket(tx, []string{"db", "src", "documents"}))
				ensure(src.Put([]byte("a"), []byte("1")))
				dst := must(requireBucket(tx, []string{"db", "dst", "documents"}))
				return dst.Put([]byte("b"), []byte("2"))
			}))

			ensure(updateStorage(s, func(tx storageTx) error {
				return moveBucket(tx, []string{"db", "src"}, []string{"db", "dst"})
			}))
			deepEqual(t, dumpAt(t, s, "db"), map[string]any{
				"dst": map[string]any{"documents": map[string]any{"a": "1"}},
			})

			err := updateStorage(s, func(tx storageTx) error {
				return moveBucket(tx, []string{"db", "src"}, []string{"db", "x"})
			})
			deepEqual(t, err, errBucketNotFound)
		})
	}
}

func TestMemStorageIsolation(t *testing.T) {
	s := newMemStorage()
	defer s.Close()
	ensure(updateStorage(s, func(tx storageTx) error {
		return must(requireBucket(tx, []string{"a"})).Put([]byte("k"), []byte("old"))
	}))

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()

	ensure(updateStorage(s, func(tx storageTx) error {
		return bucketAt(tx, []string{"a"}).Put([]byte("k"), []byte("new"))
	}))

	deepEqual(t, string(bucketAt(rtx, []string{"a"}).Get([]byte("k"))), "old")
	deepEqual(t, dumpAt(t, s, "a"), map[string]any{"k": "new"})
}

func TestMemStorageCopiesOnlyTouchedPath(t *testing.T) {
	s := newMemStorage().(*memStorage)
	defer s.Close()
	ensure(updateStorage(s, func(tx storageTx) error {
		ensure(must(requireBucket(tx, []string{"db", "a"})).Put([]byte("k"), []byte("1")))
		return must(requireBucket(tx, []string{"db", "b"})).Put([]byte("k"), []byte("1"))
	}))
	before := s.root

	ensure(updateStorage(s, func(tx storageTx) error {
		return bucketAt(tx, []string{"db", "a"}).Put([]byte("k"), []byte("2"))
	}))

	if memChild(before, "db", "b") != memChild(s.root, "db", "b") {
		t.Errorf("** untouched bucket db/b was copied")
	}
	if memChild(before, "db", "a") == memChild(s.root, "db", "a") {
		t.Errorf("** written bucket db/a is shared with the previous root")
	}
	deepEqual(t, string(memChild(before, "db", "a").items[0].value), "1")
	deepEqual(t, dumpAt(t, s, "db"), map[string]any{
		"a": map[string]any{"k": "2"},
		"b": map[string]any{"k": "1"},
	})
}

func memChild(b *memBucket, path ...string) *memBucket {
	for _, name := range path {
		var next *memBucket
		for _, kv := range b.items {
			if string(kv.key) == name {
				next = kv.child
			}
		}
		if next == nil {
			return nil
		}
		b = next
	}
	return b
}
