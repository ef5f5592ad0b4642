package docstore

import (
	"errors"
	"fmt"
)

var (
	// errBucketNotFound is returned by DeleteBucket when the bucket doesn't exist.
	errBucketNotFound = errors.New("bucket not found")

	// errIncompatibleValue is returned when a key is used as a bucket but holds
	// a plain value, or vice versa.
	errIncompatibleValue = errors.New("incompatible value")
)

// storage represents a nested-bucket key-value storage backend (Bolt or in-memory).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// bucketParent is anything that can hold named buckets: the transaction
// itself (the root level) or another bucket.
type bucketParent interface {
	// Bucket returns a nested bucket, or nil if it doesn't exist.
	Bucket(name []byte) storageBucket

	// CreateBucket returns the named nested bucket, creating it if needed.
	// Fails with errIncompatibleValue if name holds a plain value.
	CreateBucket(name []byte) (storageBucket, error)

	// DeleteBucket deletes a nested bucket with all its contents.
	DeleteBucket(name []byte) error

	// Cursor iterates over the keys at this level. Nested buckets are
	// reported with a nil value.
	Cursor() storageCursor
}

// storageTx represents a storage transaction.
type storageTx interface {
	bucketParent

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	bucketParent

	// Get retrieves a value by key. Returns nil if not found or if key is a
	// nested bucket. The returned slice is only valid during the transaction.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key []byte) error
}

// storageCursor iterates over a sorted bucket level.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}

func viewStorage(s storage, f func(tx storageTx) error) error {
	tx, err := s.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func updateStorage(s storage, f func(tx storageTx) error) error {
	tx, err := s.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// bucketAt walks path from p and returns the bucket, or nil if any level is missing.
func bucketAt(p bucketParent, path []string) storageBucket {
	var b storageBucket
	for _, name := range path {
		b = p.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		p = b
	}
	return b
}

// requireBucket is the get-or-create counterpart of bucketAt.
func requireBucket(p bucketParent, path []string) (storageBucket, error) {
	if len(path) == 0 {
		panic("requireBucket: empty path")
	}
	var b storageBucket
	for i, name := range path {
		var err error
		b, err = p.CreateBucket([]byte(name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", joinPath(path[:i+1]), err)
		}
		p = b
	}
	return b, nil
}

func parentAt(tx storageTx, path []string) bucketParent {
	if len(path) == 1 {
		return tx
	}
	if b := bucketAt(tx, path[:len(path)-1]); b != nil {
		return b
	}
	return nil
}

// deleteBucketAt removes the bucket at path. Returns errBucketNotFound if missing.
func deleteBucketAt(tx storageTx, path []string) error {
	p := parentAt(tx, path)
	if p == nil {
		return errBucketNotFound
	}
	return p.DeleteBucket([]byte(path[len(path)-1]))
}

// copyBucket recursively copies all of src into dst.
func copyBucket(dst, src storageBucket) error {
	c := src.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v != nil {
			if err := dst.Put(k, v); err != nil {
				return err
			}
			continue
		}
		sub, err := dst.CreateBucket(k)
		if err != nil {
			return err
		}
		if err := copyBucket(sub, src.Bucket(k)); err != nil {
			return err
		}
	}
	return nil
}

// moveBucket relocates the bucket at from to to, replacing whatever is at to.
// Bolt has no native rename, so this is copy + delete within tx; the caller's
// commit makes it atomic.
func moveBucket(tx storageTx, from, to []string) error {
	if bucketAt(tx, from) == nil {
		return errBucketNotFound
	}
	if err := deleteBucketAt(tx, to); err != nil && err != errBucketNotFound {
		return err
	}
	dst, err := requireBucket(tx, to)
	if err != nil {
		return err
	}
	// look src up again, creating dst may have touched a shared parent
	if err := copyBucket(dst, bucketAt(tx, from)); err != nil {
		return err
	}
	return deleteBucketAt(tx, from)
}

// nestedBucketNames lists names of nested buckets directly inside p.
func nestedBucketNames(p bucketParent) []string {
	var names []string
	c := p.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v == nil {
			names = append(names, string(k))
		}
	}
	return names
}
