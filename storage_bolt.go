package docstore

import (
	"errors"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Bucket(name []byte) storageBucket {
	b := tx.btx.Bucket(name)
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltStorageTx) CreateBucket(name []byte) (storageBucket, error) {
	b, err := tx.btx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, translateBoltErr(err)
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) DeleteBucket(name []byte) error {
	return translateBoltErr(tx.btx.DeleteBucket(name))
}

func (tx *boltStorageTx) Cursor() storageCursor { return boltCursor{c: tx.btx.Cursor()} }

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error { return translateBoltErr(b.b.Put(key, value)) }

func (b boltBucket) Delete(key []byte) error { return translateBoltErr(b.b.Delete(key)) }

func (b boltBucket) Bucket(name []byte) storageBucket {
	sub := b.b.Bucket(name)
	if sub == nil {
		return nil
	}
	return boltBucket{b: sub}
}

func (b boltBucket) CreateBucket(name []byte) (storageBucket, error) {
	sub, err := b.b.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, translateBoltErr(err)
	}
	return boltBucket{b: sub}, nil
}

func (b boltBucket) DeleteBucket(name []byte) error {
	return translateBoltErr(b.b.DeleteBucket(name))
}

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func translateBoltErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bbolt.ErrBucketNotFound):
		return errBucketNotFound
	case errors.Is(err, bbolt.ErrIncompatibleValue):
		return errIncompatibleValue
	default:
		return err
	}
}
