package docstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// Container backends keep the whole server in one storage, one bucket per
// database and one nested bucket per collection:
//
//	<db>/<collection>/documents/<id>
//	<db>/<collection>/indexes/<name>
//	<db>/<collection>/ttl_indexes/<name>
//	<db>/<collection>/is_force_created
//
// How a value sits under its id is decided by the layout.
const (
	documentsBucket  = "documents"
	indexesBucket    = "indexes"
	ttlIndexesBucket = "ttl_indexes"
	forceCreatedKey  = "is_force_created"
)

// layout maps one logical mapping onto the bucket at path.
type layout interface {
	mapping(s storage, path []string) rawMapping
	encodeFlag(v bool) ([]byte, error)
	decodeFlag(raw []byte) (bool, error)
}

// OpenGroupFile opens (creating if needed) a container file in which every
// document is a single length-prefixed record.
func OpenGroupFile(file string, opt Options) (Server, error) {
	return openContainerFile(file, EngineGroup, groupLayout{}, opt)
}

// OpenNodeFile opens (creating if needed) a container file in which every
// document is an independent chunked node with its own checksum.
func OpenNodeFile(file string, opt Options) (Server, error) {
	return openContainerFile(file, EngineNode, nodeLayout{}, opt)
}

// NewMemory returns a transient server with the group layout over an
// in-memory storage. Nothing survives Close.
func NewMemory(opt Options) Server {
	opt = opt.withDefaults()
	srv := &containerServer{
		store:  newMemStorage(),
		file:   ":memory:",
		layout: groupLayout{},
	}
	return newServer(srv, opt)
}

func openContainerFile(file, engine string, lay layout, opt Options) (Server, error) {
	opt = opt.withDefaults()
	store, err := openBolt(file, &opt)
	if err != nil {
		return nil, storeErr("open", file, "", ioErr(err))
	}
	srv := &containerServer{
		store:  store,
		file:   file,
		layout: lay,
	}
	opt.Logger.Debug("docstore: opened container", "file", file, "engine", engine)
	return newServer(srv, opt), nil
}

func openBolt(file string, opt *Options) (storage, error) {
	if fi, err := os.Stat(file); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrPathConflict, file)
	}
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, opt.dirMode()); err != nil {
			return nil, err
		}
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(file, opt.FileMode, bopt)
	if err != nil {
		return nil, err
	}
	return newBoltStorage(bdb), nil
}

type containerServer struct {
	store  storage
	file   string
	layout layout
}

func (s *containerServer) path() string {
	return s.file
}

func (s *containerServer) openDatabase(name string) (databaseMedium, error) {
	return &containerDatabase{srv: s, name: name}, nil
}

func (s *containerServer) databaseNames() ([]string, error) {
	var names []string
	err := viewStorage(s.store, func(tx storageTx) error {
		names = nestedBucketNames(tx)
		return nil
	})
	return names, err
}

func (s *containerServer) close() error {
	return s.store.Close()
}

type containerDatabase struct {
	srv  *containerServer
	name string
}

func (d *containerDatabase) path() string {
	return joinPath([]string{d.srv.file, d.name})
}

func (d *containerDatabase) openCollection(name string) (medium, error) {
	return &containerCollection{srv: d.srv, db: d.name, name: name}, nil
}

func (d *containerDatabase) collectionNames() ([]string, error) {
	var names []string
	err := viewStorage(d.srv.store, func(tx storageTx) error {
		if b := tx.Bucket([]byte(d.name)); b != nil {
			names = nestedBucketNames(b)
		}
		return nil
	})
	return names, err
}

// containerCollection materializes its buckets on first write; until then
// every read sees an empty collection.
type containerCollection struct {
	srv  *containerServer
	db   string
	name string // changed by rename under the collection's write lock
}

func (c *containerCollection) bucketPath(sub ...string) []string {
	return append([]string{c.db, c.name}, sub...)
}

func (c *containerCollection) path() string {
	return joinPath([]string{c.srv.file, c.db, c.name})
}

func (c *containerCollection) documents() rawMapping {
	return c.srv.layout.mapping(c.srv.store, c.bucketPath(documentsBucket))
}

func (c *containerCollection) indexes() rawMapping {
	return c.srv.layout.mapping(c.srv.store, c.bucketPath(indexesBucket))
}

func (c *containerCollection) ttlIndexes() rawMapping {
	return c.srv.layout.mapping(c.srv.store, c.bucketPath(ttlIndexesBucket))
}

func (c *containerCollection) forceCreated() (bool, error) {
	var raw []byte
	err := viewStorage(c.srv.store, func(tx storageTx) error {
		if b := bucketAt(tx, c.bucketPath()); b != nil {
			raw = append(raw, b.Get([]byte(forceCreatedKey))...)
		}
		return nil
	})
	if err != nil || raw == nil {
		return false, err
	}
	return c.srv.layout.decodeFlag(raw)
}

func (c *containerCollection) setForceCreated(v bool) error {
	raw, err := c.srv.layout.encodeFlag(v)
	if err != nil {
		return err
	}
	return updateStorage(c.srv.store, func(tx storageTx) error {
		b, err := requireBucket(tx, c.bucketPath())
		if err != nil {
			return err
		}
		return b.Put([]byte(forceCreatedKey), raw)
	})
}

// clear removes the collection bucket with everything in it, flag included.
func (c *containerCollection) clear() error {
	return updateStorage(c.srv.store, func(tx storageTx) error {
		err := deleteBucketAt(tx, c.bucketPath())
		if errors.Is(err, errBucketNotFound) {
			return nil
		}
		return err
	})
}

func (c *containerCollection) rename(newName string) error {
	to := []string{c.db, newName}
	err := updateStorage(c.srv.store, func(tx storageTx) error {
		err := moveBucket(tx, c.bucketPath(), to)
		if !errors.Is(err, errBucketNotFound) {
			return err
		}
		// nothing was ever written here, so the target ends up empty too
		err = deleteBucketAt(tx, to)
		if errors.Is(err, errBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	c.name = newName
	return nil
}

func (c *containerCollection) close() error {
	return nil
}
