package docstore

import (
	"maps"
	"slices"
	"sync"
)

// Database is a named set of collections. Collection handles are created
// on first access and cached; a collection only counts as existing once it
// is written to, indexed, or explicitly created.
type Database interface {
	Name() string

	// Collection returns the cached handle for name, opening it on first use.
	Collection(name string) (Collection, error)

	// Contains reports whether the named collection is created.
	Contains(name string) (bool, error)

	// ListCreatedCollectionNames returns the sorted names of created
	// collections, both cached and present on the medium.
	ListCreatedCollectionNames() ([]string, error)

	// CreateCollection returns the named collection after marking it created.
	CreateCollection(name string) (Collection, error)

	// Rename moves all documents and indexes of a collection to newName,
	// replacing whatever newName held, and re-keys the handle cache. On
	// failure nothing changes and the old handle stays usable.
	Rename(name, newName string) error

	// IsCreated reports whether any collection is created.
	IsCreated() (bool, error)
}

// databaseMedium is a backend's physical realization of one database.
type databaseMedium interface {
	path() string
	openCollection(name string) (medium, error)
	// collectionNames lists the collections present on the medium.
	collectionNames() ([]string, error)
}

type database struct {
	mu          sync.Mutex
	name        string
	medium      databaseMedium
	collections map[string]*collection // guarded by mu
	opt         *Options
}

var _ Database = (*database)(nil)

func newDatabase(name string, m databaseMedium, opt *Options) *database {
	return &database{
		name:        name,
		medium:      m,
		collections: make(map[string]*collection),
		opt:         opt,
	}
}

func (d *database) Name() string {
	return d.name
}

func (d *database) Collection(name string) (Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.collectionLocked(name)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *database) collectionLocked(name string) (*collection, error) {
	if c := d.collections[name]; c != nil {
		return c, nil
	}
	if err := validateName("collection", name); err != nil {
		return nil, err
	}
	m, err := d.medium.openCollection(name)
	if err != nil {
		return nil, storeErr("open", d.medium.path(), name, ioErr(err))
	}
	c, err := newCollection(name, m, d.opt)
	if err != nil {
		m.close()
		return nil, err
	}
	d.collections[name] = c
	return c, nil
}

func (d *database) Contains(name string) (bool, error) {
	c, err := d.Collection(name)
	if err != nil {
		return false, err
	}
	return c.IsCreated()
}

func (d *database) ListCreatedCollectionNames() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	onMedium, err := d.medium.collectionNames()
	if err != nil {
		return nil, storeErr("list", d.medium.path(), "", ioErr(err))
	}
	names := slices.Collect(maps.Keys(d.collections))
	for _, name := range onMedium {
		if validateName("collection", name) == nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	var result []string
	for _, name := range names {
		c, err := d.collectionLocked(name)
		if err != nil {
			return nil, err
		}
		created, err := c.IsCreated()
		if err != nil {
			return nil, err
		}
		if created {
			result = append(result, name)
		}
	}
	return result, nil
}

func (d *database) CreateCollection(name string) (Collection, error) {
	c, err := d.Collection(name)
	if err != nil {
		return nil, err
	}
	if err := c.Create(); err != nil {
		return nil, err
	}
	return c, nil
}

func (d *database) Rename(name, newName string) error {
	if err := validateName("collection", newName); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.collectionLocked(name)
	if err != nil {
		return err
	}
	if name == newName {
		return nil
	}
	if err := c.rename(newName); err != nil {
		return err
	}

	displaced := d.collections[newName]
	delete(d.collections, name)
	d.collections[newName] = c
	if displaced != nil {
		// its content was replaced; the handle must not be used any more
		if err := displaced.close(); err != nil {
			d.opt.Logger.Warn("docstore: closing replaced collection", "database", d.name, "collection", newName, "err", err)
		}
	}
	return nil
}

func (d *database) IsCreated() (bool, error) {
	names, err := d.ListCreatedCollectionNames()
	return len(names) > 0, err
}

func (d *database) cachedCollections() []*collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Collect(maps.Values(d.collections))
}
