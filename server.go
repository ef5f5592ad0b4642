package docstore

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Server is the root of the hierarchy and owns the underlying resources.
// Database handles are created on first access and cached.
type Server interface {
	// Database returns the cached handle for name, opening it on first use.
	Database(name string) (Database, error)

	// Contains reports whether the named database has a created collection.
	Contains(name string) (bool, error)

	// ListCreatedDatabaseNames returns the sorted names of created
	// databases, both cached and present on the medium.
	ListCreatedDatabaseNames() ([]string, error)

	// Close releases every resource. It is safe to call more than once.
	Close() error
}

// serverMedium is a backend's physical realization of the whole store.
type serverMedium interface {
	path() string
	openDatabase(name string) (databaseMedium, error)
	databaseNames() ([]string, error)
	// close releases the shared resource, if the backend has one.
	close() error
}

type server struct {
	mu        sync.Mutex
	medium    serverMedium
	databases map[string]*database // guarded by mu
	opt       Options
	closed    bool // guarded by mu
}

var _ Server = (*server)(nil)

func newServer(m serverMedium, opt Options) *server {
	return &server{
		medium:    m,
		databases: make(map[string]*database),
		opt:       opt,
	}
}

func (s *server) Database(name string) (Database, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.databaseLocked(name)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *server) databaseLocked(name string) (*database, error) {
	if s.closed {
		return nil, storeErr("open", s.medium.path(), name, ErrClosed)
	}
	if d := s.databases[name]; d != nil {
		return d, nil
	}
	if err := validateName("database", name); err != nil {
		return nil, err
	}
	m, err := s.medium.openDatabase(name)
	if err != nil {
		return nil, storeErr("open", s.medium.path(), name, ioErr(err))
	}
	d := newDatabase(name, m, &s.opt)
	s.databases[name] = d
	return d, nil
}

func (s *server) Contains(name string) (bool, error) {
	d, err := s.Database(name)
	if err != nil {
		return false, err
	}
	return d.IsCreated()
}

func (s *server) ListCreatedDatabaseNames() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storeErr("list", s.medium.path(), "", ErrClosed)
	}

	onMedium, err := s.medium.databaseNames()
	if err != nil {
		return nil, storeErr("list", s.medium.path(), "", ioErr(err))
	}
	names := slices.Collect(maps.Keys(s.databases))
	for _, name := range onMedium {
		if validateName("database", name) == nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	var result []string
	for _, name := range names {
		d, err := s.databaseLocked(name)
		if err != nil {
			return nil, err
		}
		created, err := d.IsCreated()
		if err != nil {
			return nil, err
		}
		if created {
			result = append(result, name)
		}
	}
	return result, nil
}

func (s *server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var g errgroup.Group
	for _, d := range s.databases {
		for _, c := range d.cachedCollections() {
			g.Go(c.close)
		}
	}
	err := g.Wait()
	err = errors.Join(err, storeErr("close", s.medium.path(), "", ioErr(s.medium.close())))
	s.opt.Logger.Debug("docstore: closed", "path", s.medium.path(), "err", err)
	return err
}
