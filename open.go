package docstore

import (
	"fmt"
	"net/url"
)

// Engines accepted by Open.
const (
	EngineGroup  = "group"
	EngineNode   = "node"
	EngineSQLite = "sqlite"
	EngineMemory = "memory"
)

const defaultEngine = EngineSQLite

// Open creates a server from a location of the form path?engine=name, where
// name is one of the Engine constants. SQLite is used when no engine is given;
// the memory engine ignores the path.
func Open(uri string, opt Options) (Server, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, storeErr("open", uri, "", fmt.Errorf("%w: %w", ErrInvalidName, err))
	}
	path := u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	engine := defaultEngine
	if e := u.Query().Get("engine"); e != "" {
		engine = e
	}

	switch engine {
	case EngineMemory:
		return NewMemory(opt), nil
	case EngineGroup, EngineNode, EngineSQLite:
	default:
		return nil, storeErr("open", uri, "", fmt.Errorf("%w: unknown engine %q", ErrInvalidName, engine))
	}
	if path == "" {
		return nil, storeErr("open", uri, "", fmt.Errorf("%w: path required", ErrInvalidName))
	}
	switch engine {
	case EngineGroup:
		return OpenGroupFile(path, opt)
	case EngineNode:
		return OpenNodeFile(path, opt)
	default:
		return OpenSQLiteDir(path, opt)
	}
}
