package docstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// The relational backend is a directory per server, a subdirectory per
// database and one SQLite file per collection:
//
//	documents(_id TEXT PRIMARY KEY, doc BLOB)
//	indexes(_id TEXT PRIMARY KEY, doc BLOB)
//
// The force-created flag is PRAGMA user_version, so the schema stays as is.
// TTL descriptors are not persisted; they are rebuilt from indexes on open.

const (
	documentsTable = "documents"
	indexesTable   = "indexes"
)

// OpenSQLiteDir opens (creating if needed) a directory of SQLite files.
func OpenSQLiteDir(dir string, opt Options) (Server, error) {
	opt = opt.withDefaults()
	if err := ensureDir(dir, &opt); err != nil {
		return nil, storeErr("open", dir, "", ioErr(err))
	}
	opt.Logger.Debug("docstore: opened directory", "dir", dir, "engine", EngineSQLite)
	return newServer(&sqliteServer{dir: dir, opt: &opt}, opt), nil
}

func ensureDir(dir string, opt *Options) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil && !fi.IsDir():
		return fmt.Errorf("%w: %s is not a directory", ErrPathConflict, dir)
	case err == nil:
		return nil
	case errors.Is(err, os.ErrNotExist):
		return os.MkdirAll(dir, opt.dirMode())
	default:
		return err
	}
}

// listDir returns names of the entries in dir accepted by keep.
func listDir(dir string, keep func(os.DirEntry) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if keep(e) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

type sqliteServer struct {
	dir string
	opt *Options
}

func (s *sqliteServer) path() string {
	return s.dir
}

func (s *sqliteServer) openDatabase(name string) (databaseMedium, error) {
	dir := filepath.Join(s.dir, name)
	if err := ensureDir(dir, s.opt); err != nil {
		return nil, err
	}
	return &sqliteDatabase{dir: dir, opt: s.opt}, nil
}

func (s *sqliteServer) databaseNames() ([]string, error) {
	return listDir(s.dir, os.DirEntry.IsDir)
}

// close has nothing to release; connections belong to collections.
func (s *sqliteServer) close() error {
	return nil
}

type sqliteDatabase struct {
	dir string
	opt *Options
}

func (d *sqliteDatabase) path() string {
	return d.dir
}

func (d *sqliteDatabase) openCollection(name string) (medium, error) {
	c, err := openSQLiteCollection(filepath.Join(d.dir, name), d.opt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// sqliteSidecarSuffixes mark files SQLite keeps next to a database file.
var sqliteSidecarSuffixes = []string{"-journal", "-wal", "-shm"}

func (d *sqliteDatabase) collectionNames() ([]string, error) {
	return listDir(d.dir, func(e os.DirEntry) bool {
		if !e.Type().IsRegular() {
			return false
		}
		return !slices.ContainsFunc(sqliteSidecarSuffixes, func(suffix string) bool {
			return strings.HasSuffix(e.Name(), suffix)
		})
	})
}

type sqliteCollection struct {
	file string // changed by rename under the collection's write lock
	db   *sql.DB
	ttl  storage
	opt  *Options
}

func openSQLiteCollection(file string, opt *Options) (*sqliteCollection, error) {
	db, err := openSQLiteFile(file, opt)
	if err != nil {
		return nil, err
	}
	return &sqliteCollection{
		file: file,
		db:   db,
		ttl:  newMemStorage(),
		opt:  opt,
	}, nil
}

var sqliteURIEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func openSQLiteFile(file string, opt *Options) (*sql.DB, error) {
	if fi, err := os.Stat(file); err == nil && !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrPathConflict, file)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d", sqliteURIEscaper.Replace(file), opt.Timeout.Milliseconds())
	if opt.IsTesting {
		dsn += "&_sync=OFF"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one connection serializes statements and keeps PRAGMA state in one place
	db.SetMaxOpenConns(1)
	for _, table := range []string{documentsTable, indexesTable} {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + table + ` (
			_id TEXT PRIMARY KEY,
			doc BLOB
		)`); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func (c *sqliteCollection) path() string {
	return c.file
}

func (c *sqliteCollection) documents() rawMapping {
	return &tableMapping{db: c.db, table: documentsTable}
}

func (c *sqliteCollection) indexes() rawMapping {
	return &tableMapping{db: c.db, table: indexesTable}
}

func (c *sqliteCollection) ttlIndexes() rawMapping {
	return groupLayout{}.mapping(c.ttl, []string{ttlIndexesBucket})
}

func (c *sqliteCollection) forceCreated() (bool, error) {
	var v int
	err := c.db.QueryRow(`PRAGMA user_version`).Scan(&v)
	return v != 0, err
}

func (c *sqliteCollection) setForceCreated(v bool) error {
	var n int
	if v {
		n = 1
	}
	_, err := c.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, n))
	return err
}

func (c *sqliteCollection) clear() error {
	tx, err := c.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM ` + documentsTable,
		`DELETE FROM ` + indexesTable,
		`PRAGMA user_version = 0`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	old := c.ttl
	c.ttl = newMemStorage()
	return old.Close()
}

// rename closes the connection, moves the file and reopens it. If the move
// fails the old file is reopened.
func (c *sqliteCollection) rename(newName string) error {
	newFile := filepath.Join(filepath.Dir(c.file), newName)
	if err := c.db.Close(); err != nil {
		return err
	}
	renameErr := os.Rename(c.file, newFile)
	file := c.file
	if renameErr == nil {
		file = newFile
	}
	db, err := openSQLiteFile(file, c.opt)
	if err != nil {
		return errors.Join(renameErr, err)
	}
	c.db, c.file = db, file
	return renameErr
}

func (c *sqliteCollection) close() error {
	return errors.Join(c.db.Close(), c.ttl.Close())
}

type tableMapping struct {
	db    *sql.DB
	table string
}

func (m *tableMapping) has(key []byte) (bool, error) {
	var one int
	err := m.db.QueryRow(`SELECT 1 FROM `+m.table+` WHERE _id = ?`, string(key)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (m *tableMapping) get(key []byte) ([]byte, bool, error) {
	var doc []byte
	err := m.db.QueryRow(`SELECT doc FROM `+m.table+` WHERE _id = ?`, string(key)).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (m *tableMapping) put(key, value []byte) error {
	_, err := m.db.Exec(
		`INSERT INTO `+m.table+` (_id, doc) VALUES (?, ?)
		 ON CONFLICT(_id) DO UPDATE SET doc = excluded.doc`,
		string(key), value,
	)
	return sqliteErr(err)
}

func (m *tableMapping) del(key []byte) (bool, error) {
	res, err := m.db.Exec(`DELETE FROM `+m.table+` WHERE _id = ?`, string(key))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (m *tableMapping) count() (int, error) {
	var n int
	err := m.db.QueryRow(`SELECT count(*) FROM ` + m.table).Scan(&n)
	return n, err
}

func (m *tableMapping) scan(pos scanPos, limit int, withValues bool) ([]rawEntry, scanPos, error) {
	cols := `ROWID, _id, NULL`
	if withValues {
		cols = `ROWID, _id, doc`
	}
	rows, err := m.db.Query(`SELECT `+cols+` FROM `+m.table+` WHERE ROWID > ? ORDER BY ROWID LIMIT ?`, pos.rowid, limit)
	if err != nil {
		return nil, pos, err
	}
	defer rows.Close()

	var entries []rawEntry
	next := pos
	for rows.Next() {
		var e rawEntry
		if err := rows.Scan(&next.rowid, &e.key, &e.value); err != nil {
			return nil, pos, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, pos, err
	}
	return entries, next, nil
}

// sqliteErr classifies constraint violations as key conflicts.
func sqliteErr(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %w", ErrKeyConflict, err)
	}
	return err
}
