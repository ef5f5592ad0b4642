package docstore

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
)

func TestSQLiteLayout(t *testing.T) {
	f := setup(t, backends[2])
	c := f.coll("db", "users")
	ensure(c.Set("a", doc("a")))
	ensure(c.Create())

	file := filepath.Join(f.dir, "store", "db", "users")
	if fi, err := os.Stat(file); err != nil || !fi.Mode().IsRegular() {
		t.Fatalf("** stat %s = (%v, %v), wanted a regular file", file, fi, err)
	}

	db := must(sql.Open("sqlite3", file))
	defer db.Close()
	var version int
	ensure(db.QueryRow(`PRAGMA user_version`).Scan(&version))
	deepEqual(t, version, 1)
	var id string
	var n int
	ensure(db.QueryRow(`SELECT _id, length(doc) FROM documents`).Scan(&id, &n))
	deepEqual(t, id, "a")
	deepEqual(t, n, len(must(DocumentCodec{}.Encode(doc("a")))))
}

func TestSQLiteIterationFollowsInsertionOrder(t *testing.T) {
	f := setup(t, backends[2])
	c := f.coll("db", "users")
	for _, id := range []string{"c", "a", "b"} {
		ensure(c.Set(id, doc(id)))
	}
	ensure(c.Set("c", doc("c", "v", int32(2))))
	deepEqual(t, collect(t, c.Keys()), []string{"c", "a", "b"})
}

func TestSQLiteDiscoversFilesOnDisk(t *testing.T) {
	f := setup(t, backends[2])
	ensure(f.coll("db", "users").Set("a", doc("a")))
	ensure(os.WriteFile(filepath.Join(f.dir, "store", "db", "users-journal"), nil, 0o644))
	ensure(os.Mkdir(filepath.Join(f.dir, "store", "db", "subdir"), 0o755))

	f.reopen()
	deepEqual(t, must(f.srv.ListCreatedDatabaseNames()), []string{"db"})
	deepEqual(t, must(f.db("db").ListCreatedCollectionNames()), []string{"users"})
}

func TestSQLitePathConflict(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	ensure(os.WriteFile(file, []byte("x"), 0o644))

	_, err := OpenSQLiteDir(file, Options{IsTesting: true})
	isErr(t, err, ErrPathConflict)

	srv := must(OpenSQLiteDir(dir, Options{IsTesting: true}))
	defer srv.Close()
	_, err = srv.Database("file")
	isErr(t, err, ErrPathConflict)

	ensure(os.MkdirAll(filepath.Join(dir, "db", "users"), 0o755))
	_, err = must(srv.Database("db")).Collection("users")
	isErr(t, err, ErrPathConflict)
}

func TestSQLiteDropResetsFlagAndTTL(t *testing.T) {
	f := setup(t, backends[2])
	c := f.coll("db", "events")
	ensure(c.Create())
	ensure(c.CreateIndex("at_1", ttlIndex("at", 60)))
	ensure(c.Drop())

	sc := c.(*collection)
	deepEqual(t, must(sc.ttl.Len()), 0)
	deepEqual(t, must(sc.medium.forceCreated()), false)
}

func TestSQLiteErrClassification(t *testing.T) {
	err := sqliteErr(sqlite3.Error{Code: sqlite3.ErrConstraint})
	isErr(t, err, ErrKeyConflict)

	err = sqliteErr(sqlite3.Error{Code: sqlite3.ErrBusy})
	if errors.Is(err, ErrKeyConflict) {
		t.Errorf("** busy classified as key conflict")
	}
	deepEqual(t, sqliteErr(nil), nil)
}

func TestSQLiteOddCollectionNames(t *testing.T) {
	f := setup(t, backends[2])
	for _, name := range []string{"a?b", "50%", "x#y", "with space"} {
		c := f.coll("db", name)
		ensure(c.Set("k", doc("k")))
		deepEqual(t, must(c.Get("k")), doc("k"))
		if _, err := os.Stat(filepath.Join(f.dir, "store", "db", name)); err != nil {
			t.Errorf("** %q: %v", name, err)
		}
	}
}
