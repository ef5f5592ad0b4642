package docstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		uri    string
		medium any
		file   string
	}{
		{filepath.Join(dir, "plain"), &sqliteServer{}, "plain"},
		{filepath.Join(dir, "sq") + "?engine=sqlite", &sqliteServer{}, "sq"},
		{filepath.Join(dir, "g.db") + "?engine=group", &containerServer{}, "g.db"},
		{filepath.Join(dir, "n.db") + "?engine=node", &containerServer{}, "n.db"},
		{"?engine=memory", &containerServer{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			srv := must(Open(tt.uri, Options{IsTesting: true}))
			defer srv.Close()
			m := srv.(*server).medium
			switch tt.medium.(type) {
			case *sqliteServer:
				if _, ok := m.(*sqliteServer); !ok {
					t.Fatalf("** medium is %T, wanted *sqliteServer", m)
				}
			case *containerServer:
				if _, ok := m.(*containerServer); !ok {
					t.Fatalf("** medium is %T, wanted *containerServer", m)
				}
			}
			ensure(must(must(srv.Database("db")).Collection("c")).Set("a", doc("a")))
			if tt.file != "" {
				if _, err := os.Stat(filepath.Join(dir, tt.file)); err != nil {
					t.Errorf("** %v", err)
				}
			}
		})
	}

	n := must(Open(filepath.Join(dir, "layout.db")+"?engine=node", Options{IsTesting: true}))
	defer n.Close()
	deepEqual(t, n.(*server).medium.(*containerServer).layout, layout(nodeLayout{}))
}

func TestOpenErrors(t *testing.T) {
	for _, uri := range []string{
		"x?engine=bogus",
		"?engine=group",
		"",
		"%zz",
	} {
		_, err := Open(uri, Options{})
		isErr(t, err, ErrInvalidName)
	}
}
