package encode

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/lychee-technology/flattab"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestWriteSQLiteLoadsFinalizedCSV(t *testing.T) {
	out := t.TempDir()
	reg := flattab.NewRegistry()
	opts := &flattab.Options{OutputDir: out, SQLite: true}

	setupCSVTable(t, reg, opts, "main", []string{"id", "name"}, [][]string{{"1", "alice"}, {"2", "bob"}})

	require.NoError(t, WriteSQLite(context.Background(), opts, reg))

	db, err := sql.Open("sqlite", filepath.Join(out, "sqlite.db"))
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM "main"`).Scan(&count))
	require.Equal(t, 2, count)

	var name string
	require.NoError(t, db.QueryRow(`SELECT "name" FROM "main" WHERE "id" = '1'`).Scan(&name))
	require.Equal(t, "alice", name)
}

func TestQuoteSQLiteIdentEscapesQuotes(t *testing.T) {
	require.Equal(t, `"na""me"`, quoteSQLiteIdent(`na"me`))
}
