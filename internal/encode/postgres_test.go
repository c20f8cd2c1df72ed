package encode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lychee-technology/flattab"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func setupCSVTable(t *testing.T, reg *flattab.Registry, opts *flattab.Options, table string, header []string, rows [][]string) {
	t.Helper()
	dir := filepath.Join(opts.OutputDir, "csv")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	content := joinCSVLine(header)
	for _, r := range rows {
		content += joinCSVLine(r)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, table+".csv"), []byte(content), 0o644))

	for _, f := range header {
		reg.ObserveTyped(table, f, "x")
	}
}

func joinCSVLine(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out + "\n"
}

func TestLoadPostgresTableCreatesTableWhenAbsent(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(true)

	opts := &flattab.Options{OutputDir: t.TempDir()}
	reg := flattab.NewRegistry()
	setupCSVTable(t, reg, opts, "main", []string{"id", "name"}, nil)
	tbl, _ := reg.Table("main")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs("main").
		WillReturnRows(pgxmock.NewRows([]string{"to_regclass"}).AddRow(false))
	mock.ExpectExec(`CREATE TABLE "main"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCommit()

	require.NoError(t, loadPostgresTable(ctx, mock, opts, tbl))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPostgresTableRejectsExistingRowsWithoutForce(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.MatchExpectationsInOrder(true)

	opts := &flattab.Options{OutputDir: t.TempDir()}
	reg := flattab.NewRegistry()
	setupCSVTable(t, reg, opts, "main", []string{"id"}, nil)
	tbl, _ := reg.Table("main")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs("main").
		WillReturnRows(pgxmock.NewRows([]string{"to_regclass"}).AddRow(true))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "main"`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectRollback()

	err = loadPostgresTable(ctx, mock, opts, tbl)
	require.Error(t, err)
	var fe *flattab.FlattenError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, flattab.ErrMerge, fe.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableSQL(t *testing.T) {
	sql := createTableSQL("main", []string{"id", "na me"})
	require.Equal(t, `CREATE TABLE "main" ("id" TEXT, "na me" TEXT)`, sql)
}
