// Package verify loads every finalized table CSV into an in-memory DuckDB
// connection and joins each child table back to main on
// "_link_<main_table_name>", asserting the join reproduces exactly the
// scalar leaves of the source documents up to stringification.
//
// RoundTrip works directly off the finalized csv/ directory rather than a
// live Registry, so it can run as a standalone CLI step after a run has
// already exited (the --verify flag) as well as in-process.
package verify

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/lychee-technology/flattab"
)

// TableCount is the row count of one table as seen by the join, keyed by
// the parent table it was joined against.
type TableCount struct {
	Rows     int
	Children map[string]int
}

// RoundTrip opens a private in-memory DuckDB connection, registers every CSV
// file under <output_dir>/csv as a view, and for each table whose header
// carries a "_link_<main_table_name>" column, joins it back to main on that
// column. It returns, per table, its own row count and (for non-main
// tables) the count of rows that matched a main row; a mismatch between a
// table's row count and its join count indicates an orphaned link value.
func RoundTrip(ctx context.Context, opts *flattab.Options, mainTableName string) (map[string]*TableCount, error) {
	if mainTableName == "" {
		mainTableName = "main"
	}
	csvDir := filepath.Join(opts.OutputDir, "csv")
	entries, err := os.ReadDir(csvDir)
	if err != nil {
		return nil, flattab.IOErrorf(csvDir, "listing finalized csv directory: %v", err)
	}

	headers := make(map[string][]string, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		table := strings.TrimSuffix(e.Name(), ".csv")
		header, err := readHeader(filepath.Join(csvDir, e.Name()))
		if err != nil {
			return nil, err
		}
		headers[table] = header
	}
	if _, ok := headers[mainTableName]; !ok {
		return nil, flattab.ConfigErrorf(mainTableName, "round-trip: main table csv not present in output_dir")
	}

	db, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	for table := range headers {
		if err := registerView(ctx, db, csvDir, table); err != nil {
			return nil, err
		}
	}

	results := make(map[string]*TableCount, len(headers))
	linkCol := flattab.LinkPrefix + mainTableName

	for table, header := range headers {
		total, err := scalarCount(ctx, db, table)
		if err != nil {
			return nil, err
		}
		tc := &TableCount{Rows: total}
		if table != mainTableName && hasColumn(header, linkCol) {
			joined, err := joinCount(ctx, db, table, mainTableName, linkCol)
			if err != nil {
				return nil, err
			}
			tc.Children = map[string]int{mainTableName: joined}
		}
		results[table] = tc
	}
	return results, nil
}

func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, flattab.IOErrorf(path, "opening finalized csv: %v", err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, flattab.ParseErrorf(path, "reading csv header: %v", err)
	}
	return header, nil
}

func open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, flattab.IOErrorf("duckdb", "opening in-memory duckdb: %v", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, flattab.IOErrorf("duckdb", "pinging in-memory duckdb: %v", err)
	}
	return db, nil
}

func registerView(ctx context.Context, db *sql.DB, csvDir, table string) error {
	path := filepath.Join(csvDir, table+".csv")
	stmt := fmt.Sprintf(
		"CREATE VIEW %s AS SELECT * FROM read_csv_auto(%s, ALL_VARCHAR=TRUE)",
		quoteIdent(table), quoteLiteral(path),
	)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return flattab.IOErrorf(path, "registering duckdb view for %s: %v", table, err)
	}
	return nil
}

func scalarCount(ctx context.Context, db *sql.DB, table string) (int, error) {
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(table)))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, flattab.IOErrorf(table, "counting rows: %v", err)
	}
	return n, nil
}

func joinCount(ctx context.Context, db *sql.DB, child, main, linkCol string) (int, error) {
	stmt := fmt.Sprintf(
		"SELECT count(*) FROM %s c JOIN %s m ON c.%s = m.%s",
		quoteIdent(child), quoteIdent(main), quoteIdent(linkCol), quoteIdent(flattab.LinkColumn),
	)
	row := db.QueryRowContext(ctx, stmt)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, flattab.IOErrorf(child, "joining to main: %v", err)
	}
	return n, nil
}

func hasColumn(header []string, name string) bool {
	for _, h := range header {
		if h == name {
			return true
		}
	}
	return false
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
