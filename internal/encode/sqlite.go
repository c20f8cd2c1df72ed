package encode

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lychee-technology/flattab"
	_ "modernc.org/sqlite"
)

// WriteSQLite bulk-loads every non-ignored table's finalized CSV into
// sqlite.db, one all-TEXT table per schema table, one transaction per table.
func WriteSQLite(ctx context.Context, opts *flattab.Options, reg *flattab.Registry) error {
	dbPath := opts.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(opts.OutputDir, "sqlite.db")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return flattab.IOErrorf(dbPath, "opening sqlite db: %v", err)
	}
	defer db.Close()

	for _, table := range reg.Tables() {
		t, ok := reg.Table(table)
		if !ok || t.Ignore {
			continue
		}
		if err := loadSQLiteTable(ctx, db, opts, t); err != nil {
			return err
		}
	}
	return nil
}

func loadSQLiteTable(ctx context.Context, db *sql.DB, opts *flattab.Options, t *flattab.TableSchema) error {
	fields := t.NonIgnoredFields()
	path := csvPath(opts, t.Name)

	in, err := os.Open(path)
	if err != nil {
		return flattab.IOErrorf(path, "opening finalized csv: %v", err)
	}
	defer in.Close()
	r := csv.NewReader(in)
	if _, err := r.Read(); err != nil && err != io.EOF {
		return flattab.ParseErrorf(path, "reading csv header: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return flattab.IOErrorf(t.Name, "beginning sqlite tx: %v", err)
	}
	defer tx.Rollback()

	quoted := quoteSQLiteIdent(t.Name)
	cols := make([]string, len(fields))
	placeholders := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quoteSQLiteIdent(f)
		placeholders[i] = "?"
	}

	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, columnDefs(cols))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return flattab.IOErrorf(t.Name, "creating sqlite table: %v", err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoted, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return flattab.IOErrorf(t.Name, "preparing sqlite insert: %v", err)
	}
	defer stmt.Close()

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return flattab.ParseErrorf(path, "reading finalized csv: %v", err)
		}
		args := make([]any, len(fields))
		for i := range fields {
			if i < len(record) {
				args[i] = record[i]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return flattab.IOErrorf(t.Name, "inserting row: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return flattab.IOErrorf(t.Name, "committing sqlite tx: %v", err)
	}
	return nil
}

func columnDefs(quotedCols []string) string {
	defs := make([]string, len(quotedCols))
	for i, c := range quotedCols {
		defs[i] = c + " TEXT"
	}
	return strings.Join(defs, ", ")
}

func quoteSQLiteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
