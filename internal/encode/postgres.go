package encode

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lychee-technology/flattab"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// copyChunkSize bounds how many rows one CopyFrom call ships at once.
const copyChunkSize = 2000

// pgPool is the minimal pgxpool.Pool surface this encoder needs, so tests
// can substitute pgxmock's Pool in its place.
type pgPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// WritePostgres bulk-loads every non-ignored table's finalized CSV into the
// database named by opts.PostgresDSN, one all-TEXT table per schema table.
// A table that already exists and already holds rows is a MergeError unless
// opts.Force is set.
func WritePostgres(ctx context.Context, opts *flattab.Options, reg *flattab.Registry) error {
	pool, err := pgxpool.New(ctx, opts.PostgresDSN)
	if err != nil {
		return flattab.IOErrorf(opts.PostgresDSN, "connecting to postgres: %v", err)
	}
	defer pool.Close()

	return writePostgres(ctx, pool, opts, reg)
}

func writePostgres(ctx context.Context, pool pgPool, opts *flattab.Options, reg *flattab.Registry) error {
	for _, table := range reg.Tables() {
		t, ok := reg.Table(table)
		if !ok || t.Ignore {
			continue
		}
		if err := loadPostgresTable(ctx, pool, opts, t); err != nil {
			return err
		}
	}
	return nil
}

func loadPostgresTable(ctx context.Context, pool pgPool, opts *flattab.Options, t *flattab.TableSchema) error {
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

	return withTx(ctx, pool, func(tx pgx.Tx) error {
		exists, rowCount, err := tableState(ctx, tx, t.Name)
		if err != nil {
			return err
		}
		if exists && rowCount > 0 && !opts.Force {
			return flattab.MergeErrorf(t.Name, "postgres table already has %d rows; set force to overwrite", rowCount)
		}
		if exists && opts.Force {
			if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s", quotePostgresIdent(t.Name))); err != nil {
				return flattab.IOErrorf(t.Name, "truncating postgres table: %v", err)
			}
		}
		if !exists {
			if _, err := tx.Exec(ctx, createTableSQL(t.Name, fields)); err != nil {
				return flattab.IOErrorf(t.Name, "creating postgres table: %v", err)
			}
		}

		tableIdent := pgx.Identifier{t.Name}
		var rows [][]any
		flush := func() error {
			if len(rows) == 0 {
				return nil
			}
			if _, err := tx.CopyFrom(ctx, tableIdent, fields, pgx.CopyFromRows(rows)); err != nil {
				return flattab.IOErrorf(t.Name, "copying rows into postgres: %v", err)
			}
			rows = rows[:0]
			return nil
		}

		for {
			record, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return flattab.ParseErrorf(path, "reading finalized csv: %v", err)
			}
			row := make([]any, len(fields))
			for i := range fields {
				if i < len(record) {
					row[i] = record[i]
				}
			}
			rows = append(rows, row)
			if len(rows) >= copyChunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})
}

func tableState(ctx context.Context, tx pgx.Tx, table string) (exists bool, rowCount int64, err error) {
	err = tx.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", table).Scan(&exists)
	if err != nil {
		return false, 0, flattab.IOErrorf(table, "checking postgres table existence: %v", err)
	}
	if !exists {
		return false, 0, nil
	}
	if err := tx.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quotePostgresIdent(table))).Scan(&rowCount); err != nil {
		return true, 0, flattab.IOErrorf(table, "counting postgres rows: %v", err)
	}
	return true, rowCount, nil
}

func createTableSQL(table string, fields []string) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = quotePostgresIdent(f) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quotePostgresIdent(table), strings.Join(cols, ", "))
}

func quotePostgresIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func withTx(ctx context.Context, pool pgPool, fn func(pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return flattab.IOErrorf("postgres", "beginning tx: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return flattab.IOErrorf("postgres", "committing tx: %v", err)
	}
	return nil
}
