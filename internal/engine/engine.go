// Package engine wires the streaming bridge, shredder, and finalizer into
// one single-shredder run: validate options, prepare output_dir, pre-seed
// the registry, drive stream.Run into
// a temp-writer sink, finalize, and dispatch whichever alternate encoders
// were requested. internal/parallel composes the same pieces per-part for
// the threads>1 path; this package stays import-cycle-free of it (both
// import the root flattab package but neither imports the other).
package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/lychee-technology/flattab"
	"github.com/lychee-technology/flattab/internal/csvio"
	"github.com/lychee-technology/flattab/internal/encode"
	"github.com/lychee-technology/flattab/internal/stream"
	"go.uber.org/zap"
)

// Result summarizes one completed run.
type Result struct {
	OutputDir string
	Tables    []string
}

// Run validates opts, prepares output_dir, shreds r into it, finalizes, and
// runs every encoder opts enables. It returns flattab.ErrCancelledRun if
// TERMINATE was observed, or the first FlattenError encountered otherwise.
func Run(ctx context.Context, r io.Reader, opts *flattab.Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := logger(opts)

	if err := PrepareOutputDir(opts.OutputDir, opts.Force); err != nil {
		return nil, err
	}

	tmpDir := filepath.Join(opts.OutputDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, flattab.IOErrorf(tmpDir, "creating tmp dir: %v", err)
	}

	reg := flattab.NewRegistry()

	orders, err := PreSeed(opts, reg)
	if err != nil {
		return nil, err
	}

	pool := csvio.NewTempWriterPool(tmpDir, reg)

	log.Info("shredding input", zap.String("output_dir", opts.OutputDir))
	if err := stream.Run(ctx, r, opts, reg, pool, 1); err != nil {
		return nil, err
	}

	fz := csvio.NewFinalizer(opts, reg, pool, orders)
	if err := fz.Run(); err != nil {
		return nil, err
	}

	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, flattab.IOErrorf(tmpDir, "removing tmp dir: %v", err)
	}

	if err := RunEncoders(ctx, opts, reg); err != nil {
		return nil, err
	}

	log.Info("run complete", zap.Int("tables", len(reg.Tables())))
	return &Result{OutputDir: opts.OutputDir, Tables: reg.Tables()}, nil
}

// PreSeed applies opts' fields_csv/tables_csv pre-seeding to reg and, when
// opts.Schema is set, loads the schema-driven field order. Shared by the
// parallel orchestrator, which pre-seeds each worker's own Registry the
// same way.
func PreSeed(opts *flattab.Options, reg *flattab.Registry) (map[string]*flattab.FieldOrder, error) {
	if opts.FieldsCSV != "" {
		seeded, err := flattab.LoadFieldsCSV(opts.FieldsCSV)
		if err != nil {
			return nil, err
		}
		flattab.ApplyFieldsCSV(reg, seeded, opts.OnlyFields)
	}
	if opts.TablesCSV != "" {
		tables, err := flattab.LoadTablesCSV(opts.TablesCSV)
		if err != nil {
			return nil, err
		}
		flattab.ApplyTablesCSV(reg, tables, opts.OnlyTables)
	}
	if opts.Schema == "" {
		return nil, nil
	}
	return flattab.LoadFieldOrder(opts.Schema, opts.MainTableName, opts.PathSeparator)
}

// RunEncoders runs every alternate encoder opts enables (XLSX, SQLite,
// Parquet, Postgres, S3 publish) against reg's finalized CSVs. Shared by the
// parallel orchestrator, which calls this once against the merged registry
// after all parts have been combined.
func RunEncoders(ctx context.Context, opts *flattab.Options, reg *flattab.Registry) error {
	if opts.XLSX {
		if err := encode.WriteXLSX(opts, reg); err != nil {
			return err
		}
	}
	if opts.SQLite {
		if err := encode.WriteSQLite(ctx, opts, reg); err != nil {
			return err
		}
	}
	if opts.Parquet {
		if err := encode.WriteParquet(opts, reg); err != nil {
			return err
		}
	}
	if opts.PostgresDSN != "" {
		if err := encode.WritePostgres(ctx, opts, reg); err != nil {
			return err
		}
	}
	if opts.S3OutputURI != "" {
		if err := encode.UploadOutputDir(ctx, opts); err != nil {
			return err
		}
	}
	return nil
}

// PrepareOutputDir enforces "output directory already exists without
// force=true fails before any work", and force's own semantics ("delete
// output_dir if it exists"). Shared by the parallel orchestrator, which
// prepares output_dir itself before fanning out to parts/<i>.
func PrepareOutputDir(dir string, force bool) error {
	_, err := os.Stat(dir)
	switch {
	case err == nil:
		if !force {
			return flattab.ConfigErrorf(dir, "output_dir already exists; set force to overwrite")
		}
		if err := os.RemoveAll(dir); err != nil {
			return flattab.IOErrorf(dir, "removing existing output_dir: %v", err)
		}
	case !os.IsNotExist(err):
		return flattab.IOErrorf(dir, "statting output_dir: %v", err)
	}
	return os.MkdirAll(dir, 0o755)
}

func logger(opts *flattab.Options) *zap.Logger {
	if opts.Logger == nil {
		return zap.NewNop()
	}
	return opts.Logger
}
