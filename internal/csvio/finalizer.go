package csvio

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/lychee-technology/flattab"
)

// Finalizer rewrites every non-ignored table's temp CSV into its final CSV
// under stable column order, padding short rows, then emits the datapackage
// sidecars.
type Finalizer struct {
	opts   *flattab.Options
	reg    *flattab.Registry
	pool   *TempWriterPool
	orders map[string]*flattab.FieldOrder
}

// NewFinalizer builds a Finalizer. orders may be nil (no --schema given).
func NewFinalizer(opts *flattab.Options, reg *flattab.Registry, pool *TempWriterPool, orders map[string]*flattab.FieldOrder) *Finalizer {
	return &Finalizer{opts: opts, reg: reg, pool: pool, orders: orders}
}

// Run executes finalizer steps 1-3 and 5, writing csv/<table>.csv,
// data_package.json, and fields.csv under opts.OutputDir.
func (fz *Finalizer) Run() error {
	fz.reg.ApplyIgnoreRules(fz.opts.PathSeparator)

	if err := fz.pool.Flush(); err != nil {
		return err
	}

	csvDir := filepath.Join(fz.opts.OutputDir, "csv")
	if err := os.MkdirAll(csvDir, 0o755); err != nil {
		return flattab.IOErrorf(csvDir, "creating csv dir: %v", err)
	}

	for _, table := range fz.reg.Tables() {
		t, ok := fz.reg.Table(table)
		if !ok || t.Ignore {
			continue
		}
		if err := fz.finalizeTable(csvDir, t); err != nil {
			return err
		}
	}

	dp := flattab.BuildDataPackage(fz.opts.MainTableName, fz.reg)
	if err := flattab.WriteDataPackageJSON(filepath.Join(fz.opts.OutputDir, "data_package.json"), dp); err != nil {
		return err
	}
	if err := flattab.WriteFieldsCSV(filepath.Join(fz.opts.OutputDir, "fields.csv"), fz.reg); err != nil {
		return err
	}
	return nil
}

// FinalFields returns a table's header in the order this run will write it:
// non-ignored fields, reordered and retitled per any schema given.
func (fz *Finalizer) FinalFields(t *flattab.TableSchema) []string {
	fields := t.NonIgnoredFields()
	if fo, ok := fz.orders[t.Name]; ok {
		fields = fo.OrderFields(fields)
	}
	return fields
}

func (fz *Finalizer) header(t *flattab.TableSchema, fields []string) []string {
	fo := fz.orders[t.Name]
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = fo.Header(f, fz.opts.SchemaTitles)
	}
	return out
}

func (fz *Finalizer) finalizeTable(csvDir string, t *flattab.TableSchema) error {
	fullFields := t.Fields()
	finalFields := fz.FinalFields(t)

	// position of each final field in the temp CSV's full (append-order)
	// column layout, so short rows project correctly.
	positions := make([]int, len(finalFields))
	fullIndex := make(map[string]int, len(fullFields))
	for i, f := range fullFields {
		fullIndex[f] = i
	}
	for i, f := range finalFields {
		positions[i] = fullIndex[f]
	}

	outPath := filepath.Join(csvDir, t.Name+".csv")
	out, err := os.Create(outPath)
	if err != nil {
		return flattab.IOErrorf(outPath, "creating final csv: %v", err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write(fz.header(t, finalFields)); err != nil {
		return flattab.IOErrorf(outPath, "writing header: %v", err)
	}

	tempPath := fz.pool.TempPath(t.Name)
	in, err := os.Open(tempPath)
	if os.IsNotExist(err) {
		// A table pre-seeded via tables_csv/fields_csv but never written a
		// row has no temp CSV; it still gets a header-only final CSV.
		w.Flush()
		if err := w.Error(); err != nil {
			return flattab.IOErrorf(outPath, "flushing final csv: %v", err)
		}
		return nil
	}
	if err != nil {
		return flattab.IOErrorf(t.Name, "opening temp csv: %v", err)
	}
	defer in.Close()

	r := csv.NewReader(in)
	r.FieldsPerRecord = -1

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return flattab.ParseErrorf(t.Name, "reading temp csv: %v", err)
		}
		row := make([]string, len(finalFields))
		for i, pos := range positions {
			if pos < len(record) {
				row[i] = record[pos]
			}
		}
		if err := w.Write(row); err != nil {
			return flattab.IOErrorf(outPath, "writing final row: %v", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return flattab.IOErrorf(outPath, "flushing final csv: %v", err)
	}
	return nil
}
