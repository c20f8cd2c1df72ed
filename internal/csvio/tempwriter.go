// Package csvio implements the two-stage CSV pipeline: a flexible
// (varying-arity) temp writer per table during shredding, and a finalizer
// that rewrites each temp CSV into a stable-column-order final CSV plus the
// datapackage sidecars.
package csvio

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/lychee-technology/flattab"
)

// TempWriterPool lazily opens one flexible CSV writer per table under dir,
// appending rows as the shredder discovers them. Rows for a table may grow
// wider over the life of the run; the writer does not pad, that is the
// finalizer's job.
type TempWriterPool struct {
	mu      sync.Mutex
	dir     string
	writers map[string]*tempWriter
	reg     *flattab.Registry
}

type tempWriter struct {
	f *os.File
	w *csv.Writer
}

// NewTempWriterPool creates a pool rooted at dir (typically
// output_dir/tmp), which must already exist.
func NewTempWriterPool(dir string, reg *flattab.Registry) *TempWriterPool {
	return &TempWriterPool{dir: dir, writers: make(map[string]*tempWriter), reg: reg}
}

// WriteRow implements shred.Sink: it appends row's fields (in the table's
// current field order) to that table's temp CSV, opening the file on first
// use.
func (p *TempWriterPool) WriteRow(table string, row flattab.Row) error {
	p.mu.Lock()
	w, ok := p.writers[table]
	if !ok {
		var err error
		w, err = p.openLocked(table)
		if err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.mu.Unlock()

	t, _ := p.reg.Table(table)
	fields := t.Fields()
	record := make([]string, len(fields))
	for i, f := range fields {
		record[i] = row[f]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := w.w.Write(record); err != nil {
		return flattab.IOErrorf(table, "writing temp row: %v", err)
	}
	return nil
}

func (p *TempWriterPool) openLocked(table string) (*tempWriter, error) {
	path := filepath.Join(p.dir, table+".csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, flattab.IOErrorf(path, "creating temp csv: %v", err)
	}
	w := &tempWriter{f: f, w: csv.NewWriter(f)}
	p.writers[table] = w
	return w, nil
}

// Flush flushes and closes every open writer. Safe to call once after the
// shredding stage completes.
func (p *TempWriterPool) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for table, w := range p.writers {
		w.w.Flush()
		if err := w.w.Error(); err != nil {
			return flattab.IOErrorf(table, "flushing temp csv: %v", err)
		}
		if err := w.f.Close(); err != nil {
			return flattab.IOErrorf(table, "closing temp csv: %v", err)
		}
	}
	return nil
}

// TempPath returns the temp CSV path for table.
func (p *TempWriterPool) TempPath(table string) string {
	return filepath.Join(p.dir, table+".csv")
}
