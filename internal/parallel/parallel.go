// Package parallel implements the threads>1 orchestrator: a fixed-size
// worker pool where each worker owns an independent
// Shredder/Registry/TempWriterPool triple scoped to parts/<i>, fed by a
// single producer fanning raw JSON buffers out round-robin, followed by a
// single-threaded merge stage.
package parallel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/lychee-technology/flattab"
	"github.com/lychee-technology/flattab/internal/csvio"
	"github.com/lychee-technology/flattab/internal/engine"
	"github.com/lychee-technology/flattab/internal/shred"
	"github.com/lychee-technology/flattab/internal/stream"
	"go.uber.org/zap"
)

// Result summarizes one completed parallel run.
type Result struct {
	OutputDir string
	Tables    []string
}

// Run validates opts, prepares output_dir and a parts/ subdirectory with
// opts.Threads independent worker pipelines, fans r's documents out to them
// round-robin, then merges every part's per-table CSVs and schema into the
// final datapackage.
func Run(ctx context.Context, r io.Reader, opts *flattab.Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := opts.Threads
	if n < 1 {
		n = 1
	}
	log := loggerOf(opts)

	if err := engine.PrepareOutputDir(opts.OutputDir, opts.Force); err != nil {
		return nil, err
	}
	partsDir := filepath.Join(opts.OutputDir, "parts")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return nil, flattab.IOErrorf(partsDir, "creating parts dir: %v", err)
	}

	parts, err := runWorkers(ctx, r, opts, partsDir, n, log)
	if err != nil {
		return nil, err
	}

	merged, err := mergeParts(opts, parts)
	if err != nil {
		return nil, err
	}

	if err := os.RemoveAll(partsDir); err != nil {
		return nil, flattab.IOErrorf(partsDir, "removing parts dir: %v", err)
	}

	if err := engine.RunEncoders(ctx, opts, merged); err != nil {
		return nil, err
	}

	log.Info("parallel run complete", zap.Int("workers", n), zap.Int("tables", len(merged.Tables())))
	return &Result{OutputDir: opts.OutputDir, Tables: merged.Tables()}, nil
}

// part is one worker's finished pipeline: its own schema registry (which
// still knows every field's final append order, needed to project that
// part's temp CSV columns during merge) and the directory its temp CSVs
// live under.
type part struct {
	dir string
	reg *flattab.Registry
}

func runWorkers(ctx context.Context, r io.Reader, opts *flattab.Options, partsDir string, n int, log *zap.Logger) ([]*part, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rawDocs := make(chan []byte, opts.BufferSizeOrDefault())
	workerChans := make([]chan []byte, n)
	for i := range workerChans {
		workerChans[i] = make(chan []byte, opts.BufferSizeOrDefault())
	}

	var producerErr error
	var producerWG sync.WaitGroup
	producerWG.Add(1)
	go func() {
		defer producerWG.Done()
		producerErr = stream.Produce(ctx, r, opts, rawDocs)
	}()

	go func() {
		i := 0
		for b := range rawDocs {
			select {
			case workerChans[i%n] <- b:
			case <-ctx.Done():
			}
			i++
		}
		for _, ch := range workerChans {
			close(ch)
		}
	}()

	parts := make([]*part, n)
	workerErrs := make([]error, n)
	var workerWG sync.WaitGroup
	for i := 0; i < n; i++ {
		workerWG.Add(1)
		go func(i int) {
			defer workerWG.Done()
			p, err := runWorker(ctx, opts, partsDir, i, workerChans[i])
			parts[i] = p
			if err != nil {
				workerErrs[i] = err
				cancel()
			}
		}(i)
	}

	workerWG.Wait()
	producerWG.Wait()

	for _, err := range workerErrs {
		if err != nil {
			return nil, err
		}
	}
	if producerErr != nil {
		return nil, producerErr
	}
	log.Info("all workers joined", zap.Int("workers", n))
	return parts, nil
}

func runWorker(ctx context.Context, opts *flattab.Options, partsDir string, i int, docs <-chan []byte) (*part, error) {
	dir := filepath.Join(partsDir, strconv.Itoa(i))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, flattab.IOErrorf(dir, "creating part dir: %v", err)
	}

	reg := flattab.NewRegistry()
	if _, err := engine.PreSeed(opts, reg); err != nil {
		return nil, err
	}

	pool := csvio.NewTempWriterPool(dir, reg)

	workerOpts := *opts
	workerOpts.IDPrefix = fmt.Sprintf("%d.%s", i, opts.IDPrefix)
	sh := shred.New(&workerOpts, reg, pool)

	for {
		if flattab.Terminated() {
			return nil, flattab.ErrCancelledRun
		}
		select {
		case b, ok := <-docs:
			if !ok {
				if err := pool.Flush(); err != nil {
					return nil, err
				}
				return &part{dir: dir, reg: reg}, nil
			}
			dec := shred.NewDecoder(bytes.NewReader(b))
			doc, err := shred.DecodeValue(dec)
			if err != nil {
				return nil, flattab.ParseErrorf("document", "decoding document: %v", err)
			}
			if err := sh.ShredDocument(doc); err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, flattab.ErrCancelledRun
		}
	}
}

func loggerOf(opts *flattab.Options) *zap.Logger {
	if opts.Logger == nil {
		return zap.NewNop()
	}
	return opts.Logger
}
