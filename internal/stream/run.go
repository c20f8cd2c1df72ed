package stream

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/lychee-technology/flattab"
	"github.com/lychee-technology/flattab/internal/shred"
)

// Run drives the reader-worker pipeline: a single producer goroutine splits
// r into documents onto a bounded channel, and a single worker goroutine
// decodes and shreds each document into sink in the order the producer
// delivered it. Run blocks until the input is exhausted, the worker fails,
// or flattab.Terminated() is observed, then returns the first error
// encountered (flattab.ErrCancelledRun on cooperative cancellation).
//
// workerCount is accepted for forward compatibility with a future
// multi-shredder single-registry mode but is otherwise ignored: a Shredder's
// document-index counter is scoped to one Shredder with no synchronization
// of its own, so handing two goroutines the same Shredder would race two
// documents onto the same index. Real intra-run parallelism is the
// parts/<i> orchestrator in internal/parallel, where every worker owns an
// independent Shredder/Registry pair and id_prefix keeps their link keys
// disjoint without needing a shared counter at all.
func Run(ctx context.Context, r io.Reader, opts *flattab.Options, reg *flattab.Registry, sink shred.Sink, workerCount int) error {
	_ = workerCount

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	docs := make(chan []byte, opts.BufferSizeOrDefault())

	var producerErr error
	var producerWG sync.WaitGroup
	producerWG.Add(1)
	go func() {
		defer producerWG.Done()
		producerErr = Produce(ctx, r, opts, docs)
	}()

	var workerErr error
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		sh := shred.New(opts, reg, sink)
		for {
			if flattab.Terminated() {
				workerErr = flattab.ErrCancelledRun
				cancel()
				return
			}
			select {
			case b, ok := <-docs:
				if !ok {
					return
				}
				if err := shredOne(sh, b); err != nil {
					workerErr = err
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	workerWG.Wait()
	producerWG.Wait()

	if workerErr != nil {
		return workerErr
	}
	return producerErr
}

func shredOne(sh *shred.Shredder, b []byte) error {
	dec := shred.NewDecoder(bytes.NewReader(b))
	doc, err := shred.DecodeValue(dec)
	if err != nil {
		return flattab.ParseErrorf("document", "decoding document: %v", err)
	}
	return sh.ShredDocument(doc)
}
