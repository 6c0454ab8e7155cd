// Package grid streams the probe grid of one structure through a fixed
// worker pool as ordered slices, without materializing all edges at once.
package grid

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/TFMV/fieldgraph"
)

// Config holds the knobs for a grid iteration.
type Config struct {
	// Workers is the number of slice workers.
	Workers int

	// ProbesPerSlice is the number of grid points per work unit.
	ProbesPerSlice int

	// Cutoff is the maximum edge distance in Å.
	Cutoff float64

	// ResultBuffer bounds how many finished slices may wait for delivery,
	// which in turn bounds how far workers can run ahead of the consumer.
	ResultBuffer int

	// IgnorePBC forces non-periodic treatment of the structure.
	IgnorePBC bool

	// Logger receives soft-degrade warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default grid iteration configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        6,
		ProbesPerSlice: 5000,
		Cutoff:         5.0,
		ResultBuffer:   100,
	}
}

// computeFunc computes one slice. Swappable in tests.
type computeFunc func(k int, s *fieldgraph.AtomicStructure, field *fieldgraph.ScalarField,
	probesPerSlice int, cutoff float64, index fieldgraph.NeighborIndex) (*fieldgraph.SliceResult, error)

// sliceResult pairs a slice id with its outcome. Worker errors travel
// in-band so the consumer fails fast instead of stalling on a missing id.
type sliceResult struct {
	id  int
	res *fieldgraph.SliceResult
	err error
}

// Iterator distributes slice ids across a worker pool and re-emits finished
// slices to the consumer strictly in index order, despite nondeterministic
// worker completion order.
type Iterator struct {
	structure *fieldgraph.AtomicStructure
	field     *fieldgraph.ScalarField
	cfg       Config
	numSlices int

	work    chan int
	results chan sliceResult
	pending map[int]*fieldgraph.SliceResult
	next    int

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	compute computeFunc
	started bool
}

// New prepares an iterator over the sample's full probe grid. Call Start
// before Next.
func New(sample *fieldgraph.Sample, cfg Config) (*Iterator, error) {
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sample: %w", err)
	}
	if cfg.Workers <= 0 || cfg.ProbesPerSlice <= 0 {
		return nil, fmt.Errorf("workers and probes per slice must be positive")
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = DefaultConfig().ResultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := sample.Structure
	if cfg.IgnorePBC {
		s = s.WithoutPBC()
	}
	return &Iterator{
		structure: s,
		field:     sample.Field,
		cfg:       cfg,
		numSlices: fieldgraph.NumSlices(sample.Field.NumPoints(), cfg.ProbesPerSlice),
		pending:   make(map[int]*fieldgraph.SliceResult),
		compute:   fieldgraph.ComputeSlice,
	}, nil
}

// NumSlices returns how many slices the iteration will deliver.
func (it *Iterator) NumSlices() int {
	return it.numSlices
}

// Start preloads all slice ids and launches the worker pool. The workers are
// bound to the context: cancelling it stops the iteration.
func (it *Iterator) Start(ctx context.Context) error {
	if it.started {
		return fmt.Errorf("iterator already started")
	}
	it.started = true

	ctx, it.cancel = context.WithCancel(ctx)
	it.work = make(chan int, it.numSlices)
	it.results = make(chan sliceResult, it.cfg.ResultBuffer)
	for k := 0; k < it.numSlices; k++ {
		it.work <- k
	}
	close(it.work)

	it.wg.Add(it.cfg.Workers)
	for w := 0; w < it.cfg.Workers; w++ {
		go it.worker(ctx)
	}
	// Once every worker has drained its share of the queue, close the
	// result channel so a waiting consumer cannot block forever.
	go func() {
		it.wg.Wait()
		close(it.results)
	}()
	return nil
}

// worker builds its own neighbor index once, then computes slices until the
// work queue is drained or the context is cancelled. An index build failure
// degrades to per-slice fallback construction rather than failing the run.
func (it *Iterator) worker(ctx context.Context) {
	defer it.wg.Done()

	var index fieldgraph.NeighborIndex
	if !fieldgraph.NeedsFallback(it.structure, it.cfg.Cutoff) {
		var err error
		index, err = fieldgraph.NewCellListIndex(it.structure, it.cfg.Cutoff)
		if err != nil {
			it.cfg.Logger.Warn("failed to build cell-list index, slice computation may be slow",
				"error", err)
			index = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-it.work:
			if !ok {
				return
			}
			res, err := it.compute(k, it.structure, it.field, it.cfg.ProbesPerSlice, it.cfg.Cutoff, index)
			select {
			case it.results <- sliceResult{id: k, res: res, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Next returns the next slice in strictly increasing index order, buffering
// out-of-order completions until the expected id arrives. It returns io.EOF
// after the last slice, once all workers have finished. A worker-side error
// cancels the iteration and is returned immediately.
func (it *Iterator) Next() (*fieldgraph.SliceResult, error) {
	if !it.started {
		return nil, fmt.Errorf("iterator not started")
	}
	for {
		if res, ok := it.pending[it.next]; ok {
			delete(it.pending, it.next)
			it.next++
			return res, nil
		}
		if it.next >= it.numSlices {
			it.wg.Wait()
			return nil, io.EOF
		}
		r, ok := <-it.results
		if !ok {
			return nil, fmt.Errorf("workers exited before delivering slice %d", it.next)
		}
		if r.err != nil {
			it.cancel()
			return nil, fmt.Errorf("slice %d failed: %w", r.id, r.err)
		}
		it.pending[r.id] = r.res
	}
}

// Close cancels any remaining work and waits for the workers to exit. It is
// safe to call at any point, including mid-iteration.
func (it *Iterator) Close() error {
	if it.cancel != nil {
		it.cancel()
	}
	if it.started {
		// Drain so workers blocked on the result channel can exit.
		for range it.results {
		}
		it.wg.Wait()
	}
	return nil
}
