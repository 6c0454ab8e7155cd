// Package pool maintains a bounded in-memory working set of samples that a
// background loader continuously refreshes from a much larger, slow-to-read
// backing store, without blocking readers.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/TFMV/fieldgraph"
)

// Dataset is any backing collection of samples addressable by index.
type Dataset interface {
	// Len returns the number of samples in the collection.
	Len() int

	// At loads the sample at index i. Loading may be slow; a corrupt
	// record propagates as an error with no retry.
	At(i int) (*fieldgraph.Sample, error)
}

// Config holds the knobs for a rotating pool.
type Config struct {
	// Size is the fixed pool capacity.
	Size int

	// HandoffDepth bounds the producer-to-transfer queue; it is the
	// backpressure limiting how far the loader runs ahead of the pool.
	HandoffDepth int

	// OnError receives per-sample load errors. The pool skips the failed
	// sample and keeps rotating; retry policy belongs to the caller.
	// Defaults to logging via Logger.
	OnError func(error)

	// Logger receives progress and error logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Seed seeds the permutation source. Zero means a random seed.
	Seed int64
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:         20,
		HandoffDepth: 2,
	}
}

// RotatingPool is a fixed-capacity array of fully-loaded samples backed by a
// background producer that perpetually cycles a random permutation of the
// full dataset into the pool. Slots are overwritten in round-robin order;
// the mapping from slot to dataset identity changes continuously and is not
// tracked. Each slot holds an atomic sample pointer, so a reader always sees
// a complete sample, never a partial overwrite.
type RotatingPool struct {
	dataset Dataset
	cfg     Config
	slots   []atomic.Pointer[fieldgraph.Sample]
	handoff chan *fieldgraph.Sample

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a pool and synchronously seeds every slot with a random
// dataset sample, so readers see real data before Start is called.
func New(dataset Dataset, cfg Config) (*RotatingPool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.Size)
	}
	if dataset.Len() == 0 {
		return nil, fmt.Errorf("dataset is empty")
	}
	if cfg.HandoffDepth <= 0 {
		cfg.HandoffDepth = DefaultConfig().HandoffDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnError == nil {
		log := cfg.Logger
		cfg.OnError = func(err error) {
			log.Error("rotating pool load failed", "error", err)
		}
	}

	p := &RotatingPool{
		dataset: dataset,
		cfg:     cfg,
		slots:   make([]atomic.Pointer[fieldgraph.Sample], cfg.Size),
		handoff: make(chan *fieldgraph.Sample, cfg.HandoffDepth),
	}

	cfg.Logger.Debug("filling rotating data pool", "size", cfg.Size)
	rng := newRand(cfg.Seed)
	for i := range p.slots {
		sample, err := dataset.At(rng.Intn(dataset.Len()))
		if err != nil {
			return nil, fmt.Errorf("seeding pool slot %d: %w", i, err)
		}
		p.slots[i].Store(sample)
	}
	return p, nil
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewSource(rand.Int63()))
	}
	return rand.New(rand.NewSource(seed))
}

// Start launches the background producer and transfer loops. Both are bound
// to the context and also stop on Stop.
func (p *RotatingPool) Start(ctx context.Context) error {
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.producer(ctx)
	go p.transfer(ctx)
	return nil
}

// producer perpetually loads fresh random permutations of the dataset into
// the handoff queue. The bounded queue is the only backpressure mechanism.
func (p *RotatingPool) producer(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.handoff)

	rng := newRand(p.cfg.Seed)
	for {
		for _, i := range rng.Perm(p.dataset.Len()) {
			if ctx.Err() != nil {
				return
			}
			sample, err := p.dataset.At(i)
			if err != nil {
				p.cfg.OnError(fmt.Errorf("loading sample %d: %w", i, err))
				continue
			}
			select {
			case p.handoff <- sample:
			case <-ctx.Done():
				return
			}
		}
	}
}

// transfer drains the handoff queue into the pool, overwriting slots in
// fixed round-robin order.
func (p *RotatingPool) transfer(ctx context.Context) {
	defer p.wg.Done()

	slot := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-p.handoff:
			if !ok {
				return
			}
			p.slots[slot].Store(sample)
			slot = (slot + 1) % len(p.slots)
		}
	}
}

// Stop cancels the background loops and waits for them to exit.
func (p *RotatingPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Len returns the fixed pool capacity.
func (p *RotatingPool) Len() int {
	return len(p.slots)
}

// Get returns whatever sample currently occupies slot i. The slot's dataset
// identity rotates continuously; over many reads every dataset item appears
// with uniform probability.
func (p *RotatingPool) Get(i int) *fieldgraph.Sample {
	return p.slots[i].Load()
}

// BufferDataset is a Dataset wrapper that loads every sample into memory up
// front, for datasets small enough to hold resident.
type BufferDataset struct {
	samples []*fieldgraph.Sample
}

// NewBuffer eagerly loads all of ds into memory.
func NewBuffer(ds Dataset) (*BufferDataset, error) {
	samples := make([]*fieldgraph.Sample, ds.Len())
	for i := range samples {
		s, err := ds.At(i)
		if err != nil {
			return nil, fmt.Errorf("buffering sample %d: %w", i, err)
		}
		samples[i] = s
	}
	return &BufferDataset{samples: samples}, nil
}

// Len implements Dataset.
func (b *BufferDataset) Len() int {
	return len(b.samples)
}

// At implements Dataset.
func (b *BufferDataset) At(i int) (*fieldgraph.Sample, error) {
	if i < 0 || i >= len(b.samples) {
		return nil, fmt.Errorf("index %d out of range [0,%d)", i, len(b.samples))
	}
	return b.samples[i], nil
}
