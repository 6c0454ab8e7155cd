package arrowio

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/renameio"
)

// GridSchema returns the Arrow schema for full-grid output: one row per grid
// point with its field target and the number of atoms within cutoff.
func GridSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "flat_index", Type: arrow.PrimitiveTypes.Int64},
			{Name: "target", Type: arrow.PrimitiveTypes.Float32},
			{Name: "edge_count", Type: arrow.PrimitiveTypes.Int32},
		},
		nil,
	)
}

// WriterConfig holds the knobs for a grid writer.
type WriterConfig struct {
	// Path is the output file location.
	Path string

	// BatchRows is how many rows accumulate before a record batch is cut.
	BatchRows int
}

// DefaultWriterConfig returns the default writer configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchRows: 64 * 1024,
	}
}

// GridWriter accumulates per-slice grid output into Arrow record batches and
// writes them as one IPC file, replacing the target path atomically on
// Close so a crashed run never leaves a truncated file behind.
type GridWriter struct {
	cfg     WriterConfig
	alloc   memory.Allocator
	schema  *arrow.Schema
	builder *array.RecordBuilder
	records []arrow.Record
	rows    int
	closed  bool
}

// NewGridWriter creates a writer targeting cfg.Path.
func NewGridWriter(cfg WriterConfig) (*GridWriter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("output path must not be empty")
	}
	if cfg.BatchRows <= 0 {
		cfg.BatchRows = DefaultWriterConfig().BatchRows
	}
	alloc := memory.NewGoAllocator()
	schema := GridSchema()
	return &GridWriter{
		cfg:     cfg,
		alloc:   alloc,
		schema:  schema,
		builder: array.NewRecordBuilder(alloc, schema),
	}, nil
}

// AppendSlice appends one slice's worth of grid points, starting at the
// given flat index. Targets and edge counts must have equal length.
func (w *GridWriter) AppendSlice(flatStart int64, targets []float32, edgeCounts []int32) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(targets) != len(edgeCounts) {
		return fmt.Errorf("target count (%d) does not match edge count length (%d)",
			len(targets), len(edgeCounts))
	}
	idxB := w.builder.Field(0).(*array.Int64Builder)
	tgtB := w.builder.Field(1).(*array.Float32Builder)
	cntB := w.builder.Field(2).(*array.Int32Builder)
	for i := range targets {
		idxB.Append(flatStart + int64(i))
		tgtB.Append(targets[i])
		cntB.Append(edgeCounts[i])
	}
	w.rows += len(targets)
	if w.rows >= w.cfg.BatchRows {
		w.cut()
	}
	return nil
}

// cut converts the accumulated builder contents into a record batch.
func (w *GridWriter) cut() {
	if w.rows == 0 {
		return
	}
	w.records = append(w.records, w.builder.NewRecord())
	w.rows = 0
}

// Close writes every accumulated record batch to an in-memory IPC file and
// atomically replaces the target path with it.
func (w *GridWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.cut()
	defer w.builder.Release()
	defer func() {
		for _, rec := range w.records {
			rec.Release()
		}
		w.records = nil
	}()

	var buf bytes.Buffer
	fw, err := ipc.NewFileWriter(&buf, ipc.WithSchema(w.schema), ipc.WithAllocator(w.alloc))
	if err != nil {
		return fmt.Errorf("creating IPC writer: %w", err)
	}
	for _, rec := range w.records {
		if err := fw.Write(rec); err != nil {
			return fmt.Errorf("writing record batch: %w", err)
		}
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("finalizing IPC file: %w", err)
	}
	if err := renameio.WriteFile(w.cfg.Path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("replacing %s: %w", w.cfg.Path, err)
	}
	return nil
}
