// Package arrowio serializes samples and full-grid prediction output in the
// Arrow columnar format.
package arrowio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/TFMV/fieldgraph"
)

// SampleSchema returns the Arrow schema for one serialized sample: a single
// row whose list columns carry the flattened structure and field arrays.
func SampleSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "species", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
			{Name: "positions", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
			{Name: "cell", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
			{Name: "pbc", Type: arrow.ListOf(arrow.FixedWidthTypes.Boolean)},
			{Name: "origin", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64)},
			{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
			{Name: "values", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
			{Name: "source", Type: arrow.BinaryTypes.String},
		},
		nil,
	)
}

// EncodeSample serializes a sample to an Arrow IPC file held in memory.
func EncodeSample(sample *fieldgraph.Sample) ([]byte, error) {
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sample: %w", err)
	}
	alloc := memory.NewGoAllocator()
	schema := SampleSchema()
	b := array.NewRecordBuilder(alloc, schema)
	defer b.Release()

	s := sample.Structure
	f := sample.Field

	appendInt32List(b.Field(0).(*array.ListBuilder), s.Species)
	positions := make([]float64, 0, 3*len(s.Positions))
	for _, p := range s.Positions {
		positions = append(positions, p[0], p[1], p[2])
	}
	appendFloat64List(b.Field(1).(*array.ListBuilder), positions)
	appendFloat64List(b.Field(2).(*array.ListBuilder), []float64{
		s.Cell[0][0], s.Cell[0][1], s.Cell[0][2],
		s.Cell[1][0], s.Cell[1][1], s.Cell[1][2],
		s.Cell[2][0], s.Cell[2][1], s.Cell[2][2],
	})
	appendBoolList(b.Field(3).(*array.ListBuilder), s.PBC[:])
	appendFloat64List(b.Field(4).(*array.ListBuilder), sample.Origin[:])
	appendInt32List(b.Field(5).(*array.ListBuilder), []int32{
		int32(f.Shape[0]), int32(f.Shape[1]), int32(f.Shape[2]),
	})
	appendFloat32List(b.Field(6).(*array.ListBuilder), f.Data)
	b.Field(7).(*array.StringBuilder).Append(sample.Metadata.SourceName)

	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := ipc.NewFileWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(alloc))
	if err != nil {
		return nil, fmt.Errorf("creating IPC writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		return nil, fmt.Errorf("writing sample record: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing IPC file: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSample deserializes a sample previously written by EncodeSample.
func DecodeSample(data []byte) (*fieldgraph.Sample, error) {
	r, err := ipc.NewFileReader(bytes.NewReader(data), ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("opening IPC file: %w", err)
	}
	defer r.Close()

	rec, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("sample file contains no records")
		}
		return nil, fmt.Errorf("reading sample record: %w", err)
	}
	if rec.NumRows() != 1 {
		return nil, fmt.Errorf("sample record must have exactly one row, got %d", rec.NumRows())
	}

	species, err := int32List(rec.Column(0), 0)
	if err != nil {
		return nil, fmt.Errorf("species: %w", err)
	}
	flatPos, err := float64List(rec.Column(1), 0)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if len(flatPos) != 3*len(species) {
		return nil, fmt.Errorf("position count %d does not match %d atoms", len(flatPos), len(species))
	}
	cellVals, err := float64List(rec.Column(2), 0)
	if err != nil {
		return nil, fmt.Errorf("cell: %w", err)
	}
	if len(cellVals) != 9 {
		return nil, fmt.Errorf("cell must have 9 entries, got %d", len(cellVals))
	}
	pbc, err := boolList(rec.Column(3), 0)
	if err != nil {
		return nil, fmt.Errorf("pbc: %w", err)
	}
	if len(pbc) != 3 {
		return nil, fmt.Errorf("pbc must have 3 entries, got %d", len(pbc))
	}
	origin, err := float64List(rec.Column(4), 0)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	if len(origin) != 3 {
		return nil, fmt.Errorf("origin must have 3 entries, got %d", len(origin))
	}
	shape, err := int32List(rec.Column(5), 0)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("shape must have 3 entries, got %d", len(shape))
	}
	values, err := float32List(rec.Column(6), 0)
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	source := rec.Column(7).(*array.String).Value(0)

	positions := make([]fieldgraph.Vec3, len(species))
	for i := range positions {
		positions[i] = fieldgraph.Vec3{flatPos[3*i], flatPos[3*i+1], flatPos[3*i+2]}
	}
	cell := fieldgraph.Cell{
		{cellVals[0], cellVals[1], cellVals[2]},
		{cellVals[3], cellVals[4], cellVals[5]},
		{cellVals[6], cellVals[7], cellVals[8]},
	}
	originVec := fieldgraph.Vec3{origin[0], origin[1], origin[2]}

	sample := &fieldgraph.Sample{
		Structure: &fieldgraph.AtomicStructure{
			Species:   species,
			Positions: positions,
			Cell:      cell,
			PBC:       [3]bool{pbc[0], pbc[1], pbc[2]},
		},
		Field: &fieldgraph.ScalarField{
			Data:   values,
			Shape:  [3]int{int(shape[0]), int(shape[1]), int(shape[2])},
			Origin: originVec,
			Cell:   cell,
		},
		Origin:   originVec,
		Metadata: fieldgraph.Metadata{SourceName: source},
	}
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("decoded sample: %w", err)
	}
	return sample, nil
}

func appendInt32List(lb *array.ListBuilder, vals []int32) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Int32Builder).AppendValues(vals, nil)
}

func appendFloat64List(lb *array.ListBuilder, vals []float64) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Float64Builder).AppendValues(vals, nil)
}

func appendFloat32List(lb *array.ListBuilder, vals []float32) {
	lb.Append(true)
	lb.ValueBuilder().(*array.Float32Builder).AppendValues(vals, nil)
}

func appendBoolList(lb *array.ListBuilder, vals []bool) {
	lb.Append(true)
	lb.ValueBuilder().(*array.BooleanBuilder).AppendValues(vals, nil)
}

// listRange returns the value range of row idx of a list array.
func listRange(arr arrow.Array, idx int) (*array.List, int, int, error) {
	la, ok := arr.(*array.List)
	if !ok {
		return nil, 0, 0, fmt.Errorf("expected list array, got %T", arr)
	}
	if la.IsNull(idx) {
		return nil, 0, 0, fmt.Errorf("list at row %d is null", idx)
	}
	start := int(la.Offsets()[idx])
	end := int(la.Offsets()[idx+1])
	return la, start, end, nil
}

func int32List(arr arrow.Array, idx int) ([]int32, error) {
	la, start, end, err := listRange(arr, idx)
	if err != nil {
		return nil, err
	}
	values, ok := la.ListValues().(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("expected int32 list values, got %T", la.ListValues())
	}
	out := make([]int32, end-start)
	for i := range out {
		out[i] = values.Value(start + i)
	}
	return out, nil
}

func float64List(arr arrow.Array, idx int) ([]float64, error) {
	la, start, end, err := listRange(arr, idx)
	if err != nil {
		return nil, err
	}
	values, ok := la.ListValues().(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("expected float64 list values, got %T", la.ListValues())
	}
	out := make([]float64, end-start)
	for i := range out {
		out[i] = values.Value(start + i)
	}
	return out, nil
}

func float32List(arr arrow.Array, idx int) ([]float32, error) {
	la, start, end, err := listRange(arr, idx)
	if err != nil {
		return nil, err
	}
	values, ok := la.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 list values, got %T", la.ListValues())
	}
	out := make([]float32, end-start)
	for i := range out {
		out[i] = values.Value(start + i)
	}
	return out, nil
}

func boolList(arr arrow.Array, idx int) ([]bool, error) {
	la, start, end, err := listRange(arr, idx)
	if err != nil {
		return nil, err
	}
	values, ok := la.ListValues().(*array.Boolean)
	if !ok {
		return nil, fmt.Errorf("expected boolean list values, got %T", la.ListValues())
	}
	out := make([]bool, end-start)
	for i := range out {
		out[i] = values.Value(start + i)
	}
	return out, nil
}
