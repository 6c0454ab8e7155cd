package fieldgraph

import (
	"fmt"
)

// ScalarField is a 3D grid of scalar values sampled over the volume spanned
// by a structure's cell. Grid point (i,j,k) maps to the physical position
// origin + cell·(i/nx, j/ny, k/nz). The shape is fixed for the lifetime of
// the sample.
type ScalarField struct {
	// Data holds the grid values in row-major (i,j,k) order.
	Data []float32

	// Shape is the grid point count per axis.
	Shape [3]int

	// Origin is the physical position of grid point (0,0,0).
	Origin Vec3

	// Cell is the lattice matrix shared with the associated structure.
	Cell Cell
}

// NumPoints returns the total number of grid points.
func (f *ScalarField) NumPoints() int {
	return f.Shape[0] * f.Shape[1] * f.Shape[2]
}

// Unravel converts a row-major flat index to grid coordinates.
func (f *ScalarField) Unravel(flat int) (i, j, k int) {
	k = flat % f.Shape[2]
	flat /= f.Shape[2]
	j = flat % f.Shape[1]
	i = flat / f.Shape[1]
	return i, j, k
}

// GridPosition returns the physical position of grid point (i,j,k).
func (f *ScalarField) GridPosition(i, j, k int) Vec3 {
	frac := Vec3{
		float64(i) / float64(f.Shape[0]),
		float64(j) / float64(f.Shape[1]),
		float64(k) / float64(f.Shape[2]),
	}
	return f.Origin.Add(f.Cell.Cartesian(frac))
}

// PositionAt returns the physical position of the grid point at a row-major
// flat index.
func (f *ScalarField) PositionAt(flat int) Vec3 {
	i, j, k := f.Unravel(flat)
	return f.GridPosition(i, j, k)
}

// At returns the field value at a row-major flat index.
func (f *ScalarField) At(flat int) float32 {
	return f.Data[flat]
}

// Validate checks that the data length matches the declared shape.
func (f *ScalarField) Validate() error {
	if f.Shape[0] <= 0 || f.Shape[1] <= 0 || f.Shape[2] <= 0 {
		return fmt.Errorf("invalid field shape %v", f.Shape)
	}
	if len(f.Data) != f.NumPoints() {
		return fmt.Errorf("field data length %d does not match shape %v (%d points)",
			len(f.Data), f.Shape, f.NumPoints())
	}
	return nil
}

// Metadata carries descriptive information about a sample's origin.
type Metadata struct {
	// SourceName is the backing-store member name the sample was read from.
	SourceName string
}

// Sample is one fully-loaded dataset record: a scalar field, its structure,
// and where it came from.
type Sample struct {
	Field     *ScalarField
	Structure *AtomicStructure
	Origin    Vec3
	Metadata  Metadata
}

// Validate checks the internal consistency of the sample.
func (s *Sample) Validate() error {
	if s.Field == nil || s.Structure == nil {
		return fmt.Errorf("sample is missing field or structure")
	}
	if err := s.Field.Validate(); err != nil {
		return err
	}
	return s.Structure.Validate()
}
