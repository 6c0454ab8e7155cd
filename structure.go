// Package fieldgraph builds spatial neighbor graphs from atomic structures
// and volumetric scalar fields, and packs them into batches for a downstream
// learned model.
package fieldgraph

import (
	"fmt"
)

// Vec3 is a 3D position or displacement in Cartesian coordinates (Å).
type Vec3 [3]float64

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]}
}

// Scale returns v scaled by f.
func (v Vec3) Scale(f float64) Vec3 {
	return Vec3{v[0] * f, v[1] * f, v[2] * f}
}

// Cell is a 3x3 lattice matrix whose rows are the lattice vectors.
// A fractional coordinate f maps to Cartesian space as f·Cell.
type Cell [3]Vec3

// Lengths returns the Euclidean length of each lattice vector.
func (c Cell) Lengths() [3]float64 {
	return [3]float64{Norm(c[0]), Norm(c[1]), Norm(c[2])}
}

// Cartesian converts a fractional coordinate to Cartesian space.
func (c Cell) Cartesian(f Vec3) Vec3 {
	return c[0].Scale(f[0]).Add(c[1].Scale(f[1])).Add(c[2].Scale(f[2]))
}

// Inverse returns the matrix inverse of the cell. It fails for a
// degenerate (near-singular) cell.
func (c Cell) Inverse() (Cell, error) {
	// Cofactor expansion of the 3x3 inverse.
	a, b, d := c[0], c[1], c[2]
	cof0 := Vec3{
		b[1]*d[2] - b[2]*d[1],
		b[2]*d[0] - b[0]*d[2],
		b[0]*d[1] - b[1]*d[0],
	}
	det := a[0]*cof0[0] + a[1]*cof0[1] + a[2]*cof0[2]
	if det < 1e-12 && det > -1e-12 {
		return Cell{}, fmt.Errorf("cell is singular (det=%g)", det)
	}
	cof1 := Vec3{
		d[1]*a[2] - d[2]*a[1],
		d[2]*a[0] - d[0]*a[2],
		d[0]*a[1] - d[1]*a[0],
	}
	cof2 := Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
	inv := 1.0 / det
	// The cofactor columns become the rows of the transposed adjugate.
	return Cell{
		Vec3{cof0[0] * inv, cof1[0] * inv, cof2[0] * inv},
		Vec3{cof0[1] * inv, cof1[1] * inv, cof2[1] * inv},
		Vec3{cof0[2] * inv, cof1[2] * inv, cof2[2] * inv},
	}, nil
}

// AtomicStructure is an ordered set of atoms with an optional periodic cell.
// It is immutable once loaded; callers that need different periodicity flags
// work on a clone.
type AtomicStructure struct {
	// Species holds one integer species code per atom.
	Species []int32

	// Positions holds the Cartesian position of each atom.
	Positions []Vec3

	// Cell is the lattice matrix shared with the structure's scalar field.
	Cell Cell

	// PBC flags periodic wraparound per lattice axis.
	PBC [3]bool
}

// Len returns the number of atoms.
func (s *AtomicStructure) Len() int {
	return len(s.Species)
}

// Periodic reports whether any axis is periodic.
func (s *AtomicStructure) Periodic() bool {
	return s.PBC[0] || s.PBC[1] || s.PBC[2]
}

// Clone returns a deep copy of the structure.
func (s *AtomicStructure) Clone() *AtomicStructure {
	out := &AtomicStructure{
		Species:   make([]int32, len(s.Species)),
		Positions: make([]Vec3, len(s.Positions)),
		Cell:      s.Cell,
		PBC:       s.PBC,
	}
	copy(out.Species, s.Species)
	copy(out.Positions, s.Positions)
	return out
}

// WithoutPBC returns a clone of the structure with periodicity disabled on
// all axes, for callers that force non-periodic treatment.
func (s *AtomicStructure) WithoutPBC() *AtomicStructure {
	out := s.Clone()
	out.PBC = [3]bool{false, false, false}
	return out
}

// Validate checks the internal consistency of the structure.
func (s *AtomicStructure) Validate() error {
	if len(s.Species) != len(s.Positions) {
		return fmt.Errorf("species count (%d) does not match position count (%d)",
			len(s.Species), len(s.Positions))
	}
	return nil
}
