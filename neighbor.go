package fieldgraph

import (
	"errors"
	"fmt"
	"math"
)

// ErrCutoffMismatch is returned when an index is queried with a cutoff other
// than the one it was built with. An index is valid for exactly one cutoff.
var ErrCutoffMismatch = errors.New("cutoff differs from the one the index was built with")

// degenerateCellLength is the lattice-vector length below which a cell is
// treated as degenerate and the pairwise fallback index is used.
const degenerateCellLength = 1e-4

// NeighborIndex answers which atoms lie within a cutoff radius of an atom.
// An index is built once per structure and reused for all queries against it;
// rebuilding per query is too slow for high slice counts.
type NeighborIndex interface {
	// Neighbors returns the neighbor atom indices of atom i, the relative
	// vector from atom i to each neighbor image, and the squared distances.
	// Self-interaction is excluded; periodic images of atom i itself are not.
	Neighbors(i int, cutoff float64) (indices []int32, rel []Vec3, dist2 []float64, err error)

	// Cutoff returns the cutoff the index was built with.
	Cutoff() float64
}

// PointQuerier is implemented by indexes that support batched neighbor
// queries for free points that are not part of the structure.
type PointQuerier interface {
	// QueryPoints returns, for each query point, the atom indices within
	// cutoff, the relative vectors from the point to each atom image, and
	// the squared distances.
	QueryPoints(points []Vec3, cutoff float64) (indices [][]int32, rel [][]Vec3, dist2 [][]float64, err error)
}

// NeedsFallback reports whether the structure must use the pairwise fallback
// index: the cell is degenerate, or periodicity is requested with a lattice
// vector shorter than the cutoff, where the cell-list periodicity math is
// unreliable. Do not change these thresholds without domain input.
func NeedsFallback(s *AtomicStructure, cutoff float64) bool {
	lengths := s.Cell.Lengths()
	for _, l := range lengths {
		if l <= degenerateCellLength {
			return true
		}
	}
	if s.Periodic() {
		for _, l := range lengths {
			if l < cutoff {
				return true
			}
		}
	}
	return false
}

// NewNeighborIndex builds the appropriate index for the structure: the
// cell-list index when its periodicity assumptions hold, the pairwise
// fallback otherwise. The selection is made once per structure.
func NewNeighborIndex(s *AtomicStructure, cutoff float64) (NeighborIndex, error) {
	if NeedsFallback(s, cutoff) {
		return NewBruteForceIndex(s, cutoff)
	}
	return NewCellListIndex(s, cutoff)
}

// wrapPoint maps a Cartesian point to the image with fractional coordinates
// in [0,1) along the periodic axes.
func wrapPoint(cell, inv Cell, pbc [3]bool, p Vec3) Vec3 {
	f := inv.Cartesian(p)
	for a := 0; a < 3; a++ {
		if pbc[a] {
			f[a] -= math.Floor(f[a])
		}
	}
	return cell.Cartesian(f)
}

// wrapPositions returns atom positions with fractional coordinates wrapped
// into [0,1) along periodic axes. Non-periodic axes and structures with a
// non-invertible cell are left untouched.
func wrapPositions(s *AtomicStructure) []Vec3 {
	if !s.Periodic() {
		return s.Positions
	}
	inv, err := s.Cell.Inverse()
	if err != nil {
		return s.Positions
	}
	out := make([]Vec3, len(s.Positions))
	for i, p := range s.Positions {
		out[i] = wrapPoint(s.Cell, inv, s.PBC, p)
	}
	return out
}

// cellEntry is one stored position in the cell list: a real atom or a
// periodic ghost image of one.
type cellEntry struct {
	src int32
	pos Vec3
}

// CellListIndex is the fast neighbor index: atoms (plus one shell of
// periodic ghost images) are binned into a uniform Cartesian grid with bin
// edge equal to the cutoff, so a query only visits adjacent bins. It also
// supports batched free-point queries for probe positions.
type CellListIndex struct {
	cutoff  float64
	wrapped []Vec3
	entries []cellEntry

	cell Cell
	pbc  [3]bool
	inv  Cell
	wrap bool

	bins      map[[3]int][]int32
	minCorner Vec3
	minBin    [3]int
	maxBin    [3]int
}

// NewCellListIndex builds a cell-list index over the structure. It fails when
// the structure needs the pairwise fallback (degenerate cell, or periodic
// with a lattice vector shorter than the cutoff).
func NewCellListIndex(s *AtomicStructure, cutoff float64) (*CellListIndex, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("cutoff must be positive, got %g", cutoff)
	}
	if NeedsFallback(s, cutoff) {
		return nil, fmt.Errorf("structure requires the pairwise fallback index (degenerate cell or periodic axis shorter than cutoff %g)", cutoff)
	}

	wrapped := wrapPositions(s)
	idx := &CellListIndex{
		cutoff:  cutoff,
		wrapped: wrapped,
		cell:    s.Cell,
		pbc:     s.PBC,
		bins:    make(map[[3]int][]int32),
	}
	if s.Periodic() {
		if inv, err := s.Cell.Inverse(); err == nil {
			idx.inv = inv
			idx.wrap = true
		}
	}

	// One shell of ghost images per periodic axis. The fallback predicate
	// guarantees a single shell covers every image within the cutoff.
	var axisShifts [3][]float64
	for a := 0; a < 3; a++ {
		if s.PBC[a] {
			axisShifts[a] = []float64{-1, 0, 1}
		} else {
			axisShifts[a] = []float64{0}
		}
	}
	for i, p := range wrapped {
		for _, sa := range axisShifts[0] {
			for _, sb := range axisShifts[1] {
				for _, sc := range axisShifts[2] {
					pos := p.Add(s.Cell.Cartesian(Vec3{sa, sb, sc}))
					idx.entries = append(idx.entries, cellEntry{src: int32(i), pos: pos})
				}
			}
		}
	}

	if len(idx.entries) > 0 {
		min := idx.entries[0].pos
		for _, e := range idx.entries[1:] {
			for a := 0; a < 3; a++ {
				if e.pos[a] < min[a] {
					min[a] = e.pos[a]
				}
			}
		}
		idx.minCorner = min
	}
	for n, e := range idx.entries {
		b := idx.binOf(e.pos)
		idx.bins[b] = append(idx.bins[b], int32(n))
		if n == 0 {
			idx.minBin, idx.maxBin = b, b
			continue
		}
		for a := 0; a < 3; a++ {
			if b[a] < idx.minBin[a] {
				idx.minBin[a] = b[a]
			}
			if b[a] > idx.maxBin[a] {
				idx.maxBin[a] = b[a]
			}
		}
	}
	return idx, nil
}

// Cutoff returns the cutoff the index was built with.
func (c *CellListIndex) Cutoff() float64 {
	return c.cutoff
}

func (c *CellListIndex) binOf(p Vec3) [3]int {
	return [3]int{
		int(math.Floor((p[0] - c.minCorner[0]) / c.cutoff)),
		int(math.Floor((p[1] - c.minCorner[1]) / c.cutoff)),
		int(math.Floor((p[2] - c.minCorner[2]) / c.cutoff)),
	}
}

// queryPoint gathers all entries within cutoff of q. The exclude index skips
// the query atom's own zero-shift entry; pass a negative value for free
// points.
func (c *CellListIndex) queryPoint(q Vec3, exclude int32) ([]int32, []Vec3, []float64) {
	indices := []int32{}
	rel := []Vec3{}
	dist2 := []float64{}

	cutoff2 := c.cutoff * c.cutoff
	lo := c.binOf(Vec3{q[0] - c.cutoff, q[1] - c.cutoff, q[2] - c.cutoff})
	hi := c.binOf(Vec3{q[0] + c.cutoff, q[1] + c.cutoff, q[2] + c.cutoff})
	for a := 0; a < 3; a++ {
		if lo[a] < c.minBin[a] {
			lo[a] = c.minBin[a]
		}
		if hi[a] > c.maxBin[a] {
			hi[a] = c.maxBin[a]
		}
	}
	for bx := lo[0]; bx <= hi[0]; bx++ {
		for by := lo[1]; by <= hi[1]; by++ {
			for bz := lo[2]; bz <= hi[2]; bz++ {
				for _, n := range c.bins[[3]int{bx, by, bz}] {
					e := c.entries[n]
					d2 := SquaredDistance(e.pos, q)
					if d2 > cutoff2 {
						continue
					}
					if e.src == exclude && d2 < 1e-18 {
						// The atom's own zero-shift entry.
						continue
					}
					indices = append(indices, e.src)
					rel = append(rel, e.pos.Sub(q))
					dist2 = append(dist2, d2)
				}
			}
		}
	}
	return indices, rel, dist2
}

// Neighbors implements NeighborIndex.
func (c *CellListIndex) Neighbors(i int, cutoff float64) ([]int32, []Vec3, []float64, error) {
	if cutoff != c.cutoff {
		return nil, nil, nil, fmt.Errorf("query cutoff %g: %w", cutoff, ErrCutoffMismatch)
	}
	indices, rel, dist2 := c.queryPoint(c.wrapped[i], int32(i))
	return indices, rel, dist2, nil
}

// QueryPoints implements PointQuerier. Each point is first reduced to its
// periodic image inside the cell, so points far outside the wrapped atom box
// still see every neighbor; relative vectors are taken from that image, as
// they are for the wrapped atoms themselves.
func (c *CellListIndex) QueryPoints(points []Vec3, cutoff float64) ([][]int32, [][]Vec3, [][]float64, error) {
	if cutoff != c.cutoff {
		return nil, nil, nil, fmt.Errorf("query cutoff %g: %w", cutoff, ErrCutoffMismatch)
	}
	indices := make([][]int32, len(points))
	rel := make([][]Vec3, len(points))
	dist2 := make([][]float64, len(points))
	for p, q := range points {
		if c.wrap {
			q = wrapPoint(c.cell, c.inv, c.pbc, q)
		}
		indices[p], rel[p], dist2[p] = c.queryPoint(q, -1)
	}
	return indices, rel, dist2, nil
}

// BruteForceIndex is the fallback neighbor index: an exhaustive pairwise scan
// over all atom pairs and the lattice shifts needed to cover the cutoff. It
// is correct for any cell, including degenerate and sub-cutoff periodic
// cells, at O(n²) build cost. Neighbor lists are built both ways with no
// skin, so every pair within cutoff appears in both atoms' lists.
type BruteForceIndex struct {
	cutoff    float64
	neighbors [][]int32
	relpos    [][]Vec3
	dist2     [][]float64
}

// latticeShift is an integer lattice translation and its Cartesian vector.
type latticeShift struct {
	n [3]int
	v Vec3
}

// latticeShifts enumerates every lattice translation that can bring an image
// within the cutoff: per periodic axis, ceil(cutoff·|g|) repetitions where g
// is the reciprocal vector (plane spacing 1/|g|). Non-periodic axes and
// non-invertible cells contribute no shifts.
func latticeShifts(s *AtomicStructure, cutoff float64) []latticeShift {
	var reach [3]int
	if s.Periodic() {
		if inv, err := s.Cell.Inverse(); err == nil {
			for a := 0; a < 3; a++ {
				if !s.PBC[a] {
					continue
				}
				g := Vec3{inv[0][a], inv[1][a], inv[2][a]}
				reach[a] = int(math.Ceil(cutoff * Norm(g)))
			}
		}
	}
	shifts := []latticeShift{}
	for sa := -reach[0]; sa <= reach[0]; sa++ {
		for sb := -reach[1]; sb <= reach[1]; sb++ {
			for sc := -reach[2]; sc <= reach[2]; sc++ {
				shifts = append(shifts, latticeShift{
					n: [3]int{sa, sb, sc},
					v: s.Cell.Cartesian(Vec3{float64(sa), float64(sb), float64(sc)}),
				})
			}
		}
	}
	return shifts
}

// positive reports whether the shift is lexicographically positive, used to
// visit each self-image pair once.
func (ls latticeShift) positive() bool {
	if ls.n[0] != 0 {
		return ls.n[0] > 0
	}
	if ls.n[1] != 0 {
		return ls.n[1] > 0
	}
	return ls.n[2] > 0
}

// NewBruteForceIndex builds the fallback index over the structure.
func NewBruteForceIndex(s *AtomicStructure, cutoff float64) (*BruteForceIndex, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("cutoff must be positive, got %g", cutoff)
	}
	n := s.Len()
	idx := &BruteForceIndex{
		cutoff:    cutoff,
		neighbors: make([][]int32, n),
		relpos:    make([][]Vec3, n),
		dist2:     make([][]float64, n),
	}
	for i := 0; i < n; i++ {
		idx.neighbors[i] = []int32{}
		idx.relpos[i] = []Vec3{}
		idx.dist2[i] = []float64{}
	}

	wrapped := wrapPositions(s)
	shifts := latticeShifts(s, cutoff)
	cutoff2 := cutoff * cutoff
	add := func(i, j int, rel Vec3, d2 float64) {
		idx.neighbors[i] = append(idx.neighbors[i], int32(j))
		idx.relpos[i] = append(idx.relpos[i], rel)
		idx.dist2[i] = append(idx.dist2[i], d2)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			for _, sh := range shifts {
				if i == j && !sh.positive() {
					// Self pairs: visit each image once, mirror below.
					continue
				}
				rel := wrapped[j].Add(sh.v).Sub(wrapped[i])
				d2 := Dot(rel, rel)
				if d2 > cutoff2 {
					continue
				}
				add(i, j, rel, d2)
				add(j, i, rel.Scale(-1), d2)
			}
		}
	}
	return idx, nil
}

// Cutoff returns the cutoff the index was built with.
func (b *BruteForceIndex) Cutoff() float64 {
	return b.cutoff
}

// Neighbors implements NeighborIndex.
func (b *BruteForceIndex) Neighbors(i int, cutoff float64) ([]int32, []Vec3, []float64, error) {
	if cutoff != b.cutoff {
		return nil, nil, nil, fmt.Errorf("query cutoff %g: %w", cutoff, ErrCutoffMismatch)
	}
	return b.neighbors[i], b.relpos[i], b.dist2[i], nil
}
