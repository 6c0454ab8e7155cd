package fieldgraph

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cubicStructure builds a periodic cubic cell of the given edge length with
// count atoms at deterministic random positions.
func cubicStructure(count int, edge float64, seed int64) *AtomicStructure {
	rng := rand.New(rand.NewSource(seed))
	s := &AtomicStructure{
		Species:   make([]int32, count),
		Positions: make([]Vec3, count),
		Cell: Cell{
			{edge, 0, 0},
			{0, edge, 0},
			{0, 0, edge},
		},
		PBC: [3]bool{true, true, true},
	}
	for i := range s.Positions {
		s.Species[i] = int32(1 + rng.Intn(8))
		s.Positions[i] = Vec3{
			rng.Float64() * edge,
			rng.Float64() * edge,
			rng.Float64() * edge,
		}
	}
	return s
}

// neighborSet is a sortable flattening of one atom's neighbor list.
type neighborSet struct {
	index int32
	dist2 float64
}

func sortedNeighbors(t *testing.T, idx NeighborIndex, i int, cutoff float64) []neighborSet {
	t.Helper()
	indices, _, dist2, err := idx.Neighbors(i, cutoff)
	require.NoError(t, err)
	out := make([]neighborSet, len(indices))
	for n := range indices {
		out[n] = neighborSet{index: indices[n], dist2: dist2[n]}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].index != out[b].index {
			return out[a].index < out[b].index
		}
		return out[a].dist2 < out[b].dist2
	})
	return out
}

func TestFastFallbackParity(t *testing.T) {
	// Safe regime for the cell list: periodic cell with every lattice
	// vector well above the cutoff. Both index variants must agree.
	s := cubicStructure(24, 8.0, 1)
	cutoff := 3.0

	require.False(t, NeedsFallback(s, cutoff))
	fast, err := NewCellListIndex(s, cutoff)
	require.NoError(t, err)
	fallback, err := NewBruteForceIndex(s, cutoff)
	require.NoError(t, err)

	for i := 0; i < s.Len(); i++ {
		got := sortedNeighbors(t, fast, i, cutoff)
		want := sortedNeighbors(t, fallback, i, cutoff)
		require.Equal(t, len(want), len(got), "atom %d neighbor count", i)
		for n := range want {
			assert.Equal(t, want[n].index, got[n].index, "atom %d neighbor %d", i, n)
			assert.InDelta(t, want[n].dist2, got[n].dist2, 1e-9, "atom %d neighbor %d", i, n)
		}
	}
}

func TestNonPeriodicParity(t *testing.T) {
	s := cubicStructure(16, 10.0, 2)
	s.PBC = [3]bool{false, false, false}
	cutoff := 4.0

	fast, err := NewCellListIndex(s, cutoff)
	require.NoError(t, err)
	fallback, err := NewBruteForceIndex(s, cutoff)
	require.NoError(t, err)

	for i := 0; i < s.Len(); i++ {
		require.Equal(t, sortedNeighbors(t, fallback, i, cutoff), sortedNeighbors(t, fast, i, cutoff))
	}
}

func TestCutoffMismatch(t *testing.T) {
	s := cubicStructure(4, 8.0, 3)
	idx, err := NewNeighborIndex(s, 3.0)
	require.NoError(t, err)

	_, _, _, err = idx.Neighbors(0, 2.5)
	assert.ErrorIs(t, err, ErrCutoffMismatch)

	pq := idx.(PointQuerier)
	_, _, _, err = pq.QueryPoints([]Vec3{{1, 1, 1}}, 2.5)
	assert.ErrorIs(t, err, ErrCutoffMismatch)
}

func TestNeedsFallback(t *testing.T) {
	safe := cubicStructure(4, 8.0, 4)
	assert.False(t, NeedsFallback(safe, 3.0))

	// Periodic axis shorter than the cutoff.
	short := cubicStructure(4, 8.0, 5)
	short.Cell[0] = Vec3{2.0, 0, 0}
	assert.True(t, NeedsFallback(short, 3.0))

	// Same cell is fine when nothing is periodic and nothing is degenerate.
	short.PBC = [3]bool{false, false, false}
	assert.False(t, NeedsFallback(short, 3.0))

	// Degenerate cell always falls back.
	degenerate := &AtomicStructure{
		Species:   []int32{1},
		Positions: []Vec3{{0, 0, 0}},
	}
	assert.True(t, NeedsFallback(degenerate, 3.0))
}

func TestIndexSelection(t *testing.T) {
	safe := cubicStructure(4, 8.0, 6)
	idx, err := NewNeighborIndex(safe, 3.0)
	require.NoError(t, err)
	_, isCellList := idx.(*CellListIndex)
	assert.True(t, isCellList)

	degenerate := &AtomicStructure{
		Species:   []int32{1, 1},
		Positions: []Vec3{{0, 0, 0}, {1, 0, 0}},
	}
	idx, err = NewNeighborIndex(degenerate, 3.0)
	require.NoError(t, err)
	_, isBrute := idx.(*BruteForceIndex)
	assert.True(t, isBrute)

	_, err = NewCellListIndex(degenerate, 3.0)
	require.Error(t, err)
}

func TestPeriodicSelfImages(t *testing.T) {
	// A single atom in a sub-cutoff periodic cell neighbors its own images.
	// Cubic cell of 4 Å with cutoff 5 Å: the six face images at 4 Å are in
	// range, the twelve edge images at 4√2 ≈ 5.66 Å are not.
	s := &AtomicStructure{
		Species:   []int32{1},
		Positions: []Vec3{{1, 1, 1}},
		Cell: Cell{
			{4, 0, 0},
			{0, 4, 0},
			{0, 0, 4},
		},
		PBC: [3]bool{true, true, true},
	}
	cutoff := 5.0
	require.True(t, NeedsFallback(s, cutoff))

	idx, err := NewBruteForceIndex(s, cutoff)
	require.NoError(t, err)
	indices, _, dist2, err := idx.Neighbors(0, cutoff)
	require.NoError(t, err)
	require.Len(t, indices, 6)
	for n := range indices {
		assert.Equal(t, int32(0), indices[n])
		assert.InDelta(t, 16.0, dist2[n], 1e-9)
	}
}

func TestQueryPointsMatchesPseudoAtoms(t *testing.T) {
	// The batched point query of the fast index and the pseudo-atom path of
	// the fallback must find the same atoms at the same distances.
	s := cubicStructure(12, 8.0, 7)
	cutoff := 3.0
	probes := []Vec3{{0.5, 0.5, 0.5}, {4, 4, 4}, {7.9, 0.1, 3.0}}

	fast, err := NewCellListIndex(s, cutoff)
	require.NoError(t, err)
	fastEdges, fastFeatures, err := ProbesToGraph(s, probes, cutoff, fast)
	require.NoError(t, err)
	slowEdges, slowFeatures, err := ProbesToGraph(s, probes, cutoff, nil)
	require.NoError(t, err)

	type edge struct {
		atom, probe int32
		dist        float32
	}
	flatten := func(edges [][2]int32, features []float32) []edge {
		out := make([]edge, len(edges))
		for i := range edges {
			out[i] = edge{atom: edges[i][0], probe: edges[i][1], dist: features[i]}
		}
		sort.Slice(out, func(a, b int) bool {
			if out[a].probe != out[b].probe {
				return out[a].probe < out[b].probe
			}
			if out[a].atom != out[b].atom {
				return out[a].atom < out[b].atom
			}
			return out[a].dist < out[b].dist
		})
		return out
	}
	got := flatten(fastEdges, fastFeatures)
	want := flatten(slowEdges, slowFeatures)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].atom, got[i].atom)
		assert.Equal(t, want[i].probe, got[i].probe)
		assert.InDelta(t, want[i].dist, got[i].dist, 1e-5)
	}
}

func TestQueryPointsOutsideCell(t *testing.T) {
	// Probe positions are origin + frac·cell, so a field origin larger than
	// a lattice length puts probes whole lattice vectors outside the
	// wrapped atom box. Both index variants must still find the periodic
	// neighbors of such a probe.
	s := &AtomicStructure{
		Species:   []int32{1},
		Positions: []Vec3{{0, 0, 0}},
		Cell:      Cell{{8, 0, 0}, {0, 8, 0}, {0, 0, 8}},
		PBC:       [3]bool{true, true, true},
	}
	cutoff := 3.0

	// Two full lattice vectors out along x, 0.5 Å from the atom's image.
	probe := Vec3{16.5, 0, 0}

	fast, err := NewCellListIndex(s, cutoff)
	require.NoError(t, err)
	indices, _, dist2, err := fast.QueryPoints([]Vec3{probe}, cutoff)
	require.NoError(t, err)
	require.Len(t, indices[0], 1)
	assert.Equal(t, int32(0), indices[0][0])
	assert.InDelta(t, 0.25, dist2[0][0], 1e-9)

	fastEdges, fastFeatures, err := ProbesToGraph(s, []Vec3{probe}, cutoff, fast)
	require.NoError(t, err)
	slowEdges, slowFeatures, err := ProbesToGraph(s, []Vec3{probe}, cutoff, nil)
	require.NoError(t, err)
	require.Equal(t, slowEdges, fastEdges)
	require.Len(t, fastEdges, 1)
	assert.Equal(t, [2]int32{0, 0}, fastEdges[0])
	require.Len(t, fastFeatures, 1)
	assert.InDelta(t, slowFeatures[0], fastFeatures[0], 1e-6)
	assert.InDelta(t, 0.5, fastFeatures[0], 1e-6)
}

func TestInvalidCutoff(t *testing.T) {
	s := cubicStructure(4, 8.0, 8)
	_, err := NewCellListIndex(s, 0)
	require.Error(t, err)
	_, err = NewBruteForceIndex(s, -1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCutoffMismatch))
}
