package fieldgraph

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleGraphs builds count graphs of varying sizes from real structures.
func sampleGraphs(t *testing.T, count int) []*Graph {
	t.Helper()
	graphs := make([]*Graph, count)
	for n := range graphs {
		s := cubicStructure(4+3*n, 8.0, int64(30+n))
		sample := uniformField(s, [3]int{3, 4, 5})
		rng := rand.New(rand.NewSource(int64(40 + n)))
		g, err := SampleToGraph(sample, GraphConfig{Cutoff: 3.0, NumProbes: 5 + 2*n}, rng)
		require.NoError(t, err)
		graphs[n] = g
	}
	return graphs
}

func TestCollateSplitRoundTrip(t *testing.T) {
	graphs := sampleGraphs(t, 3)
	batch, err := Collate(graphs)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Size())

	split, err := batch.Split()
	require.NoError(t, err)
	require.Len(t, split, 3)
	for n := range graphs {
		assert.Equal(t, graphs[n], split[n], "graph %d", n)
	}
}

func TestCollateOffsets(t *testing.T) {
	a := &Graph{
		Nodes:             []int32{1, 1},
		AtomEdges:         [][2]int32{{0, 1}, {1, 0}},
		AtomEdgeFeatures:  []float32{1, 1},
		ProbeEdges:        [][2]int32{{0, 0}},
		ProbeEdgeFeatures: []float32{0.5},
		ProbeTargets:      []float32{7},
	}
	a.refreshCounts()
	b := &Graph{
		Nodes:             []int32{8, 8, 8},
		AtomEdges:         [][2]int32{{2, 0}},
		AtomEdgeFeatures:  []float32{2},
		ProbeEdges:        [][2]int32{{1, 0}, {0, 1}},
		ProbeEdgeFeatures: []float32{0.25, 0.75},
		ProbeTargets:      []float32{9, 10},
	}
	b.refreshCounts()

	batch, err := Collate([]*Graph{a, b})
	require.NoError(t, err)

	assert.Equal(t, []int32{1, 1, 8, 8, 8}, batch.Nodes)
	// Second graph's atom edges shift by the first graph's two nodes.
	assert.Equal(t, [][2]int32{{0, 1}, {1, 0}, {4, 2}}, batch.AtomEdges)
	// Probe edges shift by node count on the atom side and probe count on
	// the probe side.
	assert.Equal(t, [][2]int32{{0, 0}, {3, 1}, {2, 2}}, batch.ProbeEdges)
	assert.Equal(t, []float32{7, 9, 10}, batch.ProbeTargets)
	assert.Equal(t, []int64{2, 3}, batch.NumNodes)
	assert.Equal(t, []int64{2, 1}, batch.NumAtomEdges)
	assert.Equal(t, []int64{1, 2}, batch.NumProbeEdges)
	assert.Equal(t, []int64{1, 2}, batch.NumProbes)
}

func TestCollateMissingFieldFailsFast(t *testing.T) {
	g := &Graph{
		Nodes:            []int32{1},
		AtomEdges:        [][2]int32{},
		AtomEdgeFeatures: []float32{},
		// ProbeEdges deliberately nil: a missing field, not an empty one.
		ProbeEdgeFeatures: []float32{},
		ProbeTargets:      []float32{},
	}
	g.refreshCounts()
	_, err := Collate([]*Graph{g})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestCollateEmptyList(t *testing.T) {
	_, err := Collate(nil)
	require.Error(t, err)
}

func TestCollateCountMismatch(t *testing.T) {
	g := &Graph{
		Nodes:             []int32{1},
		AtomEdges:         [][2]int32{},
		AtomEdgeFeatures:  []float32{},
		ProbeEdges:        [][2]int32{},
		ProbeEdgeFeatures: []float32{},
		ProbeTargets:      []float32{},
		NumNodes:          5, // wrong on purpose
	}
	_, err := Collate([]*Graph{g})
	require.Error(t, err)
}

func TestCollateZeroEdgeGraphs(t *testing.T) {
	// Graphs whose every edge array is the explicit empty placeholder
	// still batch and split cleanly.
	graphs := make([]*Graph, 2)
	for n := range graphs {
		g := &Graph{
			Nodes:             []int32{int32(n + 1)},
			AtomEdges:         [][2]int32{},
			AtomEdgeFeatures:  []float32{},
			ProbeEdges:        [][2]int32{},
			ProbeEdgeFeatures: []float32{},
			ProbeTargets:      []float32{},
		}
		g.refreshCounts()
		graphs[n] = g
	}
	batch, err := Collate(graphs)
	require.NoError(t, err)
	split, err := batch.Split()
	require.NoError(t, err)
	assert.Equal(t, graphs, split)
}
