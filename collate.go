package fieldgraph

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

// ErrMissingField is returned when a graph handed to the collator is missing
// one of its fixed-schema fields. Every graph must carry explicit (possibly
// zero-row) arrays for every field; a nil array is a contract violation.
var ErrMissingField = errors.New("graph is missing a required field")

// Batch is the concatenation of N graphs along the node, edge and probe
// axes. Edge indices are offset by the cumulative counts of the preceding
// samples so the flattened arrays stay index-correct; per-sample counts are
// preserved so consumers can reconstruct per-sample slices.
type Batch struct {
	Nodes             []int32
	AtomEdges         [][2]int32
	AtomEdgeFeatures  []float32
	ProbeEdges        [][2]int32
	ProbeEdgeFeatures []float32
	ProbeTargets      []float32

	// Per-sample counts, one entry per batched graph.
	NumNodes      []int64
	NumAtomEdges  []int64
	NumProbeEdges []int64
	NumProbes     []int64
}

// Size returns the number of graphs in the batch.
func (b *Batch) Size() int {
	return len(b.NumNodes)
}

// offsetPairs returns a copy of the edge array with off0 added to the first
// column and off1 to the second.
func offsetPairs[N constraints.Integer](edges [][2]N, off0, off1 N) [][2]N {
	out := make([][2]N, len(edges))
	for i, e := range edges {
		out[i] = [2]N{e[0] + off0, e[1] + off1}
	}
	return out
}

// Collate packs a list of per-sample graphs into one batch. Atom edges are
// offset on both sides by the cumulative node count; probe edges are offset
// by the cumulative node count on the atom side and the cumulative probe
// count on the probe side. A graph with a missing field fails fast.
func Collate(graphs []*Graph) (*Batch, error) {
	if len(graphs) == 0 {
		return nil, fmt.Errorf("cannot collate an empty graph list")
	}
	b := &Batch{
		Nodes:             []int32{},
		AtomEdges:         [][2]int32{},
		AtomEdgeFeatures:  []float32{},
		ProbeEdges:        [][2]int32{},
		ProbeEdgeFeatures: []float32{},
		ProbeTargets:      []float32{},
		NumNodes:          make([]int64, 0, len(graphs)),
		NumAtomEdges:      make([]int64, 0, len(graphs)),
		NumProbeEdges:     make([]int64, 0, len(graphs)),
		NumProbes:         make([]int64, 0, len(graphs)),
	}
	var nodeOffset, probeOffset int32
	for n, g := range graphs {
		if err := g.validate(); err != nil {
			return nil, fmt.Errorf("graph %d: %w", n, err)
		}
		b.Nodes = append(b.Nodes, g.Nodes...)
		b.AtomEdges = append(b.AtomEdges, offsetPairs(g.AtomEdges, nodeOffset, nodeOffset)...)
		b.AtomEdgeFeatures = append(b.AtomEdgeFeatures, g.AtomEdgeFeatures...)
		b.ProbeEdges = append(b.ProbeEdges, offsetPairs(g.ProbeEdges, nodeOffset, probeOffset)...)
		b.ProbeEdgeFeatures = append(b.ProbeEdgeFeatures, g.ProbeEdgeFeatures...)
		b.ProbeTargets = append(b.ProbeTargets, g.ProbeTargets...)

		b.NumNodes = append(b.NumNodes, int64(g.NumNodes))
		b.NumAtomEdges = append(b.NumAtomEdges, int64(g.NumAtomEdges))
		b.NumProbeEdges = append(b.NumProbeEdges, int64(g.NumProbeEdges))
		b.NumProbes = append(b.NumProbes, int64(g.NumProbes))

		nodeOffset += int32(g.NumNodes)
		probeOffset += int32(g.NumProbes)
	}
	return b, nil
}

// Split reconstructs the original per-sample graphs from the batch using the
// stored counts. It is the exact inverse of Collate.
func (b *Batch) Split() ([]*Graph, error) {
	graphs := make([]*Graph, b.Size())
	var nodeAt, atomEdgeAt, probeEdgeAt, probeAt int
	for n := range graphs {
		nodes := int(b.NumNodes[n])
		atomEdges := int(b.NumAtomEdges[n])
		probeEdges := int(b.NumProbeEdges[n])
		probes := int(b.NumProbes[n])
		if nodeAt+nodes > len(b.Nodes) || atomEdgeAt+atomEdges > len(b.AtomEdges) ||
			probeEdgeAt+probeEdges > len(b.ProbeEdges) || probeAt+probes > len(b.ProbeTargets) {
			return nil, fmt.Errorf("batch counts exceed array lengths at sample %d", n)
		}
		g := &Graph{
			Nodes: append([]int32{}, b.Nodes[nodeAt:nodeAt+nodes]...),
			AtomEdges: offsetPairs(
				b.AtomEdges[atomEdgeAt:atomEdgeAt+atomEdges], int32(-nodeAt), int32(-nodeAt)),
			AtomEdgeFeatures: append([]float32{}, b.AtomEdgeFeatures[atomEdgeAt:atomEdgeAt+atomEdges]...),
			ProbeEdges: offsetPairs(
				b.ProbeEdges[probeEdgeAt:probeEdgeAt+probeEdges], int32(-nodeAt), int32(-probeAt)),
			ProbeEdgeFeatures: append([]float32{}, b.ProbeEdgeFeatures[probeEdgeAt:probeEdgeAt+probeEdges]...),
			ProbeTargets:      append([]float32{}, b.ProbeTargets[probeAt:probeAt+probes]...),
		}
		g.refreshCounts()
		graphs[n] = g

		nodeAt += nodes
		atomEdgeAt += atomEdges
		probeEdgeAt += probeEdges
		probeAt += probes
	}
	if nodeAt != len(b.Nodes) || atomEdgeAt != len(b.AtomEdges) ||
		probeEdgeAt != len(b.ProbeEdges) || probeAt != len(b.ProbeTargets) {
		return nil, fmt.Errorf("batch counts do not cover the concatenated arrays")
	}
	return graphs, nil
}
