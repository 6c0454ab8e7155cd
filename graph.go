package fieldgraph

import (
	"fmt"
	"math/rand"
)

// Graph is the fixed-schema graph representation of one sample: atoms are
// nodes, spatial proximity relations are edges, and probe query points carry
// supervised targets. Counts are derived from the arrays but cached because
// batching needs them without re-deriving from ragged data.
type Graph struct {
	// Nodes holds one species code per atom.
	Nodes []int32

	// AtomEdges are directed (source, target) atom pairs within cutoff.
	AtomEdges [][2]int32

	// AtomEdgeFeatures is the Euclidean distance of each atom edge.
	AtomEdgeFeatures []float32

	// ProbeEdges are directed (atom, probe) pairs within cutoff. Probe
	// indices are local to the probe set, not offset into the atom array.
	ProbeEdges [][2]int32

	// ProbeEdgeFeatures is the Euclidean distance of each probe edge.
	ProbeEdgeFeatures []float32

	// ProbeTargets is the field value at each probe's source grid index.
	ProbeTargets []float32

	NumNodes      int
	NumAtomEdges  int
	NumProbeEdges int
	NumProbes     int
}

// emptyEdges returns the explicit zero-row edge placeholder used when a
// structure yields no edges, so downstream concatenation never receives a
// missing field.
func emptyEdges() ([][2]int32, []float32) {
	return [][2]int32{}, []float32{}
}

// AtomsToGraph builds the atom-atom edge set of a structure: for every atom,
// every neighbor within cutoff yields a directed edge (neighbor, atom) with
// the Euclidean distance as its feature. Neighbor lists are built both ways,
// so every pair contributes one edge per direction. The built index is
// returned for reuse by probe queries against the same structure.
func AtomsToGraph(s *AtomicStructure, cutoff float64) ([][2]int32, []float32, NeighborIndex, error) {
	index, err := NewNeighborIndex(s, cutoff)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building neighbor index: %w", err)
	}
	edges, features := emptyEdges()
	for i := 0; i < s.Len(); i++ {
		indices, _, dist2, err := index.Neighbors(i, cutoff)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("neighbors of atom %d: %w", i, err)
		}
		feats := edgeFeatures(dist2)
		for n, j := range indices {
			edges = append(edges, [2]int32{j, int32(i)})
			features = append(features, feats[n])
		}
	}
	return edges, features, index, nil
}

// ProbesToGraph builds the atom-probe edge set for a set of probe positions.
// Probes never connect to each other; every edge pairs an atom with a
// probe-local index. When the reused index supports direct point queries it
// is queried once for the whole batch; otherwise the probes are appended as
// pseudo-atoms to a copy of the structure and a fresh fallback index over the
// extended structure is queried per probe. A nil index always takes the
// pseudo-atom path.
func ProbesToGraph(s *AtomicStructure, probes []Vec3, cutoff float64, index NeighborIndex) ([][2]int32, []float32, error) {
	edges, features := emptyEdges()
	if len(probes) == 0 {
		return edges, features, nil
	}

	if pq, ok := index.(PointQuerier); ok {
		indices, _, dist2, err := pq.QueryPoints(probes, cutoff)
		if err != nil {
			return nil, nil, fmt.Errorf("querying probe points: %w", err)
		}
		for p := range probes {
			feats := edgeFeatures(dist2[p])
			for n, j := range indices[p] {
				edges = append(edges, [2]int32{j, int32(p)})
				features = append(features, feats[n])
			}
		}
		return edges, features, nil
	}

	// Pseudo-atom path: extend a copy of the structure with the probes as
	// species-0 atoms and query each pseudo-atom's neighbors.
	natoms := s.Len()
	ext := s.Clone()
	for _, p := range probes {
		ext.Species = append(ext.Species, 0)
		ext.Positions = append(ext.Positions, p)
	}
	extIndex, err := NewBruteForceIndex(ext, cutoff)
	if err != nil {
		return nil, nil, fmt.Errorf("building extended index: %w", err)
	}
	for p := range probes {
		indices, _, dist2, err := extIndex.Neighbors(natoms+p, cutoff)
		if err != nil {
			return nil, nil, fmt.Errorf("neighbors of probe %d: %w", p, err)
		}
		feats := edgeFeatures(dist2)
		for n, j := range indices {
			if int(j) >= natoms {
				// Another probe, not an atom.
				continue
			}
			edges = append(edges, [2]int32{j, int32(p)})
			features = append(features, feats[n])
		}
	}
	return edges, features, nil
}

// GraphConfig holds the knobs for sample-to-graph conversion.
type GraphConfig struct {
	// Cutoff is the maximum edge distance in Å.
	Cutoff float64

	// NumProbes is the number of probe points sampled per training sample.
	NumProbes int

	// DisablePBC forces non-periodic treatment of every structure.
	DisablePBC bool
}

// DefaultGraphConfig returns the default conversion configuration.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		Cutoff:    5.0,
		NumProbes: 1000,
	}
}

// AtomsOnlyGraph builds a graph with atom edges only, for consumers that do
// not sample probes.
func AtomsOnlyGraph(s *AtomicStructure, cutoff float64) (*Graph, error) {
	atomEdges, atomFeatures, _, err := AtomsToGraph(s, cutoff)
	if err != nil {
		return nil, err
	}
	probeEdges, probeFeatures := emptyEdges()
	g := &Graph{
		Nodes:             append([]int32{}, s.Species...),
		AtomEdges:         atomEdges,
		AtomEdgeFeatures:  atomFeatures,
		ProbeEdges:        probeEdges,
		ProbeEdgeFeatures: probeFeatures,
		ProbeTargets:      []float32{},
	}
	g.refreshCounts()
	return g, nil
}

// SampleToGraph converts one training sample to a full graph: probe grid
// indices are drawn uniformly at random with replacement, probe positions
// and targets are read from the field at those indices, and both edge sets
// are built with a single shared neighbor index.
func SampleToGraph(sample *Sample, cfg GraphConfig, rng *rand.Rand) (*Graph, error) {
	if err := sample.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sample: %w", err)
	}
	s := sample.Structure
	if cfg.DisablePBC {
		s = s.WithoutPBC()
	}

	total := sample.Field.NumPoints()
	probes := make([]Vec3, cfg.NumProbes)
	targets := make([]float32, cfg.NumProbes)
	for p := 0; p < cfg.NumProbes; p++ {
		flat := rng.Intn(total)
		probes[p] = sample.Field.PositionAt(flat)
		targets[p] = sample.Field.At(flat)
	}

	atomEdges, atomFeatures, index, err := AtomsToGraph(s, cfg.Cutoff)
	if err != nil {
		return nil, err
	}
	probeEdges, probeFeatures, err := ProbesToGraph(s, probes, cfg.Cutoff, index)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		Nodes:             append([]int32{}, s.Species...),
		AtomEdges:         atomEdges,
		AtomEdgeFeatures:  atomFeatures,
		ProbeEdges:        probeEdges,
		ProbeEdgeFeatures: probeFeatures,
		ProbeTargets:      targets,
	}
	g.refreshCounts()
	return g, nil
}

func (g *Graph) refreshCounts() {
	g.NumNodes = len(g.Nodes)
	g.NumAtomEdges = len(g.AtomEdges)
	g.NumProbeEdges = len(g.ProbeEdges)
	g.NumProbes = len(g.ProbeTargets)
}

// validate checks that every field carries its explicit placeholder rather
// than a missing (nil) value, and that cached counts match the arrays.
func (g *Graph) validate() error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	switch {
	case g.Nodes == nil:
		return fmt.Errorf("%w: Nodes", ErrMissingField)
	case g.AtomEdges == nil:
		return fmt.Errorf("%w: AtomEdges", ErrMissingField)
	case g.AtomEdgeFeatures == nil:
		return fmt.Errorf("%w: AtomEdgeFeatures", ErrMissingField)
	case g.ProbeEdges == nil:
		return fmt.Errorf("%w: ProbeEdges", ErrMissingField)
	case g.ProbeEdgeFeatures == nil:
		return fmt.Errorf("%w: ProbeEdgeFeatures", ErrMissingField)
	case g.ProbeTargets == nil:
		return fmt.Errorf("%w: ProbeTargets", ErrMissingField)
	}
	if g.NumNodes != len(g.Nodes) || g.NumAtomEdges != len(g.AtomEdges) ||
		g.NumProbeEdges != len(g.ProbeEdges) || g.NumProbes != len(g.ProbeTargets) {
		return fmt.Errorf("graph counts do not match array lengths")
	}
	return nil
}
