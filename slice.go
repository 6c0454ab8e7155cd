package fieldgraph

import (
	"fmt"
)

// SliceResult is the probe-only graph of one grid slice, used for exhaustive
// field prediction over a fixed structure. Slices carry no atom edges.
type SliceResult struct {
	ProbeEdges        [][2]int32
	ProbeEdgeFeatures []float32
	NumProbeEdges     int
	NumProbes         int
}

// EdgeCountsPerProbe returns how many atom edges land on each probe of the
// slice, a coverage diagnostic for full-grid prediction runs.
func (r *SliceResult) EdgeCountsPerProbe() []int32 {
	counts := make([]int32, r.NumProbes)
	for _, e := range r.ProbeEdges {
		counts[e[1]]++
	}
	return counts
}

// NumSlices returns how many fixed-size slices cover a flattened grid.
func NumSlices(totalPoints, probesPerSlice int) int {
	if probesPerSlice <= 0 {
		return 0
	}
	return (totalPoints + probesPerSlice - 1) / probesPerSlice
}

// SliceRange returns the half-open flat index range [start, end) covered by
// slice k of a row-major flattened grid.
func SliceRange(k, totalPoints, probesPerSlice int) (start, end int) {
	start = k * probesPerSlice
	end = start + probesPerSlice
	if end > totalPoints {
		end = totalPoints
	}
	return start, end
}

// ComputeSlice builds the probe-edge graph for slice k of the field grid.
// It reproduces exactly the ProbesToGraph result restricted to the slice's
// probe positions. The function is pure given its inputs, so it runs
// identically in-process or in a worker. A nil index makes every call take
// the pseudo-atom fallback path through ProbesToGraph.
func ComputeSlice(k int, s *AtomicStructure, field *ScalarField, probesPerSlice int, cutoff float64, index NeighborIndex) (*SliceResult, error) {
	total := field.NumPoints()
	start, end := SliceRange(k, total, probesPerSlice)
	if start < 0 || start >= end {
		return nil, fmt.Errorf("slice %d is out of range for %d grid points", k, total)
	}

	probes := make([]Vec3, end-start)
	for flat := start; flat < end; flat++ {
		probes[flat-start] = field.PositionAt(flat)
	}

	edges, features, err := ProbesToGraph(s, probes, cutoff, index)
	if err != nil {
		return nil, fmt.Errorf("slice %d: %w", k, err)
	}
	return &SliceResult{
		ProbeEdges:        edges,
		ProbeEdgeFeatures: features,
		NumProbeEdges:     len(edges),
		NumProbes:         len(probes),
	}, nil
}
