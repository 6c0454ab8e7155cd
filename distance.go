package fieldgraph

import (
	"math"

	"github.com/viterin/vek"
	"github.com/viterin/vek/vek32"
)

// SquaredDistance computes the squared Euclidean distance between two points.
func SquaredDistance(a, b Vec3) float64 {
	d := a.Sub(b)
	return vek.Dot(d[:], d[:])
}

// Dot computes the dot product of two vectors.
func Dot(a, b Vec3) float64 {
	return vek.Dot(a[:], b[:])
}

// Norm computes the Euclidean length of a vector.
func Norm(a Vec3) float64 {
	return math.Sqrt(vek.Dot(a[:], a[:]))
}

// edgeFeatures converts squared pair distances to the single-column
// float32 edge feature carried by graphs.
func edgeFeatures(dist2 []float64) []float32 {
	if len(dist2) == 0 {
		return []float32{}
	}
	f := make([]float32, len(dist2))
	for i, d := range dist2 {
		f[i] = float32(d)
	}
	return vek32.Sqrt(f)
}
