package core

import (
	"fmt"
	"math"

	"github.com/viant/vec/search"
)

// NormalizeVector scales vec to unit length in place. Zero vectors are left untouched.
func NormalizeVector(vec []float32) {
	if len(vec) == 0 {
		return
	}
	norm := search.Float32s(vec).Magnitude()
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] /= norm
	}
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return float64(search.Float32s(v).Magnitude())
}

// Dot returns the inner product of a and b.
func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Mean returns the coordinate-wise mean of vecs.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	sum := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, len(sum))
	for i := range sum {
		out[i] = float32(sum[i] / float64(len(vecs)))
	}
	return out
}

// Corpus is the read-only view of a feature store that indices are built from.
type Corpus interface {
	Len() int
	Dimension() int
	ID(i int) string
	Vector(i int) []float32
}

// Point is a corpus entry prepared for one metric.
type Point struct {
	ID     string
	Vector []float32
}

// PreparePoints copies the corpus into metric space, in corpus order.
func PreparePoints(c Corpus, metric Metric) ([]Point, error) {
	if !metric.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMetric, metric)
	}
	if c.Len() == 0 {
		return nil, ErrEmptyIndex
	}
	points := make([]Point, c.Len())
	for i := range points {
		v, err := metric.Prepare(c.Vector(i))
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", c.ID(i), err)
		}
		points[i] = Point{ID: c.ID(i), Vector: v}
	}
	return points, nil
}

// PrepareQuery checks the query dimensionality and values, then maps it into
// metric space.
func PrepareQuery(query []float32, dimension int, metric Metric) ([]float32, error) {
	if len(query) != dimension {
		return nil, fmt.Errorf("%w: query dimension %d does not match index dimension %d",
			ErrDimensionMismatch, len(query), dimension)
	}
	for i, v := range query {
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: query has a non-finite value at %d", ErrDegenerateVector, i)
		}
	}
	return metric.Prepare(query)
}
