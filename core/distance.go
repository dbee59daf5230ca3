package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/viant/vec/search"
)

// Metric identifies one of the supported distance metrics.
// An index or a clustering is built for exactly one metric.
type Metric int

const (
	// Euclidean is the L2 distance.
	Euclidean Metric = iota
	// Manhattan is the L1 (cityblock) distance.
	Manhattan
	// Cosine is 1 - cosine similarity. Vectors must have a non-zero norm.
	Cosine
)

// Metrics lists every supported metric in a stable order.
var Metrics = []Metric{Euclidean, Manhattan, Cosine}

// Distances is a map of human–readable names to metrics.
// You can use it to choose a distance metric by name.
var Distances = map[string]Metric{
	"euclidean": Euclidean,
	"l2":        Euclidean,
	"manhattan": Manhattan,
	"cityblock": Manhattan,
	"l1":        Manhattan,
	"cosine":    Cosine,
}

// DistanceFunc computes the distance between two vectors.
// a: the first vector.
// b: the second vector.
// Returns the computed distance as a float64.
type DistanceFunc func(a, b []float32) float64

// ParseMetric resolves a metric name such as "cityblock" or "cosine".
func ParseMetric(name string) (Metric, error) {
	m, ok := Distances[strings.TrimSpace(strings.ToLower(name))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown metric %q", ErrUnsupportedMetric, name)
	}
	return m, nil
}

// String returns the canonical name of the metric.
func (m Metric) String() string {
	switch m {
	case Euclidean:
		return "euclidean"
	case Manhattan:
		return "manhattan"
	case Cosine:
		return "cosine"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Valid reports whether m is one of the supported metrics.
func (m Metric) Valid() bool {
	return m == Euclidean || m == Manhattan || m == Cosine
}

// Func returns the distance function of the metric. Inputs must already be
// prepared with Prepare.
func (m Metric) Func() DistanceFunc {
	switch m {
	case Manhattan:
		return ManhattanDistance
	case Cosine:
		return CosineDistance
	default:
		return EuclideanDistance
	}
}

// Distance computes the reported distance between two prepared vectors.
func (m Metric) Distance(a, b []float32) float64 {
	return m.Func()(a, b)
}

// Prepare returns the copy of v that the metric operates on. For Cosine the
// copy is scaled to unit length, and a zero-norm vector is rejected.
func (m Metric) Prepare(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	out := make([]float32, len(v))
	copy(out, v)
	if m == Cosine {
		if Norm(out) == 0 {
			return nil, fmt.Errorf("%w: cosine distance requires a non-zero norm", ErrDegenerateVector)
		}
		NormalizeVector(out)
	}
	return out, nil
}

// Bound maps a reported distance into a space where the triangle inequality
// holds. For unit vectors the cosine distance d relates to the chord length c
// by d = c²/2, so the chord is used for pruning.
func (m Metric) Bound(d float64) float64 {
	if m == Cosine {
		if d <= 0 {
			return 0
		}
		return math.Sqrt(2 * d)
	}
	return d
}

// BoundDistance computes a true metric distance between two arbitrary points
// of the prepared space, e.g. a query and a ball centroid.
func (m Metric) BoundDistance(a, b []float32) float64 {
	if m == Manhattan {
		return ManhattanDistance(a, b)
	}
	return EuclideanDistance(a, b)
}

// checkPair panics on empty or mismatched vectors;
// callers validate dimensionality before reaching the metric.
func checkPair(a, b []float32) {
	if len(a) == 0 || len(b) == 0 {
		panic("vectors must not be empty")
	}
	if len(a) != len(b) {
		panic("vectors must have the same length")
	}
}

// EuclideanDistance computes the Euclidean (L2) distance between two vectors.
func EuclideanDistance(a, b []float32) float64 {
	checkPair(a, b)
	return float64(search.Float32s(a).EuclideanDistance(b))
}

// ManhattanDistance computes the Manhattan (L1) distance between two vectors.
func ManhattanDistance(a, b []float32) float64 {
	checkPair(a, b)
	var sum float64
	for i := range a {
		sum += math.Abs(float64(a[i]) - float64(b[i]))
	}
	return sum
}

// CosineDistance computes the cosine distance between two unit vectors from
// their chord length c, as 1 - cos = c²/2. Bound inverts this exactly.
func CosineDistance(a, b []float32) float64 {
	checkPair(a, b)
	c := float64(search.Float32s(a).EuclideanDistance(b))
	return c * c / 2
}

// Slack is the tolerance added to a triangle-inequality bound before pruning,
// so float32 rounding in the kernels never discards a true neighbor.
func Slack(d, tau float64) float64 {
	return 1e-4 * (1 + d + tau)
}
