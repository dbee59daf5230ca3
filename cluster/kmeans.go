package cluster

import (
	"context"
	"math"
	"math/rand"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// nearestCentroid finds the closest centroid to the vector and returns its
// index and distance. Ties go to the lower index.
func nearestCentroid(vector []float32, centroids [][]float32) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := core.EuclideanDistance(vector, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// seedCentroids picks k initial centroids with k-means++.
func seedCentroids(points []core.Point, k int, rnd *rand.Rand) [][]float32 {
	centroids := make([][]float32, 0, k)
	first := points[rnd.Intn(len(points))].Vector
	centroids = append(centroids, append([]float32(nil), first...))

	weights := make([]float64, len(points))
	for len(centroids) < k {
		var total float64
		for i, p := range points {
			_, d := nearestCentroid(p.Vector, centroids)
			weights[i] = d * d
			total += weights[i]
		}
		pick := rnd.Intn(len(points))
		if total > 0 {
			r := rnd.Float64() * total
			for i, w := range weights {
				r -= w
				if r <= 0 && w > 0 {
					pick = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float32(nil), points[pick].Vector...))
	}
	return centroids
}

// kmeans runs Lloyd's algorithm until no assignment changes or MaxIter
// iterations have run. Hitting the cap is not an error.
func kmeans(ctx context.Context, points []core.Point, opts Options) (*Assignment, error) {
	k := opts.Clusters
	if k <= 0 {
		k = DefaultOptions().Clusters
	}
	k = min(k, len(points))
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultOptions().MaxIter
	}
	rnd := rand.New(rand.NewSource(opts.Seed))
	centroids := seedCentroids(points, k, rnd)

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}
	iterations, converged := 0, false
	for iterations < maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations++
		changed := false
		for i, p := range points {
			c, _ := nearestCentroid(p.Vector, centroids)
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			converged = true
			break
		}
		recalcCentroids(points, labels, centroids)
	}
	log.Debug().Msgf("k-means ran %d iterations, converged=%t", iterations, converged)

	a := newAssignment(KMeans, core.Euclidean, points, labels)
	a.iterations = iterations
	a.converged = converged
	return a, nil
}

// recalcCentroids moves every centroid to the mean of its members. An empty
// cluster takes over the point farthest from its current centroid.
func recalcCentroids(points []core.Point, labels []int, centroids [][]float32) {
	sizes := make([]int, len(centroids))
	for _, l := range labels {
		sizes[l]++
	}
	for c := range centroids {
		if sizes[c] == 0 {
			continue
		}
		vecs := make([][]float32, 0, sizes[c])
		for i, l := range labels {
			if l == c {
				vecs = append(vecs, points[i].Vector)
			}
		}
		centroids[c] = core.Mean(vecs)
	}
	for c := range centroids {
		if sizes[c] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range points {
			if sizes[labels[i]] < 2 {
				continue
			}
			if d := core.EuclideanDistance(p.Vector, centroids[labels[i]]); d > farDist {
				far, farDist = i, d
			}
		}
		if far < 0 {
			continue
		}
		sizes[labels[far]]--
		sizes[c] = 1
		labels[far] = c
		centroids[c] = append([]float32(nil), points[far].Vector...)
	}
}
