package cluster

import (
	"context"
	"math"
	"sort"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// Merge is one step of the dendrogram. Clusters are named by their smallest
// member identifier.
type Merge struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	Height float64 `json:"height"` // average linkage distance between A and B
	Size   int     `json:"size"`   // members of the merged cluster
}

// linkage is the working state of average-linkage clustering. Slot i starts
// as point i; a merged cluster keeps the slot of its lower representative.
type linkage struct {
	dist    [][]float64
	active  []bool
	size    []int
	rep     []int // rank of the smallest member identifier
	nn      []int // nearest active slot
	nnDist  []float64
	parents []int // union-find over points for replaying merges
}

// pairLess orders candidate pairs by distance, then by the representatives of
// the pair, lower one first.
func (l *linkage) pairLess(d1 float64, a1, b1 int, d2 float64, a2, b2 int) bool {
	if d1 != d2 {
		return d1 < d2
	}
	lo1, hi1 := min(l.rep[a1], l.rep[b1]), max(l.rep[a1], l.rep[b1])
	lo2, hi2 := min(l.rep[a2], l.rep[b2]), max(l.rep[a2], l.rep[b2])
	if lo1 != lo2 {
		return lo1 < lo2
	}
	return hi1 < hi2
}

// updateNearest recomputes the nearest neighbor of slot i.
func (l *linkage) updateNearest(i int) {
	l.nn[i], l.nnDist[i] = -1, math.Inf(1)
	for j := range l.active {
		if j == i || !l.active[j] {
			continue
		}
		if l.nn[i] < 0 || l.pairLess(l.dist[i][j], i, j, l.nnDist[i], i, l.nn[i]) {
			l.nn[i], l.nnDist[i] = j, l.dist[i][j]
		}
	}
}

func (l *linkage) find(i int) int {
	for l.parents[i] != i {
		l.parents[i] = l.parents[l.parents[i]]
		i = l.parents[i]
	}
	return i
}

// agglomerate builds the full average-linkage dendrogram, then cuts it at
// the target cluster count, the distance threshold, or the largest gap
// between consecutive merge heights, in that order of preference.
func agglomerate(ctx context.Context, points []core.Point, metric core.Metric, opts Options) (*Assignment, error) {
	n := len(points)
	l := &linkage{
		dist:   make([][]float64, n),
		active: make([]bool, n),
		size:   make([]int, n),
		rep:    identifierRanks(points),
		nn:     make([]int, n),
		nnDist: make([]float64, n),
	}
	for i := range points {
		l.dist[i] = make([]float64, n)
		l.active[i] = true
		l.size[i] = 1
	}
	for i := range points {
		for j := i + 1; j < n; j++ {
			d := metric.Distance(points[i].Vector, points[j].Vector)
			l.dist[i][j], l.dist[j][i] = d, d
		}
	}
	for i := range points {
		l.updateNearest(i)
	}

	type step struct {
		keep, drop int
		height     float64
	}
	steps := make([]step, 0, n-1)
	for len(steps) < n-1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		best := -1
		for i := range l.active {
			if !l.active[i] || l.nn[i] < 0 {
				continue
			}
			if best < 0 || l.pairLess(l.nnDist[i], i, l.nn[i], l.nnDist[best], best, l.nn[best]) {
				best = i
			}
		}
		a, b := best, l.nn[best]
		if l.rep[b] < l.rep[a] {
			a, b = b, a
		}
		steps = append(steps, step{keep: a, drop: b, height: l.dist[a][b]})

		// Lance-Williams update for average linkage.
		sa, sb := float64(l.size[a]), float64(l.size[b])
		for k := range l.active {
			if !l.active[k] || k == a || k == b {
				continue
			}
			d := (sa*l.dist[a][k] + sb*l.dist[b][k]) / (sa + sb)
			l.dist[a][k], l.dist[k][a] = d, d
		}
		l.active[b] = false
		l.size[a] += l.size[b]

		for k := range l.active {
			if !l.active[k] {
				continue
			}
			switch {
			case k == a || l.nn[k] == a || l.nn[k] == b:
				l.updateNearest(k)
			case l.pairLess(l.dist[k][a], k, a, l.nnDist[k], k, l.nn[k]):
				l.nn[k], l.nnDist[k] = a, l.dist[k][a]
			}
		}
	}

	heights := make([]float64, len(steps))
	for i, s := range steps {
		heights[i] = s.height
	}
	cut := cutLevel(heights, n, opts)
	log.Debug().Msgf("Cutting dendrogram of %d merges after %d merges", len(steps), cut)

	// Replay the merges below the cut.
	l.parents = make([]int, n)
	sizes := make([]int, n)
	for i := range l.parents {
		l.parents[i] = i
		sizes[i] = 1
	}
	// A kept slot always holds the smallest identifier of its cluster.
	dendrogram := make([]Merge, cut)
	for i, s := range steps[:cut] {
		ra, rb := l.find(s.keep), l.find(s.drop)
		dendrogram[i] = Merge{
			A:      points[ra].ID,
			B:      points[rb].ID,
			Height: s.height,
			Size:   sizes[ra] + sizes[rb],
		}
		l.parents[rb] = ra
		sizes[ra] += sizes[rb]
	}
	raw := make([]int, n)
	for i := range raw {
		raw[i] = l.find(i)
	}
	a := newAssignment(Agglomerative, metric, points, raw)
	a.dendrogram = dendrogram
	return a, nil
}

// cutLevel returns how many merges to perform.
func cutLevel(heights []float64, n int, opts Options) int {
	switch {
	case opts.Clusters > 0:
		return n - min(opts.Clusters, n)
	case opts.Threshold > 0:
		return countBelow(heights, opts.Threshold)
	case len(heights) < 2:
		return len(heights)
	}
	jump, at := math.Inf(-1), 1
	for i := 1; i < len(heights); i++ {
		if d := heights[i] - heights[i-1]; d > jump {
			jump, at = d, i
		}
	}
	return countBelow(heights, heights[at])
}

// countBelow counts merges strictly below threshold. Merge heights are
// non-decreasing under average linkage, but the count does not depend on it.
func countBelow(heights []float64, threshold float64) int {
	count := 0
	for _, h := range heights {
		if h < threshold {
			count++
		}
	}
	return count
}

// identifierRanks returns each point's position in identifier order.
func identifierRanks(points []core.Point) []int {
	order := make([]int, len(points))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return points[order[i]].ID < points[order[j]].ID })
	ranks := make([]int, len(points))
	for r, i := range order {
		ranks[i] = r
	}
	return ranks
}
