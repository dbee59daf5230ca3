// Package balltree implements an exact ball tree index. Every node bounds its
// points by a centroid and a covering radius.
package balltree

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// Options controls how the tree is built.
type Options struct {
	LeafSize          int   // maximum number of points in a leaf
	Seed              int64 // seed for the first split point
	ParallelThreshold int   // subtrees larger than this are built in parallel
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		LeafSize:          10,
		Seed:              core.DefaultSeed,
		ParallelThreshold: 1000,
	}
}

// ball is a node of the tree. Leaves hold point indices, inner nodes two children.
type ball struct {
	center   []float32
	radius   float64
	points   []int
	children [2]*ball
}

// Index is an immutable ball tree over a prepared corpus.
type Index struct {
	metric    core.Metric
	dimension int
	points    []core.Point
	root      *ball
	nodes     int
	last      atomic.Int64
}

// Build constructs the tree. The result depends only on the corpus, the
// metric and the options.
func Build(c core.Corpus, metric core.Metric, opts Options) (*Index, error) {
	points, err := core.PreparePoints(c, metric)
	if err != nil {
		return nil, err
	}
	if opts.LeafSize < 1 {
		opts.LeafSize = DefaultOptions().LeafSize
	}
	if opts.ParallelThreshold <= 0 {
		opts.ParallelThreshold = DefaultOptions().ParallelThreshold
	}
	x := &Index{metric: metric, dimension: c.Dimension(), points: points}
	ids := make([]int, len(points))
	for i := range ids {
		ids[i] = i
	}
	var nodes atomic.Int64
	x.root = x.build(ids, rand.New(rand.NewSource(opts.Seed)), opts, &nodes)
	x.nodes = int(nodes.Load())
	log.Debug().Msgf("Built ball tree over %d points with %d nodes, distance=%s", len(points), x.nodes, metric)
	return x, nil
}

// farthest returns the member of ids farthest from v, the lowest index on ties.
func (x *Index) farthest(v []float32, ids []int) int {
	best, bestDist := ids[0], -1.0
	for _, id := range ids {
		if d := x.metric.BoundDistance(v, x.points[id].Vector); d > bestDist {
			best, bestDist = id, d
		}
	}
	return best
}

// split assigns ids to the nearer of the two farthest-apart points.
// Degenerate splits fall back to halving the list.
func (x *Index) split(ids []int, rnd *rand.Rand) (left, right []int) {
	seed := ids[rnd.Intn(len(ids))]
	a := x.farthest(x.points[seed].Vector, ids)
	b := x.farthest(x.points[a].Vector, ids)
	va, vb := x.points[a].Vector, x.points[b].Vector
	if a != b && x.metric.BoundDistance(va, vb) > 0 {
		for _, id := range ids {
			v := x.points[id].Vector
			if x.metric.BoundDistance(v, va) <= x.metric.BoundDistance(v, vb) {
				left = append(left, id)
			} else {
				right = append(right, id)
			}
		}
	}
	if len(left) == 0 || len(right) == 0 {
		mid := len(ids) / 2
		left = append([]int(nil), ids[:mid]...)
		right = append([]int(nil), ids[mid:]...)
	}
	return left, right
}

func (x *Index) build(ids []int, rnd *rand.Rand, opts Options, nodes *atomic.Int64) *ball {
	nodes.Add(1)
	vecs := make([][]float32, len(ids))
	for i, id := range ids {
		vecs[i] = x.points[id].Vector
	}
	b := &ball{center: core.Mean(vecs)}
	for _, v := range vecs {
		b.radius = max(b.radius, x.metric.BoundDistance(b.center, v))
	}
	if len(ids) <= opts.LeafSize {
		b.points = ids
		return b
	}

	parts := [2][]int{}
	parts[0], parts[1] = x.split(ids, rnd)
	seeds := [2]int64{rnd.Int63(), rnd.Int63()}
	if len(ids) > opts.ParallelThreshold {
		var wg sync.WaitGroup
		wg.Add(2)
		for side := range parts {
			go func() {
				defer wg.Done()
				b.children[side] = x.build(parts[side], rand.New(rand.NewSource(seeds[side])), opts, nodes)
			}()
		}
		wg.Wait()
	} else {
		for side := range parts {
			b.children[side] = x.build(parts[side], rand.New(rand.NewSource(seeds[side])), opts, nodes)
		}
	}
	return b
}

// searcher carries the state of one query through the tree.
type searcher struct {
	x           *Index
	query       []float32
	top         *core.TopK
	radius      float64 // used instead of top when top is nil
	found       []core.Neighbor
	comparisons int
}

func (s *searcher) tau() float64 {
	if s.top != nil {
		return s.x.metric.Bound(s.top.Worst())
	}
	return s.x.metric.Bound(s.radius)
}

// centerDistance is counted as a comparison like any record distance.
func (s *searcher) centerDistance(b *ball) float64 {
	s.comparisons++
	return s.x.metric.BoundDistance(s.query, b.center)
}

// visit searches b, whose center lies at dc from the query.
func (s *searcher) visit(b *ball, dc float64) {
	tau := s.tau()
	if dc-b.radius > tau+core.Slack(dc, tau) {
		return
	}
	if b.points != nil {
		for _, id := range b.points {
			p := s.x.points[id]
			d := s.x.metric.Distance(s.query, p.Vector)
			s.comparisons++
			if s.top != nil {
				s.top.Offer(core.Neighbor{ID: p.ID, Distance: d})
			} else if d <= s.radius {
				s.found = append(s.found, core.Neighbor{ID: p.ID, Distance: d})
			}
		}
		return
	}
	near, far := b.children[0], b.children[1]
	dn, df := s.centerDistance(near), s.centerDistance(far)
	if df < dn {
		near, far, dn, df = far, near, df, dn
	}
	s.visit(near, dn)
	s.visit(far, df)
}

// Search returns the exact k nearest neighbors.
func (x *Index) Search(query []float32, k int) (core.Result, error) {
	q, err := core.PrepareQuery(query, x.dimension, x.metric)
	if err != nil {
		return core.Result{}, err
	}
	if k <= 0 {
		x.last.Store(0)
		return core.Result{Neighbors: []core.Neighbor{}}, nil
	}
	s := &searcher{x: x, query: q, top: core.NewTopK(k)}
	s.visit(x.root, s.centerDistance(x.root))
	x.last.Store(int64(s.comparisons))
	return core.Result{Neighbors: s.top.Sorted(), Comparisons: s.comparisons}, nil
}

// RangeSearch returns every point within radius of the query.
func (x *Index) RangeSearch(query []float32, radius float64) (core.Result, error) {
	q, err := core.PrepareQuery(query, x.dimension, x.metric)
	if err != nil {
		return core.Result{}, err
	}
	s := &searcher{x: x, query: q, radius: radius, found: []core.Neighbor{}}
	s.visit(x.root, s.centerDistance(x.root))
	core.SortNeighbors(s.found)
	x.last.Store(int64(s.comparisons))
	return core.Result{Neighbors: s.found, Comparisons: s.comparisons}, nil
}

// Comparisons returns the number of distance evaluations of the last query,
// centroid distances included.
func (x *Index) Comparisons() int { return int(x.last.Load()) }

// Stats returns basic statistics about the index.
func (x *Index) Stats() core.IndexStats {
	return core.IndexStats{
		Method:    "ball_tree",
		Count:     len(x.points),
		Dimension: x.dimension,
		Distance:  x.metric.String(),
		Nodes:     x.nodes,
	}
}

var _ core.Index = (*Index)(nil)
