// Package vptree implements an exact vantage-point tree index.
package vptree

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// Options controls how the tree is built.
type Options struct {
	LeafSize          int   // maximum number of points kept in a leaf bucket
	Seed              int64 // seed for vantage point selection
	ParallelThreshold int   // subtrees larger than this are built in parallel
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		LeafSize:          4,
		Seed:              core.DefaultSeed,
		ParallelThreshold: 1000,
	}
}

const (
	inside  = 0
	outside = 1
)

// node is either a leaf bucket or a vantage point with up to two children.
// lo and hi hold the range of bound-space distances from the vantage point
// to every point of the matching child.
type node struct {
	leaf     []int
	pivot    int
	children [2]*node
	lo, hi   [2]float64
}

// Index is an immutable vantage-point tree over a prepared corpus.
type Index struct {
	metric    core.Metric
	dimension int
	points    []core.Point
	root      *node
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
	log.Debug().Msgf("Built vp-tree over %d points with %d nodes, distance=%s", len(points), x.nodes, metric)
	return x, nil
}

// boundDistance is the pruning-space distance between two prepared points.
func (x *Index) boundDistance(a, b []float32) float64 {
	return x.metric.Bound(x.metric.Distance(a, b))
}

// build partitions ids around a randomly drawn vantage point: the nearer half
// goes inside, the rest outside.
func (x *Index) build(ids []int, rnd *rand.Rand, opts Options, nodes *atomic.Int64) *node {
	nodes.Add(1)
	if len(ids) <= opts.LeafSize {
		return &node{leaf: ids, pivot: -1}
	}

	p := rnd.Intn(len(ids))
	ids[0], ids[p] = ids[p], ids[0]
	pivot := ids[0]
	rest := ids[1:]

	dists := make(map[int]float64, len(rest))
	for _, id := range rest {
		dists[id] = x.boundDistance(x.points[pivot].Vector, x.points[id].Vector)
	}
	sort.Slice(rest, func(i, j int) bool {
		di, dj := dists[rest[i]], dists[rest[j]]
		if di == dj {
			return rest[i] < rest[j]
		}
		return di < dj
	})
	mid := (len(rest) + 1) / 2
	parts := [2][]int{rest[:mid], rest[mid:]}

	n := &node{pivot: pivot}
	for side, part := range parts {
		if len(part) > 0 {
			n.lo[side] = dists[part[0]]
			n.hi[side] = dists[part[len(part)-1]]
		}
	}

	// Child seeds are drawn up front so the shape does not depend on scheduling.
	seeds := [2]int64{rnd.Int63(), rnd.Int63()}
	buildSide := func(side int) {
		if len(parts[side]) > 0 {
			n.children[side] = x.build(parts[side], rand.New(rand.NewSource(seeds[side])), opts, nodes)
		}
	}
	if len(ids) > opts.ParallelThreshold {
		var wg sync.WaitGroup
		wg.Add(2)
		for side := range parts {
			go func() {
				defer wg.Done()
				buildSide(side)
			}()
		}
		wg.Wait()
	} else {
		buildSide(inside)
		buildSide(outside)
	}
	return n
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

func (s *searcher) evaluate(id int) float64 {
	p := s.x.points[id]
	d := s.x.metric.Distance(s.query, p.Vector)
	s.comparisons++
	if s.top != nil {
		s.top.Offer(core.Neighbor{ID: p.ID, Distance: d})
	} else if d <= s.radius {
		s.found = append(s.found, core.Neighbor{ID: p.ID, Distance: d})
	}
	return d
}

// tau is the current search radius in bound space.
func (s *searcher) tau() float64 {
	if s.top != nil {
		return s.x.metric.Bound(s.top.Worst())
	}
	return s.x.metric.Bound(s.radius)
}

func (s *searcher) visit(n *node) {
	if n.leaf != nil {
		for _, id := range n.leaf {
			s.evaluate(id)
		}
		return
	}
	b := s.x.metric.Bound(s.evaluate(n.pivot))

	first, second := inside, outside
	if n.children[outside] != nil && b > (n.hi[inside]+n.lo[outside])/2 {
		first, second = outside, inside
	}
	for _, side := range []int{first, second} {
		child := n.children[side]
		if child == nil {
			continue
		}
		tau := s.tau()
		if gap := max(n.lo[side]-b, b-n.hi[side]); gap > tau+core.Slack(b, tau) {
			continue
		}
		s.visit(child)
	}
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
	s.visit(x.root)
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
	s.visit(x.root)
	core.SortNeighbors(s.found)
	x.last.Store(int64(s.comparisons))
	return core.Result{Neighbors: s.found, Comparisons: s.comparisons}, nil
}

// Comparisons returns the number of distance evaluations of the last query.
func (x *Index) Comparisons() int { return int(x.last.Load()) }

// Stats returns basic statistics about the index.
func (x *Index) Stats() core.IndexStats {
	return core.IndexStats{
		Method:    "vp_tree",
		Count:     len(x.points),
		Dimension: x.dimension,
		Distance:  x.metric.String(),
		Nodes:     x.nodes,
	}
}

var _ core.Index = (*Index)(nil)
