// Package rpt implements an approximate nearest-neighbor forest of random
// projection trees, searched best-first across all trees.
package rpt

import (
	"container/heap"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Options controls the shape of the forest and the search effort.
type Options struct {
	NumTrees int   // number of independent trees
	LeafSize int   // maximum number of points in a leaf
	SearchK  int   // candidates collected per query, 0 means k * NumTrees
	Seed     int64 // base seed, tree t uses Seed + t
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		NumTrees: 10,
		LeafSize: 10,
		Seed:     core.DefaultSeed,
	}
}

// treeNode is a leaf holding point indices, or a split by the hyperplane
// normal·v = offset, with points on the positive side to the left.
type treeNode struct {
	isLeaf bool
	points []int
	normal []float32
	offset float64
	left   *treeNode
	right  *treeNode
}

// margin is the signed distance-like value of v relative to the hyperplane.
func (n *treeNode) margin(v []float32) float64 {
	return core.Dot(n.normal, v) - n.offset
}

// Index is an immutable forest of random projection trees.
type Index struct {
	metric    core.Metric
	dimension int
	points    []core.Point
	trees     []*treeNode
	opts      Options
	nodes     int
	last      atomic.Int64
}

// Build constructs NumTrees trees in parallel. The forest depends only on the
// corpus, the metric and the options.
func Build(c core.Corpus, metric core.Metric, opts Options) (*Index, error) {
	points, err := core.PreparePoints(c, metric)
	if err != nil {
		return nil, err
	}
	def := DefaultOptions()
	if opts.NumTrees < 1 {
		opts.NumTrees = def.NumTrees
	}
	if opts.LeafSize < 1 {
		opts.LeafSize = def.LeafSize
	}
	x := &Index{
		metric:    metric,
		dimension: c.Dimension(),
		points:    points,
		trees:     make([]*treeNode, opts.NumTrees),
		opts:      opts,
	}

	var nodes atomic.Int64
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for t := range x.trees {
		g.Go(func() error {
			ids := make([]int, len(points))
			for i := range ids {
				ids[i] = i
			}
			rnd := rand.New(rand.NewSource(opts.Seed + int64(t)))
			x.trees[t] = x.buildTree(ids, rnd, &nodes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	x.nodes = int(nodes.Load())
	log.Debug().Msgf("Built random projection forest of %d trees over %d points, distance=%s",
		len(x.trees), len(points), metric)
	return x, nil
}

// hyperplane returns the plane equidistant from a and b.
func hyperplane(a, b []float32) ([]float32, float64) {
	normal := make([]float32, len(a))
	for i := range a {
		normal[i] = a[i] - b[i]
	}
	offset := (core.Dot(a, a) - core.Dot(b, b)) / 2
	return normal, offset
}

// buildTree splits ids recursively by the hyperplane between two randomly
// drawn points until leaves are small enough.
func (x *Index) buildTree(ids []int, rnd *rand.Rand, nodes *atomic.Int64) *treeNode {
	nodes.Add(1)
	if len(ids) <= x.opts.LeafSize {
		return &treeNode{isLeaf: true, points: ids}
	}

	i := rnd.Intn(len(ids))
	j := rnd.Intn(len(ids) - 1)
	if j >= i {
		j++
	}
	n := &treeNode{}
	n.normal, n.offset = hyperplane(x.points[ids[i]].Vector, x.points[ids[j]].Vector)

	var leftIDs, rightIDs []int
	for _, id := range ids {
		if n.margin(x.points[id].Vector) > 0 {
			leftIDs = append(leftIDs, id)
		} else {
			rightIDs = append(rightIDs, id)
		}
	}
	// Fallback: if one side is empty, split evenly.
	if len(leftIDs) == 0 || len(rightIDs) == 0 {
		rnd.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })
		mid := len(ids) / 2
		leftIDs = append([]int(nil), ids[:mid]...)
		rightIDs = append([]int(nil), ids[mid:]...)
		// The even split cannot be reproduced from a plane at query time, so
		// both sides are equally promising.
		n.normal = make([]float32, x.dimension)
		n.offset = 0
	}
	n.left = x.buildTree(leftIDs, rnd, nodes)
	n.right = x.buildTree(rightIDs, rnd, nodes)
	return n
}

// queueItem is a subtree waiting to be explored with its priority, the
// smallest margin seen on the way down.
type queueItem struct {
	node     *treeNode
	priority float64
}

type nodeQueue []queueItem

func (q nodeQueue) Len() int           { return len(q) }
func (q nodeQueue) Less(i, j int) bool { return q[i].priority > q[j].priority }
func (q nodeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(v any)        { *q = append(*q, v.(queueItem)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	v := old[n-1]
	*q = old[:n-1]
	return v
}

// candidates collects at least limit distinct point indices, exploring the
// most promising subtree of any tree first.
func (x *Index) candidates(query []float32, limit int) []int {
	seen := make([]bool, len(x.points))
	out := make([]int, 0, limit)
	q := make(nodeQueue, 0, len(x.trees))
	for _, t := range x.trees {
		q = append(q, queueItem{node: t, priority: math.Inf(1)})
	}
	heap.Init(&q)
	for q.Len() > 0 && len(out) < limit {
		item := heap.Pop(&q).(queueItem)
		n := item.node
		if n.isLeaf {
			for _, id := range n.points {
				if !seen[id] {
					seen[id] = true
					out = append(out, id)
				}
			}
			continue
		}
		m := n.margin(query)
		heap.Push(&q, queueItem{node: n.left, priority: min(item.priority, m)})
		heap.Push(&q, queueItem{node: n.right, priority: min(item.priority, -m)})
	}
	return out
}

// computeDistances calculates the distance from the query to each candidate.
// It does this in parallel across available CPUs.
func (x *Index) computeDistances(query []float32, ids []int) []core.Neighbor {
	neighbors := make([]core.Neighbor, len(ids))
	numWorkers := runtime.NumCPU()
	chunkSize := (len(ids) + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(ids))
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for j := start; j < end; j++ {
				p := x.points[ids[j]]
				neighbors[j] = core.Neighbor{ID: p.ID, Distance: x.metric.Distance(query, p.Vector)}
			}
		}(start, end)
	}
	wg.Wait()
	return neighbors
}

// searchK is the number of candidates gathered for a k-query.
func (x *Index) searchK(k int) int {
	if x.opts.SearchK > 0 {
		return max(x.opts.SearchK, k)
	}
	return k * len(x.trees)
}

// Search returns approximately the k nearest neighbors. The returned
// distances are exact, and only candidates are counted as comparisons.
func (x *Index) Search(query []float32, k int) (core.Result, error) {
	q, err := core.PrepareQuery(query, x.dimension, x.metric)
	if err != nil {
		return core.Result{}, err
	}
	if k <= 0 {
		x.last.Store(0)
		return core.Result{Neighbors: []core.Neighbor{}}, nil
	}
	ids := x.candidates(q, x.searchK(k))
	top := core.NewTopK(k)
	for _, n := range x.computeDistances(q, ids) {
		top.Offer(n)
	}
	x.last.Store(int64(len(ids)))
	return core.Result{Neighbors: top.Sorted(), Comparisons: len(ids)}, nil
}

// RangeSearch returns the candidates within radius of the query. Candidates
// are gathered as for a query of LeafSize neighbors.
func (x *Index) RangeSearch(query []float32, radius float64) (core.Result, error) {
	q, err := core.PrepareQuery(query, x.dimension, x.metric)
	if err != nil {
		return core.Result{}, err
	}
	ids := x.candidates(q, x.searchK(x.opts.LeafSize))
	out := make([]core.Neighbor, 0)
	for _, n := range x.computeDistances(q, ids) {
		if n.Distance <= radius {
			out = append(out, n)
		}
	}
	core.SortNeighbors(out)
	x.last.Store(int64(len(ids)))
	return core.Result{Neighbors: out, Comparisons: len(ids)}, nil
}

// Comparisons returns the number of distance evaluations of the last query.
func (x *Index) Comparisons() int { return int(x.last.Load()) }

// Stats returns basic statistics about the index.
func (x *Index) Stats() core.IndexStats {
	return core.IndexStats{
		Method:    "annoy",
		Count:     len(x.points),
		Dimension: x.dimension,
		Distance:  x.metric.String(),
		Nodes:     x.nodes,
	}
}

var _ core.Index = (*Index)(nil)
