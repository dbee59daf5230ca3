// Package exhaustive implements the exact linear-scan baselines: a bounded-heap
// scan and a cdist-style full distance vector followed by an argsort.
package exhaustive

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// Index compares the query against every record. Its results define the true
// top-k for every other index built with the same metric.
type Index struct {
	metric    core.Metric
	dimension int
	points    []core.Point
	last      atomic.Int64
}

// Build prepares the corpus for metric.
func Build(c core.Corpus, metric core.Metric) (*Index, error) {
	points, err := core.PreparePoints(c, metric)
	if err != nil {
		return nil, err
	}
	log.Debug().Msgf("Built exhaustive index over %d points, distance=%s", len(points), metric)
	return &Index{metric: metric, dimension: c.Dimension(), points: points}, nil
}

// Search returns the k nearest neighbors. Comparisons always equal the corpus size.
func (x *Index) Search(query []float32, k int) (core.Result, error) {
	q, err := core.PrepareQuery(query, x.dimension, x.metric)
	if err != nil {
		return core.Result{}, err
	}
	top := core.NewTopK(k)
	for _, p := range x.points {
		top.Offer(core.Neighbor{ID: p.ID, Distance: x.metric.Distance(q, p.Vector)})
	}
	x.last.Store(int64(len(x.points)))
	return core.Result{Neighbors: top.Sorted(), Comparisons: len(x.points)}, nil
}

// RangeSearch returns every record within radius of the query.
func (x *Index) RangeSearch(query []float32, radius float64) (core.Result, error) {
	q, err := core.PrepareQuery(query, x.dimension, x.metric)
	if err != nil {
		return core.Result{}, err
	}
	var out []core.Neighbor
	for _, p := range x.points {
		if d := x.metric.Distance(q, p.Vector); d <= radius {
			out = append(out, core.Neighbor{ID: p.ID, Distance: d})
		}
	}
	core.SortNeighbors(out)
	x.last.Store(int64(len(x.points)))
	return core.Result{Neighbors: out, Comparisons: len(x.points)}, nil
}

// Comparisons returns the number of distance evaluations of the last query.
func (x *Index) Comparisons() int { return int(x.last.Load()) }

// Stats returns basic statistics about the index.
func (x *Index) Stats() core.IndexStats {
	return core.IndexStats{
		Method:    "exhaustive",
		Count:     len(x.points),
		Dimension: x.dimension,
		Distance:  x.metric.String(),
	}
}

// Cdist computes the whole query-to-corpus distance vector, split across CPUs,
// and ranks it with an argsort.
type Cdist struct {
	Index
}

// BuildCdist prepares the corpus for metric.
func BuildCdist(c core.Corpus, metric core.Metric) (*Cdist, error) {
	x, err := Build(c, metric)
	if err != nil {
		return nil, err
	}
	return &Cdist{Index: Index{metric: x.metric, dimension: x.dimension, points: x.points}}, nil
}

// computeDistances calculates the distance from the query to every point.
// It does this in parallel across available CPUs.
func (c *Cdist) computeDistances(query []float32) []core.Neighbor {
	neighbors := make([]core.Neighbor, len(c.points))
	numWorkers := runtime.NumCPU()
	chunkSize := (len(c.points) + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(c.points))
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for j := start; j < end; j++ {
				p := c.points[j]
				neighbors[j] = core.Neighbor{ID: p.ID, Distance: c.metric.Distance(query, p.Vector)}
			}
		}(start, end)
	}
	wg.Wait()
	return neighbors
}

// Search argsorts the full distance vector and keeps the first k.
func (c *Cdist) Search(query []float32, k int) (core.Result, error) {
	q, err := core.PrepareQuery(query, c.dimension, c.metric)
	if err != nil {
		return core.Result{}, err
	}
	all := c.computeDistances(q)
	order := make([]int, len(all))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return core.Less(all[order[i]], all[order[j]])
	})
	k = max(0, min(k, len(all)))
	out := make([]core.Neighbor, k)
	for i := 0; i < k; i++ {
		out[i] = all[order[i]]
	}
	c.last.Store(int64(len(all)))
	return core.Result{Neighbors: out, Comparisons: len(all)}, nil
}

// RangeSearch filters the full distance vector by radius.
func (c *Cdist) RangeSearch(query []float32, radius float64) (core.Result, error) {
	q, err := core.PrepareQuery(query, c.dimension, c.metric)
	if err != nil {
		return core.Result{}, err
	}
	all := c.computeDistances(q)
	out := make([]core.Neighbor, 0)
	for _, n := range all {
		if n.Distance <= radius {
			out = append(out, n)
		}
	}
	core.SortNeighbors(out)
	c.last.Store(int64(len(all)))
	return core.Result{Neighbors: out, Comparisons: len(all)}, nil
}

// Stats returns basic statistics about the index.
func (c *Cdist) Stats() core.IndexStats {
	s := c.Index.Stats()
	s.Method = "cdist"
	return s
}

// Check that both scans implement the core.Index interface.
var (
	_ core.Index = (*Index)(nil)
	_ core.Index = (*Cdist)(nil)
)
