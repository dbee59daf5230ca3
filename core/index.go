package core

import (
	"container/heap"
	"sort"
)

// Index represents a built, immutable nearest-neighbor index over a corpus.
type Index interface {

	// Search returns the k nearest neighbors of query, ascending by distance
	// with ties broken by identifier.
	Search(query []float32, k int) (Result, error)

	// RangeSearch returns every neighbor within radius of query, in the same order.
	RangeSearch(query []float32, radius float64) (Result, error)

	// Comparisons returns the number of distance evaluations of the last query.
	Comparisons() int

	// Stats returns metadata about the index, such as count and dimensionality.
	Stats() IndexStats
}

// Neighbor holds a neighbor's id and its computed distance.
type Neighbor struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// Result is the outcome of one query together with its cost.
type Result struct {
	Neighbors   []Neighbor
	Comparisons int
}

// IndexStats contains metadata about the index.
type IndexStats struct {
	Method    string // name of the search strategy
	Count     int    // total number of indexed vectors
	Dimension int    // dimensionality of vectors
	Distance  string // name of the distance metric
	Nodes     int    // number of tree nodes, 0 for flat indices
}

// Less orders neighbors by distance, then by identifier.
func Less(a, b Neighbor) bool {
	if a.Distance == b.Distance {
		return a.ID < b.ID
	}
	return a.Distance < b.Distance
}

// SortNeighbors sorts neighbors ascending by distance, ties by identifier.
func SortNeighbors(ns []Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		return Less(ns[i], ns[j])
	})
}

// neighborMaxHeap implements a max-heap of neighbors, worst on top.
type neighborMaxHeap []Neighbor

func (h neighborMaxHeap) Len() int           { return len(h) }
func (h neighborMaxHeap) Less(i, j int) bool { return Less(h[j], h[i]) }
func (h neighborMaxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *neighborMaxHeap) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *neighborMaxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK keeps the k best neighbors seen so far.
type TopK struct {
	k int
	h neighborMaxHeap
}

// NewTopK creates a collector for the k nearest neighbors.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, h: make(neighborMaxHeap, 0, k)}
}

// Offer considers a neighbor and reports whether it was kept.
func (t *TopK) Offer(n Neighbor) bool {
	if t.k == 0 {
		return false
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, n)
		return true
	}
	if Less(n, t.h[0]) {
		t.h[0] = n
		heap.Fix(&t.h, 0)
		return true
	}
	return false
}

// Full reports whether k neighbors have been collected.
func (t *TopK) Full() bool {
	return len(t.h) >= t.k
}

// Len returns the number of collected neighbors.
func (t *TopK) Len() int {
	return len(t.h)
}

// Worst returns the current k-th best distance, or +Inf while not full.
func (t *TopK) Worst() float64 {
	if !t.Full() || len(t.h) == 0 {
		return inf
	}
	return t.h[0].Distance
}

// Sorted returns the collected neighbors in ascending order.
func (t *TopK) Sorted() []Neighbor {
	out := make([]Neighbor, len(t.h))
	copy(out, t.h)
	SortNeighbors(out)
	return out
}
