// Package cluster assigns every corpus record to exactly one cluster. The
// clusters serve as ground truth for relevance when scoring a query.
package cluster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// Method selects a clustering algorithm.
type Method int

const (
	// Agglomerative is bottom-up hierarchical clustering with average linkage.
	Agglomerative Method = iota
	// KMeans is Lloyd's algorithm with k-means++ seeding, Euclidean only.
	KMeans
)

// String returns the name of the method.
func (m Method) String() string {
	switch m {
	case Agglomerative:
		return "agglomerative"
	case KMeans:
		return "k_means"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Options controls clustering.
type Options struct {
	Clusters  int     // target number of clusters, 0 lets Threshold or the dendrogram decide
	Threshold float64 // agglomerative: merge only below this linkage distance
	MaxIter   int     // k-means: iteration cap
	Seed      int64   // k-means: seed for k-means++
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Clusters: 12,
		MaxIter:  300,
		Seed:     core.DefaultSeed,
	}
}

// Assignment maps every record of a corpus to a dense cluster id. It is
// immutable and safe for concurrent use.
type Assignment struct {
	method  Method
	metric  core.Metric
	points  []core.Point
	labels  []int
	byID    map[string]int
	members [][]int

	// k-means only
	centroids  [][]float32
	iterations int
	converged  bool

	// agglomerative only
	dendrogram []Merge
}

// Build clusters the corpus with the given method and metric.
func Build(ctx context.Context, c core.Corpus, method Method, metric core.Metric, opts Options) (*Assignment, error) {
	if method == KMeans && metric != core.Euclidean {
		return nil, fmt.Errorf("%w: k-means requires euclidean distance, got %s", core.ErrUnsupportedMetric, metric)
	}
	points, err := core.PreparePoints(c, metric)
	if err != nil {
		return nil, err
	}
	var a *Assignment
	switch method {
	case Agglomerative:
		a, err = agglomerate(ctx, points, metric, opts)
	case KMeans:
		a, err = kmeans(ctx, points, opts)
	default:
		return nil, fmt.Errorf("%w: cluster method %s", core.ErrUnknownMethod, method)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Clustered %d records into %d clusters with %s, distance=%s",
		len(points), a.NumClusters(), method, metric)
	return a, nil
}

// newAssignment relabels clusters densely, ordered by their smallest member
// identifier, and indexes the members.
func newAssignment(method Method, metric core.Metric, points []core.Point, raw []int) *Assignment {
	first := make(map[int]string)
	for i, l := range raw {
		if id, ok := first[l]; !ok || points[i].ID < id {
			first[l] = points[i].ID
		}
	}
	order := make([]int, 0, len(first))
	for l := range first {
		order = append(order, l)
	}
	sort.Slice(order, func(i, j int) bool { return first[order[i]] < first[order[j]] })
	dense := make(map[int]int, len(order))
	for i, l := range order {
		dense[l] = i
	}

	a := &Assignment{
		method:  method,
		metric:  metric,
		points:  points,
		labels:  make([]int, len(points)),
		byID:    make(map[string]int, len(points)),
		members: make([][]int, len(order)),
	}
	for i, l := range raw {
		c := dense[l]
		a.labels[i] = c
		a.byID[points[i].ID] = i
		a.members[c] = append(a.members[c], i)
	}
	if method == KMeans {
		a.centroids = a.means()
	}
	return a
}

// means returns the centroid of every cluster.
func (a *Assignment) means() [][]float32 {
	out := make([][]float32, len(a.members))
	for c, idx := range a.members {
		vecs := make([][]float32, len(idx))
		for i, p := range idx {
			vecs[i] = a.points[p].Vector
		}
		out[c] = core.Mean(vecs)
	}
	return out
}

// Method returns the algorithm that produced the assignment.
func (a *Assignment) Method() Method { return a.method }

// Metric returns the distance metric of the assignment.
func (a *Assignment) Metric() core.Metric { return a.metric }

// NumClusters returns the number of non-empty clusters.
func (a *Assignment) NumClusters() int { return len(a.members) }

// Len returns the number of assigned records.
func (a *Assignment) Len() int { return len(a.points) }

// ClusterOf returns the cluster id of a corpus record.
func (a *Assignment) ClusterOf(id string) (int, error) {
	i, ok := a.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: record %q", core.ErrNotFound, id)
	}
	return a.labels[i], nil
}

// Members returns the identifiers of a cluster in corpus order.
func (a *Assignment) Members(cluster int) []string {
	if cluster < 0 || cluster >= len(a.members) {
		return nil
	}
	out := make([]string, len(a.members[cluster]))
	for i, p := range a.members[cluster] {
		out[i] = a.points[p].ID
	}
	return out
}

// Clusters returns every cluster's members, indexed by cluster id.
func (a *Assignment) Clusters() [][]string {
	out := make([][]string, len(a.members))
	for c := range a.members {
		out[c] = a.Members(c)
	}
	return out
}

// Iterations returns the number of k-means iterations run.
func (a *Assignment) Iterations() int { return a.iterations }

// Converged reports whether k-means stopped because assignments stabilized.
func (a *Assignment) Converged() bool { return a.converged }

// Dendrogram returns the agglomerative merges performed, lowest first.
func (a *Assignment) Dendrogram() []Merge {
	out := make([]Merge, len(a.dendrogram))
	copy(out, a.dendrogram)
	return out
}

// Nearest assigns an arbitrary vector to an existing cluster: the nearest
// centroid for k-means, the smallest average distance to the members for
// agglomerative clustering. Ties go to the lower cluster id.
func (a *Assignment) Nearest(vector []float32) (int, error) {
	q, err := core.PrepareQuery(vector, len(a.points[0].Vector), a.metric)
	if err != nil {
		return 0, err
	}
	best, bestDist := 0, math.Inf(1)
	for c, idx := range a.members {
		var d float64
		if a.centroids != nil {
			d = a.metric.Distance(q, a.centroids[c])
		} else {
			for _, p := range idx {
				d += a.metric.Distance(q, a.points[p].Vector)
			}
			d /= float64(len(idx))
		}
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, nil
}

// RelevantSet returns the identifiers sharing the query's cluster, without
// queryID itself. A queryID from the corpus uses its own cluster; otherwise
// the vector is assigned with Nearest.
func (a *Assignment) RelevantSet(vector []float32, queryID string) ([]string, error) {
	cluster, err := a.ClusterOf(queryID)
	if err != nil {
		if cluster, err = a.Nearest(vector); err != nil {
			return nil, err
		}
	}
	members := a.Members(cluster)
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id != queryID {
			out = append(out, id)
		}
	}
	return out, nil
}
