package engine

import (
	"fmt"
	"strings"

	"github.com/patrikhermansson/cbir/cluster"
	"github.com/patrikhermansson/cbir/core"
)

// Method selects a search strategy from the closed set the engine supports.
type Method int

const (
	Exhaustive Method = iota
	VPTree
	BallTree
	Annoy
	Cdist
)

// Methods lists every search strategy in a stable order.
var Methods = []Method{Exhaustive, VPTree, BallTree, Annoy, Cdist}

var methodNames = map[Method]string{
	Exhaustive: "exhaustive",
	VPTree:     "vp_tree",
	BallTree:   "ball_tree",
	Annoy:      "annoy",
	Cdist:      "cdist",
}

// String returns the selector name of the method.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Exact reports whether the strategy always returns the true top-k.
func (m Method) Exact() bool {
	return m != Annoy
}

// ParseMethod resolves a search selector such as "vp_tree".
func ParseMethod(name string) (Method, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: search method %q", core.ErrUnknownMethod, name)
}

// ClusterMethod selects a clustering algorithm together with its metric.
type ClusterMethod int

const (
	AgglomerativeCityblock ClusterMethod = iota
	AgglomerativeCosine
	AgglomerativeEuclidean
	KMeans
)

// ClusterMethods lists every cluster selector in a stable order.
var ClusterMethods = []ClusterMethod{AgglomerativeCityblock, AgglomerativeCosine, AgglomerativeEuclidean, KMeans}

var clusterNames = map[ClusterMethod]string{
	AgglomerativeCityblock: "agglomerative_cityblock",
	AgglomerativeCosine:    "agglomerative_cosine",
	AgglomerativeEuclidean: "agglomerative_euclidean",
	KMeans:                 "k_means",
}

// String returns the selector name.
func (c ClusterMethod) String() string {
	if name, ok := clusterNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cluster(%d)", int(c))
}

// Algorithm returns the clustering algorithm of the selector.
func (c ClusterMethod) Algorithm() cluster.Method {
	if c == KMeans {
		return cluster.KMeans
	}
	return cluster.Agglomerative
}

// Metric returns the distance metric of the selector.
func (c ClusterMethod) Metric() core.Metric {
	switch c {
	case AgglomerativeCityblock:
		return core.Manhattan
	case AgglomerativeCosine:
		return core.Cosine
	default:
		return core.Euclidean
	}
}

// ParseClusterMethod resolves a cluster selector such as "k_means".
func ParseClusterMethod(name string) (ClusterMethod, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	for c, n := range clusterNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: cluster method %q", core.ErrUnknownMethod, name)
}

// CostMode selects which cost figure a response exposes.
type CostMode int

const (
	CostComparisons CostMode = iota
	CostTime
)

// String returns the name of the cost mode.
func (c CostMode) String() string {
	if c == CostTime {
		return "time"
	}
	return "comparisons"
}

// ParseCostMode resolves "comparisons" or "time". An empty name means comparisons.
func ParseCostMode(name string) (CostMode, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "", "comparisons":
		return CostComparisons, nil
	case "time":
		return CostTime, nil
	default:
		return 0, fmt.Errorf("%w: cost mode %q", core.ErrUnknownMethod, name)
	}
}
