// Package engine answers image queries: it resolves the selected search
// strategy and clustering, runs the search and scores the ranking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/patrikhermansson/cbir/balltree"
	"github.com/patrikhermansson/cbir/cluster"
	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/embed"
	"github.com/patrikhermansson/cbir/eval"
	"github.com/patrikhermansson/cbir/exhaustive"
	"github.com/patrikhermansson/cbir/rpt"
	"github.com/patrikhermansson/cbir/store"
	"github.com/patrikhermansson/cbir/vptree"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// TracerName is the instrumentation name of the engine's spans.
const TracerName = "github.com/patrikhermansson/cbir/engine"

// Options configures an Engine.
type Options struct {
	Metric            core.Metric // default metric of requests that name none
	K                 int         // default number of results
	LeafSize          int         // leaf size of the tree indices
	Trees             int         // trees of the approximate forest
	SearchK           int         // candidates of the approximate forest, 0 means k * Trees
	Seed              int64       // build seed, overridden by CBIR_SEED
	ParallelThreshold int         // subtree size above which trees build in parallel
	Cluster           cluster.Options
	ClusterDir        string         // directory of precomputed <selector>.json assignments, optional
	Embedder          embed.Embedder // used by QueryImage
	Tracer            trace.Tracer   // defaults to the global provider
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		Metric:            core.Manhattan,
		K:                 10,
		LeafSize:          10,
		Trees:             10,
		Seed:              core.DefaultSeed,
		ParallelThreshold: 1000,
		Cluster:           cluster.DefaultOptions(),
		Embedder:          embed.NewHistogram(),
	}
}

// Request is one query. Selectors are names from the closed sets accepted by
// ParseMethod, ParseClusterMethod and core.ParseMetric.
type Request struct {
	Method  string    // search strategy, defaults to exhaustive
	Metric  string    // distance metric, defaults to the engine's metric
	Cluster string    // optional cluster selector; empty skips scoring
	Vector  []float32 // query embedding; may be empty when QueryID names a record
	QueryID string    // identifier of the query image, if it is part of the corpus
	K       int       // number of results, defaults to the engine's k
	Radius  float64   // when positive, every record within Radius is returned instead

	// ExcludeSelf drops QueryID from the results so that a corpus image does
	// not retrieve itself.
	ExcludeSelf bool
}

// Match is one ranked result.
type Match struct {
	ID       string  `json:"image_name"`
	Distance float64 `json:"distance"`
	Cluster  *int    `json:"cluster,omitempty"`
}

// QueryResult is the outcome of one query.
type QueryResult struct {
	RequestID     string
	Method        Method
	Metric        core.Metric
	ClusterMethod *ClusterMethod
	Matches       []Match
	Metrics       eval.Metrics
	Comparisons   int
	Elapsed       time.Duration
}

// Engine owns a feature store and lazily built, cached indices and cluster
// assignments. It is safe for concurrent use.
type Engine struct {
	store    *store.FeatureStore
	opts     Options
	tracer   trace.Tracer
	indices  *buildCache[core.Index]
	clusters *buildCache[*cluster.Assignment]
}

// New creates an engine over s.
func New(s *store.FeatureStore, opts Options) *Engine {
	def := DefaultOptions()
	if opts.K <= 0 {
		opts.K = def.K
	}
	if opts.Embedder == nil {
		opts.Embedder = def.Embedder
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	return &Engine{
		store:    s,
		opts:     opts,
		tracer:   tracer,
		indices:  newBuildCache[core.Index](),
		clusters: newBuildCache[*cluster.Assignment](),
	}
}

// Store returns the feature store the engine queries.
func (e *Engine) Store() *store.FeatureStore { return e.store }

// Options returns the engine configuration.
func (e *Engine) Options() Options { return e.opts }

func indexKey(m Method, metric core.Metric) string {
	return m.String() + "/" + metric.String()
}

// buildIndex constructs the index of a strategy without caching it.
func (e *Engine) buildIndex(m Method, metric core.Metric) (core.Index, error) {
	seed := core.GetSeed(e.opts.Seed)
	switch m {
	case Exhaustive:
		return exhaustive.Build(e.store, metric)
	case Cdist:
		return exhaustive.BuildCdist(e.store, metric)
	case VPTree:
		return vptree.Build(e.store, metric, vptree.Options{
			LeafSize:          e.opts.LeafSize,
			Seed:              seed,
			ParallelThreshold: e.opts.ParallelThreshold,
		})
	case BallTree:
		return balltree.Build(e.store, metric, balltree.Options{
			LeafSize:          e.opts.LeafSize,
			Seed:              seed,
			ParallelThreshold: e.opts.ParallelThreshold,
		})
	case Annoy:
		return rpt.Build(e.store, metric, rpt.Options{
			NumTrees: e.opts.Trees,
			LeafSize: e.opts.LeafSize,
			SearchK:  e.opts.SearchK,
			Seed:     seed,
		})
	default:
		return nil, fmt.Errorf("%w: search method %s", core.ErrUnknownMethod, m)
	}
}

// Index returns the index of a strategy and metric, building it once.
func (e *Engine) Index(ctx context.Context, m Method, metric core.Metric) (core.Index, error) {
	key := indexKey(m, metric)
	if e.indices.has(key) {
		return e.indices.get(ctx, key, nil)
	}
	_, span := e.tracer.Start(ctx, "engine.build_index", trace.WithAttributes(
		attribute.String("cbir.method", m.String()),
		attribute.String("cbir.metric", metric.String()),
	))
	defer span.End()

	idx, err := e.indices.get(ctx, key, func(context.Context) (core.Index, error) {
		start := time.Now()
		idx, err := e.buildIndex(m, metric)
		if err != nil {
			return nil, err
		}
		log.Info().Str("method", m.String()).Str("metric", metric.String()).
			Dur("took", time.Since(start)).Msgf("Built index over %d records", e.store.Len())
		return idx, nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return idx, nil
}

// Assignment returns the cluster assignment of a selector, building it once.
func (e *Engine) Assignment(ctx context.Context, c ClusterMethod) (*cluster.Assignment, error) {
	key := c.String()
	if e.clusters.has(key) {
		return e.clusters.get(ctx, key, nil)
	}
	ctx, span := e.tracer.Start(ctx, "engine.cluster", trace.WithAttributes(
		attribute.String("cbir.cluster", key),
	))
	defer span.End()

	a, err := e.clusters.get(ctx, key, func(ctx context.Context) (*cluster.Assignment, error) {
		if a, ok, err := e.loadAssignment(c); ok || err != nil {
			return a, err
		}
		opts := e.opts.Cluster
		opts.Seed = core.GetSeed(opts.Seed)
		return cluster.Build(ctx, e.store, c.Algorithm(), c.Metric(), opts)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return a, nil
}

// loadAssignment reads the precomputed assignment <ClusterDir>/<selector>.json.
// It reports false when no directory is configured or the file does not exist.
func (e *Engine) loadAssignment(c ClusterMethod) (*cluster.Assignment, bool, error) {
	if e.opts.ClusterDir == "" {
		return nil, false, nil
	}
	path := filepath.Join(e.opts.ClusterDir, c.String()+".json")
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("cluster", c.String()).Msgf("No cluster file at %s, building", path)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	a, err := cluster.ReadJSON(f, e.store, c.Algorithm(), c.Metric())
	if err != nil {
		return nil, false, fmt.Errorf("cluster file %s: %w", path, err)
	}
	log.Info().Str("cluster", c.String()).Msgf("Loaded %d clusters from %s", a.NumClusters(), path)
	return a, true, nil
}

// Warm builds the given indices, for the engine's default metric, and
// cluster assignments concurrently. A failed build does not stop the others;
// the first error is returned.
func (e *Engine) Warm(ctx context.Context, methods []Method, clusters []ClusterMethod) error {
	var g errgroup.Group
	for _, m := range methods {
		g.Go(func() error {
			_, err := e.Index(ctx, m, e.opts.Metric)
			return err
		})
	}
	for _, c := range clusters {
		g.Go(func() error {
			_, err := e.Assignment(ctx, c)
			return err
		})
	}
	return g.Wait()
}

// QueryImage embeds raw image bytes with the configured embedder and runs req
// with the resulting vector.
func (e *Engine) QueryImage(ctx context.Context, data []byte, req Request) (*QueryResult, error) {
	vec, err := e.opts.Embedder.Embed(ctx, data)
	if err != nil {
		if !errors.Is(err, core.ErrEmbedding) {
			err = fmt.Errorf("%w: %v", core.ErrEmbedding, err)
		}
		return nil, err
	}
	req.Vector = vec
	return e.Query(ctx, req)
}

// Query runs one request: validate the vector, search the selected index,
// and score the ranking against the selected clustering.
func (e *Engine) Query(ctx context.Context, req Request) (res *QueryResult, err error) {
	requestID := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "engine.query", trace.WithAttributes(
		attribute.String("cbir.request_id", requestID),
		attribute.String("cbir.method", req.Method),
		attribute.String("cbir.cluster", req.Cluster),
	))
	defer func() {
		if err != nil {
			recordError(span, err)
			log.Debug().Str("request", requestID).Err(err).Msg("Query rejected")
		}
		span.End()
	}()

	method := Exhaustive
	if req.Method != "" {
		if method, err = ParseMethod(req.Method); err != nil {
			return nil, err
		}
	}
	metric := e.opts.Metric
	if req.Metric != "" {
		if metric, err = core.ParseMetric(req.Metric); err != nil {
			return nil, err
		}
	}
	var clusterMethod *ClusterMethod
	if req.Cluster != "" {
		c, err := ParseClusterMethod(req.Cluster)
		if err != nil {
			return nil, err
		}
		clusterMethod = &c
	}

	vector := req.Vector
	if len(vector) == 0 && req.QueryID != "" {
		if vector, err = e.store.Get(req.QueryID); err != nil {
			return nil, err
		}
	}
	if _, err = core.PrepareQuery(vector, e.store.Dimension(), metric); err != nil {
		return nil, err
	}

	idx, err := e.Index(ctx, method, metric)
	if err != nil {
		return nil, err
	}

	k := req.K
	if k <= 0 {
		k = e.opts.K
	}
	exclude := req.ExcludeSelf && req.QueryID != "" && e.store.Contains(req.QueryID)
	_, searchSpan := e.tracer.Start(ctx, "engine.search")
	start := time.Now()
	var found core.Result
	if req.Radius > 0 {
		found, err = idx.RangeSearch(vector, req.Radius)
	} else {
		searchK := k
		if exclude {
			searchK++
		}
		found, err = idx.Search(vector, searchK)
	}
	elapsed := time.Since(start)
	searchSpan.SetAttributes(attribute.Int("cbir.comparisons", found.Comparisons))
	searchSpan.End()
	if err != nil {
		return nil, err
	}

	neighbors := found.Neighbors
	if exclude {
		neighbors = withoutID(neighbors, req.QueryID)
		if req.Radius <= 0 && len(neighbors) > k {
			neighbors = neighbors[:k]
		}
	}

	res = &QueryResult{
		RequestID:     requestID,
		Method:        method,
		Metric:        metric,
		ClusterMethod: clusterMethod,
		Matches:       make([]Match, len(neighbors)),
		Comparisons:   found.Comparisons,
		Elapsed:       elapsed,
	}
	for i, n := range neighbors {
		res.Matches[i] = Match{ID: n.ID, Distance: n.Distance}
	}

	if clusterMethod != nil {
		a, err := e.Assignment(ctx, *clusterMethod)
		if err != nil {
			return nil, err
		}
		relevant, err := a.RelevantSet(vector, req.QueryID)
		if err != nil {
			return nil, err
		}
		res.Metrics = eval.Score(neighbors, relevant)
		for i := range res.Matches {
			if c, err := a.ClusterOf(res.Matches[i].ID); err == nil {
				res.Matches[i].Cluster = &c
			}
		}
	}

	span.SetAttributes(
		attribute.Int("cbir.results", len(res.Matches)),
		attribute.Int("cbir.comparisons", res.Comparisons),
		attribute.Float64("cbir.precision", res.Metrics.Precision),
		attribute.Float64("cbir.recall", res.Metrics.Recall),
	)
	log.Debug().Str("request", requestID).Str("method", method.String()).Str("metric", metric.String()).
		Int("comparisons", res.Comparisons).Dur("took", elapsed).
		Msgf("Query returned %d results, precision=%.3f recall=%.3f",
			len(res.Matches), res.Metrics.Precision, res.Metrics.Recall)
	return res, nil
}

// withoutID removes id from a ranking.
func withoutID(neighbors []core.Neighbor, id string) []core.Neighbor {
	out := make([]core.Neighbor, 0, len(neighbors))
	for _, n := range neighbors {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
