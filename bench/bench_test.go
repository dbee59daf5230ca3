package bench_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/patrikhermansson/cbir/bench"
	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/engine"
	"github.com/patrikhermansson/cbir/internal/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.Metric = core.Euclidean
	opts.Cluster.Clusters = 2
	opts.LeafSize = 3
	s := helpers.MustStore(helpers.Blobs([][]float32{{10, 1}, {1, 10}}, 10, 0.5, 4))
	return engine.New(s, opts)
}

func TestRunExhaustive(t *testing.T) {
	s, err := bench.Run(context.Background(), newEngine(t), bench.Options{
		Cluster: engine.AgglomerativeEuclidean.String(),
		K:       5,
		Threads: 3,
	})
	require.NoError(t, err)

	assert.Equal(t, "exhaustive", s.Method)
	assert.Equal(t, 20, s.Queries)
	assert.Len(t, s.Outcomes, 20)
	assert.InDelta(t, 1.0, s.Precision, 1e-9)
	assert.InDelta(t, 5.0/9.0, s.Recall, 1e-9)
	assert.InDelta(t, 2*(5.0/9.0)/(1+5.0/9.0), s.F1, 1e-9)
	assert.InDelta(t, 1.0, s.RecallAtK, 1e-9)
	assert.InDelta(t, 20.0, s.Comparisons, 1e-9)
	assert.InDelta(t, 1.0, s.Speedup, 1e-9)
	for _, o := range s.Outcomes {
		assert.NotEmpty(t, o.ID)
	}
}

func TestRunExactTreeMatchesExhaustive(t *testing.T) {
	for _, m := range []engine.Method{engine.VPTree, engine.BallTree, engine.Cdist} {
		s, err := bench.Run(context.Background(), newEngine(t), bench.Options{Method: m.String(), K: 4, Threads: 2})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, s.RecallAtK, 1e-9, "method %s", m)
		assert.LessOrEqual(t, s.Comparisons, s.ExhaustiveComparisons+1e-9, "method %s", m)
		assert.Zero(t, s.Precision, "no cluster selected")
	}
}

func TestRunApproximate(t *testing.T) {
	var progress bytes.Buffer
	s, err := bench.Run(context.Background(), newEngine(t), bench.Options{
		Method:   engine.Annoy.String(),
		Metric:   "cosine",
		Cluster:  engine.KMeans.String(),
		Progress: &progress,
	})
	require.NoError(t, err)
	assert.Equal(t, "annoy", s.Method)
	assert.Equal(t, "cosine", s.Metric)
	assert.Equal(t, 10, s.K)
	assert.GreaterOrEqual(t, s.RecallAtK, 0.0)
	assert.LessOrEqual(t, s.RecallAtK, 1.0)
	assert.Greater(t, s.Comparisons, 0.0)
	assert.NotEmpty(t, progress.String())
}

func TestRunRejectsBadSelectors(t *testing.T) {
	e := newEngine(t)
	_, err := bench.Run(context.Background(), e, bench.Options{Method: "kd_tree"})
	assert.ErrorIs(t, err, core.ErrUnknownMethod)

	_, err = bench.Run(context.Background(), e, bench.Options{Metric: "hamming"})
	assert.ErrorIs(t, err, core.ErrUnsupportedMetric)

	_, err = bench.Run(context.Background(), e, bench.Options{Cluster: "dbscan"})
	assert.ErrorIs(t, err, core.ErrUnknownMethod)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bench.Run(ctx, newEngine(t), bench.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRadius(t *testing.T) {
	e := newEngine(t)
	s, err := bench.Run(context.Background(), e, bench.Options{
		Cluster: engine.AgglomerativeEuclidean.String(),
		Radius:  5,
		Threads: 2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 5.0, s.Radius, 1e-9)
	assert.InDelta(t, 1.0, s.Precision, 1e-9)
	assert.InDelta(t, 1.0, s.Recall, 1e-9)
	assert.InDelta(t, 1.0, s.F1, 1e-9)
	for _, o := range s.Outcomes {
		assert.Equal(t, 9, o.Metrics.Retrieved, "query %s", o.ID)
	}

	s, err = bench.Run(context.Background(), e, bench.Options{
		Cluster: engine.AgglomerativeEuclidean.String(),
		Radius:  50,
	})
	require.NoError(t, err)
	assert.InDelta(t, 9.0/19.0, s.Precision, 1e-9)
	assert.InDelta(t, 1.0, s.Recall, 1e-9)
	assert.InDelta(t, 2*(9.0/19.0)/(1+9.0/19.0), s.F1, 1e-9)
}

func TestRunRadiusApproximate(t *testing.T) {
	s, err := bench.Run(context.Background(), newEngine(t), bench.Options{
		Method:  engine.Annoy.String(),
		Cluster: engine.KMeans.String(),
		Radius:  5,
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.RecallAtK, 0.0)
	assert.LessOrEqual(t, s.RecallAtK, 1.0)
	assert.LessOrEqual(t, s.Precision, 1.0)
}

func TestSweepPicksBestRadius(t *testing.T) {
	res, err := bench.Sweep(context.Background(), newEngine(t), []float64{1e-6, 5, 50, 60}, bench.Options{
		Cluster: engine.AgglomerativeEuclidean.String(),
	})
	require.NoError(t, err)
	require.Len(t, res.Points, 4)
	assert.Equal(t, "exhaustive", res.Method)
	assert.Equal(t, "euclidean", res.Metric)

	assert.Zero(t, res.Points[0].F1)
	assert.Zero(t, res.Points[0].Precision)
	assert.InDelta(t, 1.0, res.Points[1].F1, 1e-9)
	// 50 and 60 both retrieve everything.
	assert.InDelta(t, res.Points[2].F1, res.Points[3].F1, 1e-9)

	require.NotNil(t, res.Best)
	assert.InDelta(t, 5.0, res.Best.Radius, 1e-9)
	assert.InDelta(t, 1.0, res.Best.F1, 1e-9)
}

func TestSweepWithoutMatchesHasNoBest(t *testing.T) {
	res, err := bench.Sweep(context.Background(), newEngine(t), []float64{1e-9, 1e-6}, bench.Options{
		Cluster: engine.KMeans.String(),
	})
	require.NoError(t, err)
	assert.Len(t, res.Points, 2)
	assert.Nil(t, res.Best)
}

func TestSweepRejectsBadInput(t *testing.T) {
	e := newEngine(t)
	_, err := bench.Sweep(context.Background(), e, []float64{1}, bench.Options{})
	assert.Error(t, err)

	_, err = bench.Sweep(context.Background(), e, nil, bench.Options{Cluster: engine.KMeans.String()})
	assert.Error(t, err)

	_, err = bench.Sweep(context.Background(), e, []float64{0.5, 0}, bench.Options{Cluster: engine.KMeans.String()})
	assert.ErrorContains(t, err, "not positive")

	_, err = bench.Sweep(context.Background(), e, []float64{1}, bench.Options{Cluster: "dbscan"})
	assert.ErrorIs(t, err, core.ErrUnknownMethod)
}

func TestRadii(t *testing.T) {
	r := bench.Radii(0.01, 1, 0.01)
	require.Len(t, r, 100)
	assert.Equal(t, 0.01, r[0])
	assert.Equal(t, 0.3, r[29])
	assert.Equal(t, 1.0, r[99])

	assert.Equal(t, []float64{2, 2.5, 3}, bench.Radii(2, 3, 0.5))
	assert.Nil(t, bench.Radii(1, 0, 0.1))
	assert.Nil(t, bench.Radii(0, 1, 0))
}
