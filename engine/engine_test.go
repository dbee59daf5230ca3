package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/engine"
	"github.com/patrikhermansson/cbir/internal/helpers"
	"github.com/patrikhermansson/cbir/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixedEmbedder struct {
	vec []float32
	err error
}

func (f fixedEmbedder) Embed(context.Context, []byte) ([]float32, error) { return f.vec, f.err }
func (f fixedEmbedder) Dimension() int { return len(f.vec) }

// newEngine serves two blobs of ten records that differ in direction, so
// every metric separates them.
func newEngine(t *testing.T, opts engine.Options) *engine.Engine {
	t.Helper()
	s, err := store.New(helpers.Blobs([][]float32{{10, 1}, {1, 10}}, 10, 0.5, 4))
	require.NoError(t, err)
	return engine.New(s, opts)
}

func testOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.Metric = core.Euclidean
	opts.Cluster.Clusters = 2
	opts.LeafSize = 3
	return opts
}

func TestParseSelectors(t *testing.T) {
	for _, m := range engine.Methods {
		got, err := engine.ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	for _, c := range engine.ClusterMethods {
		got, err := engine.ParseClusterMethod(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := engine.ParseMethod("kd_tree")
	assert.ErrorIs(t, err, core.ErrUnknownMethod)
	_, err = engine.ParseClusterMethod("dbscan")
	assert.ErrorIs(t, err, core.ErrUnknownMethod)

	assert.Equal(t, core.Manhattan, engine.AgglomerativeCityblock.Metric())
	assert.Equal(t, core.Euclidean, engine.KMeans.Metric())

	mode, err := engine.ParseCostMode("time")
	require.NoError(t, err)
	assert.Equal(t, engine.CostTime, mode)
	_, err = engine.ParseCostMode("dollars")
	assert.Error(t, err)
}

func TestExactMethodsAgree(t *testing.T) {
	e := newEngine(t, testOptions())
	ctx := context.Background()
	want, err := e.Query(ctx, engine.Request{Method: "exhaustive", QueryID: helpers.RecordID(3), K: 6})
	require.NoError(t, err)
	require.Len(t, want.Matches, 6)

	for _, m := range []string{"vp_tree", "ball_tree", "cdist"} {
		got, err := e.Query(ctx, engine.Request{Method: m, QueryID: helpers.RecordID(3), K: 6})
		require.NoError(t, err)
		assert.Equal(t, want.Matches, got.Matches, "method %s", m)
	}
	assert.Equal(t, 20, want.Comparisons)
}

func TestQueryScoresAgainstClusters(t *testing.T) {
	e := newEngine(t, testOptions())
	for _, c := range engine.ClusterMethods {
		self := helpers.RecordID(2)
		res, err := e.Query(context.Background(), engine.Request{
			Method:      "ball_tree",
			Cluster:     c.String(),
			QueryID:     self,
			K:           5,
			ExcludeSelf: true,
		})
		require.NoError(t, err, "cluster %s", c)
		require.Len(t, res.Matches, 5)
		for _, m := range res.Matches {
			assert.NotEqual(t, self, m.ID)
			require.NotNil(t, m.Cluster)
		}
		assert.Equal(t, 1.0, res.Metrics.Precision, "cluster %s", c)
		assert.InDelta(t, 5.0/9.0, res.Metrics.Recall, 1e-12, "cluster %s", c)
		assert.Equal(t, 9, res.Metrics.Relevant)
		assert.NotEmpty(t, res.RequestID)
	}
}

func TestQueryWithoutSelfExclusion(t *testing.T) {
	e := newEngine(t, testOptions())
	res, err := e.Query(context.Background(), engine.Request{QueryID: helpers.RecordID(0), K: 3})
	require.NoError(t, err)
	assert.Equal(t, helpers.RecordID(0), res.Matches[0].ID)
	assert.Equal(t, 0.0, res.Matches[0].Distance)
}

func TestRangeQuery(t *testing.T) {
	e := newEngine(t, testOptions())
	res, err := e.Query(context.Background(), engine.Request{
		Method: "vp_tree",
		Vector: []float32{1, 10},
		Radius: 5,
	})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 10)
}

func TestQueryErrors(t *testing.T) {
	e := newEngine(t, testOptions())
	ctx := context.Background()
	tests := []struct {
		name   string
		req    engine.Request
		target error
		status int
	}{
		{"dimension", engine.Request{Vector: []float32{1, 2, 3}}, core.ErrDimensionMismatch, http.StatusBadRequest},
		{"empty", engine.Request{}, core.ErrDimensionMismatch, http.StatusBadRequest},
		{"degenerate", engine.Request{Metric: "cosine", Vector: []float32{0, 0}}, core.ErrDegenerateVector, http.StatusBadRequest},
		{"nan", engine.Request{Vector: []float32{float32(math.NaN()), 0}}, core.ErrDegenerateVector, http.StatusBadRequest},
		{"metric", engine.Request{Metric: "hamming", Vector: []float32{0, 0}}, core.ErrUnsupportedMetric, http.StatusBadRequest},
		{"method", engine.Request{Method: "kd_tree", Vector: []float32{0, 0}}, core.ErrUnknownMethod, http.StatusBadRequest},
		{"cluster", engine.Request{Cluster: "dbscan", Vector: []float32{0, 0}}, core.ErrUnknownMethod, http.StatusBadRequest},
		{"unknown id", engine.Request{QueryID: "ghost.png"}, core.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Query(ctx, tt.req)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.status, engine.StatusCode(err))
		})
	}
}

func TestQueryImage(t *testing.T) {
	opts := testOptions()
	opts.Embedder = fixedEmbedder{vec: []float32{1, 10}}
	e := newEngine(t, opts)
	res, err := e.QueryImage(context.Background(), []byte("png"), engine.Request{Method: "annoy", Cluster: "k_means", K: 4})
	require.NoError(t, err)
	require.Len(t, res.Matches, 4)
	assert.Equal(t, 1.0, res.Metrics.Precision)
	assert.Equal(t, 10, res.Metrics.Relevant)

	opts.Embedder = fixedEmbedder{err: errors.New("corrupt jpeg")}
	e = newEngine(t, opts)
	_, err = e.QueryImage(context.Background(), []byte("jpeg"), engine.Request{})
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.Equal(t, http.StatusUnprocessableEntity, engine.StatusCode(err))
}

func TestConcurrentQueriesShareBuilds(t *testing.T) {
	e := newEngine(t, testOptions())
	var wg sync.WaitGroup
	indices := make([]core.Index, 16)
	for i := range indices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Query(context.Background(), engine.Request{
				Method:  "annoy",
				Cluster: "agglomerative_euclidean",
				Vector:  []float32{float32(i), 1},
			})
			assert.NoError(t, err)
			indices[i], err = e.Index(context.Background(), engine.Annoy, core.Euclidean)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	for _, idx := range indices {
		assert.Same(t, indices[0], idx)
	}
}

func TestWarm(t *testing.T) {
	e := newEngine(t, testOptions())
	require.NoError(t, e.Warm(context.Background(), engine.Methods, engine.ClusterMethods))
	a, err := e.Assignment(context.Background(), engine.KMeans)
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumClusters())
}

func TestAssignmentSurvivesCancelledCaller(t *testing.T) {
	e := newEngine(t, testOptions())
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := e.Assignment(cancelled, engine.AgglomerativeEuclidean)
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	}()
	a, err := e.Assignment(context.Background(), engine.AgglomerativeEuclidean)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumClusters())
}

// writeClusterFile puts every corpus record into a single cluster.
func writeClusterFile(t *testing.T, dir string, c engine.ClusterMethod, e *engine.Engine) {
	t.Helper()
	ids, err := json.Marshal(e.Store().IDs())
	require.NoError(t, err)
	doc := `{"clusters": {"0": ` + string(ids) + `}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, c.String()+".json"), []byte(doc), 0o644))
}

func TestAssignmentFromClusterDir(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.ClusterDir = dir
	e := newEngine(t, opts)
	writeClusterFile(t, dir, engine.AgglomerativeEuclidean, e)

	res, err := e.Query(context.Background(), engine.Request{
		Cluster:     "agglomerative_euclidean",
		QueryID:     helpers.RecordID(0),
		K:           5,
		ExcludeSelf: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 19, res.Metrics.Relevant)
	assert.InDelta(t, 5.0/19.0, res.Metrics.Recall, 1e-12)

	// No file for k-means: it is built.
	a, err := e.Assignment(context.Background(), engine.KMeans)
	require.NoError(t, err)
	assert.Equal(t, 2, a.NumClusters())
}

func TestAssignmentRejectsBadClusterFile(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.ClusterDir = dir
	e := newEngine(t, opts)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k_means.json"),
		[]byte(`{"method": "agglomerative", "clusters": {}}`), 0o644))

	_, err := e.Query(context.Background(), engine.Request{Cluster: "k_means", Vector: []float32{1, 1}})
	assert.ErrorIs(t, err, core.ErrCorpus)
	assert.True(t, strings.Contains(err.Error(), "k_means.json"))
}

func TestWarmKeepsBuildingAfterFailure(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.ClusterDir = dir
	e := newEngine(t, opts)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "k_means.json"), []byte(`not json`), 0o644))

	err := e.Warm(context.Background(), engine.Methods, engine.ClusterMethods)
	assert.ErrorIs(t, err, core.ErrCorpus)

	for _, c := range []engine.ClusterMethod{engine.AgglomerativeCityblock, engine.AgglomerativeCosine, engine.AgglomerativeEuclidean} {
		a, err := e.Assignment(context.Background(), c)
		require.NoError(t, err, "cluster %s", c)
		assert.Equal(t, 2, a.NumClusters())
	}
}

func TestQueryTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	opts := testOptions()
	opts.Tracer = provider.Tracer(engine.TracerName)
	e := newEngine(t, opts)

	_, err := e.Query(context.Background(), engine.Request{Method: "vp_tree", Cluster: "k_means", Vector: []float32{1, 1}})
	require.NoError(t, err)
	_, err = e.Query(context.Background(), engine.Request{Vector: []float32{1}})
	require.Error(t, err)

	names := map[string]int{}
	var failed int
	for _, s := range recorder.Ended() {
		names[s.Name()]++
		if s.Name() == "engine.query" && s.Status().Code == codes.Error {
			failed++
		}
	}
	assert.Equal(t, 2, names["engine.query"])
	assert.Equal(t, 1, names["engine.build_index"])
	assert.Equal(t, 1, names["engine.search"])
	assert.Equal(t, 1, names["engine.cluster"])
	assert.Equal(t, 1, failed)
}

func TestResponseCostModes(t *testing.T) {
	e := newEngine(t, testOptions())
	res, err := e.Query(context.Background(), engine.Request{Method: "cdist", Cluster: "k_means", Vector: []float32{1, 1}, K: 2})
	require.NoError(t, err)

	body, err := json.Marshal(engine.NewResponse(res, engine.CostComparisons))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.EqualValues(t, 200, decoded["status"])
	assert.EqualValues(t, 20, decoded["comparisons"])
	assert.NotContains(t, decoded, "time")
	assert.Equal(t, "cdist", decoded["method"])
	first := decoded["results"].([]any)[0].(map[string]any)
	assert.Contains(t, first, "image_name")
	assert.Contains(t, first, "cluster")

	timed := engine.NewResponse(res, engine.CostTime)
	assert.Nil(t, timed.Comparisons)
	require.NotNil(t, timed.Time)
	assert.GreaterOrEqual(t, *timed.Time, 0.0)

	failed := engine.ErrorResponse(core.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, failed.Status)
	assert.Equal(t, http.StatusInternalServerError, engine.StatusCode(errors.New("disk on fire")))
}
