// Package bench evaluates a search strategy over the whole corpus: every
// record is used once as a query and the scores are averaged.
package bench

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/engine"
	"github.com/patrikhermansson/cbir/eval"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// Options selects what is evaluated.
type Options struct {
	Method   string    // search strategy, defaults to exhaustive
	Metric   string    // distance metric, defaults to the engine's metric
	Cluster  string    // cluster selector used as ground truth for precision and recall
	K        int       // results per query, defaults to the engine's k
	Radius   float64   // when positive, every record within Radius is retrieved instead of the top k
	Threads  int       // query workers, defaults to the number of CPUs
	Progress io.Writer // progress bar output, nil disables it
}

// QueryOutcome holds the results for a single query.
type QueryOutcome struct {
	ID          string
	Metrics     eval.Metrics
	RecallAtK   float64 // share of the exhaustive results that were retrieved
	Comparisons int
	Elapsed     time.Duration
}

// Summary is the average over all queries.
type Summary struct {
	Method    string        `json:"method"`
	Metric    string        `json:"metric"`
	Cluster   string        `json:"cluster_method,omitempty"`
	K         int           `json:"k"`
	Radius    float64       `json:"radius,omitempty"`
	Queries   int           `json:"queries"`
	Precision float64       `json:"precision"`
	Recall    float64       `json:"recall"`
	F1        float64       `json:"f1"`          // mean of the per-query F1 scores
	RecallAtK float64       `json:"recall_at_k"` // against exhaustive search
	Elapsed   time.Duration `json:"elapsed_ns"`  // mean search time per query

	Comparisons           float64 `json:"comparisons"`            // mean per query
	ExhaustiveComparisons float64 `json:"exhaustive_comparisons"` // mean per query of the linear scan
	Speedup               float64 `json:"speedup"`                // exhaustive over measured comparisons

	Outcomes []QueryOutcome `json:"-"`
}

// Run queries every corpus record against e, excluding the record itself from
// its own results, and averages the outcomes. It stops at the first failed
// query or when ctx is done.
func Run(ctx context.Context, e *engine.Engine, opts Options) (*Summary, error) {
	ids := e.Store().IDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty corpus", core.ErrCorpus)
	}
	k := opts.K
	if k <= 0 {
		k = e.Options().K
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	threads = min(threads, len(ids))

	method := engine.Exhaustive
	if opts.Method != "" {
		m, err := engine.ParseMethod(opts.Method)
		if err != nil {
			return nil, err
		}
		method = m
	}
	metric := e.Options().Metric
	if opts.Metric != "" {
		m, err := core.ParseMetric(opts.Metric)
		if err != nil {
			return nil, err
		}
		metric = m
	}

	// Build up front so the first queries do not pay for it.
	methods := []engine.Method{method}
	if !method.Exact() {
		methods = append(methods, engine.Exhaustive)
	}
	for _, m := range methods {
		if _, err := e.Index(ctx, m, metric); err != nil {
			return nil, err
		}
	}

	if opts.Radius > 0 {
		log.Info().Str("method", method.String()).Str("metric", metric.String()).Str("cluster", opts.Cluster).
			Msgf("Running range queries (r=%g) on %d records using %d threads", opts.Radius, len(ids), threads)
	} else {
		log.Info().Str("method", method.String()).Str("metric", metric.String()).Str("cluster", opts.Cluster).
			Msgf("Running kNN queries (k=%d) on %d records using %d threads", k, len(ids), threads)
	}
	overallStart := time.Now()

	progress := opts.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(ids),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("evaluating"),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(progress, "\n") }),
	)

	outcomes := make([]QueryOutcome, len(ids))
	var (
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) { errOnce.Do(func() { firstErr = err }) }

	tasks := make(chan int, len(ids))
	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for i := range tasks {
			if ctx.Err() != nil {
				fail(ctx.Err())
				continue
			}
			out, err := runQuery(ctx, e, ids[i], method, metric, opts.Cluster, k, opts.Radius)
			if err != nil {
				fail(fmt.Errorf("query %s: %w", ids[i], err))
				continue
			}
			outcomes[i] = out
			_ = bar.Add(1)
		}
	}

	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go worker()
	}
	for i := range ids {
		tasks <- i
	}
	close(tasks)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	s := summarize(outcomes, e.Store().Len())
	s.Method = method.String()
	s.Metric = metric.String()
	s.Cluster = opts.Cluster
	s.K = k
	s.Radius = opts.Radius
	log.Info().Dur("took", time.Since(overallStart)).
		Msgf("Average Recall@%d over %d queries: %.3f, precision=%.3f recall=%.3f, comparisons=%.1f (%.2fx)",
			k, s.Queries, s.RecallAtK, s.Precision, s.Recall, s.Comparisons, s.Speedup)
	return s, nil
}

// runQuery evaluates one record: the measured search, then, for approximate
// methods, the exhaustive results it is compared with.
func runQuery(ctx context.Context, e *engine.Engine, id string, method engine.Method, metric core.Metric,
	clusterSel string, k int, radius float64) (QueryOutcome, error) {
	req := engine.Request{
		Method:      method.String(),
		Metric:      metric.String(),
		Cluster:     clusterSel,
		QueryID:     id,
		K:           k,
		Radius:      radius,
		ExcludeSelf: true,
	}
	res, err := e.Query(ctx, req)
	if err != nil {
		return QueryOutcome{}, err
	}
	out := QueryOutcome{
		ID:          id,
		Metrics:     res.Metrics,
		Comparisons: res.Comparisons,
		Elapsed:     res.Elapsed,
		RecallAtK:   1,
	}
	if method.Exact() {
		return out, nil
	}

	req.Method = engine.Exhaustive.String()
	req.Cluster = ""
	truth, err := e.Query(ctx, req)
	if err != nil {
		return QueryOutcome{}, err
	}
	if len(truth.Matches) > 0 {
		limit := k
		if radius > 0 {
			limit = len(res.Matches)
		}
		out.RecallAtK = eval.RecallAtK(neighbors(res.Matches), neighbors(truth.Matches), limit)
	}
	return out, nil
}

func neighbors(matches []engine.Match) []core.Neighbor {
	out := make([]core.Neighbor, len(matches))
	for i, m := range matches {
		out[i] = core.Neighbor{ID: m.ID, Distance: m.Distance}
	}
	return out
}

// summarize averages the outcomes; a linear scan compares against all n
// records.
func summarize(outcomes []QueryOutcome, n int) *Summary {
	s := &Summary{Queries: len(outcomes), Outcomes: outcomes, ExhaustiveComparisons: float64(n)}
	if len(outcomes) == 0 {
		return s
	}
	var elapsed time.Duration
	var comparisons int
	for _, o := range outcomes {
		s.Precision += o.Metrics.Precision
		s.Recall += o.Metrics.Recall
		s.F1 += eval.F1(o.Metrics.Precision, o.Metrics.Recall)
		s.RecallAtK += o.RecallAtK
		comparisons += o.Comparisons
		elapsed += o.Elapsed
	}
	q := float64(len(outcomes))
	s.Precision /= q
	s.Recall /= q
	s.RecallAtK /= q
	s.F1 /= q
	s.Comparisons = float64(comparisons) / q
	s.Elapsed = elapsed / time.Duration(len(outcomes))
	if s.Comparisons > 0 {
		s.Speedup = s.ExhaustiveComparisons / s.Comparisons
	}
	return s
}
