package exhaustive_test

import (
	"errors"
	"testing"

	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/exhaustive"
	"github.com/patrikhermansson/cbir/internal/helpers"
	"github.com/patrikhermansson/cbir/store"
)

func tieStore() *store.FeatureStore {
	return helpers.MustStore([]store.Record{
		{ID: "E", Vector: []float32{5, 5}},
		{ID: "C", Vector: []float32{1, 0}},
		{ID: "A", Vector: []float32{3, 0}},
		{ID: "D", Vector: []float32{0, -2}},
		{ID: "B", Vector: []float32{0, 1}},
	})
}

func TestSearchBreaksTiesByID(t *testing.T) {
	s := tieStore()
	builders := map[string]func() (core.Index, error){
		"exhaustive": func() (core.Index, error) { return exhaustive.Build(s, core.Euclidean) },
		"cdist":      func() (core.Index, error) { return exhaustive.BuildCdist(s, core.Euclidean) },
	}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			idx, err := build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			res, err := idx.Search([]float32{0, 0}, 3)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			want := []core.Neighbor{{ID: "B", Distance: 1}, {ID: "C", Distance: 1}, {ID: "D", Distance: 2}}
			if err := helpers.SameNeighbors(res.Neighbors, want, 1e-6); err != nil {
				t.Errorf("unexpected ranking: %v", err)
			}
		})
	}
}

func TestComparisonsEqualCorpusSize(t *testing.T) {
	s := helpers.MustStore(helpers.RandomRecords(57, 4, 3))
	idx, err := exhaustive.Build(s, core.Manhattan)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	queries := helpers.RandomRecords(5, 4, 11)
	for _, q := range queries {
		res, err := idx.Search(q.Vector, 5)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if res.Comparisons != 57 || idx.Comparisons() != 57 {
			t.Errorf("expected 57 comparisons, got %d (last %d)", res.Comparisons, idx.Comparisons())
		}
	}
}

func TestCdistMatchesExhaustive(t *testing.T) {
	s := helpers.MustStore(helpers.RandomRecords(200, 8, 5))
	for _, metric := range core.Metrics {
		ex, err := exhaustive.Build(s, metric)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		cd, err := exhaustive.BuildCdist(s, metric)
		if err != nil {
			t.Fatalf("BuildCdist failed: %v", err)
		}
		for _, q := range helpers.RandomRecords(10, 8, 99) {
			want, _ := ex.Search(q.Vector, 7)
			got, err := cd.Search(q.Vector, 7)
			if err != nil {
				t.Fatalf("Search failed: %v", err)
			}
			if err := helpers.SameNeighbors(got.Neighbors, want.Neighbors, 0); err != nil {
				t.Errorf("%s: %v", metric, err)
			}
		}
	}
}

func TestSearchBounds(t *testing.T) {
	s := tieStore()
	idx, err := exhaustive.Build(s, core.Euclidean)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, _ := idx.Search([]float32{0, 0}, 0)
	if len(res.Neighbors) != 0 {
		t.Errorf("expected no neighbors for k=0, got %d", len(res.Neighbors))
	}
	res, _ = idx.Search([]float32{0, 0}, 50)
	if len(res.Neighbors) != 5 {
		t.Errorf("expected all 5 neighbors for k>n, got %d", len(res.Neighbors))
	}
	if _, err := idx.Search([]float32{1, 2, 3}, 3); !errors.Is(err, core.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestRangeSearch(t *testing.T) {
	s := tieStore()
	idx, err := exhaustive.BuildCdist(s, core.Euclidean)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	res, err := idx.RangeSearch([]float32{0, 0}, 2)
	if err != nil {
		t.Fatalf("RangeSearch failed: %v", err)
	}
	want := []core.Neighbor{{ID: "B", Distance: 1}, {ID: "C", Distance: 1}, {ID: "D", Distance: 2}}
	if err := helpers.SameNeighbors(res.Neighbors, want, 1e-6); err != nil {
		t.Errorf("unexpected range result: %v", err)
	}
}

func TestCosineRejectsZeroQuery(t *testing.T) {
	idx, err := exhaustive.Build(tieStore(), core.Cosine)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := idx.Search([]float32{0, 0}, 1); !errors.Is(err, core.ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector, got %v", err)
	}
	if got := idx.Stats(); got.Method != "exhaustive" || got.Count != 5 || got.Distance != "cosine" {
		t.Errorf("unexpected stats %+v", got)
	}
}
