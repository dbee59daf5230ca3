package eval_test

import (
	"math"
	"testing"

	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/eval"
)

func neighbors(ids ...string) []core.Neighbor {
	out := make([]core.Neighbor, len(ids))
	for i, id := range ids {
		out[i] = core.Neighbor{ID: id, Distance: float64(i)}
	}
	return out
}

func TestScore(t *testing.T) {
	tests := []struct {
		name              string
		results           []core.Neighbor
		relevant          []string
		precision, recall float64
	}{
		{"disjoint", neighbors("a", "b"), []string{"c", "d"}, 0, 0},
		{"all relevant", neighbors("a", "b"), []string{"a", "b", "c", "d"}, 1, 0.5},
		{"full coverage", neighbors("a", "b", "x", "y"), []string{"a", "b"}, 0.5, 1},
		{"empty results", nil, []string{"a"}, 0, 0},
		{"empty relevant", neighbors("a"), nil, 0, 0},
		{"both empty", nil, nil, 0, 0},
		{"duplicate ids", neighbors("a", "a", "b"), []string{"a"}, 0.5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := eval.Score(tt.results, tt.relevant)
			if m.Precision != tt.precision || m.Recall != tt.recall {
				t.Errorf("got precision=%v recall=%v, want %v and %v", m.Precision, m.Recall, tt.precision, tt.recall)
			}
			if m.Precision < 0 || m.Precision > 1 || m.Recall < 0 || m.Recall > 1 {
				t.Errorf("scores out of range: %+v", m)
			}
		})
	}
}

func TestScoreCounts(t *testing.T) {
	m := eval.Score(neighbors("a", "b", "c"), []string{"b", "c", "d", "e"})
	if m.Hits != 2 || m.Retrieved != 3 || m.Relevant != 4 {
		t.Errorf("unexpected counts %+v", m)
	}
}

func TestF1(t *testing.T) {
	if got := eval.F1(0, 0); got != 0 {
		t.Errorf("F1(0, 0) = %v; want 0", got)
	}
	if got := eval.F1(0.5, 1); math.Abs(got-2.0/3.0) > 1e-12 {
		t.Errorf("F1(0.5, 1) = %v; want 2/3", got)
	}
}

func TestRecallAtK(t *testing.T) {
	exact := neighbors("a", "b", "c", "d")
	if got := eval.RecallAtK(neighbors("a", "x", "c", "d"), exact, 4); got != 0.75 {
		t.Errorf("RecallAtK = %v; want 0.75", got)
	}
	if got := eval.RecallAtK(neighbors("a", "b"), exact, 0); got != 0 {
		t.Errorf("RecallAtK with k=0 = %v; want 0", got)
	}
	if got := eval.RecallAtK(exact, exact, 10); got != 1 {
		t.Errorf("RecallAtK of identical lists = %v; want 1", got)
	}
}
