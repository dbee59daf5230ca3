package core

import (
	"errors"
	"math"
	"testing"
)

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		vec      []float32
		expected []float32
	}{
		{
			vec: []float32{1, 1, 1, 1, 1, 1, 1, 1},
			expected: []float32{0.353553, 0.353553, 0.353553, 0.353553,
				0.353553, 0.353553, 0.353553, 0.353553},
		},
		{
			vec:      []float32{8, 0, 0, 0, 0, 0, 0, 0},
			expected: []float32{1, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			vec:      []float32{0, 0, 0, 0, 0, 0, 0, 0},
			expected: []float32{0, 0, 0, 0, 0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		NormalizeVector(tt.vec)

		for i := range tt.vec {
			if math.Abs(float64(tt.vec[i]-tt.expected[i])) > 1e-5 {
				t.Errorf("NormalizeVector failed.\nGot:      %v\nExpected: %v", tt.vec, tt.expected)
				break
			}
		}
	}
}

func TestMean(t *testing.T) {
	got := Mean([][]float32{{0, 2}, {2, 4}, {4, 0}})
	want := []float32{2, 2}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Fatalf("Mean = %v; want %v", got, want)
		}
	}
	if Mean(nil) != nil {
		t.Errorf("Mean(nil) should be nil")
	}
}

type sliceCorpus struct {
	ids  []string
	vecs [][]float32
}

func (c sliceCorpus) Len() int               { return len(c.ids) }
func (c sliceCorpus) Dimension() int         { return len(c.vecs[0]) }
func (c sliceCorpus) ID(i int) string        { return c.ids[i] }
func (c sliceCorpus) Vector(i int) []float32 { return c.vecs[i] }

func TestPreparePointsCopiesAndNormalizes(t *testing.T) {
	c := sliceCorpus{ids: []string{"a", "b"}, vecs: [][]float32{{3, 4}, {0, 2}}}
	points, err := PreparePoints(c, Cosine)
	if err != nil {
		t.Fatalf("PreparePoints failed: %v", err)
	}
	if math.Abs(float64(points[0].Vector[0])-0.6) > 1e-6 {
		t.Errorf("expected normalized vector, got %v", points[0].Vector)
	}
	if c.vecs[0][0] != 3 {
		t.Errorf("PreparePoints must not modify the corpus, got %v", c.vecs[0])
	}

	degenerate := sliceCorpus{ids: []string{"z"}, vecs: [][]float32{{0, 0}}}
	if _, err := PreparePoints(degenerate, Cosine); !errors.Is(err, ErrDegenerateVector) {
		t.Errorf("expected ErrDegenerateVector, got %v", err)
	}
}

func TestPrepareQueryDimension(t *testing.T) {
	if _, err := PrepareQuery([]float32{1, 2, 3}, 2, Euclidean); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := PrepareQuery([]float32{1, 2}, 2, Euclidean); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPrepareQueryNonFinite(t *testing.T) {
	bad := [][]float32{
		{float32(math.NaN()), 1},
		{1, float32(math.Inf(1))},
		{float32(math.Inf(-1)), 0},
	}
	for _, m := range Metrics {
		for _, q := range bad {
			if _, err := PrepareQuery(q, 2, m); !errors.Is(err, ErrDegenerateVector) {
				t.Errorf("%s %v: expected ErrDegenerateVector, got %v", m, q, err)
			}
		}
	}
}
