// Package helpers builds synthetic corpora for tests and benchmarks.
package helpers

import (
	"fmt"
	"math/rand"

	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/store"
)

// RecordID names the i-th synthetic record like an image file.
func RecordID(i int) string {
	return fmt.Sprintf("img%04d.png", i)
}

// RandomRecords returns n uniformly random vectors in [0, 1)^dim.
// Every coordinate is shifted away from zero so cosine never sees a zero norm.
func RandomRecords(n, dim int, seed int64) []store.Record {
	rnd := rand.New(rand.NewSource(seed))
	records := make([]store.Record, n)
	for i := range records {
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = rnd.Float32() + 0.01
		}
		records[i] = store.Record{ID: RecordID(i), Vector: vec}
	}
	return records
}

// Grid returns the side×side integer lattice starting at (1, 1), so many
// queries have several neighbors at exactly the same distance.
func Grid(side int) []store.Record {
	records := make([]store.Record, 0, side*side)
	for x := 1; x <= side; x++ {
		for y := 1; y <= side; y++ {
			records = append(records, store.Record{ID: RecordID(len(records)), Vector: []float32{float32(x), float32(y)}})
		}
	}
	return records
}

// GridQueries returns lattice points of a side×side grid together with
// points halfway between them, which sit on ties between two or four records.
func GridQueries(side int) [][]float32 {
	var out [][]float32
	for x := 1; x <= side; x += 2 {
		for y := 1; y <= side; y += 3 {
			fx, fy := float32(x), float32(y)
			out = append(out, []float32{fx, fy}, []float32{fx + 0.5, fy}, []float32{fx + 0.5, fy + 0.5})
		}
	}
	return out
}

// Blobs returns perCenter points scattered around each center, labelled with
// the index of their center.
func Blobs(centers [][]float32, perCenter int, spread float64, seed int64) []store.Record {
	rnd := rand.New(rand.NewSource(seed))
	records := make([]store.Record, 0, len(centers)*perCenter)
	for c, center := range centers {
		for p := 0; p < perCenter; p++ {
			vec := make([]float32, len(center))
			for j := range vec {
				vec[j] = center[j] + float32(rnd.NormFloat64()*spread)
			}
			records = append(records, store.Record{
				ID:     RecordID(len(records)),
				Vector: vec,
				Label:  fmt.Sprintf("c%d", c),
			})
		}
	}
	return records
}

// MustStore loads records into a feature store and panics on failure.
func MustStore(records []store.Record) *store.FeatureStore {
	s, err := store.New(records)
	if err != nil {
		panic(err)
	}
	return s
}

// SameNeighbors reports the first position where got and want disagree on the
// identifier or, beyond tol, on the distance.
func SameNeighbors(got, want []core.Neighbor, tol float64) error {
	if len(got) != len(want) {
		return fmt.Errorf("got %d neighbors, want %d", len(got), len(want))
	}
	for i := range got {
		if got[i].ID != want[i].ID {
			return fmt.Errorf("position %d: got id %s, want %s", i, got[i].ID, want[i].ID)
		}
		if d := got[i].Distance - want[i].Distance; d > tol || d < -tol {
			return fmt.Errorf("position %d: got distance %f, want %f", i, got[i].Distance, want[i].Distance)
		}
	}
	return nil
}
