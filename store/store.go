// Package store holds the immutable corpus of embedded images that every
// search index and clustering is built from.
package store

import (
	"context"
	"fmt"
	"math"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
)

// Record is one embedded image of the corpus.
type Record struct {
	ID     string    `json:"id"`               // stable identifier, resolvable to an image resource
	Vector []float32 `json:"embedding"`        // embedding vector
	Label  string    `json:"label,omitempty"`  // optional ground-truth label
}

// Source produces the records of a corpus.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// FeatureStore is the read-only mapping from identifier to embedding.
// It is safe for concurrent reads; nothing mutates it after Load.
type FeatureStore struct {
	dimension int
	records   []Record
	byID      map[string]int
}

// Load builds a FeatureStore from src. It fails with core.ErrCorpus when a record
// has a mismatched dimensionality, a duplicate or empty identifier, or when the
// corpus is empty.
func Load(ctx context.Context, src Source) (*FeatureStore, error) {
	records, err := src.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCorpus, err)
	}
	return New(records)
}

// New validates records and builds a FeatureStore that owns copies of them.
func New(records []Record) (*FeatureStore, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: corpus has no records", core.ErrCorpus)
	}
	s := &FeatureStore{
		dimension: len(records[0].Vector),
		records:   make([]Record, len(records)),
		byID:      make(map[string]int, len(records)),
	}
	if s.dimension == 0 {
		return nil, fmt.Errorf("%w: record %q has an empty embedding", core.ErrCorpus, records[0].ID)
	}
	for i, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: record %d has an empty identifier", core.ErrCorpus, i)
		}
		if len(r.Vector) != s.dimension {
			return nil, fmt.Errorf("%w: vector dimension %d does not match corpus dimension %d for id %s",
				core.ErrCorpus, len(r.Vector), s.dimension, r.ID)
		}
		if _, exists := s.byID[r.ID]; exists {
			return nil, fmt.Errorf("%w: id %s already exists", core.ErrCorpus, r.ID)
		}
		vec := make([]float32, len(r.Vector))
		for j, v := range r.Vector {
			if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: record %q has a non-finite value at %d", core.ErrCorpus, r.ID, j)
			}
			vec[j] = v
		}
		s.records[i] = Record{ID: r.ID, Vector: vec, Label: r.Label}
		s.byID[r.ID] = i
	}
	log.Info().Msgf("Loaded corpus with %d records of dimension %d", len(s.records), s.dimension)
	return s, nil
}

// Get returns the embedding of id. The slice is shared and must not be modified.
func (s *FeatureStore) Get(id string) ([]float32, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
	}
	return s.records[i].Vector, nil
}

// Record returns the full record of id.
func (s *FeatureStore) Record(id string) (Record, error) {
	i, ok := s.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
	}
	return s.records[i], nil
}

// Contains reports whether id is part of the corpus.
func (s *FeatureStore) Contains(id string) bool {
	_, ok := s.byID[id]
	return ok
}

// All returns the records in insertion order. The slice is a copy; the vectors are shared.
func (s *FeatureStore) All() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// IDs returns every identifier in insertion order.
func (s *FeatureStore) IDs() []string {
	ids := make([]string, len(s.records))
	for i, r := range s.records {
		ids[i] = r.ID
	}
	return ids
}

// Len returns the number of records.
func (s *FeatureStore) Len() int { return len(s.records) }

// Dimension returns the shared dimensionality of all embeddings.
func (s *FeatureStore) Dimension() int { return s.dimension }

// ID returns the identifier at position i.
func (s *FeatureStore) ID(i int) string { return s.records[i].ID }

// Vector returns the embedding at position i.
func (s *FeatureStore) Vector(i int) []float32 { return s.records[i].Vector }

// Check that FeatureStore can be indexed.
var _ core.Corpus = (*FeatureStore)(nil)
