package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// JSONSource reads a corpus from a JSON array of records:
// [{"id": "...", "label": "...", "embedding": [...]}, ...].
type JSONSource struct {
	Path string
}

// Records decodes the file.
func (j JSONSource) Records(ctx context.Context) ([]Record, error) {
	log.Info().Msgf("Loading corpus JSON file: %s", j.Path)
	data, err := os.ReadFile(j.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", j.Path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", j.Path, err)
	}
	return records, nil
}

// MemorySource serves records that are already in memory.
type MemorySource []Record

// Records returns the records as given.
func (m MemorySource) Records(context.Context) ([]Record, error) {
	return m, nil
}
