package core

import (
	"errors"
	"math"
)

// Error taxonomy shared by every package. Callers match with errors.Is; the
// concrete errors wrap these with context.
var (
	// ErrCorpus reports a corpus that cannot be loaded. It is fatal at startup.
	ErrCorpus = errors.New("corpus error")

	// ErrNotFound reports an unknown identifier.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch reports a vector whose length differs from the corpus.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrDegenerateVector reports a zero-norm vector under the cosine metric
	// or a query holding NaN or infinite values.
	ErrDegenerateVector = errors.New("degenerate vector")

	// ErrUnsupportedMetric reports an invalid method and metric pairing.
	ErrUnsupportedMetric = errors.New("unsupported metric")

	// ErrUnknownMethod reports a search or cluster selector outside the closed set.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrEmbedding reports a failure of the feature extractor.
	ErrEmbedding = errors.New("embedding error")

	// ErrEmptyIndex reports a build over an empty corpus.
	ErrEmptyIndex = errors.New("index is empty")
)

var inf = math.Inf(1)
