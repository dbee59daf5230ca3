package core

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// DefaultSeed is used when neither configuration nor CBIR_SEED provide one,
// so that builds are reproducible run to run.
const DefaultSeed int64 = 42

// GetSeed receives a seed value for random number generation from the CBIR_SEED environment variable.
// It returns fallback when the variable is unset or cannot be parsed.
func GetSeed(fallback int64) int64 {
	seedStr := os.Getenv("CBIR_SEED")
	if seedStr != "" {
		if seed, err := strconv.ParseInt(seedStr, 10, 64); err == nil {
			log.Debug().Msgf("Using seed from CBIR_SEED value: %d", seed)
			return seed
		}
		log.Warn().Msgf("Failed to parse CBIR_SEED value: %s", seedStr)
	}
	return fallback
}
