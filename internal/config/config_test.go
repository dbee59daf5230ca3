package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/patrikhermansson/cbir/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "manhattan", cfg.Search.Metric)
	assert.Equal(t, 10, cfg.Search.K)
	assert.Equal(t, "comparisons", cfg.Search.Cost)
	assert.Equal(t, 12, cfg.Cluster.Clusters)
	assert.Equal(t, 300, cfg.Cluster.MaxIter)
	assert.Equal(t, 8, cfg.Embed.Bins)
	assert.InDelta(t, 0.2, cfg.Embed.ColorWeight, 1e-12)
	assert.Empty(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cbir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
corpus:
  source: sqlite
  path: corpus.db
search:
  metric: cosine
  k: 5
  trees: 20
cluster:
  clusters: 4
`), 0o644))
	t.Setenv("CBIR_SEARCH_K", "7")
	t.Setenv("CBIR_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Corpus.Source)
	assert.Equal(t, "cosine", cfg.Search.Metric)
	assert.Equal(t, 7, cfg.Search.K)
	assert.Equal(t, 20, cfg.Search.Trees)
	assert.Equal(t, 4, cfg.Cluster.Clusters)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "images", cfg.Corpus.Table)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateWarnings(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Search.Metric = "hamming"
	cfg.Search.Cost = "money"
	cfg.Corpus.Source = "ftp"
	cfg.Embed.TextureWeight = 0.5
	assert.Len(t, cfg.Validate(), 4)
}
