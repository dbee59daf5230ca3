// Package config loads the engine configuration from an optional YAML file
// and CBIR_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/patrikhermansson/cbir/core"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Corpus  CorpusConfig  `mapstructure:"corpus"`
	Search  SearchConfig  `mapstructure:"search"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Embed   EmbedConfig   `mapstructure:"embed"`
	Log     LogConfig     `mapstructure:"log"`
	Bench   BenchConfig   `mapstructure:"bench"`
}

// CorpusConfig selects where the pre-embedded corpus is read from.
type CorpusConfig struct {
	Source string `mapstructure:"source"` // csv, json, sqlite or images
	Path   string `mapstructure:"path"`   // file or image directory
	Table  string `mapstructure:"table"`  // sqlite table
	DSN    string `mapstructure:"dsn"`    // sqlite data source, defaults to Path
}

type SearchConfig struct {
	Metric            string `mapstructure:"metric"`
	K                 int    `mapstructure:"k"`
	LeafSize          int    `mapstructure:"leaf_size"`
	Trees             int    `mapstructure:"trees"`
	SearchK           int    `mapstructure:"search_k"`
	Seed              int64  `mapstructure:"seed"`
	ParallelThreshold int    `mapstructure:"parallel_threshold"`
	Cost              string `mapstructure:"cost"` // comparisons or time
}

type ClusterConfig struct {
	Clusters  int     `mapstructure:"clusters"`
	MaxIter   int     `mapstructure:"max_iter"`
	Seed      int64   `mapstructure:"seed"`
	Threshold float64 `mapstructure:"threshold"`
	Dir       string  `mapstructure:"dir"` // precomputed <selector>.json assignments
}

type EmbedConfig struct {
	Bins          int     `mapstructure:"bins"`
	ColorWeight   float64 `mapstructure:"color_weight"`
	TextureWeight float64 `mapstructure:"texture_weight"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type BenchConfig struct {
	Threads int `mapstructure:"threads"`
}

// defaults registers every key so environment variables can override them
// without a config file.
func defaults(v *viper.Viper) {
	v.SetDefault("corpus.source", "csv")
	v.SetDefault("corpus.path", "features.csv")
	v.SetDefault("corpus.table", "images")
	v.SetDefault("corpus.dsn", "")

	v.SetDefault("search.metric", "manhattan")
	v.SetDefault("search.k", 10)
	v.SetDefault("search.leaf_size", 10)
	v.SetDefault("search.trees", 10)
	v.SetDefault("search.search_k", 0)
	v.SetDefault("search.seed", core.DefaultSeed)
	v.SetDefault("search.parallel_threshold", 1000)
	v.SetDefault("search.cost", "comparisons")

	v.SetDefault("cluster.clusters", 12)
	v.SetDefault("cluster.max_iter", 300)
	v.SetDefault("cluster.seed", core.DefaultSeed)
	v.SetDefault("cluster.threshold", 0.0)
	v.SetDefault("cluster.dir", "")

	v.SetDefault("embed.bins", 8)
	v.SetDefault("embed.color_weight", 0.2)
	v.SetDefault("embed.texture_weight", 0.8)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("bench.threads", 0)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if _, err := core.ParseMetric(c.Search.Metric); err != nil {
		warnings = append(warnings, fmt.Sprintf("search metric %q is not supported", c.Search.Metric))
	}
	if c.Search.K <= 0 {
		warnings = append(warnings, fmt.Sprintf("search k %d returns no results", c.Search.K))
	}
	if c.Search.Cost != "comparisons" && c.Search.Cost != "time" {
		warnings = append(warnings, fmt.Sprintf("search cost %q is neither 'comparisons' nor 'time'", c.Search.Cost))
	}
	switch c.Corpus.Source {
	case "csv", "json", "sqlite", "images":
	default:
		warnings = append(warnings, fmt.Sprintf("corpus source %q is unknown", c.Corpus.Source))
	}
	if w := c.Embed.ColorWeight + c.Embed.TextureWeight; w < 0.999 || w > 1.001 {
		warnings = append(warnings, fmt.Sprintf("embedding weights sum to %.3f instead of 1", w))
	}
	if c.Embed.Bins < 1 || c.Embed.Bins > 256 {
		warnings = append(warnings, fmt.Sprintf("embedding bins %d outside [1, 256]", c.Embed.Bins))
	}
	if c.Cluster.MaxIter <= 0 {
		warnings = append(warnings, fmt.Sprintf("cluster max_iter %d is not positive", c.Cluster.MaxIter))
	}

	return warnings
}

// Load reads configuration from file and environment. An empty path uses
// defaults and environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("CBIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// CBIR_LOG is also read by the core package before any config is loaded.
	_ = v.BindEnv("log.level", "CBIR_LOG_LEVEL", "CBIR_LOG")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, warning := range cfg.Validate() {
		log.Warn().Msgf("config: %s", warning)
	}
	return &cfg, nil
}
