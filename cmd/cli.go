// Package cmd implements the cbir command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/patrikhermansson/cbir/cluster"
	"github.com/patrikhermansson/cbir/core"
	"github.com/patrikhermansson/cbir/embed"
	"github.com/patrikhermansson/cbir/engine"
	"github.com/patrikhermansson/cbir/internal/config"
	"github.com/patrikhermansson/cbir/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute runs the CLI and exits non-zero when a command fails.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	cfg        *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "cbir",
		Short:         "Content-based image retrieval over an embedded image corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			setupLogging(cfg.Log, cmd.ErrOrStderr())
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file path (YAML)")

	root.AddCommand(
		a.queryCommand(),
		a.evaluateCommand(),
		a.clusterCommand(),
		a.embedCommand(),
	)
	return root
}

// setupLogging applies the configured level and output format to the global logger.
func setupLogging(cfg config.LogConfig, w io.Writer) {
	core.SetLogLevel(cfg.Level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
}

// embedder builds the histogram descriptor from configuration.
func (a *app) embedder() *embed.Histogram {
	return &embed.Histogram{
		Bins:          a.cfg.Embed.Bins,
		ColorWeight:   a.cfg.Embed.ColorWeight,
		TextureWeight: a.cfg.Embed.TextureWeight,
	}
}

// engineOptions translates configuration into engine options.
func (a *app) engineOptions() (engine.Options, error) {
	metric, err := core.ParseMetric(a.cfg.Search.Metric)
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.DefaultOptions()
	opts.Metric = metric
	opts.K = a.cfg.Search.K
	opts.LeafSize = a.cfg.Search.LeafSize
	opts.Trees = a.cfg.Search.Trees
	opts.SearchK = a.cfg.Search.SearchK
	opts.Seed = a.cfg.Search.Seed
	opts.ParallelThreshold = a.cfg.Search.ParallelThreshold
	opts.Cluster = cluster.Options{
		Clusters:  a.cfg.Cluster.Clusters,
		Threshold: a.cfg.Cluster.Threshold,
		MaxIter:   a.cfg.Cluster.MaxIter,
		Seed:      a.cfg.Cluster.Seed,
	}
	opts.ClusterDir = a.cfg.Cluster.Dir
	opts.Embedder = a.embedder()
	return opts, nil
}

// loadStore reads the configured corpus. Image directories are embedded on
// the fly, reporting progress to progress when it is not nil.
func (a *app) loadStore(ctx context.Context, progress io.Writer) (*store.FeatureStore, error) {
	c := a.cfg.Corpus
	var src store.Source
	switch c.Source {
	case "csv":
		src = store.CSVSource{Path: c.Path}
	case "json":
		src = store.JSONSource{Path: c.Path}
	case "sqlite":
		dsn := c.DSN
		if dsn == "" {
			dsn = c.Path
		}
		db, err := store.OpenSQLite(dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrCorpus, err)
		}
		defer db.Close()
		src = store.SQLiteSource{DB: db, Table: c.Table}
	case "images":
		src = store.ImageDirSource{
			Dir:      c.Path,
			Embedder: a.embedder(),
			Workers:  a.cfg.Bench.Threads,
			Progress: progress,
		}
	default:
		return nil, fmt.Errorf("%w: unknown corpus source %q", core.ErrCorpus, c.Source)
	}
	return store.Load(ctx, src)
}

// newEngine loads the corpus and wraps it in an engine.
func (a *app) newEngine(ctx context.Context, progress io.Writer) (*engine.Engine, error) {
	opts, err := a.engineOptions()
	if err != nil {
		return nil, err
	}
	s, err := a.loadStore(ctx, progress)
	if err != nil {
		return nil, err
	}
	return engine.New(s, opts), nil
}

// progressWriter returns the command's stderr when enabled, nil otherwise.
func progressWriter(cmd *cobra.Command, enabled bool) io.Writer {
	if !enabled {
		return nil
	}
	return cmd.ErrOrStderr()
}
