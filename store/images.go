package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// Embedder turns raw image bytes into an embedding.
type Embedder interface {
	Embed(ctx context.Context, data []byte) ([]float32, error)
}

// imageExtensions are the file types picked up from a corpus directory.
var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// ImageDirSource embeds every image file of a directory. Identifiers are the
// file names relative to Dir, so a static file layer can serve them.
type ImageDirSource struct {
	Dir      string
	Embedder Embedder
	Workers  int       // parallel embeddings, defaults to the number of CPUs
	Progress io.Writer // progress bar output, nil disables it
}

// Records embeds the images in file name order.
func (d ImageDirSource) Records(ctx context.Context) ([]Record, error) {
	if d.Embedder == nil {
		return nil, fmt.Errorf("image source: no embedder configured")
	}
	names, err := ListImages(d.Dir)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Embedding %d images from %s", len(names), d.Dir)

	workers := d.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	progress := d.Progress
	if progress == nil {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("embedding"),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(progress, "\n") }),
	)

	records := make([]Record, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(d.Dir, filepath.FromSlash(name)))
			if err != nil {
				return err
			}
			vec, err := d.Embedder.Embed(gctx, data)
			if err != nil {
				return fmt.Errorf("image %s: %w", name, err)
			}
			records[i] = Record{ID: name, Vector: vec, Label: labelOf(name)}
			return bar.Add(1)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// ListImages returns the image files below dir as sorted slash-separated relative paths.
func ListImages(dir string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(names)
	return names, nil
}

// labelOf uses the parent directory as the ground-truth label, if any.
func labelOf(name string) string {
	if i := strings.LastIndex(name, "/"); i > 0 {
		return name[:i]
	}
	return ""
}
