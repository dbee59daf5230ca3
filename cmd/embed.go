package cmd

import (
	"github.com/patrikhermansson/cbir/store"
	"github.com/spf13/cobra"
)

func (a *app) embedCommand() *cobra.Command {
	var (
		output   string
		table    string
		workers  int
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "embed <image-dir>",
		Short: "Embed an image directory into a SQLite corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers <= 0 {
				workers = a.cfg.Bench.Threads
			}
			s, err := store.Load(cmd.Context(), store.ImageDirSource{
				Dir:      args[0],
				Embedder: a.embedder(),
				Workers:  workers,
				Progress: progressWriter(cmd, progress),
			})
			if err != nil {
				return err
			}

			db, err := store.OpenSQLite(output)
			if err != nil {
				return err
			}
			defer db.Close()
			return store.SaveSQLite(cmd.Context(), db, table, s.All())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "corpus.db", "SQLite database to write")
	f.StringVar(&table, "table", store.DefaultTable, "Table to write")
	f.IntVar(&workers, "workers", 0, "Parallel embeddings, defaults to bench.threads or the number of CPUs")
	f.BoolVar(&progress, "progress", false, "Show a progress bar")
	return cmd
}
