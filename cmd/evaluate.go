package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/patrikhermansson/cbir/bench"
	"github.com/patrikhermansson/cbir/engine"
	"github.com/spf13/cobra"
)

func (a *app) evaluateCommand() *cobra.Command {
	var (
		opts       bench.Options
		radii      []float64
		sweep      bool
		jsonOutput bool
		progress   bool
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Query every corpus image and report average precision, recall and cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.newEngine(cmd.Context(), progressWriter(cmd, progress))
			if err != nil {
				return err
			}
			if opts.Threads <= 0 {
				opts.Threads = a.cfg.Bench.Threads
			}
			opts.Progress = progressWriter(cmd, progress)
			out := cmd.OutOrStdout()

			if sweep && len(radii) == 0 {
				radii = bench.Radii(0.01, 1, 0.01)
			}
			if len(radii) > 0 {
				res, err := bench.Sweep(cmd.Context(), e, radii, opts)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}
				printSweep(out, res)
				return nil
			}

			s, err := bench.Run(cmd.Context(), e, opts)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			if s.Radius > 0 {
				fmt.Fprintf(out, "Method: %s (%s), radius=%g, %d queries\n", s.Method, s.Metric, s.Radius, s.Queries)
			} else {
				fmt.Fprintf(out, "Method: %s (%s), k=%d, %d queries\n", s.Method, s.Metric, s.K, s.Queries)
			}
			if s.Cluster != "" {
				fmt.Fprintf(out, "Precision: %.4f, Recall: %.4f, F1: %.4f (%s)\n", s.Precision, s.Recall, s.F1, s.Cluster)
			}
			fmt.Fprintf(out, "Recall@%d vs exhaustive: %.4f\n", s.K, s.RecallAtK)
			fmt.Fprintf(out, "Average comparisons: %.2f of %.0f (%.2fx speedup)\n",
				s.Comparisons, s.ExhaustiveComparisons, s.Speedup)
			fmt.Fprintf(out, "Average query time: %v\n", s.Elapsed)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Method, "method", engine.Exhaustive.String(), "Search method to evaluate")
	f.StringVar(&opts.Metric, "metric", "", "Distance metric, defaults to search.metric")
	f.StringVar(&opts.Cluster, "cluster", "", "Cluster method used as ground truth for precision and recall")
	f.IntVarP(&opts.K, "k", "k", 0, "Results per query, defaults to search.k")
	f.Float64Var(&opts.Radius, "radius", 0, "Retrieve every image within this distance instead of the top k")
	f.Float64SliceVar(&radii, "radii", nil, "Evaluate each radius and report the one with the best F1 (needs --cluster)")
	f.BoolVar(&sweep, "sweep", false, "Sweep radii 0.01 to 1.00 in steps of 0.01 (needs --cluster)")
	f.IntVar(&opts.Threads, "threads", 0, "Query workers, defaults to bench.threads or the number of CPUs")
	f.BoolVar(&jsonOutput, "json", false, "Output the summary as JSON")
	f.BoolVar(&progress, "progress", false, "Show a progress bar")
	return cmd
}

func printSweep(w io.Writer, res *bench.SweepResult) {
	fmt.Fprintf(w, "Method: %s (%s), ground truth %s\n", res.Method, res.Metric, res.Cluster)
	fmt.Fprintf(w, "%10s %10s %10s %10s %12s\n", "radius", "precision", "recall", "f1", "comparisons")
	for _, p := range res.Points {
		fmt.Fprintf(w, "%10.4f %10.4f %10.4f %10.4f %12.2f\n", p.Radius, p.Precision, p.Recall, p.F1, p.Comparisons)
	}
	if res.Best == nil {
		fmt.Fprintln(w, "No radius retrieved a relevant image")
		return
	}
	fmt.Fprintf(w, "Best radius: %g (F1 %.4f, precision %.4f, recall %.4f)\n",
		res.Best.Radius, res.Best.F1, res.Best.Precision, res.Best.Recall)
}
