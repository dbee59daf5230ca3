package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/patrikhermansson/cbir/engine"
	"github.com/spf13/cobra"
)

func (a *app) queryCommand() *cobra.Command {
	var (
		queryID     string
		method      string
		metric      string
		clusterSel  string
		k           int
		radius      float64
		cost        string
		includeSelf bool
		jsonOutput  bool
		progress    bool
	)
	cmd := &cobra.Command{
		Use:   "query [image]",
		Short: "Find the images most similar to an image file or a corpus record",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && queryID == "" {
				return fmt.Errorf("either an image file or --id is required")
			}
			mode, err := engine.ParseCostMode(cost)
			if err != nil {
				return err
			}
			e, err := a.newEngine(cmd.Context(), progressWriter(cmd, progress))
			if err != nil {
				return err
			}

			req := engine.Request{
				Method:      method,
				Metric:      metric,
				Cluster:     clusterSel,
				QueryID:     queryID,
				K:           k,
				Radius:      radius,
				ExcludeSelf: !includeSelf,
			}
			var res *engine.QueryResult
			if len(args) == 1 {
				var data []byte
				if data, err = os.ReadFile(args[0]); err != nil {
					return err
				}
				if req.QueryID == "" {
					req.QueryID = filepath.Base(args[0])
				}
				res, err = e.QueryImage(cmd.Context(), data, req)
			} else {
				res, err = e.Query(cmd.Context(), req)
			}

			if jsonOutput {
				var resp engine.Response
				if err != nil {
					resp = engine.ErrorResponse(err)
				} else {
					resp = engine.NewResponse(res, mode)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(resp); encErr != nil {
					return encErr
				}
				return err
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res, mode)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&queryID, "id", "", "Corpus identifier of the query image")
	f.StringVar(&method, "method", engine.Exhaustive.String(), "Search method: exhaustive, vp_tree, ball_tree, annoy or cdist")
	f.StringVar(&metric, "metric", "", "Distance metric, defaults to search.metric")
	f.StringVar(&clusterSel, "cluster", "", "Cluster method used to score the results")
	f.IntVarP(&k, "k", "k", 0, "Number of results, defaults to search.k")
	f.Float64Var(&radius, "radius", 0, "Return every image within this distance instead of the top k")
	f.StringVar(&cost, "cost", "comparisons", "Reported cost: comparisons or time")
	f.BoolVar(&includeSelf, "include-self", false, "Keep the query image in its own results")
	f.BoolVar(&jsonOutput, "json", false, "Output the response as JSON")
	f.BoolVar(&progress, "progress", false, "Show a progress bar while embedding an image corpus")
	return cmd
}

func printResult(w io.Writer, res *engine.QueryResult, mode engine.CostMode) {
	fmt.Fprintf(w, "Method: %s (%s)\n", res.Method, res.Metric)
	for i, m := range res.Matches {
		if m.Cluster != nil {
			fmt.Fprintf(w, "%3d. %-32s %.6f  cluster %d\n", i+1, m.ID, m.Distance, *m.Cluster)
		} else {
			fmt.Fprintf(w, "%3d. %-32s %.6f\n", i+1, m.ID, m.Distance)
		}
	}
	if res.ClusterMethod != nil {
		fmt.Fprintf(w, "Precision: %.4f, Recall: %.4f (%s)\n", res.Metrics.Precision, res.Metrics.Recall, res.ClusterMethod)
	}
	if mode == engine.CostTime {
		fmt.Fprintf(w, "Time: %v\n", res.Elapsed)
	} else {
		fmt.Fprintf(w, "Comparisons: %d\n", res.Comparisons)
	}
}
