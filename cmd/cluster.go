package cmd

import (
	"os"

	"github.com/patrikhermansson/cbir/engine"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) clusterCommand() *cobra.Command {
	var (
		method string
		output string
	)
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster the corpus and export the assignment as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := engine.ParseClusterMethod(method)
			if err != nil {
				return err
			}
			e, err := a.newEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			assignment, err := e.Assignment(cmd.Context(), c)
			if err != nil {
				return err
			}
			log.Info().Str("cluster", c.String()).Msgf("Found %d clusters over %d records",
				assignment.NumClusters(), assignment.Len())

			if output == "" || output == "-" {
				return assignment.WriteJSON(cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := assignment.WriteJSON(f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVar(&method, "method", engine.AgglomerativeCityblock.String(),
		"Cluster method: agglomerative_cityblock, agglomerative_cosine, agglomerative_euclidean or k_means")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, stdout when empty")
	return cmd
}
