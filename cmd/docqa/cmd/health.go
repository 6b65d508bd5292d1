package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the vector store is reachable",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !a.service.HealthCheck(cmd.Context()) {
		fmt.Fprintf(out, "vector store (%s): unreachable\n", cfg.VectorStore.Type)
		return fmt.Errorf("unhealthy")
	}
	fmt.Fprintf(out, "vector store (%s): ok\n", cfg.VectorStore.Type)

	info, err := a.index.Stats(cmd.Context())
	if err != nil {
		fmt.Fprintf(out, "collection %s: %v\n", a.index.Collection(), err)
		return nil
	}
	fmt.Fprintf(out, "collection %s: %d points, size %d, %s\n", a.index.Collection(), info.PointCount, info.VectorSize, info.Distance)
	return nil
}
