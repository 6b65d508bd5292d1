package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	askTopK   int
	askOutput string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Long: `Retrieve the passages nearest to the question and answer from them.

Examples:
  docqa ask "What color is the sky?"
  docqa ask --top-k 3 -o json "Is water wet?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "Passages to retrieve (defaults to query.default_top_k, capped at query.max_top_k)")
	askCmd.Flags().StringVarP(&askOutput, "output", "o", "text", "Output format: text, json")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	warnEphemeral(cmd)
	ans, err := a.service.Query(cmd.Context(), strings.Join(args, " "), askTopK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}

	fmt.Fprintln(out, ans.Text)
	if len(ans.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range ans.Sources {
		fmt.Fprintf(out, "  [%d] %s #%d/%d  score=%.3f\n", i+1, s.Metadata.Source, s.Metadata.Index+1, s.Metadata.Total, s.Score)
	}
	return nil
}
