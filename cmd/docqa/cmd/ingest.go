package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest file.txt [file.txt ...]",
	Short: "Index plain-text documents",
	Long: `Chunk, embed and store plain-text documents. Arguments may be glob
patterns; files without a .txt extension are skipped. Re-ingesting a file
with the same name and chunk settings overwrites its passages in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	paths := expandPaths(args)
	if len(paths) == 0 {
		return fmt.Errorf("no .txt documents found")
	}

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	warnEphemeral(cmd)

	out := cmd.OutOrStdout()
	var failed int
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		res, err := a.service.Ingest(cmd.Context(), string(data), filepath.Base(p))
		if err != nil {
			failed++
			log.Error("ingest failed", zap.String("path", p), zap.Error(err))
			fmt.Fprintf(out, "FAIL  %s: %v\n", p, err)
			continue
		}
		fmt.Fprintf(out, "OK    %s: %d passages, %d characters\n", p, res.PassageCount, res.TotalChars)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(paths))
	}
	return nil
}

// expandPaths resolves globs and keeps .txt files only.
func expandPaths(args []string) []string {
	var out []string
	for _, p := range args {
		matches, _ := filepath.Glob(p)
		if matches == nil && !strings.ContainsAny(p, "*?[") {
			matches = []string{p}
		}
		for _, m := range matches {
			if !strings.EqualFold(filepath.Ext(m), ".txt") {
				log.Warn("skipping non-text file", zap.String("path", m))
				continue
			}
			out = append(out, m)
		}
	}
	return out
}
