package cmd

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"docqa/internal/tui"
)

var chatTopK int

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal chat over the indexed documents",
	Long: `Open a terminal chat. Type a question and press Enter; Up/Down cycles
through the sources of the latest answer. "/ingest path/to/file.txt" indexes
a file without leaving the chat. History is kept for the session only.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().IntVarP(&chatTopK, "top-k", "k", 0, "Passages to retrieve per question")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	// Log lines would tear the alternate screen.
	a, err := buildApp(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	m := tui.New(cmd.Context(), a.service, chatTopK)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}
