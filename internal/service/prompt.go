package service

import (
	"fmt"
	"strings"

	"docqa/internal/domain"
)

// NoContextAnswer is returned without calling the model when retrieval finds
// nothing.
const NoContextAnswer = "No relevant information found in the uploaded documents."

const promptTemplate = `You are an intelligent assistant. Answer the question using only the context below.

Context:
%s

Question: %s

Give a detailed and accurate answer based only on the context above. If the context does not contain the information needed, say explicitly that you don't have the information to answer.

Answer:`

// BuildPrompt lays out the retrieved passages as numbered context blocks
// ahead of the question.
func BuildPrompt(question string, results []domain.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[%d] %s", i+1, r.Text)
	}
	return fmt.Sprintf(promptTemplate, strings.Join(blocks, "\n\n"), question)
}
