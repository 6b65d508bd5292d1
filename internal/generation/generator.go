// Package generation defines the text-generation port used to answer questions.
package generation

import "context"

// Generator produces a completion for a prompt.
type Generator interface {
	Model() string
	Generate(ctx context.Context, prompt string) (string, error)
}
