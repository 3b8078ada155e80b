// Package capability abstracts the external embedding and text-generation
// backends behind small interfaces so providers can be swapped by config.
package capability

import "context"

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Model identifies the vector space; vectors from different models never mix.
	Model() string
}

// Generator produces text for a prompt under the given constraints.
type Generator interface {
	Generate(ctx context.Context, prompt string, c Constraints) (string, error)
}

// Constraints narrows generation output.
type Constraints struct {
	JSON        bool
	Temperature float32
	MaxTokens   int
}
