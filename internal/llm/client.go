// Package llm provides the model provider chain: hosted and local
// completion clients, a deterministic rule-based fallback, and a router
// that fails over between them behind per-provider circuit breakers.
package llm

import (
	"context"
)

// CompletionRequest is a single prompt exchange. Prompt carries the full
// task context including any document text; System sets behavior.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// Client is one completion provider in the failover chain.
type Client interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder produces embedding vectors for retrieval and SAMR similarity.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
