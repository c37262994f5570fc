package service

import "context"

// EmbeddingClient generates embedding vectors for text.
// Implemented by provider-specific clients (TEI, OpenAI, Google Gemini). The vector length must match
// the dimension of the stored profile embeddings.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}
