package openai

import (
	"context"
	"fmt"
)

// Embedder adapts Client to the single-text call the location engine
// uses on its hot paths.
type Embedder struct {
	c Client
}

func NewEmbedder(c Client) *Embedder {
	return &Embedder{c: c}
}

func (e *Embedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}
