// Package embedding provides vector embeddings for the research novelty
// filter, backed by Google's Gemini embedding API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrUnavailable wraps provider failures so callers can treat the embedding
// service as advisory and continue without it.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns an error on dimension mismatch or zero-magnitude input.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, fmt.Errorf("zero magnitude vector")
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
