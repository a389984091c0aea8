// Package embeddings turns short texts into dense vectors used to re-rank
// remembered user facts by meaning.
package embeddings

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"nathy/internal/config"
)

const (
	ModelMiniLM = "all-MiniLM-L6-v2"
	ModelHashed = "hashed-ngram-384"

	// Dim is the output width shared by both backends.
	Dim = 384
)

// Service produces one embedding per input. The model name is returned so
// callers never compare vectors from different models.
type Service interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, string, error)
}

// New selects the configured backend. It returns nil when embeddings are disabled.
func New(cfg config.Embeddings, logger *zap.Logger) (Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case config.EmbeddingsHashed, "":
		return NewHashed(), nil
	case config.EmbeddingsMiniLM:
		svc, err := NewMiniLM(cfg.ModelDir, cfg.RuntimeLib, logger)
		if err != nil {
			return nil, fmt.Errorf("new embeddings: %w", err)
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("new embeddings: unsupported backend %q", cfg.Backend)
	}
}

// Cosine similarity of two vectors. Mismatched or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// normalize scales vec to unit length in place. Zero vectors stay zero.
func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
}
