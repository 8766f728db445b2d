package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"oakci/internal/config"
)

// HashEngine is the in-process CPU fallback: a deterministic feature-hashing
// embedder over word and character trigrams. It produces stable,
// L2-normalized vectors with no model download and no network, so semantic
// retrieval degrades to lexical similarity instead of failing outright when
// no real provider is reachable.
type HashEngine struct {
	dimensions int
	maxChars   int
}

// NewHashEngine creates the fallback engine.
func NewHashEngine(spec config.ProviderConfig) *HashEngine {
	dims := spec.Dimensions
	if dims <= 0 {
		dims = 768
	}
	maxChars := spec.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &HashEngine{dimensions: dims, maxChars: maxChars}
}

// Name returns the engine name.
func (e *HashEngine) Name() string { return fmt.Sprintf("hash:%d", e.dimensions) }

// Dimensions returns the dimensionality.
func (e *HashEngine) Dimensions() int { return e.dimensions }

// IsAvailable always reports true; the engine is in-process.
func (e *HashEngine) IsAvailable(ctx context.Context) bool { return true }

// Embed hashes each text into a normalized vector.
func (e *HashEngine) Embed(ctx context.Context, texts []string) (*Result, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			embeddings[i] = make([]float32, e.dimensions)
			continue
		}
		embeddings[i] = e.embedOne(truncate(text, e.maxChars))
	}
	return &Result{
		Embeddings: embeddings,
		Model:      "feature-hash",
		Provider:   e.Name(),
		Dimensions: e.dimensions,
	}, nil
}

func (e *HashEngine) embedOne(text string) []float32 {
	vec := make([]float32, e.dimensions)
	lower := strings.ToLower(text)

	addFeature := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		// Second hash bit decides the sign, reducing collision bias.
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[idx] += sign * weight
	}

	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		addFeature("w:"+w, 1)
		for j := 0; j+3 <= len(w); j++ {
			addFeature("t:"+w[j:j+3], 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
