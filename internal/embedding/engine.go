// Package embedding provides vector embedding generation through an ordered
// provider chain. The primary provider is configuration-defined; fallbacks
// are only used when their dimensions match the primary's, so a collection
// created at the primary's size never receives incompatible vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"oakci/internal/config"
	"oakci/internal/logging"
)

// ErrAllProvidersFailed is returned when every provider in the chain failed
// or was unavailable for a call.
var ErrAllProvidersFailed = errors.New("all embedding providers failed")

// ErrProviderUnavailable indicates the provider cannot serve requests right
// now (server down, model missing). The chain moves on to the next provider.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// Result is the outcome of one successful embed call.
type Result struct {
	Embeddings [][]float32
	Model      string
	Provider   string
	Dimensions int
}

// Engine generates vector embeddings for text.
type Engine interface {
	// Name returns the engine name, e.g. "ollama:embeddinggemma".
	Name() string

	// Dimensions returns the dimensionality of produced embeddings.
	Dimensions() int

	// IsAvailable reports whether the engine can serve requests.
	IsAvailable(ctx context.Context) bool

	// Embed generates embeddings for the given texts. Empty strings are
	// embedded as zero vectors without calling the backend.
	Embed(ctx context.Context, texts []string) (*Result, error)
}

// AvailabilityChecker is an optional interface for engines that can explain
// why they are unavailable (used by the status route).
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context) (bool, string)
}

// ProviderStats tracks per-provider success/failure accounting.
type ProviderStats struct {
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Chain is an ordered list of engines tried in sequence per request.
type Chain struct {
	mu        sync.Mutex
	providers []Engine
	stats     map[string]*ProviderStats
}

// NewChain builds the provider chain from configuration. The first provider
// is the primary; its dimensions are authoritative for the whole chain.
func NewChain(cfg config.EmbeddingConfig) (*Chain, error) {
	specs := append([]config.ProviderConfig{cfg.Primary}, cfg.Fallbacks...)
	providers := make([]Engine, 0, len(specs))
	for _, spec := range specs {
		engine, err := newEngine(spec)
		if err != nil {
			logging.Get(logging.CategoryEmbedding).Warn("skipping provider %q: %v", spec.Type, err)
			continue
		}
		providers = append(providers, engine)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no usable embedding providers configured")
	}
	logging.Embedding("Provider chain ready: primary=%s dimensions=%d fallbacks=%d",
		providers[0].Name(), providers[0].Dimensions(), len(providers)-1)
	return &Chain{
		providers: providers,
		stats:     make(map[string]*ProviderStats),
	}, nil
}

func newEngine(spec config.ProviderConfig) (Engine, error) {
	switch spec.Type {
	case "ollama":
		return NewOllamaEngine(spec)
	case "openai":
		return NewOpenAIEngine(spec)
	case "genai":
		return NewGenAIEngine(spec)
	case "hash":
		return NewHashEngine(spec), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider type: %s", spec.Type)
	}
}

// NewChainFromEngines builds a chain directly from engines; used by tests.
func NewChainFromEngines(engines ...Engine) *Chain {
	return &Chain{providers: engines, stats: make(map[string]*ProviderStats)}
}

// Name returns the primary provider's name.
func (c *Chain) Name() string { return c.providers[0].Name() }

// Dimensions is always the primary's dimensions regardless of availability.
// Configuration is the source of truth, so a slow-starting primary does not
// cause collections to be created at the wrong size on cold start.
func (c *Chain) Dimensions() int { return c.providers[0].Dimensions() }

// Primary returns the primary engine.
func (c *Chain) Primary() Engine { return c.providers[0] }

// Providers returns the ordered provider list.
func (c *Chain) Providers() []Engine { return c.providers }

// IsAvailable reports whether any usable provider is available.
func (c *Chain) IsAvailable(ctx context.Context) bool {
	primaryDims := c.Dimensions()
	for i, p := range c.providers {
		if i > 0 && p.Dimensions() != primaryDims {
			continue
		}
		if p.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Embed tries each provider in order. Fallbacks whose dimensions differ from
// the primary's are skipped to prevent mixing incompatible vectors in one
// collection.
func (c *Chain) Embed(ctx context.Context, texts []string) (*Result, error) {
	primaryDims := c.Dimensions()
	var lastErr error

	for i, p := range c.providers {
		if i > 0 && p.Dimensions() != primaryDims {
			logging.EmbeddingDebug("skipping fallback %s: dimensions %d != primary %d",
				p.Name(), p.Dimensions(), primaryDims)
			continue
		}
		result, err := p.Embed(ctx, texts)
		if err != nil {
			c.record(p.Name(), false)
			logging.Get(logging.CategoryEmbedding).Warn("provider %s failed: %v", p.Name(), err)
			lastErr = err
			continue
		}
		c.record(p.Name(), true)
		return result, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return nil, ErrAllProvidersFailed
}

func (c *Chain) record(name string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, exists := c.stats[name]
	if !exists {
		st = &ProviderStats{}
		c.stats[name] = st
	}
	if ok {
		st.Successes++
	} else {
		st.Failures++
	}
}

// Stats returns a copy of the per-provider accounting.
func (c *Chain) Stats() map[string]ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ProviderStats, len(c.stats))
	for name, st := range c.stats {
		out[name] = *st
	}
	return out
}

// truncate enforces a provider-specific character cap before embedding.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
