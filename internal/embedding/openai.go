package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"oakci/internal/config"
	"oakci/internal/logging"
)

// OpenAIEngine generates embeddings through any /v1/embeddings-compatible
// endpoint. Dimensions are auto-detected from the first response when not
// configured.
type OpenAIEngine struct {
	client     *openai.Client
	model      string
	maxChars   int
	mu         sync.Mutex
	dimensions int
	detected   bool
}

// NewOpenAIEngine creates a new OpenAI-compatible embedding engine.
func NewOpenAIEngine(spec config.ProviderConfig) (*OpenAIEngine, error) {
	if spec.APIKey == "" {
		return nil, fmt.Errorf("openai embedding provider requires an api key")
	}
	model := spec.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	cfg := openai.DefaultConfig(spec.APIKey)
	if spec.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(spec.BaseURL, "/")
	}
	dims := spec.Dimensions
	if dims <= 0 {
		dims = 1536
	}
	maxChars := spec.MaxChars
	if maxChars <= 0 {
		maxChars = 24000
	}
	return &OpenAIEngine{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		maxChars:   maxChars,
		dimensions: dims,
	}, nil
}

// Name returns the engine name.
func (e *OpenAIEngine) Name() string { return fmt.Sprintf("openai:%s", e.model) }

// Dimensions returns the configured (or auto-detected) dimensionality.
func (e *OpenAIEngine) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dimensions
}

// IsAvailable reports whether the endpoint accepts requests. The check embeds
// a single short probe text.
func (e *OpenAIEngine) IsAvailable(ctx context.Context) bool {
	_, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{"ping"},
		Model: openai.EmbeddingModel(e.model),
	})
	return err == nil
}

// Embed generates embeddings for all non-empty texts in one batched call.
func (e *OpenAIEngine) Embed(ctx context.Context, texts []string) (*Result, error) {
	// Collect non-empty inputs, remembering their original positions.
	inputs := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		inputs = append(inputs, truncate(t, e.maxChars))
		positions = append(positions, i)
	}

	embeddings := make([][]float32, len(texts))

	if len(inputs) > 0 {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: inputs,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings request failed: %w", err)
		}
		if len(resp.Data) != len(inputs) {
			return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(inputs))
		}
		for j, d := range resp.Data {
			embeddings[positions[j]] = d.Embedding
		}
		e.detectDimensions(len(resp.Data[0].Embedding))
	}

	dims := e.Dimensions()
	for i := range embeddings {
		if embeddings[i] == nil {
			embeddings[i] = make([]float32, dims)
		}
	}
	return &Result{
		Embeddings: embeddings,
		Model:      e.model,
		Provider:   e.Name(),
		Dimensions: dims,
	}, nil
}

func (e *OpenAIEngine) detectDimensions(actual int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detected || actual <= 0 {
		return
	}
	if actual != e.dimensions {
		logging.Embedding("openai provider dimension auto-detected: %d (configured %d)", actual, e.dimensions)
		e.dimensions = actual
	}
	e.detected = true
}
