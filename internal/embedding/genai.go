package embedding

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"oakci/internal/config"
)

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client     *genai.Client
	model      string
	dimensions int
	maxChars   int
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(spec config.ProviderConfig) (*GenAIEngine, error) {
	if spec.APIKey == "" {
		return nil, fmt.Errorf("genai embedding provider requires an api key")
	}
	model := spec.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	dims := spec.Dimensions
	if dims <= 0 {
		dims = 768
	}
	maxChars := spec.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: spec.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GenAIEngine{
		client:     client,
		model:      model,
		dimensions: dims,
		maxChars:   maxChars,
	}, nil
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }

// Dimensions returns the configured dimensionality.
func (e *GenAIEngine) Dimensions() int { return e.dimensions }

// IsAvailable reports whether the API accepts requests.
func (e *GenAIEngine) IsAvailable(ctx context.Context) bool {
	result, err := e.embedBatch(ctx, []string{"ping"})
	return err == nil && len(result) == 1
}

// Embed generates embeddings with GenAI's native batch support.
func (e *GenAIEngine) Embed(ctx context.Context, texts []string) (*Result, error) {
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
		vecs, err := e.embedBatch(ctx, inputs)
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			embeddings[positions[j]] = v
		}
	}
	for i := range embeddings {
		if embeddings[i] == nil {
			embeddings[i] = make([]float32, e.dimensions)
		}
	}
	return &Result{
		Embeddings: embeddings,
		Model:      e.model,
		Provider:   e.Name(),
		Dimensions: e.dimensions,
	}, nil
}

func (e *GenAIEngine) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("genai batch embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
