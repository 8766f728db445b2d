package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"oakci/internal/config"
	"oakci/internal/logging"
)

// OllamaEngine generates embeddings using a local Ollama server. Ollama has
// no native batch API, so texts are embedded one at a time.
type OllamaEngine struct {
	endpoint   string
	model      string
	dimensions int
	maxChars   int
	client     *http.Client
}

// NewOllamaEngine creates a new Ollama embedding engine.
func NewOllamaEngine(spec config.ProviderConfig) (*OllamaEngine, error) {
	endpoint := spec.BaseURL
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := spec.Model
	if model == "" {
		model = "embeddinggemma"
	}
	dims := spec.Dimensions
	if dims <= 0 {
		dims = 768
	}
	maxChars := spec.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &OllamaEngine{
		endpoint:   strings.TrimRight(endpoint, "/"),
		model:      model,
		dimensions: dims,
		maxChars:   maxChars,
		client:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Name returns the engine name.
func (e *OllamaEngine) Name() string { return fmt.Sprintf("ollama:%s", e.model) }

// Dimensions returns the configured dimensionality.
func (e *OllamaEngine) Dimensions() int { return e.dimensions }

// IsAvailable reports whether the server is reachable and the model present.
func (e *OllamaEngine) IsAvailable(ctx context.Context) bool {
	ok, _ := e.CheckAvailability(ctx)
	return ok
}

// CheckAvailability verifies the server responds and the configured model is
// in the local model list.
func (e *OllamaEngine) CheckAvailability(ctx context.Context) (bool, string) {
	models, err := e.listModels(ctx)
	if err != nil {
		return false, fmt.Sprintf("ollama server unreachable at %s: %v", e.endpoint, err)
	}
	if e.resolveModel(models) == "" {
		return false, fmt.Sprintf("model %q not found on ollama server", e.model)
	}
	return true, ""
}

// EnsureModel pulls the configured model if it is missing.
func (e *OllamaEngine) EnsureModel(ctx context.Context) error {
	models, err := e.listModels(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if e.resolveModel(models) != "" {
		return nil
	}
	logging.Embedding("Pulling missing ollama model: %s", e.model)
	body, err := json.Marshal(map[string]interface{}{"name": e.model, "stream": false})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama pull failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama pull returned status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

// resolveModel matches the configured model name against the server's model
// list, handling namespace prefixes and tags: "embeddinggemma" matches
// "embeddinggemma:latest" and "library/embeddinggemma:latest".
func (e *OllamaEngine) resolveModel(models []string) string {
	want := e.model
	for _, m := range models {
		if m == want {
			return m
		}
		base := m
		if i := strings.LastIndex(base, "/"); i >= 0 {
			base = base[i+1:]
		}
		if base == want {
			return m
		}
		if i := strings.Index(base, ":"); i >= 0 && base[:i] == want {
			return m
		}
	}
	return ""
}

func (e *OllamaEngine) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama /api/tags returned status %d", resp.StatusCode)
	}
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	names := make([]string, len(out.Models))
	for i, m := range out.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Embed generates embeddings, one backend call per non-empty text.
func (e *OllamaEngine) Embed(ctx context.Context, texts []string) (*Result, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			embeddings[i] = make([]float32, e.dimensions)
			continue
		}
		vec, err := e.embedOne(ctx, truncate(text, e.maxChars))
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = vec
	}
	return &Result{
		Embeddings: embeddings,
		Model:      e.model,
		Provider:   e.Name(),
		Dimensions: e.dimensions,
	}, nil
}

func (e *OllamaEngine) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Embedding, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}
