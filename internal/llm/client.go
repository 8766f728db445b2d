// Package llm is the thin completion client used by the background
// processor. Any OpenAI-compatible endpoint works; the daemon never blocks a
// hook on an LLM call.
package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"oakci/internal/config"
	"oakci/internal/logging"
)

// Client produces one completion for a system/user prompt pair.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient builds a client from processor configuration.
func NewOpenAIClient(cfg config.ProcessorConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// Complete runs one chat completion.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Manager hands out a Client matching the live processor configuration,
// rebuilding it when the relevant settings change.
type Manager struct {
	cfg config.Accessor

	mu       sync.Mutex
	client   Client
	cacheKey string
}

// NewManager creates a manager over the live config accessor.
func NewManager(cfg config.Accessor) *Manager {
	return &Manager{cfg: cfg}
}

// Client returns the current client, or nil when the processor is disabled
// or unconfigured.
func (m *Manager) Client() Client {
	c := m.cfg().Processor
	if !c.Enabled || c.Model == "" {
		return nil
	}
	key := fmt.Sprintf("%s|%s|%s|%d", c.Provider, c.Model, c.BaseURL, c.TimeoutSeconds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.cacheKey == key {
		return m.client
	}
	m.client = NewOpenAIClient(c)
	m.cacheKey = key
	logging.Processor("LLM client ready: model=%s base=%s", c.Model, c.BaseURL)
	return m.client
}
