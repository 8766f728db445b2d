package embedding_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/config"
	"oakci/internal/embedding"
)

// brokenEngine fails every call, standing in for an unreachable backend.
type brokenEngine struct {
	dims int
}

func (e brokenEngine) Name() string                         { return "broken" }
func (e brokenEngine) Dimensions() int                      { return e.dims }
func (e brokenEngine) IsAvailable(ctx context.Context) bool { return false }
func (e brokenEngine) Embed(ctx context.Context, texts []string) (*embedding.Result, error) {
	return nil, errors.New("connection refused")
}

func hashEngine(dims int) *embedding.HashEngine {
	return embedding.NewHashEngine(config.ProviderConfig{Dimensions: dims})
}

func TestChainFallsBackWhenPrimaryFails(t *testing.T) {
	chain := embedding.NewChainFromEngines(brokenEngine{dims: 64}, hashEngine(64))

	result, err := chain.Embed(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Len(t, result.Embeddings, 1)
	assert.Len(t, result.Embeddings[0], 64)
	assert.Equal(t, "hash:64", result.Provider)

	stats := chain.Stats()
	assert.Equal(t, 1, stats["broken"].Failures)
	assert.Equal(t, 1, stats["hash:64"].Successes)
}

func TestChainSkipsDimensionMismatchedFallbacks(t *testing.T) {
	chain := embedding.NewChainFromEngines(brokenEngine{dims: 768}, hashEngine(64))

	_, err := chain.Embed(context.Background(), []string{"hello"})
	assert.ErrorIs(t, err, embedding.ErrAllProvidersFailed)
	assert.Equal(t, 768, chain.Dimensions(), "primary defines dimensions even when down")
	assert.False(t, chain.IsAvailable(context.Background()))
}

func TestHashEngineDeterministic(t *testing.T) {
	e := hashEngine(128)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"the indexer chunks files"})
	require.NoError(t, err)
	b, err := e.Embed(ctx, []string{"the indexer chunks files"})
	require.NoError(t, err)
	assert.Equal(t, a.Embeddings[0], b.Embeddings[0])

	sim, err := embedding.CosineSimilarity(a.Embeddings[0], b.Embeddings[0])
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestHashEngineLexicalNeighborhood(t *testing.T) {
	e := hashEngine(256)
	ctx := context.Background()

	result, err := e.Embed(ctx, []string{
		"the file watcher debounces change events",
		"the file watcher batches change events",
		"governance rules deny force pushes",
	})
	require.NoError(t, err)

	near, err := embedding.CosineSimilarity(result.Embeddings[0], result.Embeddings[1])
	require.NoError(t, err)
	far, err := embedding.CosineSimilarity(result.Embeddings[0], result.Embeddings[2])
	require.NoError(t, err)
	assert.Greater(t, near, far, "shared wording should score closer")
}

func TestHashEngineEmptyText(t *testing.T) {
	e := hashEngine(32)
	result, err := e.Embed(context.Background(), []string{"  "})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 32), result.Embeddings[0])
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := embedding.CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})
	assert.Error(t, err)
}
