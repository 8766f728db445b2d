//go:build sqlite_vec && cgo

package vector_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/embedding"
	"oakci/internal/vector"
)

// fakeEmbedder returns constant unit vectors at a mutable dimensionality,
// standing in for a provider chain whose primary changes between runs.
type fakeEmbedder struct {
	dims int
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) (*embedding.Result, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[0] = 1
		out[i] = v
	}
	return &embedding.Result{
		Embeddings: out,
		Provider:   "fake",
		Dimensions: f.dims,
	}, nil
}

func TestAddCodeChunksRecreatesOnDimensionChange(t *testing.T) {
	emb := &fakeEmbedder{dims: 8}
	s, err := vector.Open(filepath.Join(t.TempDir(), "vector.db"), emb)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	added, err := s.AddCodeChunks(ctx, []vector.CodeChunk{
		{ID: "c1", FilePath: "a.go", Content: "package a"},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// The embedder now reports a different size; the code collection is
	// rebuilt at the new dimensionality and the write retried.
	emb.dims = 16
	added, err = s.AddCodeChunks(ctx, []vector.CodeChunk{
		{ID: "c2", FilePath: "b.go", Content: "package b"},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 16, s.Dimensions())

	counts, err := s.Counts()
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[vector.CollectionCode], "entries at the old size are discarded")
}

func TestAddSessionSummaryMetadataRoundtrip(t *testing.T) {
	s, err := vector.Open(filepath.Join(t.TempDir(), "vector.db"), &fakeEmbedder{dims: 8})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.AddSessionSummary(ctx, vector.SessionSummaryEntry{
		SessionID:   "sess-1",
		Title:       "Indexer rework",
		Summary:     "rewired the indexer pipeline",
		Agent:       "claude",
		ProjectRoot: "/tmp/project",
		EndedAt:     "2026-08-24T10:00:00Z",
	}))
	// Untitled sessions embed with a fallback prefix instead of an empty slot.
	require.NoError(t, s.AddSessionSummary(ctx, vector.SessionSummaryEntry{
		SessionID: "sess-2",
		Summary:   "prodded the watcher",
		Agent:     "claude",
	}))

	hits, err := s.SearchSessions(ctx, "indexer", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		if h.SessionID != "sess-1" {
			continue
		}
		assert.Equal(t, "Indexer rework", h.Title)
		assert.Equal(t, "claude", h.Agent)
		assert.Equal(t, "/tmp/project", h.ProjectRoot)
		assert.Equal(t, "2026-08-24T10:00:00Z", h.EndedAt)
	}
}
