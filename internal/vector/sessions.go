package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type sessionMetadata struct {
	Title          string `json:"title"`
	Agent          string `json:"agent"`
	ProjectRoot    string `json:"project_root"`
	EndedAt        string `json:"ended_at"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

// SessionSearchResult is one semantic session search hit.
type SessionSearchResult struct {
	SessionID   string  `json:"session_id"`
	Title       string  `json:"title"`
	Summary     string  `json:"summary"`
	Agent       string  `json:"agent"`
	ProjectRoot string  `json:"project_root,omitempty"`
	EndedAt     string  `json:"ended_at"`
	Relevance   float64 `json:"relevance"`
}

// SessionSummaryEntry is one finalized session offered to the summaries
// collection.
type SessionSummaryEntry struct {
	SessionID   string
	Title       string
	Summary     string
	Agent       string
	ProjectRoot string
	EndedAt     string
}

// AddSessionSummary mirrors a finalized session into the summaries
// collection. The embedded document leads with the title so short queries
// match it; untitled sessions get a neutral prefix instead of an empty slot.
func (s *Store) AddSessionSummary(ctx context.Context, entry SessionSummaryEntry) error {
	document := fmt.Sprintf("Session: %s\n\n%s", entry.Title, entry.Summary)
	if entry.Title == "" {
		document = "Session summary:\n\n" + entry.Summary
	}
	result, err := s.embedder.Embed(ctx, []string{document})
	if err != nil {
		return fmt.Errorf("failed to embed session summary: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return fmt.Errorf("embedder returned no vectors")
	}

	meta, _ := json.Marshal(sessionMetadata{
		Title:          entry.Title,
		Agent:          entry.Agent,
		ProjectRoot:    entry.ProjectRoot,
		EndedAt:        entry.EndedAt,
		CreatedAtEpoch: time.Now().Unix(),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(CollectionSessions, entry.SessionID, entry.Summary, string(meta), result.Embeddings[0])
}

// DeleteSessionSummary removes a session from the summaries collection.
func (s *Store) DeleteSessionSummary(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByRefIDs(CollectionSessions, []string{sessionID})
}

// SearchSessions runs a semantic search over session summaries.
func (s *Store) SearchSessions(ctx context.Context, query string, limit int) ([]SessionSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	qvec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.knn(CollectionSessions, qvec, limit)
	if err != nil {
		return nil, err
	}

	out := make([]SessionSearchResult, 0, len(hits))
	for _, h := range hits {
		var meta sessionMetadata
		if err := json.Unmarshal([]byte(h.metadata), &meta); err != nil {
			continue
		}
		out = append(out, SessionSearchResult{
			SessionID: h.refID, Title: meta.Title, Summary: h.document,
			Agent: meta.Agent, ProjectRoot: meta.ProjectRoot,
			EndedAt: meta.EndedAt, Relevance: relevance(h.distance),
		})
	}
	return out, nil
}
