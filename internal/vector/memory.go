package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"oakci/internal/store"
)

type memoryMetadata struct {
	SessionID  string   `json:"session_id"`
	MemoryType string   `json:"memory_type"`
	Importance int      `json:"importance"`
	Tags       []string `json:"tags"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
}

// MemorySearchResult is one semantic memory search hit.
type MemorySearchResult struct {
	ID          string   `json:"id"`
	Observation string   `json:"observation"`
	MemoryType  string   `json:"memory_type"`
	Importance  int      `json:"importance"`
	Tags        []string `json:"tags"`
	Status      string   `json:"status"`
	SessionID   string   `json:"session_id"`
	CreatedAt   string   `json:"created_at"`
	Relevance   float64  `json:"relevance"`
}

// AddObservation mirrors one observation into the memory collection. The
// caller flips the relational embedded flag only after this returns nil.
func (s *Store) AddObservation(ctx context.Context, o store.Observation) error {
	document := o.Observation
	if o.Context != nil && *o.Context != "" {
		document = o.Observation + "\n\nContext: " + *o.Context
	}
	result, err := s.embedder.Embed(ctx, []string{document})
	if err != nil {
		return fmt.Errorf("failed to embed observation: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return fmt.Errorf("embedder returned no vectors")
	}

	meta, _ := json.Marshal(memoryMetadata{
		SessionID: o.SessionID, MemoryType: o.MemoryType, Importance: o.Importance,
		Tags: o.Tags, Status: o.Status, CreatedAt: o.CreatedAt,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(CollectionMemory, o.ID, o.Observation, string(meta), result.Embeddings[0])
}

// UpdateObservationStatusMeta rewrites the status field in an observation's
// vector metadata without re-embedding. Missing entries are not an error;
// the relational embedded flag will drive a re-add later.
func (s *Store) UpdateObservationStatusMeta(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE meta_memory SET metadata = json_set(metadata, '$.status', ?) WHERE ref_id = ?`,
		status, id)
	return err
}

// DeleteObservation removes an observation from the memory collection.
func (s *Store) DeleteObservation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByRefIDs(CollectionMemory, []string{id})
}

// MemorySearchOptions narrows SearchMemory.
type MemorySearchOptions struct {
	MemoryType      string
	IncludeResolved bool
	Limit           int
}

// SearchMemory runs a semantic search over observations. Resolved and
// superseded entries are excluded unless asked for.
func (s *Store) SearchMemory(ctx context.Context, query string, opts MemorySearchOptions) ([]MemorySearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	qvec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits, err := s.knn(CollectionMemory, qvec, opts.Limit*4)
	if err != nil {
		return nil, err
	}

	out := make([]MemorySearchResult, 0, opts.Limit)
	for _, h := range hits {
		var meta memoryMetadata
		if err := json.Unmarshal([]byte(h.metadata), &meta); err != nil {
			continue
		}
		if !opts.IncludeResolved && meta.Status != "" && meta.Status != store.ObservationActive {
			continue
		}
		if opts.MemoryType != "" && meta.MemoryType != opts.MemoryType {
			continue
		}
		tags := meta.Tags
		if tags == nil {
			tags = []string{}
		}
		out = append(out, MemorySearchResult{
			ID: h.refID, Observation: h.document,
			MemoryType: meta.MemoryType, Importance: meta.Importance, Tags: tags,
			Status: meta.Status, SessionID: meta.SessionID, CreatedAt: meta.CreatedAt,
			Relevance: relevance(h.distance),
		})
		if len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// AddPlan mirrors a plan batch into the memory collection as a plan-typed
// entry keyed by the batch id.
func (s *Store) AddPlan(ctx context.Context, batch store.PromptBatch) error {
	if batch.PlanContent == nil || *batch.PlanContent == "" {
		return fmt.Errorf("batch %d has no plan content", batch.ID)
	}
	result, err := s.embedder.Embed(ctx, []string{*batch.PlanContent})
	if err != nil {
		return fmt.Errorf("failed to embed plan: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return fmt.Errorf("embedder returned no vectors")
	}

	meta, _ := json.Marshal(memoryMetadata{
		SessionID: batch.SessionID, MemoryType: "plan", Importance: 7,
		Tags: []string{"plan", "batch:" + strconv.FormatInt(batch.ID, 10)},
		Status: store.ObservationActive, CreatedAt: batch.StartedAt,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsert(CollectionMemory, planRefID(batch.ID), *batch.PlanContent, string(meta), result.Embeddings[0])
}

func planRefID(batchID int64) string {
	return "plan-batch-" + strconv.FormatInt(batchID, 10)
}
