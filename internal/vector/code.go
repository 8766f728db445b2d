package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"oakci/internal/logging"
)

// CodeChunk is one unit of indexed source text.
type CodeChunk struct {
	ID        string `json:"id"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Language  string `json:"language"`
	DocType   string `json:"doc_type"`
	Symbol    string `json:"symbol,omitempty"`
	Content   string `json:"content"`
	// Document is the embedded text: a short header naming the file and
	// symbol followed by the chunk content.
	Document string `json:"-"`
}

type codeMetadata struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Language  string `json:"language"`
	DocType   string `json:"doc_type"`
	Symbol    string `json:"symbol,omitempty"`
}

// CodeSearchResult is one semantic code search hit.
type CodeSearchResult struct {
	ID        string  `json:"id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Language  string  `json:"language"`
	DocType   string  `json:"doc_type"`
	Symbol    string  `json:"symbol,omitempty"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}

// AddCodeChunks embeds and upserts code chunks in batches. Chunks whose ids
// already exist are replaced, so reindexing a file is idempotent.
func (s *Store) AddCodeChunks(ctx context.Context, chunks []CodeChunk, batchSize int) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 64
	}

	added := 0
	recreated := false
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Document
			if texts[i] == "" {
				texts[i] = c.Content
			}
		}
		result, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return added, fmt.Errorf("failed to embed code batch: %w", err)
		}
		if len(result.Embeddings) != len(batch) {
			return added, fmt.Errorf("embedder returned %d vectors for %d chunks",
				len(result.Embeddings), len(batch))
		}

		s.mu.Lock()
		for i, c := range batch {
			meta, _ := json.Marshal(codeMetadata{
				FilePath: c.FilePath, StartLine: c.StartLine, EndLine: c.EndLine,
				Language: c.Language, DocType: c.DocType, Symbol: c.Symbol,
			})
			err := s.upsert(CollectionCode, c.ID, c.Content, string(meta), result.Embeddings[i])
			if errors.Is(err, errDimensionMismatch) && !recreated {
				// The embedder's dimensionality changed under us. Rebuild
				// the collection once at the new size and retry; a second
				// mismatch propagates.
				recreated = true
				if rerr := s.recreateForDims(CollectionCode, len(result.Embeddings[i])); rerr != nil {
					s.mu.Unlock()
					return added, fmt.Errorf("failed to recreate code collection: %w", rerr)
				}
				err = s.upsert(CollectionCode, c.ID, c.Content, string(meta), result.Embeddings[i])
			}
			if err != nil {
				s.mu.Unlock()
				return added, fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
			}
			added++
		}
		s.mu.Unlock()
	}
	logging.VectorDebug("Indexed %d code chunks", added)
	return added, nil
}

// DeleteCodeChunksByFile removes all chunks for one file.
func (s *Store) DeleteCodeChunksByFile(filePath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT ref_id FROM meta_code WHERE json_extract(metadata, '$.file_path') = ?`, filePath)
	if err != nil {
		return 0, err
	}
	var refIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			refIDs = append(refIDs, id)
		}
	}
	rows.Close()
	if len(refIDs) == 0 {
		return 0, nil
	}
	if err := s.deleteByRefIDs(CollectionCode, refIDs); err != nil {
		return 0, err
	}
	logging.VectorDebug("Removed %d chunks for %s", len(refIDs), filePath)
	return len(refIDs), nil
}

// IndexedFiles returns the set of file paths present in the code collection.
func (s *Store) IndexedFiles() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT json_extract(metadata, '$.file_path') AS fp, COUNT(*)
		 FROM meta_code GROUP BY fp`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var fp string
		var n int
		if err := rows.Scan(&fp, &n); err == nil && fp != "" {
			out[fp] = n
		}
	}
	return out, rows.Err()
}

// SearchCode runs a semantic search over indexed code. pathPrefix narrows
// results to files under a directory; empty means no restriction.
func (s *Store) SearchCode(ctx context.Context, query string, limit int, pathPrefix string) ([]CodeSearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	qvec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Over-fetch when a path filter is active so post-filtering can still
	// fill the requested limit.
	k := limit
	if pathPrefix != "" {
		k = limit * 4
	}
	hits, err := s.knn(CollectionCode, qvec, k)
	if err != nil {
		return nil, err
	}

	out := make([]CodeSearchResult, 0, limit)
	for _, h := range hits {
		var meta codeMetadata
		if err := json.Unmarshal([]byte(h.metadata), &meta); err != nil {
			continue
		}
		if pathPrefix != "" && !strings.HasPrefix(meta.FilePath, pathPrefix) {
			continue
		}
		out = append(out, CodeSearchResult{
			ID: h.refID, FilePath: meta.FilePath,
			StartLine: meta.StartLine, EndLine: meta.EndLine,
			Language: meta.Language, DocType: meta.DocType, Symbol: meta.Symbol,
			Snippet: h.document, Relevance: relevance(h.distance),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
