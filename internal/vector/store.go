// Package vector maintains the derived semantic index over code chunks,
// memory observations, and session summaries. It is rebuildable from the
// relational store and the working tree; losing it never loses history.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"oakci/internal/embedding"
	"oakci/internal/logging"
)

// Collection names.
const (
	CollectionCode     = "code"
	CollectionMemory   = "memory"
	CollectionSessions = "session_summaries"
)

var collections = []string{CollectionCode, CollectionMemory, CollectionSessions}

// Embedder is the slice of the provider chain the vector store needs.
type Embedder interface {
	Dimensions() int
	Embed(ctx context.Context, texts []string) (*embedding.Result, error)
}

// Store is the vector index. Each collection is a vec0 virtual table plus a
// rowid-aligned metadata table. Collection dimensions follow the primary
// embedding provider; a dimension change drops and recreates the affected
// collection, which is safe because the index is derived.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	path     string
	dims     int
	embedder Embedder
}

// Open creates or opens the vector database. Collections are created at the
// embedder's dimensionality, recreating any collection recorded at a
// different size.
func Open(path string, embedder Embedder) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryVector, "vector.Open")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create vector directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.VectorDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &Store{db: db, path: path, dims: embedder.Dimensions(), embedder: embedder}
	if err := s.ensureCollections(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Vector("Vector store ready at %s (dims=%d)", path, s.dims)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	logging.Vector("Closing vector store")
	return s.db.Close()
}

// Dimensions returns the collection dimensionality.
func (s *Store) Dimensions() int { return s.dims }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) ensureCollections() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS collections (name TEXT PRIMARY KEY, dims INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create collections table: %w", err)
	}

	for _, name := range collections {
		var recorded int
		err := s.db.QueryRow(`SELECT dims FROM collections WHERE name = ?`, name).Scan(&recorded)
		switch {
		case err == sql.ErrNoRows:
			// New collection.
		case err != nil:
			return err
		case recorded != s.dims:
			logging.Get(logging.CategoryVector).Warn(
				"collection %s recorded at %d dims, embedder reports %d; recreating", name, recorded, s.dims)
			if err := s.dropCollection(name); err != nil {
				return err
			}
		default:
			continue
		}
		if err := s.createCollection(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createCollection(name string) error {
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_%s USING vec0(embedding float[%d] distance_metric=cosine)`,
		name, s.dims)); err != nil {
		return fmt.Errorf("failed to create vec table %s: %w", name, err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS meta_%s (
			rid INTEGER PRIMARY KEY AUTOINCREMENT,
			ref_id TEXT NOT NULL UNIQUE,
			document TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`, name)); err != nil {
		return fmt.Errorf("failed to create meta table %s: %w", name, err)
	}
	_, err := s.db.Exec(
		`INSERT INTO collections(name, dims) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET dims=excluded.dims`, name, s.dims)
	return err
}

func (s *Store) dropCollection(name string) error {
	if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS vec_%s`, name)); err != nil {
		return fmt.Errorf("failed to drop vec table %s: %w", name, err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS meta_%s`, name)); err != nil {
		return fmt.Errorf("failed to drop meta table %s: %w", name, err)
	}
	_, err := s.db.Exec(`DELETE FROM collections WHERE name = ?`, name)
	return err
}

// Reset drops and recreates every collection. Devtools only.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range collections {
		if err := s.dropCollection(name); err != nil {
			return err
		}
		if err := s.createCollection(name); err != nil {
			return err
		}
	}
	logging.Vector("Vector store reset")
	return nil
}

// Counts returns per-collection entry counts.
func (s *Store) Counts() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64, len(collections))
	for _, name := range collections {
		var n int64
		if err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM meta_%s`, name)).Scan(&n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}

// errDimensionMismatch flags a vector whose length disagrees with the
// collection, which happens when the embedding provider changes at runtime.
var errDimensionMismatch = errors.New("vector dimensions do not match collection")

// recreateForDims drops and recreates a collection at a new dimensionality,
// discarding its entries; the index is derived, so they are rebuilt on the
// next pass. Caller holds the write lock.
func (s *Store) recreateForDims(collection string, dims int) error {
	logging.Get(logging.CategoryVector).Warn(
		"collection %s is at %d dims, embedder returned %d; recreating", collection, s.dims, dims)
	s.dims = dims
	if err := s.dropCollection(collection); err != nil {
		return err
	}
	return s.createCollection(collection)
}

// upsert writes one entry into a collection, replacing any existing entry
// with the same ref id. Caller holds the write lock.
func (s *Store) upsert(collection, refID, document, metadata string, vec []float32) error {
	if len(vec) != s.dims {
		return fmt.Errorf("%w: vector %d, collection %d", errDimensionMismatch, len(vec), s.dims)
	}
	blob := serializeFloat32(vec)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rid int64
	err = tx.QueryRow(fmt.Sprintf(`SELECT rid FROM meta_%s WHERE ref_id = ?`, collection), refID).Scan(&rid)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO meta_%s (ref_id, document, metadata) VALUES (?, ?, ?)`, collection),
			refID, document, metadata)
		if err != nil {
			return err
		}
		rid, _ = res.LastInsertId()
	case err != nil:
		return err
	default:
		if _, err := tx.Exec(fmt.Sprintf(
			`UPDATE meta_%s SET document = ?, metadata = ? WHERE rid = ?`, collection),
			document, metadata, rid); err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM vec_%s WHERE rowid = ?`, collection), rid); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(
		`INSERT INTO vec_%s (rowid, embedding) VALUES (?, ?)`, collection), rid, blob); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteByRefIDs removes entries by ref id. Deletes retry briefly because a
// concurrent KNN query can hold the vec table.
func (s *Store) deleteByRefIDs(collection string, refIDs []string) error {
	if len(refIDs) == 0 {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(500 * time.Millisecond)
		}
		lastErr = s.deleteOnce(collection, refIDs)
		if lastErr == nil {
			return nil
		}
		logging.VectorDebug("delete attempt %d on %s failed: %v", attempt+1, collection, lastErr)
	}
	return lastErr
}

func (s *Store) deleteOnce(collection string, refIDs []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, refID := range refIDs {
		var rid int64
		err := tx.QueryRow(fmt.Sprintf(`SELECT rid FROM meta_%s WHERE ref_id = ?`, collection), refID).Scan(&rid)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM vec_%s WHERE rowid = ?`, collection), rid); err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM meta_%s WHERE rid = ?`, collection), rid); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// hit is one raw KNN result before metadata filtering.
type hit struct {
	refID    string
	document string
	metadata string
	distance float64
}

// knn runs a nearest-neighbor query against a collection. Relevance for
// callers is 1 - cosine distance.
func (s *Store) knn(collection string, query []float32, k int) ([]hit, error) {
	if k <= 0 {
		k = 10
	}
	blob := serializeFloat32(query)
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT v.rowid, v.distance, m.ref_id, m.document, m.metadata
		 FROM vec_%s v JOIN meta_%s m ON m.rid = v.rowid
		 WHERE v.embedding MATCH ? AND k = ?
		 ORDER BY v.distance`, collection, collection), blob, k)
	if err != nil {
		return nil, fmt.Errorf("knn query on %s failed: %w", collection, err)
	}
	defer rows.Close()

	var out []hit
	for rows.Next() {
		var rowid int64
		var h hit
		if err := rows.Scan(&rowid, &h.distance, &h.refID, &h.document, &h.metadata); err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// embedQuery embeds a single query string.
func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	result, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vectors")
	}
	return result.Embeddings[0], nil
}

// serializeFloat32 encodes a vector in the little-endian float32 blob format
// vec0 expects. Kept driver-independent so the package compiles with and
// without the sqlite_vec build tag.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func relevance(distance float64) float64 {
	r := 1 - distance
	if r < 0 {
		return 0
	}
	return r
}
