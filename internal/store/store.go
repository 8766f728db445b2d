// Package store implements the relational source-of-truth for sessions,
// prompt batches, activities, observations, resolution events, relationships,
// schedules, saved tasks, and governance audit events, on SQLite.
//
// Writes are serialized through a single connection in WAL mode. The vector
// store is a derived index; rows that must be mirrored there carry an
// `embedded` flag which is the bidirectional sync token under partial
// failure.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	_ "github.com/mattn/go-sqlite3"

	"oakci/internal/logging"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ActivityStore is the relational store. A single writer connection is
// shared; readers tolerate concurrent access through WAL.
type ActivityStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	machineID string

	bufMu  sync.Mutex
	buffer []Activity

	statsCache *ttlCache
}

// New opens (creating if needed) the activity store at the given path.
func New(path string) (*ActivityStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed (%s): %v", pragma, err)
		}
	}

	s := &ActivityStore{
		db:         db,
		dbPath:     path,
		machineID:  resolveMachineID(),
		statsCache: newTTLCache(3 * time.Second),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logging.Store("Activity store ready at %s (machine %s)", path, s.machineID)
	return s, nil
}

// Close flushes buffered activities and closes the database.
func (s *ActivityStore) Close() error {
	if _, err := s.FlushActivityBuffer(); err != nil {
		logging.Get(logging.CategoryStore).Warn("flush on close failed: %v", err)
	}
	logging.Store("Closing activity store")
	return s.db.Close()
}

// MachineID returns the stable source machine identifier stamped on every
// row with cross-machine provenance.
func (s *ActivityStore) MachineID() string { return s.machineID }

// DB exposes the underlying handle for size reporting.
func (s *ActivityStore) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *ActivityStore) Path() string { return s.dbPath }

func resolveMachineID() string {
	id, err := machineid.ProtectedID("oakci")
	if err != nil {
		host, herr := os.Hostname()
		if herr != nil {
			host = "unknown"
		}
		sum := sha256.Sum256([]byte(host))
		id = hex.EncodeToString(sum[:])
	}
	if len(id) > 16 {
		id = id[:16]
	}
	return id
}

// nowStamp returns the current time as an ISO-8601 string plus its
// epoch-seconds shadow value. Every timestamp column is stored as this pair
// for human readability and range indexing.
func nowStamp() (string, int64) {
	now := time.Now().UTC()
	return now.Format(time.RFC3339), now.Unix()
}

// parseEpoch converts an ISO-8601 timestamp to epoch seconds, falling back
// to the current time if unparseable.
func parseEpoch(iso string) int64 {
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Now().UTC().Unix()
	}
	return t.Unix()
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func strPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func contentHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
