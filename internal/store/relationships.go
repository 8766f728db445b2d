package store

import (
	"database/sql"
	"fmt"
)

func orderedPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// AddSessionRelationship links two sessions. The pair is stored in canonical
// order so the undirected link cannot be duplicated in reverse.
func (s *ActivityStore) AddSessionRelationship(sessionA, sessionB, createdBy string, similarity *float64) (SessionRelationship, error) {
	if sessionA == sessionB {
		return SessionRelationship{}, fmt.Errorf("cannot relate a session to itself")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, b := orderedPair(sessionA, sessionB)
	iso, _ := nowStamp()
	if createdBy == "" {
		createdBy = "manual"
	}

	res, err := s.db.Exec(
		`INSERT INTO session_relationships (session_a, session_b, similarity_score, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?)`, a, b, nullFloat(similarity), createdBy, iso)
	if err != nil {
		if isUniqueConstraint(err) {
			row := s.db.QueryRow(
				`SELECT id, session_a, session_b, similarity_score, created_by, created_at
				 FROM session_relationships WHERE session_a = ? AND session_b = ?`, a, b)
			return scanRelationship(row)
		}
		return SessionRelationship{}, fmt.Errorf("failed to add relationship: %w", err)
	}
	id, _ := res.LastInsertId()
	return SessionRelationship{
		ID: id, SessionA: a, SessionB: b, SimilarityScore: similarity,
		CreatedBy: createdBy, CreatedAt: iso,
	}, nil
}

// RemoveSessionRelationship unlinks two sessions regardless of argument
// order.
func (s *ActivityStore) RemoveSessionRelationship(sessionA, sessionB string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, b := orderedPair(sessionA, sessionB)
	res, err := s.db.Exec(
		`DELETE FROM session_relationships WHERE session_a = ? AND session_b = ?`, a, b)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessionRelationships returns all links touching a session.
func (s *ActivityStore) ListSessionRelationships(sessionID string) ([]SessionRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT id, session_a, session_b, similarity_score, created_by, created_at
		 FROM session_relationships WHERE session_a = ? OR session_b = ?
		 ORDER BY id ASC`, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()
	var out []SessionRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RelatedSessionIDs returns the ids of sessions linked to the given one.
func (s *ActivityStore) RelatedSessionIDs(sessionID string) ([]string, error) {
	rels, err := s.ListSessionRelationships(sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		if r.SessionA == sessionID {
			out = append(out, r.SessionB)
		} else {
			out = append(out, r.SessionA)
		}
	}
	return out, nil
}

func scanRelationship(row interface{ Scan(...interface{}) error }) (SessionRelationship, error) {
	var r SessionRelationship
	var sim sql.NullFloat64
	err := row.Scan(&r.ID, &r.SessionA, &r.SessionB, &sim, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	if sim.Valid {
		v := sim.Float64
		r.SimilarityScore = &v
	}
	return r, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
