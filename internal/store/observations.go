package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"oakci/internal/logging"
)

const observationColumns = `id, session_id, prompt_batch_id, observation, memory_type,
	context, tags, importance, created_at, created_at_epoch, embedded, status,
	resolved_by_session_id, resolved_at, resolved_at_epoch, superseded_by, source_machine_id`

func scanObservation(row interface{ Scan(...interface{}) error }) (Observation, error) {
	var o Observation
	var batchID, resolvedEpoch sql.NullInt64
	var ctx, resolvedBy, resolvedAt, supersededBy sql.NullString
	var tagsJSON string
	err := row.Scan(&o.ID, &o.SessionID, &batchID, &o.Observation, &o.MemoryType,
		&ctx, &tagsJSON, &o.Importance, &o.CreatedAt, &o.CreatedAtEpoch, &o.Embedded, &o.Status,
		&resolvedBy, &resolvedAt, &resolvedEpoch, &supersededBy, &o.SourceMachineID)
	if err != nil {
		return o, err
	}
	o.PromptBatchID = intPtr(batchID)
	o.Context = strPtr(ctx)
	o.ResolvedBySessionID = strPtr(resolvedBy)
	o.ResolvedAt = strPtr(resolvedAt)
	o.ResolvedAtEpoch = intPtr(resolvedEpoch)
	o.SupersededBy = strPtr(supersededBy)
	if err := json.Unmarshal([]byte(tagsJSON), &o.Tags); err != nil || o.Tags == nil {
		o.Tags = []string{}
	}
	return o, nil
}

// InsertObservation writes a new observation with embedded=false. The vector
// mirror is written afterwards by the caller; on success the caller marks
// embedded=true via MarkObservationEmbedded.
func (s *ActivityStore) InsertObservation(o Observation) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt == "" {
		o.CreatedAt, o.CreatedAtEpoch = nowStamp()
	} else if o.CreatedAtEpoch == 0 {
		o.CreatedAtEpoch = parseEpoch(o.CreatedAt)
	}
	if o.Status == "" {
		o.Status = ObservationActive
	}
	if o.Importance <= 0 {
		o.Importance = 5
	}
	if o.Importance > 10 {
		o.Importance = 10
	}
	if o.SourceMachineID == "" {
		o.SourceMachineID = s.machineID
	}
	if o.Tags == nil {
		o.Tags = []string{}
	}
	tagsJSON, err := json.Marshal(o.Tags)
	if err != nil {
		return o, fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO memory_observations (id, session_id, prompt_batch_id, observation, memory_type,
		 context, tags, importance, created_at, created_at_epoch, embedded, status, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		o.ID, o.SessionID, nullInt(o.PromptBatchID), o.Observation, o.MemoryType,
		nullStr(o.Context), string(tagsJSON), o.Importance, o.CreatedAt, o.CreatedAtEpoch,
		o.Status, o.SourceMachineID)
	if err != nil {
		return o, fmt.Errorf("failed to insert observation: %w", err)
	}
	o.Embedded = false
	logging.StoreDebug("Inserted observation %s (%s)", o.ID, o.MemoryType)
	return o, nil
}

// GetObservation returns one observation.
func (s *ActivityStore) GetObservation(id string) (Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+observationColumns+` FROM memory_observations WHERE id = ?`, id)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return Observation{}, ErrNotFound
	}
	if err != nil {
		return Observation{}, fmt.Errorf("failed to get observation: %w", err)
	}
	return o, nil
}

// ObservationFilter narrows ListObservations.
type ObservationFilter struct {
	SessionID  string
	MemoryType string
	Status     string
	Limit      int
	Offset     int
}

// ListObservations returns observations newest first.
func (s *ActivityStore) ListObservations(f ObservationFilter) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.Limit <= 0 {
		f.Limit = 50
	}
	var where []string
	var args []interface{}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.MemoryType != "" {
		where = append(where, "memory_type = ?")
		args = append(args, f.MemoryType)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + observationColumns + ` FROM memory_observations`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at_epoch DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetObservationsByIDs returns the observations matching the given ids.
func (s *ActivityStore) GetObservationsByIDs(ids []string) ([]Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		`SELECT `+observationColumns+` FROM memory_observations WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// StatusUpdate carries the resolution fields written by
// UpdateObservationStatus. ResolvedAt must be set iff the status is not
// active; SupersededBy must be set iff the status is superseded.
type StatusUpdate struct {
	Status              string
	ResolvedBySessionID *string
	ResolvedAt          *string
	SupersededBy        *string
}

// UpdateObservationStatus writes the new status and resolution fields
// atomically. It is the only path that mutates observation status. Returns
// whether a row was affected, which the replay path uses to detect no-ops.
func (s *ActivityStore) UpdateObservationStatus(id string, u StatusUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resolvedEpoch sql.NullInt64
	if u.Status == ObservationActive {
		// Reactivation clears all resolution fields.
		u.ResolvedBySessionID = nil
		u.ResolvedAt = nil
		u.SupersededBy = nil
	} else {
		if u.ResolvedAt == nil {
			iso, _ := nowStamp()
			u.ResolvedAt = &iso
		}
		resolvedEpoch = sql.NullInt64{Int64: parseEpoch(*u.ResolvedAt), Valid: true}
	}
	if u.Status != ObservationSuperseded {
		u.SupersededBy = nil
	}

	res, err := s.db.Exec(
		`UPDATE memory_observations
		 SET status = ?, resolved_by_session_id = ?, resolved_at = ?, resolved_at_epoch = ?, superseded_by = ?
		 WHERE id = ?`,
		u.Status, nullStr(u.ResolvedBySessionID), nullStr(u.ResolvedAt), resolvedEpoch,
		nullStr(u.SupersededBy), id)
	if err != nil {
		return false, fmt.Errorf("failed to update observation status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkObservationEmbedded records that the vector mirror for an observation
// was written.
func (s *ActivityStore) MarkObservationEmbedded(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE memory_observations SET embedded = 1 WHERE id = ?`, id)
	return err
}

// ClearEmbeddedFlags resets embedded=0 on all observations, forcing a full
// re-embed on the next processor cycle. Devtools only.
func (s *ActivityStore) ClearEmbeddedFlags() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE memory_observations SET embedded = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnembeddedObservations returns observations whose vector mirror is missing.
func (s *ActivityStore) UnembeddedObservations(limit int) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+observationColumns+` FROM memory_observations WHERE embedded = 0
		 ORDER BY created_at_epoch ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteObservation removes an observation. The caller removes the vector
// mirror.
func (s *ActivityStore) DeleteObservation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM memory_observations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MemoryStats summarizes the observation table for the devtools route.
func (s *ActivityStore) MemoryStats() (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})
	var total, embedded, active int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memory_observations`).Scan(&total); err != nil {
		return nil, err
	}
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memory_observations WHERE embedded = 1`).Scan(&embedded)
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM memory_observations WHERE status = 'active'`).Scan(&active)
	stats["total"] = total
	stats["embedded"] = embedded
	stats["unembedded"] = total - embedded
	stats["active"] = active

	byType := make(map[string]int64)
	rows, err := s.db.Query(`SELECT memory_type, COUNT(*) FROM memory_observations GROUP BY memory_type`)
	if err == nil {
		for rows.Next() {
			var t string
			var n int64
			if err := rows.Scan(&t, &n); err == nil {
				byType[t] = n
			}
		}
		rows.Close()
	}
	stats["by_type"] = byType
	return stats, nil
}
