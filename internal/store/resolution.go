package store

import (
	"database/sql"
	"fmt"
	"strings"

	"oakci/internal/logging"
)

const resolutionColumns = `id, observation_id, action, resolved_by_session_id, superseded_by,
	reason, created_at, created_at_epoch, source_machine_id, content_hash, applied`

func scanResolutionEvent(row interface{ Scan(...interface{}) error }) (ResolutionEvent, error) {
	var e ResolutionEvent
	var resolvedBy, supersededBy, reason sql.NullString
	err := row.Scan(&e.ID, &e.ObservationID, &e.Action, &resolvedBy, &supersededBy,
		&reason, &e.CreatedAt, &e.CreatedAtEpoch, &e.SourceMachineID, &e.ContentHash, &e.Applied)
	if err != nil {
		return e, err
	}
	e.ResolvedBySessionID = strPtr(resolvedBy)
	e.SupersededBy = strPtr(supersededBy)
	e.Reason = strPtr(reason)
	return e, nil
}

func resolutionHash(e ResolutionEvent) string {
	var resolvedBy, supersededBy string
	if e.ResolvedBySessionID != nil {
		resolvedBy = *e.ResolvedBySessionID
	}
	if e.SupersededBy != nil {
		supersededBy = *e.SupersededBy
	}
	return contentHash(e.ObservationID, e.Action, resolvedBy, supersededBy, e.CreatedAt, e.SourceMachineID)
}

// AppendResolutionEvent records an observation status transition in the
// cross-machine log. Duplicate events from re-imported backups are dropped
// via the content_hash unique constraint. Events written locally start out
// applied, since the status mutation happens in the same code path.
func (s *ActivityStore) AppendResolutionEvent(e ResolutionEvent) (ResolutionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt == "" {
		e.CreatedAt, e.CreatedAtEpoch = nowStamp()
	} else if e.CreatedAtEpoch == 0 {
		e.CreatedAtEpoch = parseEpoch(e.CreatedAt)
	}
	if e.SourceMachineID == "" {
		e.SourceMachineID = s.machineID
	}
	if e.ContentHash == "" {
		e.ContentHash = resolutionHash(e)
	}

	res, err := s.db.Exec(
		`INSERT INTO resolution_events (observation_id, action, resolved_by_session_id, superseded_by,
		 reason, created_at, created_at_epoch, source_machine_id, content_hash, applied)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ObservationID, e.Action, nullStr(e.ResolvedBySessionID), nullStr(e.SupersededBy),
		nullStr(e.Reason), e.CreatedAt, e.CreatedAtEpoch, e.SourceMachineID, e.ContentHash, e.Applied)
	if err != nil {
		if isUniqueConstraint(err) {
			logging.StoreDebug("Resolution event dedup: %s %s", e.ObservationID, e.Action)
			return e, nil
		}
		return e, fmt.Errorf("failed to append resolution event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return e, nil
}

// UnappliedResolutionEvents returns events not yet replayed, oldest first so
// that replay applies them in order and the newest event wins.
func (s *ActivityStore) UnappliedResolutionEvents() ([]ResolutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT ` + resolutionColumns + ` FROM resolution_events
		 WHERE applied = 0 ORDER BY created_at_epoch ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolution events: %w", err)
	}
	defer rows.Close()
	var out []ResolutionEvent
	for rows.Next() {
		e, err := scanResolutionEvent(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEventApplied flags a replayed event.
func (s *ActivityStore) MarkEventApplied(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE resolution_events SET applied = 1 WHERE id = ?`, id)
	return err
}

// ListResolutionEvents returns events for one observation, newest first.
func (s *ActivityStore) ListResolutionEvents(observationID string, limit int) ([]ResolutionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT `+resolutionColumns+` FROM resolution_events
		 WHERE observation_id = ? ORDER BY created_at_epoch DESC, id DESC LIMIT ?`,
		observationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResolutionEvent
	for rows.Next() {
		e, err := scanResolutionEvent(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
