package store

import (
	"database/sql"
	"fmt"
	"strings"

	"oakci/internal/logging"
)

const sessionColumns = `id, agent, project_root, started_at, started_at_epoch,
	ended_at, ended_at_epoch, status, title, summary,
	parent_session_id, parent_session_reason, transcript_path, source_machine_id`

func scanSession(row interface{ Scan(...interface{}) error }) (Session, error) {
	var sess Session
	var endedAt, title, summary, parentID, parentReason, transcript sql.NullString
	var endedEpoch sql.NullInt64
	err := row.Scan(&sess.ID, &sess.Agent, &sess.ProjectRoot, &sess.StartedAt, &sess.StartedAtEpoch,
		&endedAt, &endedEpoch, &sess.Status, &title, &summary,
		&parentID, &parentReason, &transcript, &sess.SourceMachineID)
	if err != nil {
		return sess, err
	}
	sess.EndedAt = strPtr(endedAt)
	sess.EndedAtEpoch = intPtr(endedEpoch)
	sess.Title = strPtr(title)
	sess.Summary = strPtr(summary)
	sess.ParentSessionID = strPtr(parentID)
	sess.ParentSessionReason = strPtr(parentReason)
	sess.TranscriptPath = strPtr(transcript)
	return sess, nil
}

// GetOrCreateSession returns the session for the given id, creating it if
// this is the first hook seen for that id. The created flag is true exactly
// once per id; replays are idempotent.
func (s *ActivityStore) GetOrCreateSession(id, agent, projectRoot string, transcriptPath *string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getSessionLocked(id)
	if err == nil {
		return existing, false, nil
	}
	if err != ErrNotFound {
		return Session{}, false, err
	}

	iso, epoch := nowStamp()
	sess := Session{
		ID:              id,
		Agent:           agent,
		ProjectRoot:     projectRoot,
		StartedAt:       iso,
		StartedAtEpoch:  epoch,
		Status:          SessionActive,
		TranscriptPath:  transcriptPath,
		SourceMachineID: s.machineID,
	}
	_, err = s.db.Exec(
		`INSERT INTO sessions (id, agent, project_root, started_at, started_at_epoch, status, transcript_path, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Agent, sess.ProjectRoot, sess.StartedAt, sess.StartedAtEpoch,
		sess.Status, nullStr(transcriptPath), sess.SourceMachineID)
	if err != nil {
		// Lost a race against a concurrent hook for the same id.
		if strings.Contains(err.Error(), "UNIQUE") {
			existing, gerr := s.getSessionLocked(id)
			if gerr == nil {
				return existing, false, nil
			}
		}
		return Session{}, false, fmt.Errorf("failed to create session: %w", err)
	}
	s.statsCache.invalidate()
	logging.Store("Created session %s (agent=%s)", id, agent)
	return sess, true, nil
}

// GetSession returns one session.
func (s *ActivityStore) GetSession(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(id)
}

func (s *ActivityStore) getSessionLocked(id string) (Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// EndSession transitions a session to the given terminal status and closes
// its active prompt batch, if any.
func (s *ActivityStore) EndSession(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	iso, epoch := nowStamp()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE sessions SET status = ?, ended_at = ?, ended_at_epoch = ? WHERE id = ? AND status = 'active'`,
		status, iso, epoch, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // already ended, replay-safe
	}
	_, err = tx.Exec(
		`UPDATE prompt_batches SET status = 'completed', ended_at = ?, ended_at_epoch = ? WHERE session_id = ? AND status = 'active'`,
		iso, epoch, id)
	if err != nil {
		return fmt.Errorf("failed to close active batch: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.statsCache.invalidate()
	logging.Store("Session %s ended (%s)", id, status)
	return nil
}

// SweepStaleSessions completes sessions with no activity for the given
// window and returns them for summarization.
func (s *ActivityStore) SweepStaleSessions(staleBeforeEpoch int64) ([]Session, error) {
	s.mu.Lock()
	ids := []string{}
	rows, err := s.db.Query(
		`SELECT id FROM sessions sess
		 WHERE status = 'active'
		   AND COALESCE(
		     (SELECT MAX(timestamp_epoch) FROM activities a WHERE a.session_id = sess.id),
		     sess.started_at_epoch
		   ) < ?`, staleBeforeEpoch)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to query stale sessions: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()
	s.mu.Unlock()

	swept := make([]Session, 0, len(ids))
	for _, id := range ids {
		if err := s.EndSession(id, SessionCompleted); err != nil {
			logging.Get(logging.CategoryStore).Warn("stale sweep failed for %s: %v", id, err)
			continue
		}
		sess, err := s.GetSession(id)
		if err == nil {
			swept = append(swept, sess)
		}
	}
	if len(swept) > 0 {
		logging.Store("Stale sweep completed %d sessions", len(swept))
	}
	return swept, nil
}

// UpdateSessionSummary stores the generated summary.
func (s *ActivityStore) UpdateSessionSummary(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE sessions SET summary = ? WHERE id = ?`, summary, id)
	return err
}

// UpdateSessionTitle stores the generated title.
func (s *ActivityStore) UpdateSessionTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	return err
}

// SetParentSession links a session to its parent with a reason.
func (s *ActivityStore) SetParentSession(id, parentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE sessions SET parent_session_id = ?, parent_session_reason = ? WHERE id = ?`,
		parentID, reason, id)
	return err
}

// ListSessions returns sessions ordered newest first.
func (s *ActivityStore) ListSessions(status string, limit, offset int) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at_epoch DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CompletedUnsummarizedSessions returns completed sessions that still lack a
// summary and have at least minActivities recorded activities.
func (s *ActivityStore) CompletedUnsummarizedSessions(minActivities, limit int) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+` FROM sessions sess
		 WHERE status = 'completed' AND summary IS NULL
		   AND (SELECT COUNT(*) FROM activities a WHERE a.session_id = sess.id) >= ?
		 ORDER BY ended_at_epoch ASC LIMIT ?`, minActivities, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			continue
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSessionCascade removes a session and all dependent rows. The caller
// is responsible for removing vector-store entries for the same session.
func (s *ActivityStore) DeleteSessionCascade(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM activities WHERE session_id = ?`,
		`DELETE FROM memory_observations WHERE session_id = ?`,
		`DELETE FROM prompt_batches WHERE session_id = ?`,
		`DELETE FROM session_relationships WHERE session_a = ? OR session_b = ?`,
	} {
		args := []interface{}{id}
		if strings.Count(stmt, "?") == 2 {
			args = append(args, id)
		}
		if _, err := tx.Exec(stmt, args...); err != nil {
			return fmt.Errorf("cascade delete failed: %w", err)
		}
	}
	res, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.statsCache.invalidate()
	logging.Store("Deleted session %s (cascade)", id)
	return nil
}

// GetBulkSessionStats returns per-session aggregates for the given ids in a
// single pass, avoiding N+1 reads from the browsing UI. Results are cached
// for a few seconds.
func (s *ActivityStore) GetBulkSessionStats(ids []string) (map[string]SessionStats, error) {
	if len(ids) == 0 {
		return map[string]SessionStats{}, nil
	}
	cacheKey := "stats:" + strings.Join(ids, ",")
	if v, ok := s.statsCache.get(cacheKey); ok {
		return v.(map[string]SessionStats), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	out := make(map[string]SessionStats, len(ids))
	for _, id := range ids {
		out[id] = SessionStats{SessionID: id}
	}

	rows, err := s.db.Query(
		`SELECT session_id, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END)
		 FROM activities WHERE session_id IN (`+placeholders+`) GROUP BY session_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	for rows.Next() {
		var id string
		var count, errs int
		if err := rows.Scan(&id, &count, &errs); err == nil {
			st := out[id]
			st.ActivityCount = count
			st.ErrorCount = errs
			out[id] = st
		}
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT session_id, COUNT(*) FROM prompt_batches
		 WHERE session_id IN (`+placeholders+`) GROUP BY session_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch stats: %w", err)
	}
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err == nil {
			st := out[id]
			st.BatchCount = count
			out[id] = st
		}
	}
	rows.Close()

	s.statsCache.set(cacheKey, out)
	return out, nil
}

// GetBulkFirstPrompts returns the first user prompt of each given session.
func (s *ActivityStore) GetBulkFirstPrompts(ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		`SELECT session_id, user_prompt FROM prompt_batches
		 WHERE session_id IN (`+placeholders+`) AND prompt_number = 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query first prompts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(ids))
	for rows.Next() {
		var id, prompt string
		if err := rows.Scan(&id, &prompt); err == nil {
			out[id] = prompt
		}
	}
	return out, rows.Err()
}

// SessionPrompts returns up to limit user prompts of a session in order.
func (s *ActivityStore) SessionPrompts(sessionID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT user_prompt FROM prompt_batches
		 WHERE session_id = ? AND source_type = 'user'
		 ORDER BY prompt_number ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err == nil {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}
