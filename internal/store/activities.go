package store

import (
	"database/sql"
	"fmt"
)

const activityColumns = `id, session_id, prompt_batch_id, tool_name, tool_input,
	tool_output_summary, file_path, success, error_message, timestamp, timestamp_epoch,
	processed, source_machine_id`

func scanActivity(row interface{ Scan(...interface{}) error }) (Activity, error) {
	var a Activity
	var batchID sql.NullInt64
	var outSummary, filePath, errMsg sql.NullString
	err := row.Scan(&a.ID, &a.SessionID, &batchID, &a.ToolName, &a.ToolInput,
		&outSummary, &filePath, &a.Success, &errMsg, &a.Timestamp, &a.TimestampEpoch,
		&a.Processed, &a.SourceMachineID)
	if err != nil {
		return a, err
	}
	a.PromptBatchID = intPtr(batchID)
	a.ToolOutputSummary = strPtr(outSummary)
	a.FilePath = strPtr(filePath)
	a.ErrorMessage = strPtr(errMsg)
	return a, nil
}

// BufferActivity queues one tool invocation in memory. Buffered rows are
// written in a single transaction when the batch is finalized or on explicit
// flush, keeping per-hook latency low.
func (s *ActivityStore) BufferActivity(a Activity) {
	if a.Timestamp == "" {
		a.Timestamp, a.TimestampEpoch = nowStamp()
	} else if a.TimestampEpoch == 0 {
		a.TimestampEpoch = parseEpoch(a.Timestamp)
	}
	if a.SourceMachineID == "" {
		a.SourceMachineID = s.machineID
	}
	if a.ToolInput == "" {
		a.ToolInput = "{}"
	}
	s.bufMu.Lock()
	s.buffer = append(s.buffer, a)
	s.bufMu.Unlock()
}

// BufferedActivityCount returns the number of unflushed activities.
func (s *ActivityStore) BufferedActivityCount() int {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return len(s.buffer)
}

// FlushActivityBuffer drains buffered activities into a single transaction
// and returns the assigned row ids.
func (s *ActivityStore) FlushActivityBuffer() ([]int64, error) {
	s.bufMu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.bufMu.Unlock()

	if len(pending) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	ids, err := s.insertActivitiesLocked(pending)
	s.mu.Unlock()
	if err != nil {
		// Put the rows back so they are not lost.
		s.bufMu.Lock()
		s.buffer = append(pending, s.buffer...)
		s.bufMu.Unlock()
		return nil, err
	}
	s.statsCache.invalidate()
	return ids, nil
}

func (s *ActivityStore) insertActivitiesLocked(pending []Activity) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO activities (session_id, prompt_batch_id, tool_name, tool_input, tool_output_summary,
		 file_path, success, error_message, timestamp, timestamp_epoch, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, 0, len(pending))
	for _, a := range pending {
		res, err := stmt.Exec(a.SessionID, nullInt(a.PromptBatchID), a.ToolName, a.ToolInput,
			nullStr(a.ToolOutputSummary), nullStr(a.FilePath), a.Success, nullStr(a.ErrorMessage),
			a.Timestamp, a.TimestampEpoch, a.SourceMachineID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert activity: %w", err)
		}
		id, _ := res.LastInsertId()
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// GetActivity returns one activity.
func (s *ActivityStore) GetActivity(id int64) (Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return Activity{}, ErrNotFound
	}
	if err != nil {
		return Activity{}, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// ListActivities returns activities for a session or batch in insertion
// order.
func (s *ActivityStore) ListActivities(sessionID string, batchID *int64, limit, offset int) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE session_id = ?`
	args := []interface{}{sessionID}
	if batchID != nil {
		query += ` AND prompt_batch_id = ?`
		args = append(args, *batchID)
	}
	query += ` ORDER BY id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActivitiesForBatch returns all activities tied to a batch.
func (s *ActivityStore) ActivitiesForBatch(batchID int64) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT `+activityColumns+` FROM activities WHERE prompt_batch_id = ? ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch activities: %w", err)
	}
	defer rows.Close()
	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteActivity removes one activity.
func (s *ActivityStore) DeleteActivity(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.statsCache.invalidate()
	return nil
}
