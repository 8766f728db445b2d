package store

import (
	"database/sql"
	"fmt"

	"oakci/internal/logging"
)

const batchColumns = `id, session_id, prompt_number, user_prompt, response_summary,
	started_at, started_at_epoch, ended_at, ended_at_epoch, status, classification,
	processed, source_type, plan_content, plan_file_path, plan_embedded, source_machine_id`

func scanBatch(row interface{ Scan(...interface{}) error }) (PromptBatch, error) {
	var b PromptBatch
	var respSummary, endedAt, classification, planContent, planFile sql.NullString
	var endedEpoch sql.NullInt64
	err := row.Scan(&b.ID, &b.SessionID, &b.PromptNumber, &b.UserPrompt, &respSummary,
		&b.StartedAt, &b.StartedAtEpoch, &endedAt, &endedEpoch, &b.Status, &classification,
		&b.Processed, &b.SourceType, &planContent, &planFile, &b.PlanEmbedded, &b.SourceMachineID)
	if err != nil {
		return b, err
	}
	b.ResponseSummary = strPtr(respSummary)
	b.EndedAt = strPtr(endedAt)
	b.EndedAtEpoch = intPtr(endedEpoch)
	b.Classification = strPtr(classification)
	b.PlanContent = strPtr(planContent)
	b.PlanFilePath = strPtr(planFile)
	return b, nil
}

// StartPromptBatch opens a new batch for the session, closing any previously
// active batch in the same transaction so the at-most-one-active invariant
// holds. Buffered activities for the session are flushed into the batch
// being closed first.
func (s *ActivityStore) StartPromptBatch(sessionID, userPrompt, sourceType string) (PromptBatch, error) {
	if sourceType == "" {
		sourceType = SourceUser
	}
	if _, err := s.FlushActivityBuffer(); err != nil {
		logging.Get(logging.CategoryStore).Warn("flush before batch start failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	iso, epoch := nowStamp()
	tx, err := s.db.Begin()
	if err != nil {
		return PromptBatch{}, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE prompt_batches SET status = 'completed', ended_at = ?, ended_at_epoch = ?
		 WHERE session_id = ? AND status = 'active'`, iso, epoch, sessionID)
	if err != nil {
		return PromptBatch{}, fmt.Errorf("failed to close previous batch: %w", err)
	}

	var next int
	if err := tx.QueryRow(
		`SELECT COALESCE(MAX(prompt_number), 0) + 1 FROM prompt_batches WHERE session_id = ?`,
		sessionID).Scan(&next); err != nil {
		return PromptBatch{}, fmt.Errorf("failed to compute prompt number: %w", err)
	}

	res, err := tx.Exec(
		`INSERT INTO prompt_batches (session_id, prompt_number, user_prompt, started_at, started_at_epoch, status, source_type, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
		sessionID, next, userPrompt, iso, epoch, sourceType, s.machineID)
	if err != nil {
		return PromptBatch{}, fmt.Errorf("failed to insert batch: %w", err)
	}
	id, _ := res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return PromptBatch{}, err
	}
	s.statsCache.invalidate()
	logging.StoreDebug("Started prompt batch %d (#%d) for session %s", id, next, sessionID)

	return PromptBatch{
		ID: id, SessionID: sessionID, PromptNumber: next, UserPrompt: userPrompt,
		StartedAt: iso, StartedAtEpoch: epoch, Status: BatchActive,
		SourceType: sourceType, SourceMachineID: s.machineID,
	}, nil
}

// GetActivePromptBatch returns the single open batch for a session, or
// ErrNotFound when none is open.
func (s *ActivityStore) GetActivePromptBatch(sessionID string) (PromptBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT `+batchColumns+` FROM prompt_batches WHERE session_id = ? AND status = 'active'`,
		sessionID)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return PromptBatch{}, ErrNotFound
	}
	if err != nil {
		return PromptBatch{}, fmt.Errorf("failed to get active batch: %w", err)
	}
	return b, nil
}

// GetPromptBatch returns one batch by id.
func (s *ActivityStore) GetPromptBatch(id int64) (PromptBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(`SELECT `+batchColumns+` FROM prompt_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return PromptBatch{}, ErrNotFound
	}
	if err != nil {
		return PromptBatch{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return b, nil
}

// ListPromptBatches returns batches for a session ordered by prompt number.
func (s *ActivityStore) ListPromptBatches(sessionID string, limit, offset int) ([]PromptBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+batchColumns+` FROM prompt_batches WHERE session_id = ?
		 ORDER BY prompt_number ASC LIMIT ? OFFSET ?`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()
	var out []PromptBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PendingBatches returns completed, unprocessed batches up to the per-cycle
// cap, oldest first.
func (s *ActivityStore) PendingBatches(limit int) ([]PromptBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT `+batchColumns+` FROM prompt_batches
		 WHERE processed = 0 AND status = 'completed'
		 ORDER BY ended_at_epoch ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending batches: %w", err)
	}
	defer rows.Close()
	var out []PromptBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PendingPlanBatches returns plan-carrying batches not yet mirrored to the
// vector store.
func (s *ActivityStore) PendingPlanBatches(limit int) ([]PromptBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT `+batchColumns+` FROM prompt_batches
		 WHERE source_type IN ('plan', 'derived_plan') AND plan_embedded = 0 AND plan_content IS NOT NULL
		 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending plans: %w", err)
	}
	defer rows.Close()
	var out []PromptBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CompleteBatch closes an active batch.
func (s *ActivityStore) CompleteBatch(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso, epoch := nowStamp()
	_, err := s.db.Exec(
		`UPDATE prompt_batches SET status = 'completed', ended_at = ?, ended_at_epoch = ?
		 WHERE id = ? AND status = 'active'`, iso, epoch, id)
	return err
}

// MarkBatchProcessed flags a batch as consumed by the processor, optionally
// recording the classification assigned to it.
func (s *ActivityStore) MarkBatchProcessed(id int64, classification *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE prompt_batches SET processed = 1, classification = COALESCE(?, classification) WHERE id = ?`,
		nullStr(classification), id)
	return err
}

// ResetProcessing clears the processed flag on all batches so the next
// processor cycle reprocesses them. Devtools only.
func (s *ActivityStore) ResetProcessing() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`UPDATE prompt_batches SET processed = 0 WHERE status = 'completed'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetDerivedPlan upgrades a batch to source_type=derived_plan with the
// synthesized plan markdown.
func (s *ActivityStore) SetDerivedPlan(id int64, planContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE prompt_batches SET source_type = 'derived_plan', plan_content = ?, plan_embedded = 0 WHERE id = ?`,
		planContent, id)
	return err
}

// SetPlanEmbedded marks a plan batch as mirrored into the vector store.
func (s *ActivityStore) SetPlanEmbedded(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE prompt_batches SET plan_embedded = 1 WHERE id = ?`, id)
	return err
}

// SetResponseSummary stores the agent's response summary on a batch. Used by
// the notify receiver.
func (s *ActivityStore) SetResponseSummary(id int64, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE prompt_batches SET response_summary = ? WHERE id = ?`, summary, id)
	return err
}

// DeleteBatchCascade removes a batch and its activities and observations.
func (s *ActivityStore) DeleteBatchCascade(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM activities WHERE prompt_batch_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM memory_observations WHERE prompt_batch_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM prompt_batches WHERE id = ?`, id)
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
	return nil
}
