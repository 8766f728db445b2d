package store

import (
	"database/sql"
	"fmt"
)

func scanSchedule(row interface{ Scan(...interface{}) error }) (AgentSchedule, error) {
	var a AgentSchedule
	var lastRun sql.NullString
	err := row.Scan(&a.ID, &a.Name, &a.Agent, &a.Prompt, &a.CronExpression,
		&a.Enabled, &lastRun, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	a.LastRunAt = strPtr(lastRun)
	return a, nil
}

// CreateAgentSchedule stores a periodic agent job.
func (s *ActivityStore) CreateAgentSchedule(a AgentSchedule) (AgentSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso, _ := nowStamp()
	a.CreatedAt, a.UpdatedAt = iso, iso
	res, err := s.db.Exec(
		`INSERT INTO agent_schedules (name, agent, prompt, cron_expression, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Agent, a.Prompt, a.CronExpression, a.Enabled, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return a, fmt.Errorf("failed to create schedule: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return a, nil
}

// UpdateAgentSchedule overwrites an existing schedule.
func (s *ActivityStore) UpdateAgentSchedule(a AgentSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso, _ := nowStamp()
	res, err := s.db.Exec(
		`UPDATE agent_schedules SET name = ?, agent = ?, prompt = ?, cron_expression = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, a.Agent, a.Prompt, a.CronExpression, a.Enabled, iso, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchScheduleRun records the last time a schedule fired.
func (s *ActivityStore) TouchScheduleRun(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso, _ := nowStamp()
	_, err := s.db.Exec(`UPDATE agent_schedules SET last_run_at = ?, updated_at = ? WHERE id = ?`, iso, iso, id)
	return err
}

// DeleteAgentSchedule removes a schedule.
func (s *ActivityStore) DeleteAgentSchedule(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM agent_schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAgentSchedules returns all schedules.
func (s *ActivityStore) ListAgentSchedules() ([]AgentSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT id, name, agent, prompt, cron_expression, enabled, last_run_at, created_at, updated_at
		 FROM agent_schedules ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgentSchedule
	for rows.Next() {
		a, err := scanSchedule(rows)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAgentSchedule returns one schedule.
func (s *ActivityStore) GetAgentSchedule(id int64) (AgentSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT id, name, agent, prompt, cron_expression, enabled, last_run_at, created_at, updated_at
		 FROM agent_schedules WHERE id = ?`, id)
	a, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return AgentSchedule{}, ErrNotFound
	}
	return a, err
}

func scanSavedTask(row interface{ Scan(...interface{}) error }) (SavedTask, error) {
	var t SavedTask
	err := row.Scan(&t.ID, &t.Name, &t.Agent, &t.Prompt, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// CreateSavedTask stores an on-demand agent job.
func (s *ActivityStore) CreateSavedTask(t SavedTask) (SavedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso, _ := nowStamp()
	t.CreatedAt, t.UpdatedAt = iso, iso
	res, err := s.db.Exec(
		`INSERT INTO saved_tasks (name, agent, prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.Name, t.Agent, t.Prompt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return t, fmt.Errorf("failed to create saved task: %w", err)
	}
	t.ID, _ = res.LastInsertId()
	return t, nil
}

// UpdateSavedTask overwrites an existing saved task.
func (s *ActivityStore) UpdateSavedTask(t SavedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iso, _ := nowStamp()
	res, err := s.db.Exec(
		`UPDATE saved_tasks SET name = ?, agent = ?, prompt = ?, updated_at = ? WHERE id = ?`,
		t.Name, t.Agent, t.Prompt, iso, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSavedTask removes a saved task.
func (s *ActivityStore) DeleteSavedTask(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM saved_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSavedTasks returns all saved tasks.
func (s *ActivityStore) ListSavedTasks() ([]SavedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query(
		`SELECT id, name, agent, prompt, created_at, updated_at FROM saved_tasks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SavedTask
	for rows.Next() {
		t, err := scanSavedTask(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetSavedTask returns one saved task.
func (s *ActivityStore) GetSavedTask(id int64) (SavedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRow(
		`SELECT id, name, agent, prompt, created_at, updated_at FROM saved_tasks WHERE id = ?`, id)
	t, err := scanSavedTask(row)
	if err == sql.ErrNoRows {
		return SavedTask{}, ErrNotFound
	}
	return t, err
}
