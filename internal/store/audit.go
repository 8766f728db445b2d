package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const auditColumns = `id, session_id, agent, tool_name, tool_use_id, tool_category,
	rule_id, action, reason, matched_pattern, tool_input_summary, enforcement_mode,
	evaluation_ms, created_at, created_at_epoch, source_machine_id`

func scanAuditEvent(row interface{ Scan(...interface{}) error }) (GovernanceAuditEvent, error) {
	var e GovernanceAuditEvent
	var toolUseID, ruleID, reason, pattern, inputSummary sql.NullString
	err := row.Scan(&e.ID, &e.SessionID, &e.Agent, &e.ToolName, &toolUseID, &e.ToolCategory,
		&ruleID, &e.Action, &reason, &pattern, &inputSummary, &e.EnforcementMode,
		&e.EvaluationMS, &e.CreatedAt, &e.CreatedAtEpoch, &e.SourceMachineID)
	if err != nil {
		return e, err
	}
	e.ToolUseID = strPtr(toolUseID)
	e.RuleID = strPtr(ruleID)
	e.Reason = strPtr(reason)
	e.MatchedPattern = strPtr(pattern)
	e.ToolInputSummary = strPtr(inputSummary)
	return e, nil
}

// InsertAuditEvent records one governance rule evaluation.
func (s *ActivityStore) InsertAuditEvent(e GovernanceAuditEvent) (GovernanceAuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt == "" {
		e.CreatedAt, e.CreatedAtEpoch = nowStamp()
	}
	if e.SourceMachineID == "" {
		e.SourceMachineID = s.machineID
	}
	res, err := s.db.Exec(
		`INSERT INTO governance_audit_events (session_id, agent, tool_name, tool_use_id, tool_category,
		 rule_id, action, reason, matched_pattern, tool_input_summary, enforcement_mode,
		 evaluation_ms, created_at, created_at_epoch, source_machine_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Agent, e.ToolName, nullStr(e.ToolUseID), e.ToolCategory,
		nullStr(e.RuleID), e.Action, nullStr(e.Reason), nullStr(e.MatchedPattern),
		nullStr(e.ToolInputSummary), e.EnforcementMode, e.EvaluationMS,
		e.CreatedAt, e.CreatedAtEpoch, e.SourceMachineID)
	if err != nil {
		return e, fmt.Errorf("failed to insert audit event: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return e, nil
}

// AuditFilter narrows ListAuditEvents.
type AuditFilter struct {
	SessionID string
	Action    string
	ToolName  string
	Since     int64
	Limit     int
	Offset    int
}

// ListAuditEvents returns audit events newest first.
func (s *ActivityStore) ListAuditEvents(f AuditFilter) ([]GovernanceAuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.Limit <= 0 {
		f.Limit = 100
	}
	var where []string
	var args []interface{}
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.ToolName != "" {
		where = append(where, "tool_name = ?")
		args = append(args, f.ToolName)
	}
	if f.Since > 0 {
		where = append(where, "created_at_epoch >= ?")
		args = append(args, f.Since)
	}
	query := `SELECT ` + auditColumns + ` FROM governance_audit_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()
	var out []GovernanceAuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditSummary aggregates audit events by action and tool category since the
// given epoch.
func (s *ActivityStore) AuditSummary(sinceEpoch int64) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := make(map[string]interface{})
	var total int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM governance_audit_events WHERE created_at_epoch >= ?`, sinceEpoch).Scan(&total); err != nil {
		return nil, err
	}
	summary["total"] = total

	byAction := make(map[string]int64)
	rows, err := s.db.Query(
		`SELECT action, COUNT(*) FROM governance_audit_events WHERE created_at_epoch >= ? GROUP BY action`, sinceEpoch)
	if err == nil {
		for rows.Next() {
			var action string
			var n int64
			if err := rows.Scan(&action, &n); err == nil {
				byAction[action] = n
			}
		}
		rows.Close()
	}
	summary["by_action"] = byAction

	byCategory := make(map[string]int64)
	rows, err = s.db.Query(
		`SELECT tool_category, COUNT(*) FROM governance_audit_events WHERE created_at_epoch >= ? GROUP BY tool_category`, sinceEpoch)
	if err == nil {
		for rows.Next() {
			var cat string
			var n int64
			if err := rows.Scan(&cat, &n); err == nil {
				byCategory[cat] = n
			}
		}
		rows.Close()
	}
	summary["by_category"] = byCategory
	return summary, nil
}

// PruneAuditEvents deletes audit events older than the cutoff.
func (s *ActivityStore) PruneAuditEvents(beforeEpoch int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM governance_audit_events WHERE created_at_epoch < ?`, beforeEpoch)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	return res.RowsAffected()
}
