package store

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"oakci/internal/logging"
)

// Tables included in a history backup, in dependency order so imports can run
// the statements top to bottom.
var dumpTables = []struct {
	name    string
	columns []string
	orderBy string
}{
	{"sessions", []string{
		"id", "agent", "project_root", "started_at", "started_at_epoch", "ended_at",
		"ended_at_epoch", "status", "title", "summary", "parent_session_id",
		"parent_session_reason", "transcript_path", "source_machine_id",
	}, "started_at_epoch, id"},
	{"prompt_batches", []string{
		"id", "session_id", "prompt_number", "user_prompt", "response_summary",
		"started_at", "started_at_epoch", "ended_at", "ended_at_epoch", "status",
		"classification", "processed", "source_type", "plan_content", "plan_file_path",
		"plan_embedded", "source_machine_id",
	}, "id"},
	{"activities", []string{
		"id", "session_id", "prompt_batch_id", "tool_name", "tool_input",
		"tool_output_summary", "file_path", "success", "error_message", "timestamp",
		"timestamp_epoch", "processed", "source_machine_id",
	}, "id"},
	{"memory_observations", []string{
		"id", "session_id", "prompt_batch_id", "observation", "memory_type", "context",
		"tags", "importance", "created_at", "created_at_epoch", "embedded", "status",
		"resolved_by_session_id", "resolved_at", "resolved_at_epoch", "superseded_by",
		"source_machine_id",
	}, "created_at_epoch, id"},
	{"resolution_events", []string{
		"id", "observation_id", "action", "resolved_by_session_id", "superseded_by",
		"reason", "created_at", "created_at_epoch", "source_machine_id", "content_hash",
		"applied",
	}, "created_at_epoch, id"},
	{"session_relationships", []string{
		"id", "session_a", "session_b", "similarity_score", "created_by", "created_at",
	}, "id"},
}

// ExportSQL writes a deterministic SQL dump of the history tables. The dump
// is portable across machines; on import the embedded and applied flags are
// reset so the receiving daemon rebuilds its own vector mirror and replays
// resolution events.
func (s *ActivityStore) ExportSQL(w io.Writer, includeActivities bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "store.ExportSQL")
	defer timer.Stop()

	if _, err := s.FlushActivityBuffer(); err != nil {
		logging.Get(logging.CategoryStore).Warn("flush before export failed: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	bw := bufio.NewWriter(w)
	iso, _ := nowStamp()
	fmt.Fprintf(bw, "-- OAK Codebase Intelligence History Backup\n")
	fmt.Fprintf(bw, "-- schema_version: %d\n", SchemaVersion)
	fmt.Fprintf(bw, "-- exported_at: %s\n", iso)
	fmt.Fprintf(bw, "-- source_machine: %s\n", s.machineID)
	fmt.Fprintf(bw, "BEGIN TRANSACTION;\n")

	for _, t := range dumpTables {
		if t.name == "activities" && !includeActivities {
			continue
		}
		if err := s.dumpTable(bw, t.name, t.columns, t.orderBy); err != nil {
			return fmt.Errorf("failed to dump %s: %w", t.name, err)
		}
	}

	fmt.Fprintf(bw, "COMMIT;\n")
	return bw.Flush()
}

func (s *ActivityStore) dumpTable(w io.Writer, table string, columns []string, orderBy string) error {
	rows, err := s.db.Query(
		`SELECT ` + strings.Join(columns, ", ") + ` FROM ` + table + ` ORDER BY ` + orderBy)
	if err != nil {
		return err
	}
	defer rows.Close()

	raw := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		values := make([]string, len(columns))
		for i, v := range raw {
			values[i] = sqlLiteral(v)
		}
		fmt.Fprintf(w, "INSERT OR IGNORE INTO %s (%s) VALUES (%s);\n",
			table, strings.Join(columns, ", "), strings.Join(values, ", "))
		count++
	}
	logging.StoreDebug("Dumped %d rows from %s", count, table)
	return rows.Err()
}

func sqlLiteral(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%g", x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case []byte:
		return "'" + strings.ReplaceAll(string(x), "'", "''") + "'"
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", x), "'", "''") + "'"
	}
}

// ImportSQL applies a backup dump. Rows already present are skipped via the
// INSERT OR IGNORE statements in the dump, making repeated imports
// idempotent. After the rows land, embedded flags are cleared so the vector
// mirror is rebuilt locally, and resolution events are marked unapplied so
// the replay pass reconciles observation statuses.
func (s *ActivityStore) ImportSQL(r io.Reader) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.ImportSQL")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	applied := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	var stmt strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		upper := strings.ToUpper(trimmed)
		if strings.HasPrefix(upper, "BEGIN") || strings.HasPrefix(upper, "COMMIT") {
			continue
		}
		stmt.WriteString(line)
		stmt.WriteString("\n")
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}
		sqlText := stmt.String()
		stmt.Reset()
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(sqlText)), "INSERT") {
			// Backups only carry inserts. Anything else is rejected.
			return 0, fmt.Errorf("unexpected statement in backup: %.60s", sqlText)
		}
		if _, err := tx.Exec(sqlText); err != nil {
			if isUniqueConstraint(err) {
				continue
			}
			return 0, fmt.Errorf("failed to apply backup statement: %w", err)
		}
		applied++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read backup: %w", err)
	}

	// Imported rows get a local vector mirror and a fresh replay pass.
	if _, err := tx.Exec(`UPDATE memory_observations SET embedded = 0`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE resolution_events SET applied = 0`); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`UPDATE prompt_batches SET plan_embedded = 0
		WHERE source_type IN ('plan', 'derived_plan') AND plan_content IS NOT NULL`); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	s.statsCache.invalidate()
	logging.Store("Imported backup: %d statements applied", applied)
	return applied, nil
}

// ValidateBackupHeader checks that a reader starts with the backup marker
// before an import is attempted.
func ValidateBackupHeader(r *bufio.Reader) error {
	line, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read backup header: %w", err)
	}
	if !strings.HasPrefix(line, "-- OAK Codebase Intelligence History Backup") {
		return fmt.Errorf("not a history backup file")
	}
	return nil
}
