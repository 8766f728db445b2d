package store

import (
	"fmt"

	"oakci/internal/logging"
)

// SchemaVersion is the current relational schema version, written into
// schema_meta and stamped on backup dumps.
const SchemaVersion = 3

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		project_root TEXT NOT NULL,
		started_at TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		ended_at TEXT,
		ended_at_epoch INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		title TEXT,
		summary TEXT,
		parent_session_id TEXT,
		parent_session_reason TEXT,
		transcript_path TEXT,
		source_machine_id TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS prompt_batches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		prompt_number INTEGER NOT NULL,
		user_prompt TEXT NOT NULL,
		response_summary TEXT,
		started_at TEXT NOT NULL,
		started_at_epoch INTEGER NOT NULL,
		ended_at TEXT,
		ended_at_epoch INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		classification TEXT,
		processed INTEGER NOT NULL DEFAULT 0,
		source_type TEXT NOT NULL DEFAULT 'user',
		plan_content TEXT,
		plan_file_path TEXT,
		plan_embedded INTEGER NOT NULL DEFAULT 0,
		source_machine_id TEXT NOT NULL DEFAULT '',
		UNIQUE(session_id, prompt_number)
	)`,

	`CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		prompt_batch_id INTEGER,
		tool_name TEXT NOT NULL,
		tool_input TEXT NOT NULL DEFAULT '{}',
		tool_output_summary TEXT,
		file_path TEXT,
		success INTEGER NOT NULL DEFAULT 1,
		error_message TEXT,
		timestamp TEXT NOT NULL,
		timestamp_epoch INTEGER NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		source_machine_id TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS memory_observations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		prompt_batch_id INTEGER,
		observation TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		context TEXT,
		tags TEXT NOT NULL DEFAULT '[]',
		importance INTEGER NOT NULL DEFAULT 5,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		embedded INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		resolved_by_session_id TEXT,
		resolved_at TEXT,
		resolved_at_epoch INTEGER,
		superseded_by TEXT,
		source_machine_id TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS resolution_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		observation_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resolved_by_session_id TEXT,
		superseded_by TEXT,
		reason TEXT,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		source_machine_id TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL UNIQUE,
		applied INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS session_relationships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_a TEXT NOT NULL,
		session_b TEXT NOT NULL,
		similarity_score REAL,
		created_by TEXT NOT NULL DEFAULT 'manual',
		created_at TEXT NOT NULL,
		UNIQUE(session_a, session_b)
	)`,

	`CREATE TABLE IF NOT EXISTS agent_schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		agent TEXT NOT NULL,
		prompt TEXT NOT NULL,
		cron_expression TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS saved_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		agent TEXT NOT NULL,
		prompt TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS governance_audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		agent TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL,
		tool_use_id TEXT,
		tool_category TEXT NOT NULL DEFAULT 'other',
		rule_id TEXT,
		action TEXT NOT NULL,
		reason TEXT,
		matched_pattern TEXT,
		tool_input_summary TEXT,
		enforcement_mode TEXT NOT NULL DEFAULT 'observe',
		evaluation_ms REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		created_at_epoch INTEGER NOT NULL,
		source_machine_id TEXT NOT NULL DEFAULT ''
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_session ON prompt_batches(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_batches_pending ON prompt_batches(processed, status)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_session ON activities(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_batch ON activities(prompt_batch_id)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_epoch ON activities(timestamp_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_session ON memory_observations(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_status ON memory_observations(status)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_embedded ON memory_observations(embedded)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_type ON memory_observations(memory_type)`,
	`CREATE INDEX IF NOT EXISTS idx_resolution_applied ON resolution_events(applied, created_at_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_a ON session_relationships(session_a)`,
	`CREATE INDEX IF NOT EXISTS idx_relationships_b ON session_relationships(session_b)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_created ON governance_audit_events(created_at_epoch)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_session ON governance_audit_events(session_id)`,
}

// migrate creates missing tables and applies stepwise column migrations for
// databases created by older releases.
func (s *ActivityStore) migrate() error {
	for _, stmt := range schemaTables {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	current := s.schemaVersion()
	if current < SchemaVersion {
		if err := s.runMigrations(current); err != nil {
			return err
		}
	}

	for _, stmt := range schemaIndexes {
		if _, err := s.db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryStore).Warn("failed to create index: %v", err)
		}
	}

	_, err := s.db.Exec(
		`INSERT INTO schema_meta(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		fmt.Sprintf("%d", SchemaVersion))
	return err
}

func (s *ActivityStore) schemaVersion() int {
	var v int
	err := s.db.QueryRow(`SELECT CAST(value AS INTEGER) FROM schema_meta WHERE key='schema_version'`).Scan(&v)
	if err != nil {
		return 0
	}
	return v
}

// runMigrations applies column additions for databases older than the
// current schema. Each step is idempotent; duplicate-column errors are
// swallowed since SQLite has no ADD COLUMN IF NOT EXISTS.
func (s *ActivityStore) runMigrations(from int) error {
	type step struct {
		version int
		stmts   []string
	}
	steps := []step{
		{2, []string{
			`ALTER TABLE prompt_batches ADD COLUMN plan_file_path TEXT`,
			`ALTER TABLE prompt_batches ADD COLUMN plan_embedded INTEGER NOT NULL DEFAULT 0`,
		}},
		{3, []string{
			`ALTER TABLE sessions ADD COLUMN parent_session_id TEXT`,
			`ALTER TABLE sessions ADD COLUMN parent_session_reason TEXT`,
		}},
	}
	for _, st := range steps {
		if from >= st.version {
			continue
		}
		for _, stmt := range st.stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				logging.StoreDebug("migration step %d statement skipped: %v", st.version, err)
			}
		}
		logging.Store("Applied schema migration to version %d", st.version)
	}
	return nil
}
