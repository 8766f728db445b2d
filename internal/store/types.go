package store

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionAbandoned = "abandoned"
)

// Prompt batch statuses.
const (
	BatchActive    = "active"
	BatchCompleted = "completed"
)

// Prompt batch source types.
const (
	SourceUser              = "user"
	SourceAgentNotification = "agent_notification"
	SourcePlan              = "plan"
	SourceDerivedPlan       = "derived_plan"
	SourceSystem            = "system"
)

// Observation statuses.
const (
	ObservationActive     = "active"
	ObservationResolved   = "resolved"
	ObservationSuperseded = "superseded"
)

// Resolution event actions.
const (
	ActionResolved    = "resolved"
	ActionSuperseded  = "superseded"
	ActionReactivated = "reactivated"
)

// MemoryTypes are the known observation kinds. They are validated at API
// boundaries but stored as plain strings so new kinds can be added without a
// migration.
var MemoryTypes = []string{
	"gotcha", "bug_fix", "decision", "discovery", "trade_off",
	"session_summary", "plan",
}

// ValidMemoryType reports whether the given kind is known.
func ValidMemoryType(t string) bool {
	for _, m := range MemoryTypes {
		if m == t {
			return true
		}
	}
	return false
}

// Session is one contiguous interaction with an agent.
type Session struct {
	ID                  string  `json:"id"`
	Agent               string  `json:"agent"`
	ProjectRoot         string  `json:"project_root"`
	StartedAt           string  `json:"started_at"`
	StartedAtEpoch      int64   `json:"started_at_epoch"`
	EndedAt             *string `json:"ended_at,omitempty"`
	EndedAtEpoch        *int64  `json:"ended_at_epoch,omitempty"`
	Status              string  `json:"status"`
	Title               *string `json:"title,omitempty"`
	Summary             *string `json:"summary,omitempty"`
	ParentSessionID     *string `json:"parent_session_id,omitempty"`
	ParentSessionReason *string `json:"parent_session_reason,omitempty"`
	TranscriptPath      *string `json:"transcript_path,omitempty"`
	SourceMachineID     string  `json:"source_machine_id"`
}

// PromptBatch is one user prompt plus all tool activity until the next
// prompt or session end.
type PromptBatch struct {
	ID              int64   `json:"id"`
	SessionID       string  `json:"session_id"`
	PromptNumber    int     `json:"prompt_number"`
	UserPrompt      string  `json:"user_prompt"`
	ResponseSummary *string `json:"response_summary,omitempty"`
	StartedAt       string  `json:"started_at"`
	StartedAtEpoch  int64   `json:"started_at_epoch"`
	EndedAt         *string `json:"ended_at,omitempty"`
	EndedAtEpoch    *int64  `json:"ended_at_epoch,omitempty"`
	Status          string  `json:"status"`
	Classification  *string `json:"classification,omitempty"`
	Processed       bool    `json:"processed"`
	SourceType      string  `json:"source_type"`
	PlanContent     *string `json:"plan_content,omitempty"`
	PlanFilePath    *string `json:"plan_file_path,omitempty"`
	PlanEmbedded    bool    `json:"plan_embedded"`
	SourceMachineID string  `json:"source_machine_id"`
}

// Activity is one tool invocation.
type Activity struct {
	ID                int64   `json:"id"`
	SessionID         string  `json:"session_id"`
	PromptBatchID     *int64  `json:"prompt_batch_id,omitempty"`
	ToolName          string  `json:"tool_name"`
	ToolInput         string  `json:"tool_input"` // JSON
	ToolOutputSummary *string `json:"tool_output_summary,omitempty"`
	FilePath          *string `json:"file_path,omitempty"`
	Success           bool    `json:"success"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	Timestamp         string  `json:"timestamp"`
	TimestampEpoch    int64   `json:"timestamp_epoch"`
	Processed         bool    `json:"processed"`
	SourceMachineID   string  `json:"source_machine_id"`
}

// Observation is a long-lived fact extracted from a session or remembered
// manually.
type Observation struct {
	ID                  string   `json:"id"`
	SessionID           string   `json:"session_id"`
	PromptBatchID       *int64   `json:"prompt_batch_id,omitempty"`
	Observation         string   `json:"observation"`
	MemoryType          string   `json:"memory_type"`
	Context             *string  `json:"context,omitempty"`
	Tags                []string `json:"tags"`
	Importance          int      `json:"importance"`
	CreatedAt           string   `json:"created_at"`
	CreatedAtEpoch      int64    `json:"created_at_epoch"`
	Embedded            bool     `json:"embedded"`
	Status              string   `json:"status"`
	ResolvedBySessionID *string  `json:"resolved_by_session_id,omitempty"`
	ResolvedAt          *string  `json:"resolved_at,omitempty"`
	ResolvedAtEpoch     *int64   `json:"resolved_at_epoch,omitempty"`
	SupersededBy        *string  `json:"superseded_by,omitempty"`
	SourceMachineID     string   `json:"source_machine_id"`
}

// ResolutionEvent is a cross-machine log entry for observation status
// transitions, replayed after backup imports.
type ResolutionEvent struct {
	ID                  int64   `json:"id"`
	ObservationID       string  `json:"observation_id"`
	Action              string  `json:"action"`
	ResolvedBySessionID *string `json:"resolved_by_session_id,omitempty"`
	SupersededBy        *string `json:"superseded_by,omitempty"`
	Reason              *string `json:"reason,omitempty"`
	CreatedAt           string  `json:"created_at"`
	CreatedAtEpoch      int64   `json:"created_at_epoch"`
	SourceMachineID     string  `json:"source_machine_id"`
	ContentHash         string  `json:"content_hash"`
	Applied             bool    `json:"applied"`
}

// SessionRelationship is an undirected link between two sessions.
type SessionRelationship struct {
	ID              int64    `json:"id"`
	SessionA        string   `json:"session_a"`
	SessionB        string   `json:"session_b"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	CreatedBy       string   `json:"created_by"` // manual | suggestion | auto
	CreatedAt       string   `json:"created_at"`
}

// AgentSchedule is a periodic agent job definition.
type AgentSchedule struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Agent          string  `json:"agent"`
	Prompt         string  `json:"prompt"`
	CronExpression string  `json:"cron_expression"`
	Enabled        bool    `json:"enabled"`
	LastRunAt      *string `json:"last_run_at,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// SavedTask is an on-demand agent job definition.
type SavedTask struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Agent     string `json:"agent"`
	Prompt    string `json:"prompt"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// GovernanceAuditEvent records one rule evaluation.
type GovernanceAuditEvent struct {
	ID               int64   `json:"id"`
	SessionID        string  `json:"session_id"`
	Agent            string  `json:"agent"`
	ToolName         string  `json:"tool_name"`
	ToolUseID        *string `json:"tool_use_id,omitempty"`
	ToolCategory     string  `json:"tool_category"`
	RuleID           *string `json:"rule_id,omitempty"`
	Action           string  `json:"action"`
	Reason           *string `json:"reason,omitempty"`
	MatchedPattern   *string `json:"matched_pattern,omitempty"`
	ToolInputSummary *string `json:"tool_input_summary,omitempty"`
	EnforcementMode  string  `json:"enforcement_mode"`
	EvaluationMS     float64 `json:"evaluation_ms"`
	CreatedAt        string  `json:"created_at"`
	CreatedAtEpoch   int64   `json:"created_at_epoch"`
	SourceMachineID  string  `json:"source_machine_id"`
}

// SessionStats are the per-session aggregates used by the browsing UI.
type SessionStats struct {
	SessionID     string `json:"session_id"`
	BatchCount    int    `json:"batch_count"`
	ActivityCount int    `json:"activity_count"`
	ErrorCount    int    `json:"error_count"`
}
