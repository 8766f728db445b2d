package governance

import (
	"os"
	"sync"
	"time"

	"oakci/internal/config"
	"oakci/internal/logging"
	"oakci/internal/store"
)

// Enforcement modes.
const (
	ModeObserve = "observe"
	ModeEnforce = "enforce"
)

// ToolRequest is one tool call offered for evaluation.
type ToolRequest struct {
	SessionID string
	Agent     string
	ToolName  string
	ToolUseID string
	Input     string // raw JSON
	FilePath  string
}

// Decision is the evaluation outcome.
type Decision struct {
	Action         string // allow | deny | warn | observe
	RuleID         string
	Reason         string
	MatchedPattern string
	Mode           string
	// Blocked is true only when the decision actually blocks the call:
	// a deny match while enforcing. Observe mode downgrades deny and
	// warn matches to observe.
	Blocked bool
}

// AuditWriter receives one record per evaluation.
type AuditWriter interface {
	InsertAuditEvent(store.GovernanceAuditEvent) (store.GovernanceAuditEvent, error)
}

// Engine evaluates tool requests against the live rule set.
type Engine struct {
	cfg   config.Accessor
	audit AuditWriter

	mu        sync.Mutex
	rules     *RuleSet
	rulesPath string
	loadedAt  time.Time
	mtime     time.Time
}

// NewEngine creates an engine. Rules load lazily on first evaluation.
func NewEngine(cfg config.Accessor, audit AuditWriter) *Engine {
	return &Engine{cfg: cfg, audit: audit}
}

// currentRules reloads the rules file when its path or mtime changed.
func (e *Engine) currentRules() *RuleSet {
	path := e.cfg().GovernanceRulesPath()

	e.mu.Lock()
	defer e.mu.Unlock()

	var mtime time.Time
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime()
	}
	if e.rules != nil && e.rulesPath == path && mtime.Equal(e.mtime) {
		return e.rules
	}

	rs, err := LoadRules(path)
	if err != nil {
		logging.Get(logging.CategoryGovernance).Error("failed to load rules: %v", err)
		if e.rules != nil {
			return e.rules
		}
		rs = &RuleSet{}
	}
	e.rules = rs
	e.rulesPath = path
	e.mtime = mtime
	e.loadedAt = time.Now()
	return e.rules
}

// Evaluate matches a tool request against the rules, first match wins, and
// writes the audit record. The default with no match is allow.
func (e *Engine) Evaluate(req ToolRequest) Decision {
	start := time.Now()
	mode := e.cfg().Governance.EnforcementMode
	if mode != ModeEnforce {
		mode = ModeObserve
	}

	decision := Decision{Action: ActionAllow, Mode: mode}
	rules := e.currentRules()
	for i := range rules.Rules {
		rule := &rules.Rules[i]
		if !rule.matchesTool(req.ToolName) {
			continue
		}
		pattern, matched := e.matchRule(rule, req)
		if !matched {
			continue
		}
		decision.Action = rule.Action
		decision.RuleID = rule.ID
		decision.Reason = rule.Reason
		decision.MatchedPattern = pattern
		if decision.Reason == "" {
			decision.Reason = rule.Description
		}
		break
	}

	switch {
	case decision.Action == ActionDeny && mode == ModeEnforce:
		decision.Blocked = true
	case mode == ModeObserve && (decision.Action == ActionDeny || decision.Action == ActionWarn):
		// Observe mode records what would have happened but lets the
		// call through with no envelope.
		decision.Action = ActionObserve
	}

	e.writeAudit(req, decision, time.Since(start))

	switch {
	case decision.Blocked:
		logging.Governance("DENY %s (%s) rule=%s pattern=%s",
			req.ToolName, req.Agent, decision.RuleID, decision.MatchedPattern)
	case decision.Action == ActionWarn:
		logging.Governance("WARN %s (%s) rule=%s", req.ToolName, req.Agent, decision.RuleID)
	case decision.Action == ActionObserve:
		logging.Governance("OBSERVE %s (%s) rule=%s", req.ToolName, req.Agent, decision.RuleID)
	}
	return decision
}

// matchRule checks input and path patterns. Every pattern kind the rule
// specifies must match; a rule with neither kind matches on tool name alone.
func (e *Engine) matchRule(rule *Rule, req ToolRequest) (string, bool) {
	var matchedPattern string
	if len(rule.compiled) > 0 {
		pattern, ok := rule.matchInput(req.Input)
		if !ok {
			return "", false
		}
		matchedPattern = pattern
	}
	if len(rule.PathPatterns) > 0 {
		pattern, ok := rule.matchPath(req.FilePath)
		if !ok {
			return "", false
		}
		if matchedPattern == "" {
			matchedPattern = pattern
		}
	}
	return matchedPattern, true
}

func (e *Engine) writeAudit(req ToolRequest, d Decision, took time.Duration) {
	if e.audit == nil {
		return
	}
	event := store.GovernanceAuditEvent{
		SessionID:       req.SessionID,
		Agent:           req.Agent,
		ToolName:        req.ToolName,
		ToolCategory:    CategorizeTool(req.ToolName),
		Action:          d.Action,
		EnforcementMode: d.Mode,
		EvaluationMS:    float64(took.Microseconds()) / 1000.0,
	}
	if req.ToolUseID != "" {
		event.ToolUseID = &req.ToolUseID
	}
	if d.RuleID != "" {
		event.RuleID = &d.RuleID
	}
	if d.Reason != "" {
		event.Reason = &d.Reason
	}
	if d.MatchedPattern != "" {
		event.MatchedPattern = &d.MatchedPattern
	}
	if summary := summarizeInput(req.Input); summary != "" {
		event.ToolInputSummary = &summary
	}
	if _, err := e.audit.InsertAuditEvent(event); err != nil {
		logging.Get(logging.CategoryGovernance).Warn("failed to write audit event: %v", err)
	}
}

// summarizeInput truncates raw tool input for the audit record.
func summarizeInput(input string) string {
	const maxLen = 500
	if len(input) > maxLen {
		return input[:maxLen] + "..."
	}
	return input
}

// PruneExpired deletes audit events past the retention window. Returns the
// number deleted.
func PruneExpired(cfg config.Accessor, s *store.ActivityStore) (int64, error) {
	days := cfg().Governance.RetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	return s.PruneAuditEvents(cutoff)
}

// Tool categories used for audit aggregation.
var toolCategories = map[string]string{
	"Write": "filesystem", "Edit": "filesystem", "MultiEdit": "filesystem",
	"NotebookEdit": "filesystem", "Read": "filesystem", "Glob": "filesystem",
	"Grep": "filesystem", "NotebookRead": "filesystem",
	"Bash": "shell", "BashOutput": "shell", "KillShell": "shell",
	"WebFetch": "network", "WebSearch": "network",
	"Task": "agent", "Agent": "agent",
}

// CategorizeTool maps a tool name to its audit category.
func CategorizeTool(toolName string) string {
	if cat, ok := toolCategories[toolName]; ok {
		return cat
	}
	return "other"
}
