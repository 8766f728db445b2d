package governance_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/config"
	"oakci/internal/governance"
	"oakci/internal/store"
)

type auditRecorder struct {
	events []store.GovernanceAuditEvent
}

func (a *auditRecorder) InsertAuditEvent(e store.GovernanceAuditEvent) (store.GovernanceAuditEvent, error) {
	a.events = append(a.events, e)
	return e, nil
}

const testRules = `version: 1
rules:
  - id: no-force-push
    description: Force pushes rewrite shared history
    tools: ["Bash"]
    action: deny
    patterns:
      - "git\\s+push\\s+.*--force"
    reason: force push is not allowed here
  - id: warn-env-writes
    tools: ["Write", "Edit"]
    action: warn
    path_patterns:
      - ".env*"
  - id: no-secrets-in-env
    tools: ["Write"]
    action: deny
    patterns:
      - "SECRET"
    path_patterns:
      - "*.env"
    reason: secrets never land in env files
`

func newTestEngine(t *testing.T, mode string) (*governance.Engine, *auditRecorder) {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "governance.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o644))

	cfg := config.Default(dir)
	cfg.Governance.EnforcementMode = mode
	cfg.Governance.RulesPath = rulesPath

	audit := &auditRecorder{}
	return governance.NewEngine(config.Static(cfg), audit), audit
}

func TestEvaluateEnforceMode(t *testing.T) {
	engine, audit := newTestEngine(t, governance.ModeEnforce)

	t.Run("deny match blocks", func(t *testing.T) {
		d := engine.Evaluate(governance.ToolRequest{
			SessionID: "sess-1", Agent: "claude", ToolName: "Bash",
			Input: `{"command": "git push origin main --force"}`,
		})
		assert.True(t, d.Blocked)
		assert.Equal(t, governance.ActionDeny, d.Action)
		assert.Equal(t, "no-force-push", d.RuleID)
		assert.Equal(t, "force push is not allowed here", d.Reason)
	})

	t.Run("warn match does not block", func(t *testing.T) {
		d := engine.Evaluate(governance.ToolRequest{
			SessionID: "sess-1", Agent: "claude", ToolName: "Write",
			FilePath: ".env.local",
		})
		assert.False(t, d.Blocked)
		assert.Equal(t, governance.ActionWarn, d.Action)
	})

	t.Run("no match allows", func(t *testing.T) {
		d := engine.Evaluate(governance.ToolRequest{
			SessionID: "sess-1", Agent: "claude", ToolName: "Bash",
			Input: `{"command": "git status"}`,
		})
		assert.False(t, d.Blocked)
		assert.Equal(t, governance.ActionAllow, d.Action)
		assert.Empty(t, d.RuleID)
	})

	require.Len(t, audit.events, 3, "every evaluation writes an audit row")
	assert.Equal(t, governance.ActionDeny, audit.events[0].Action)
	assert.Equal(t, "shell", audit.events[0].ToolCategory)
	assert.Equal(t, governance.ModeEnforce, audit.events[0].EnforcementMode)
}

func TestEvaluateRequiresEveryPatternKind(t *testing.T) {
	engine, _ := newTestEngine(t, governance.ModeEnforce)

	t.Run("input match alone does not trigger the rule", func(t *testing.T) {
		d := engine.Evaluate(governance.ToolRequest{
			SessionID: "sess-1", Agent: "claude", ToolName: "Write",
			Input:    `{"file_path": "README.md", "content": "export SECRET=1"}`,
			FilePath: "README.md",
		})
		assert.False(t, d.Blocked)
		assert.Equal(t, governance.ActionAllow, d.Action)
	})

	t.Run("path match alone does not trigger the rule", func(t *testing.T) {
		d := engine.Evaluate(governance.ToolRequest{
			SessionID: "sess-1", Agent: "claude", ToolName: "Write",
			Input:    `{"file_path": "config/prod.env", "content": "LOG_LEVEL=debug"}`,
			FilePath: "config/prod.env",
		})
		assert.False(t, d.Blocked)
		assert.Equal(t, governance.ActionAllow, d.Action)
	})

	t.Run("both kinds matching blocks", func(t *testing.T) {
		d := engine.Evaluate(governance.ToolRequest{
			SessionID: "sess-1", Agent: "claude", ToolName: "Write",
			Input:    `{"file_path": "config/prod.env", "content": "SECRET=hunter2"}`,
			FilePath: "config/prod.env",
		})
		assert.True(t, d.Blocked)
		assert.Equal(t, "no-secrets-in-env", d.RuleID)
		assert.Equal(t, "SECRET", d.MatchedPattern)
	})
}

func TestEvaluateObserveModeDowngrades(t *testing.T) {
	engine, audit := newTestEngine(t, governance.ModeObserve)

	deny := engine.Evaluate(governance.ToolRequest{
		SessionID: "sess-1", Agent: "claude", ToolName: "Bash",
		Input: `{"command": "git push --force"}`,
	})
	assert.False(t, deny.Blocked, "observe mode never blocks")
	assert.Equal(t, governance.ActionObserve, deny.Action)
	assert.Nil(t, governance.DenyEnvelope(deny, governance.EnvelopeStyleHook))

	warn := engine.Evaluate(governance.ToolRequest{
		SessionID: "sess-1", Agent: "claude", ToolName: "Edit", FilePath: ".env",
	})
	assert.Equal(t, governance.ActionObserve, warn.Action)

	allow := engine.Evaluate(governance.ToolRequest{
		SessionID: "sess-1", Agent: "claude", ToolName: "Read", FilePath: "go.mod",
	})
	assert.Equal(t, governance.ActionAllow, allow.Action, "allow is not downgraded")

	require.Len(t, audit.events, 3)
	assert.Equal(t, governance.ActionObserve, audit.events[0].Action)
	assert.Equal(t, governance.ActionObserve, audit.events[1].Action)
	assert.Equal(t, governance.ActionAllow, audit.events[2].Action)
}

func TestEvaluateMissingRulesFileAllows(t *testing.T) {
	cfg := config.Default(t.TempDir())
	cfg.Governance.EnforcementMode = governance.ModeEnforce
	engine := governance.NewEngine(config.Static(cfg), &auditRecorder{})

	d := engine.Evaluate(governance.ToolRequest{
		SessionID: "sess-1", Agent: "claude", ToolName: "Bash",
		Input: `{"command": "rm -rf /"}`,
	})
	assert.False(t, d.Blocked)
	assert.Equal(t, governance.ActionAllow, d.Action)
}

func TestDenyEnvelopeShapes(t *testing.T) {
	blocked := governance.Decision{
		Action: governance.ActionDeny, Blocked: true,
		RuleID: "no-force-push", Reason: "force push is not allowed here",
	}

	t.Run("hook style", func(t *testing.T) {
		env := governance.DenyEnvelope(blocked, governance.EnvelopeStyleHook)
		require.NotNil(t, env)
		inner, ok := env["hookSpecificOutput"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "PreToolUse", inner["hookEventName"])
		assert.Equal(t, "deny", inner["permissionDecision"])
		assert.Equal(t, "force push is not allowed here", inner["permissionDecisionReason"])
	})

	t.Run("cursor style", func(t *testing.T) {
		env := governance.DenyEnvelope(blocked, governance.EnvelopeStyleCursor)
		require.NotNil(t, env)
		assert.Equal(t, false, env["continue"])
		assert.Equal(t, "deny", env["permission"])
		assert.Equal(t, "force push is not allowed here", env["userMessage"])
		assert.Equal(t, "force push is not allowed here", env["agentMessage"])
	})

	t.Run("non-blocking decision has no envelope", func(t *testing.T) {
		assert.Nil(t, governance.DenyEnvelope(governance.Decision{Action: governance.ActionWarn}, governance.EnvelopeStyleHook))
	})

	t.Run("fallback reason names the rule", func(t *testing.T) {
		env := governance.DenyEnvelope(governance.Decision{
			Action: governance.ActionDeny, Blocked: true, RuleID: "r1",
		}, governance.EnvelopeStyleCursor)
		assert.Equal(t, "blocked by governance rule r1", env["userMessage"])
	})
}

func TestEnvelopeStyleFor(t *testing.T) {
	assert.Equal(t, governance.EnvelopeStyleCursor, governance.EnvelopeStyleFor("cursor"))
	assert.Equal(t, governance.EnvelopeStyleHook, governance.EnvelopeStyleFor("claude"))
	assert.Equal(t, governance.EnvelopeStyleHook, governance.EnvelopeStyleFor(""))
}

func TestCategorizeTool(t *testing.T) {
	assert.Equal(t, "filesystem", governance.CategorizeTool("Write"))
	assert.Equal(t, "filesystem", governance.CategorizeTool("Glob"))
	assert.Equal(t, "shell", governance.CategorizeTool("Bash"))
	assert.Equal(t, "network", governance.CategorizeTool("WebFetch"))
	assert.Equal(t, "agent", governance.CategorizeTool("Task"))
	assert.Equal(t, "other", governance.CategorizeTool("SomethingNew"))
}

func TestLoadRulesTolerance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "governance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`version: 1
rules:
  - id: bad-regex
    tools: ["Bash"]
    action: deny
    patterns:
      - "(("
      - "curl"
  - id: odd-action
    tools: ["Bash"]
    action: quarantine
`), 0o644))

	rs, err := governance.LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, governance.ActionWarn, rs.Rules[1].Action, "unknown actions degrade to warn")

	missing, err := governance.LoadRules(filepath.Join(dir, "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing.Rules)
}
