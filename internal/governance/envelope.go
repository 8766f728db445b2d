package governance

// Envelope styles differ per agent family: claude-style hooks read a
// hookSpecificOutput object, cursor-style hooks read a flat permission
// envelope.
const (
	EnvelopeStyleHook   = "hook"
	EnvelopeStyleCursor = "cursor"
)

// DenyEnvelope shapes a blocking decision into the JSON body the calling
// agent's hook mechanism understands. Returns nil when the decision does not
// block.
func DenyEnvelope(d Decision, style string) map[string]interface{} {
	if !d.Blocked {
		return nil
	}
	reason := d.Reason
	if reason == "" {
		reason = "blocked by governance rule " + d.RuleID
	}
	switch style {
	case EnvelopeStyleCursor:
		return map[string]interface{}{
			"continue":     false,
			"permission":   "deny",
			"userMessage":  reason,
			"agentMessage": reason,
		}
	default:
		return map[string]interface{}{
			"hookSpecificOutput": map[string]interface{}{
				"hookEventName":            "PreToolUse",
				"permissionDecision":       "deny",
				"permissionDecisionReason": reason,
			},
		}
	}
}

// EnvelopeStyleFor picks the envelope style for an agent name.
func EnvelopeStyleFor(agent string) string {
	switch agent {
	case "cursor":
		return EnvelopeStyleCursor
	default:
		return EnvelopeStyleHook
	}
}
