package processor

import (
	"context"
	"strings"

	"oakci/internal/llm"
	"oakci/internal/logging"
	"oakci/internal/store"
)

// classify assigns a work classification to a batch, via the LLM when
// available and a tool-shape heuristic otherwise.
func (p *Processor) classify(ctx context.Context, batch store.PromptBatch, activities []store.Activity, transcript string) string {
	if client := p.llm.Client(); client != nil {
		system, user := llm.ClassifyPrompt(transcript)
		raw, err := client.Complete(ctx, system, user)
		if err == nil {
			return llm.ParseClassification(raw)
		}
		logging.ProcessorDebug("LLM classification failed for batch %d, using heuristic: %v", batch.ID, err)
	}
	return heuristicClassification(batch.UserPrompt, activities)
}

// heuristicClassification infers a classification from the shape of the tool
// activity, consulting the prompt wording only when the activity is not
// decisive. Failed tool calls outrank everything else.
func heuristicClassification(prompt string, activities []store.Activity) string {
	var reads, edits, creates, failures int
	for _, a := range activities {
		if !a.Success {
			failures++
		}
		switch a.ToolName {
		case "Read", "Grep", "Glob", "NotebookRead":
			reads++
		case "Edit", "MultiEdit", "NotebookEdit":
			edits++
		case "Write":
			creates++
		}
	}

	total := len(activities)
	switch {
	case failures > 0:
		return "debugging"
	case creates > 0:
		return "implementation"
	case edits > 0 && edits*2 >= total:
		return "refactoring"
	case reads > 0 && reads*2 >= total:
		return "exploration"
	}

	lower := strings.ToLower(prompt)
	switch {
	case containsAny(lower, "fix", "bug", "error", "broken", "crash", "fail"):
		return "debugging"
	case containsAny(lower, "refactor", "rename", "clean up", "cleanup", "restructure"):
		return "refactoring"
	default:
		return "exploration"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
