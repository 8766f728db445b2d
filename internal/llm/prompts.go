package llm

import (
	"fmt"
	"strings"
)

// Classifications assigned to prompt batches.
var Classifications = []string{
	"exploration", "debugging", "implementation", "refactoring",
}

// ValidClassification reports whether the label is known.
func ValidClassification(c string) bool {
	for _, known := range Classifications {
		if known == c {
			return true
		}
	}
	return false
}

const classifySystem = `You classify a coding-agent work batch into exactly one category.
Categories: exploration, debugging, implementation, refactoring.
Respond with only the category word, lowercase, nothing else.`

// ClassifyPrompt builds the classification request for a batch transcript.
func ClassifyPrompt(transcript string) (string, string) {
	return classifySystem, "Classify this work batch:\n\n" + transcript
}

const extractSystemBase = `You extract durable engineering knowledge from a coding-agent work batch.
Return a JSON array. Each element:
{"observation": "one self-contained sentence", "memory_type": "...", "context": "optional file/component", "importance": "low|medium|high|critical"}
memory_type is one of: gotcha, bug_fix, decision, discovery, trade_off.
Only include facts that will matter in future sessions. Return [] if nothing qualifies.
Return only the JSON array, no prose, no code fences.`

// extractFocus sharpens the extraction prompt per batch classification.
var extractFocus = map[string]string{
	"debugging":      `Focus on the root cause, the fix, and any gotcha that made the bug hard to find.`,
	"implementation": `Focus on design decisions, trade-offs accepted, and discoveries about how existing code behaves.`,
	"refactoring":    `Focus on why the restructuring was needed and invariants that must survive it.`,
	"exploration":    `Focus on discoveries: how the system actually behaves, surprising constraints, dead ends worth remembering.`,
}

// ExtractPrompt builds the observation-extraction request. The system prompt
// varies with the batch classification.
func ExtractPrompt(classification, transcript string) (string, string) {
	system := extractSystemBase
	if focus, ok := extractFocus[classification]; ok {
		system += "\n" + focus
	}
	return system, "Extract observations from this work batch:\n\n" + transcript
}

const summarySystem = `You summarize a completed coding-agent session in 2-4 sentences.
Cover what was attempted, what changed, and anything left unfinished.
Write plain prose. No headings, no lists.`

// SummaryPrompt builds the session-summary request.
func SummaryPrompt(transcript string) (string, string) {
	return summarySystem, "Summarize this session:\n\n" + transcript
}

const titleSystem = `You title a coding-agent session in at most 8 words.
Respond with only the title. No quotes, no trailing period.`

// TitlePrompt builds the session-title request from the session's prompts.
func TitlePrompt(prompts []string) (string, string) {
	if len(prompts) > 10 {
		prompts = prompts[:10]
	}
	return titleSystem, "Title the session with these user prompts:\n\n" + strings.Join(prompts, "\n")
}

const resolveSystem = `You decide whether new work resolves a previously recorded observation.
Respond with only "yes" or "no".`

// ResolvePrompt builds the resolution-confirmation request.
func ResolvePrompt(observation, recentWork string) (string, string) {
	return resolveSystem, fmt.Sprintf(
		"Observation:\n%s\n\nRecent work:\n%s\n\nDoes the recent work resolve the observation?",
		observation, recentWork)
}

// TruncateTokens trims text to roughly the given token budget using the
// 4-chars-per-token approximation, cutting from the middle so both the start
// and the latest activity survive.
func TruncateTokens(text string, tokenBudget int) string {
	if tokenBudget <= 0 {
		return text
	}
	maxChars := tokenBudget * 4
	if len(text) <= maxChars {
		return text
	}
	head := maxChars * 2 / 3
	tail := maxChars - head
	return text[:head] + "\n\n[... truncated ...]\n\n" + text[len(text)-tail:]
}

// ImportanceScore maps the model's importance label to the 1-10 scale.
func ImportanceScore(label string) int {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "low":
		return 3
	case "medium":
		return 5
	case "high":
		return 8
	case "critical":
		return 10
	default:
		return 5
	}
}
