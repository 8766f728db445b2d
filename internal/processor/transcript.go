package processor

import (
	"fmt"
	"strings"
	"time"

	"oakci/internal/llm"
	"oakci/internal/store"
)

// maxTranscriptActivities caps the per-batch activity list; the histogram
// above it still reflects every call.
const maxTranscriptActivities = 20

// buildTranscript renders a batch and its activities as the compact text fed
// to the LLM: the prompt, the response summary, duration, a tool histogram,
// and a numbered activity list, trimmed to the token budget.
func buildTranscript(batch store.PromptBatch, activities []store.Activity, tokenBudget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User prompt:\n%s\n\n", batch.UserPrompt)
	if batch.ResponseSummary != nil && *batch.ResponseSummary != "" {
		fmt.Fprintf(&b, "Agent response summary:\n%s\n\n", *batch.ResponseSummary)
	}

	if len(activities) > 0 {
		if d := batchDuration(batch); d != "" {
			fmt.Fprintf(&b, "Duration: %s\n", d)
		}
		writeToolStats(&b, activities)
		b.WriteString("Tool activity:\n")
	}
	shown := activities
	if len(shown) > maxTranscriptActivities {
		shown = shown[:maxTranscriptActivities]
	}
	for i, a := range shown {
		line := a.ToolName
		if a.FilePath != nil && *a.FilePath != "" {
			line += " " + *a.FilePath
		}
		if !a.Success {
			line += " [FAILED"
			if a.ErrorMessage != nil && *a.ErrorMessage != "" {
				line += ": " + firstLine(*a.ErrorMessage)
			}
			line += "]"
		} else if a.ToolOutputSummary != nil && *a.ToolOutputSummary != "" {
			line += " -> " + firstLine(*a.ToolOutputSummary)
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	if rest := len(activities) - len(shown); rest > 0 {
		fmt.Fprintf(&b, "(%d more not shown)\n", rest)
	}

	return llm.TruncateTokens(b.String(), tokenBudget)
}

// writeToolStats renders the per-tool call histogram, the read/modify/create
// counts, and the error flag for a batch.
func writeToolStats(b *strings.Builder, activities []store.Activity) {
	counts := make(map[string]int)
	var names []string
	var reads, modifies, creates, failures int
	for _, a := range activities {
		if counts[a.ToolName] == 0 {
			names = append(names, a.ToolName)
		}
		counts[a.ToolName]++
		if !a.Success {
			failures++
		}
		switch a.ToolName {
		case "Read", "Grep", "Glob", "NotebookRead":
			reads++
		case "Edit", "MultiEdit", "NotebookEdit":
			modifies++
		case "Write":
			creates++
		}
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s x%d", n, counts[n])
	}
	fmt.Fprintf(b, "Tools used: %s\n", strings.Join(parts, ", "))
	fmt.Fprintf(b, "Reads: %d, modifies: %d, creates: %d\n", reads, modifies, creates)
	if failures > 0 {
		fmt.Fprintf(b, "Errors: %d tool calls failed\n", failures)
	}
}

// batchDuration formats the batch's wall-clock span, or "" when the batch has
// not ended.
func batchDuration(batch store.PromptBatch) string {
	if batch.EndedAtEpoch == nil || batch.StartedAtEpoch == 0 {
		return ""
	}
	secs := *batch.EndedAtEpoch - batch.StartedAtEpoch
	if secs < 0 {
		return ""
	}
	return (time.Duration(secs) * time.Second).String()
}

// buildSessionTranscript renders a whole session for summarization: the
// prompts in order plus per-batch classifications.
func buildSessionTranscript(prompts []string, batches []store.PromptBatch, tokenBudget int) string {
	var b strings.Builder
	b.WriteString("Prompts in this session:\n")
	for i, prompt := range prompts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, firstLine(prompt))
	}
	if len(batches) > 0 {
		b.WriteString("\nWork classifications: ")
		seen := make(map[string]bool)
		var labels []string
		for _, batch := range batches {
			if batch.Classification == nil || seen[*batch.Classification] {
				continue
			}
			seen[*batch.Classification] = true
			labels = append(labels, *batch.Classification)
		}
		b.WriteString(strings.Join(labels, ", "))
		b.WriteString("\n")
	}
	return llm.TruncateTokens(b.String(), tokenBudget)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const maxLen = 200
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}
