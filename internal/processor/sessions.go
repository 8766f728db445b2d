package processor

import (
	"context"
	"fmt"
	"strings"

	"oakci/internal/config"
	"oakci/internal/llm"
	"oakci/internal/logging"
	"oakci/internal/store"
	"oakci/internal/vector"
)

// finalizeSessions summarizes and titles completed sessions with enough
// activity, then mirrors the summary into the session collection.
func (p *Processor) finalizeSessions(ctx context.Context, c *config.CIConfig, stats *CycleStats) error {
	sessions, err := p.store.CompletedUnsummarizedSessions(c.Processor.MinSessionActivities, 5)
	if err != nil {
		return err
	}
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.finalizeOne(ctx, c, session); err != nil {
			logging.Get(logging.CategoryProcessor).Warn("failed to finalize session %s: %v", session.ID, err)
			continue
		}
		stats.SessionsFinalized++
	}
	return nil
}

func (p *Processor) finalizeOne(ctx context.Context, c *config.CIConfig, session store.Session) error {
	prompts, err := p.store.SessionPrompts(session.ID, 50)
	if err != nil {
		return err
	}
	batches, err := p.store.ListPromptBatches(session.ID, 100, 0)
	if err != nil {
		return err
	}
	transcript := buildSessionTranscript(prompts, batches, c.Processor.ContextTokenBudget)

	// Titles set by the user or an earlier pass are never regenerated.
	hasTitle := session.Title != nil && strings.TrimSpace(*session.Title) != ""
	summary, title := p.summarize(ctx, transcript, prompts, !hasTitle)
	if summary == "" {
		return fmt.Errorf("empty summary")
	}
	if err := p.store.UpdateSessionSummary(session.ID, summary); err != nil {
		return err
	}
	if hasTitle {
		title = *session.Title
	} else if title != "" {
		if err := p.store.UpdateSessionTitle(session.ID, title); err != nil {
			return err
		}
	}

	// The summary is also an observation, so memory search and the
	// resolution lifecycle see it alongside extracted observations.
	obs, err := p.store.InsertObservation(store.Observation{
		SessionID:   session.ID,
		Observation: summary,
		MemoryType:  "session_summary",
		Importance:  5,
		Tags:        []string{"session_summary"},
	})
	if err != nil {
		logging.Get(logging.CategoryProcessor).Warn("failed to store summary observation for %s: %v", session.ID, err)
	} else if err := p.memory.AddObservation(ctx, obs); err == nil {
		_ = p.store.MarkObservationEmbedded(obs.ID)
	}

	endedAt := ""
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	entry := vector.SessionSummaryEntry{
		SessionID:   session.ID,
		Title:       title,
		Summary:     summary,
		Agent:       session.Agent,
		ProjectRoot: session.ProjectRoot,
		EndedAt:     endedAt,
	}
	if err := p.memory.AddSessionSummary(ctx, entry); err != nil {
		// The summary row is saved; the vector mirror catches up on a
		// later devtools reindex.
		logging.ProcessorDebug("session summary mirror deferred for %s: %v", session.ID, err)
	}
	logging.Processor("Finalized session %s: %q", session.ID, title)
	return nil
}

// summarize produces the session summary and, when wanted, a title from the
// first prompts, degrading to a prompt digest when no LLM is available.
func (p *Processor) summarize(ctx context.Context, transcript string, prompts []string, wantTitle bool) (summary, title string) {
	if client := p.llm.Client(); client != nil {
		system, user := llm.SummaryPrompt(transcript)
		if s, err := client.Complete(ctx, system, user); err == nil && s != "" {
			summary = s
			if wantTitle {
				system, user = llm.TitlePrompt(prompts)
				if t, err := client.Complete(ctx, system, user); err == nil {
					title = strings.Trim(strings.TrimSpace(t), `"'`)
				}
			}
			return summary, title
		}
	}
	summary, title = heuristicSummary(prompts)
	if !wantTitle {
		title = ""
	}
	return summary, title
}

// heuristicSummary digests the session's prompts without an LLM.
func heuristicSummary(prompts []string) (string, string) {
	if len(prompts) == 0 {
		return "", ""
	}
	first := firstLine(prompts[0])
	summary := fmt.Sprintf("Session with %d prompts. Started with: %s", len(prompts), first)
	title := first
	if len(title) > 60 {
		title = title[:60]
	}
	return summary, title
}
