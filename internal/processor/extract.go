package processor

import (
	"context"
	"fmt"

	"oakci/internal/llm"
	"oakci/internal/logging"
	"oakci/internal/store"
)

// extractObservations asks the LLM for durable observations in a batch and
// writes them relational-first: the row lands with embedded=false, then the
// vector mirror is attempted, and only a successful mirror flips the flag.
func (p *Processor) extractObservations(ctx context.Context, batch store.PromptBatch, classification, transcript string) ([]store.Observation, error) {
	client := p.llm.Client()
	if client == nil {
		return nil, nil
	}

	system, user := llm.ExtractPrompt(classification, transcript)
	raw, err := client.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("extraction completion failed: %w", err)
	}
	extracted, err := llm.ParseObservations(raw)
	if err != nil {
		return nil, err
	}

	created := make([]store.Observation, 0, len(extracted))
	for _, e := range extracted {
		o := store.Observation{
			SessionID:     batch.SessionID,
			PromptBatchID: &batch.ID,
			Observation:   e.Observation,
			MemoryType:    e.MemoryType,
			Importance:    llm.ImportanceScore(e.Importance),
			Tags:          observationTags(e, classification),
		}
		if e.Context != "" {
			o.Context = &e.Context
		}
		o, err := p.store.InsertObservation(o)
		if err != nil {
			logging.Get(logging.CategoryProcessor).Warn("failed to insert observation: %v", err)
			continue
		}
		if err := p.memory.AddObservation(ctx, o); err != nil {
			// Left unembedded; the backlog phase retries.
			logging.ProcessorDebug("vector mirror deferred for %s: %v", o.ID, err)
		} else if err := p.store.MarkObservationEmbedded(o.ID); err != nil {
			logging.Get(logging.CategoryProcessor).Warn("failed to mark embedded: %v", err)
		} else {
			o.Embedded = true
		}
		created = append(created, o)
	}
	return created, nil
}

func observationTags(e llm.ExtractedObservation, classification string) []string {
	tags := []string{"auto-extracted"}
	if e.Importance != "" {
		tags = append(tags, "importance:"+e.Importance)
	}
	if classification != "" {
		tags = append(tags, "session:"+classification)
	}
	return tags
}
