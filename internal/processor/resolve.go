package processor

import (
	"context"

	"oakci/internal/config"
	"oakci/internal/logging"
	"oakci/internal/store"
	"oakci/internal/vector"
)

// autoResolve supersedes older active observations that a newly stored one
// restates. A candidate is superseded when its similarity to the new
// observation clears the threshold; sharing the exact context string lowers
// the bar because the match is corroborated.
func (p *Processor) autoResolve(ctx context.Context, c *config.CIConfig, batch store.PromptBatch, created []store.Observation, transcript string) int {
	resolved := 0
	for _, o := range created {
		resolved += p.AutoSupersede(ctx, c, o, batch.SessionID)
	}
	return resolved
}

// AutoSupersede finds active observations the new one makes obsolete and
// marks them superseded. Also used by the remember path.
func (p *Processor) AutoSupersede(ctx context.Context, c *config.CIConfig, o store.Observation, sessionID string) int {
	if o.MemoryType == "session_summary" || o.MemoryType == "plan" {
		return 0
	}
	candidates := c.Processor.AutoResolveCandidates
	if candidates <= 0 {
		candidates = 10
	}
	hits, err := p.memory.SearchMemory(ctx, o.Observation, vector.MemorySearchOptions{
		MemoryType: o.MemoryType,
		Limit:      candidates,
	})
	if err != nil {
		logging.ProcessorDebug("auto-resolve search failed: %v", err)
		return 0
	}

	superseded := 0
	for _, hit := range hits {
		if hit.ID == o.ID || hit.MemoryType == "session_summary" || hit.MemoryType == "plan" {
			continue
		}
		// Only older entries can be superseded by the new one.
		if hit.CreatedAt >= o.CreatedAt && hit.CreatedAt != "" {
			continue
		}
		if !p.candidateClears(c, o, hit) {
			continue
		}
		if p.supersedeObservation(hit.ID, o, sessionID) {
			superseded++
		}
	}
	return superseded
}

// candidateClears applies the similarity thresholds. Context comparison is
// plain string equality; a fuzzy context match is not corroboration.
func (p *Processor) candidateClears(c *config.CIConfig, o store.Observation, hit vector.MemorySearchResult) bool {
	threshold := c.Processor.ResolveThreshold
	if threshold <= 0 {
		threshold = 0.87
	}
	if o.Context != nil && *o.Context != "" {
		if candidate, err := p.store.GetObservation(hit.ID); err == nil &&
			candidate.Context != nil && *candidate.Context == *o.Context {
			shared := c.Processor.ResolveThresholdShared
			if shared <= 0 {
				shared = 0.80
			}
			threshold = shared
		}
	}
	return hit.Relevance >= threshold
}

// supersedeObservation performs the status transition and logs the
// resolution event. The event is written applied since the transition
// already happened locally.
func (p *Processor) supersedeObservation(targetID string, by store.Observation, sessionID string) bool {
	reason := "superseded by: " + by.Observation
	ok, err := p.store.UpdateObservationStatus(targetID, store.StatusUpdate{
		Status:              store.ObservationSuperseded,
		ResolvedBySessionID: &sessionID,
		SupersededBy:        &by.ID,
	})
	if err != nil {
		logging.Get(logging.CategoryProcessor).Warn("failed to supersede %s: %v", targetID, err)
		return false
	}
	if !ok {
		return false
	}
	if _, err := p.store.AppendResolutionEvent(store.ResolutionEvent{
		ObservationID:       targetID,
		Action:              store.ActionSuperseded,
		ResolvedBySessionID: &sessionID,
		SupersededBy:        &by.ID,
		Reason:              &reason,
		Applied:             true,
	}); err != nil {
		logging.Get(logging.CategoryProcessor).Warn("failed to log resolution event: %v", err)
	}
	if err := p.memory.UpdateObservationStatusMeta(targetID, store.ObservationSuperseded); err != nil {
		logging.ProcessorDebug("vector status update deferred for %s: %v", targetID, err)
	}
	logging.Processor("Superseded observation %s by %s", targetID, by.ID)
	return true
}

// ReplayResolutionEvents applies unapplied resolution events in timestamp
// order. Events for observations not yet imported stay unapplied for a later
// pass; an event older than the target's current resolution is skipped so
// the last writer wins. Replay never creates new events.
func (p *Processor) ReplayResolutionEvents() (int, error) {
	events, err := p.store.UnappliedResolutionEvents()
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, e := range events {
		target, err := p.store.GetObservation(e.ObservationID)
		if err != nil {
			// Observation not present yet; defer.
			continue
		}
		if target.ResolvedAtEpoch != nil && *target.ResolvedAtEpoch >= e.CreatedAtEpoch {
			// Target already carries a newer or equal transition.
			if err := p.store.MarkEventApplied(e.ID); err != nil {
				return replayed, err
			}
			continue
		}

		update := store.StatusUpdate{
			ResolvedBySessionID: e.ResolvedBySessionID,
			ResolvedAt:          &e.CreatedAt,
		}
		switch e.Action {
		case store.ActionResolved:
			update.Status = store.ObservationResolved
		case store.ActionSuperseded:
			update.Status = store.ObservationSuperseded
			update.SupersededBy = e.SupersededBy
		case store.ActionReactivated:
			update.Status = store.ObservationActive
		default:
			logging.Get(logging.CategoryProcessor).Warn("unknown resolution action %q on event %d", e.Action, e.ID)
			_ = p.store.MarkEventApplied(e.ID)
			continue
		}
		if _, err := p.store.UpdateObservationStatus(e.ObservationID, update); err != nil {
			logging.Get(logging.CategoryProcessor).Warn("replay failed for event %d: %v", e.ID, err)
			continue
		}
		if target.Embedded {
			if err := p.memory.UpdateObservationStatusMeta(e.ObservationID, update.Status); err != nil {
				logging.ProcessorDebug("vector status update deferred for %s: %v", e.ObservationID, err)
			}
		}
		if err := p.store.MarkEventApplied(e.ID); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}
