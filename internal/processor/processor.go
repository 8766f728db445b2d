// Package processor is the background worker that turns raw activity into
// memory: it classifies prompt batches, extracts observations, auto-resolves
// stale ones, indexes plans, and finalizes completed sessions. Nothing in
// here runs on a hook's request path.
package processor

import (
	"context"
	"sync"
	"time"

	"oakci/internal/config"
	"oakci/internal/llm"
	"oakci/internal/logging"
	"oakci/internal/store"
	"oakci/internal/vector"
)

// MemoryIndex is the slice of the vector store the processor writes to.
type MemoryIndex interface {
	AddObservation(ctx context.Context, o store.Observation) error
	UpdateObservationStatusMeta(id, status string) error
	AddPlan(ctx context.Context, batch store.PromptBatch) error
	AddSessionSummary(ctx context.Context, entry vector.SessionSummaryEntry) error
	SearchMemory(ctx context.Context, query string, opts vector.MemorySearchOptions) ([]vector.MemorySearchResult, error)
}

// ClientSource hands out the current LLM client, or nil when disabled.
type ClientSource interface {
	Client() llm.Client
}

// CycleStats summarizes one processor cycle for the status route.
type CycleStats struct {
	BatchesProcessed     int       `json:"batches_processed"`
	ObservationsCreated  int       `json:"observations_created"`
	ObservationsResolved int       `json:"observations_resolved"`
	PlansIndexed         int       `json:"plans_indexed"`
	SessionsFinalized    int       `json:"sessions_finalized"`
	EventsReplayed       int       `json:"events_replayed"`
	LastRun              time.Time `json:"last_run"`
	LastError            string    `json:"last_error,omitempty"`
}

// Processor runs the background cycle.
type Processor struct {
	cfg    config.Accessor
	store  *store.ActivityStore
	memory MemoryIndex
	llm    ClientSource

	statsMu sync.Mutex
	stats   CycleStats
}

// New creates a processor.
func New(cfg config.Accessor, s *store.ActivityStore, memory MemoryIndex, clients ClientSource) *Processor {
	return &Processor{cfg: cfg, store: s, memory: memory, llm: clients}
}

// Stats returns the last cycle's counters.
func (p *Processor) Stats() CycleStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// RunCycle executes one full pass. Each phase is independent; a failure in
// one phase is logged and the others still run, so a broken LLM endpoint
// never stalls plan indexing or resolution replay.
func (p *Processor) RunCycle(ctx context.Context) CycleStats {
	timer := logging.StartTimer(logging.CategoryProcessor, "processor.RunCycle")
	defer timer.Stop()

	c := p.cfg()
	stats := CycleStats{LastRun: time.Now()}

	replayed, err := p.ReplayResolutionEvents()
	if err != nil {
		logging.Get(logging.CategoryProcessor).Warn("resolution replay failed: %v", err)
		stats.LastError = err.Error()
	}
	stats.EventsReplayed = replayed

	if c.Processor.Enabled {
		if err := p.processPendingBatches(ctx, c, &stats); err != nil {
			logging.Get(logging.CategoryProcessor).Warn("batch processing failed: %v", err)
			stats.LastError = err.Error()
		}
	}

	if err := p.indexPendingPlans(ctx, &stats); err != nil {
		logging.Get(logging.CategoryProcessor).Warn("plan indexing failed: %v", err)
		stats.LastError = err.Error()
	}

	if err := p.embedBacklog(ctx, &stats); err != nil {
		logging.Get(logging.CategoryProcessor).Warn("embed backlog failed: %v", err)
		stats.LastError = err.Error()
	}

	if c.Processor.Enabled {
		if err := p.finalizeSessions(ctx, c, &stats); err != nil {
			logging.Get(logging.CategoryProcessor).Warn("session finalization failed: %v", err)
			stats.LastError = err.Error()
		}
	}

	if stats.BatchesProcessed+stats.ObservationsCreated+stats.SessionsFinalized+stats.EventsReplayed > 0 {
		logging.Processor("Cycle: %d batches, %d observations (+%d resolved), %d plans, %d sessions, %d replayed",
			stats.BatchesProcessed, stats.ObservationsCreated, stats.ObservationsResolved,
			stats.PlansIndexed, stats.SessionsFinalized, stats.EventsReplayed)
	}
	p.statsMu.Lock()
	p.stats = stats
	p.statsMu.Unlock()
	return stats
}

// Run loops RunCycle on the configured interval until the context ends.
func (p *Processor) Run(ctx context.Context) {
	for {
		interval := time.Duration(p.cfg().Processor.CycleSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			p.RunCycle(ctx)
		}
	}
}

// processPendingBatches consumes completed unprocessed batches.
func (p *Processor) processPendingBatches(ctx context.Context, c *config.CIConfig, stats *CycleStats) error {
	batches, err := p.store.PendingBatches(c.Processor.BatchesPerCycle)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.processBatch(ctx, c, batch, stats); err != nil {
			logging.Get(logging.CategoryProcessor).Warn("batch %d failed: %v", batch.ID, err)
			// Mark processed anyway so a poison batch cannot wedge the queue.
			_ = p.store.MarkBatchProcessed(batch.ID, nil)
			continue
		}
		stats.BatchesProcessed++
	}
	return nil
}

func (p *Processor) processBatch(ctx context.Context, c *config.CIConfig, batch store.PromptBatch, stats *CycleStats) error {
	activities, err := p.store.ActivitiesForBatch(batch.ID)
	if err != nil {
		return err
	}

	switch batch.SourceType {
	case store.SourceAgentNotification, store.SourceSystem:
		// Bookkeeping batches carry no extractable work.
		return p.store.MarkBatchProcessed(batch.ID, nil)
	case store.SourcePlan:
		// Pasted plan content is indexed by the plan phase; nothing to
		// classify. Derived plans still carry real tool activity, so they
		// continue through classification and extraction.
		return p.store.MarkBatchProcessed(batch.ID, nil)
	}

	// Task-tracking batches become derived plans before extraction so the
	// plan survives even when the LLM is unreachable.
	if batch.SourceType != store.SourceDerivedPlan {
		if plan := synthesizePlan(activities); plan != "" {
			if err := p.store.SetDerivedPlan(batch.ID, plan); err != nil {
				logging.Get(logging.CategoryProcessor).Warn("failed to set derived plan on %d: %v", batch.ID, err)
			}
		}
	}

	transcript := buildTranscript(batch, activities, c.Processor.ContextTokenBudget)
	classification := p.classify(ctx, batch, activities, transcript)

	created, err := p.extractObservations(ctx, batch, classification, transcript)
	if err != nil {
		logging.ProcessorDebug("extraction failed for batch %d: %v", batch.ID, err)
	}
	stats.ObservationsCreated += len(created)

	resolved := p.autoResolve(ctx, c, batch, created, transcript)
	stats.ObservationsResolved += resolved

	return p.store.MarkBatchProcessed(batch.ID, &classification)
}

// indexPendingPlans mirrors plan batches into the vector store.
func (p *Processor) indexPendingPlans(ctx context.Context, stats *CycleStats) error {
	batches, err := p.store.PendingPlanBatches(20)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if err := p.memory.AddPlan(ctx, batch); err != nil {
			logging.ProcessorDebug("plan indexing deferred for batch %d: %v", batch.ID, err)
			continue
		}
		if err := p.store.SetPlanEmbedded(batch.ID); err != nil {
			return err
		}
		stats.PlansIndexed++
	}
	return nil
}

// embedBacklog mirrors observations whose vector write previously failed.
// The embedded flag only flips after a successful vector write, so partial
// failure self-heals here.
func (p *Processor) embedBacklog(ctx context.Context, stats *CycleStats) error {
	pending, err := p.store.UnembeddedObservations(50)
	if err != nil {
		return err
	}
	for _, o := range pending {
		if err := p.memory.AddObservation(ctx, o); err != nil {
			logging.ProcessorDebug("embed deferred for %s: %v", o.ID, err)
			continue
		}
		if err := p.store.MarkObservationEmbedded(o.ID); err != nil {
			return err
		}
	}
	return nil
}
