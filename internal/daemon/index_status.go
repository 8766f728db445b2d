package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"oakci/internal/indexer"
	"oakci/internal/logging"
)

// Index build states.
const (
	IndexIdle     = "idle"
	IndexBuilding = "building"
	IndexReady    = "ready"
	IndexError    = "error"
)

// ErrRebuildTimeout is returned when a rebuild exceeds its deadline. The
// build keeps running in the background; only the caller gives up.
var ErrRebuildTimeout = errors.New("index rebuild timed out")

// IndexState tracks the current build, readable from the status route while
// a build is in flight.
type IndexState struct {
	mu          sync.Mutex
	status      string
	progress    int
	total       int
	fileCount   int
	lastStats   indexer.Stats
	lastIndexed time.Time
	lastError   string
}

func newIndexState() *IndexState {
	return &IndexState{status: IndexIdle}
}

// Snapshot returns the state as a JSON-ready map.
func (s *IndexState) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := map[string]interface{}{
		"status":     s.status,
		"progress":   s.progress,
		"total":      s.total,
		"file_count": s.fileCount,
		"ast_stats": map[string]int{
			"ast_success":  s.lastStats.ASTSuccess,
			"ast_fallback": s.lastStats.ASTFallback,
			"line_based":   s.lastStats.LineBased,
		},
		"chunks_indexed": s.lastStats.ChunksIndexed,
		"duration_ms":    s.lastStats.DurationMS,
	}
	if !s.lastIndexed.IsZero() {
		snap["last_indexed"] = s.lastIndexed.UTC().Format(time.RFC3339)
	}
	if s.lastError != "" {
		snap["last_error"] = s.lastError
	}
	return snap
}

func (s *IndexState) setProgress(done, total int) {
	s.mu.Lock()
	s.status = IndexBuilding
	s.progress = done
	s.total = total
	s.mu.Unlock()
}

func (s *IndexState) finish(stats indexer.Stats, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.status = IndexError
		s.lastError = err.Error()
		return
	}
	s.status = IndexReady
	s.lastError = ""
	s.lastStats = stats
	s.fileCount = stats.FilesProcessed
	s.lastIndexed = time.Now()
	s.progress = stats.FilesProcessed
	s.total = stats.FilesProcessed
}

// Rebuild runs a full index build with a timeout. A build already in flight
// returns indexer.ErrBuildInProgress; exceeding the deadline returns
// ErrRebuildTimeout while the build finishes in the background and updates
// the state when done.
func (a *App) Rebuild(ctx context.Context, timeout time.Duration) (indexer.Stats, error) {
	if a.Indexer.Building() {
		return indexer.Stats{}, indexer.ErrBuildInProgress
	}

	type result struct {
		stats indexer.Stats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := a.Indexer.Build(context.Background(), func(done, total int, _ string) {
			a.Index.setProgress(done, total)
		})
		a.Index.finish(stats, err)
		done <- result{stats, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.stats, r.err
	case <-ctx.Done():
		return indexer.Stats{}, ctx.Err()
	case <-timer.C:
		logging.Indexer("Rebuild exceeded %v, continuing in background", timeout)
		return indexer.Stats{}, ErrRebuildTimeout
	}
}
