package processor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/config"
	"oakci/internal/llm"
	"oakci/internal/store"
	"oakci/internal/vector"
)

// fakeIndex satisfies MemoryIndex without a real vector store.
type fakeIndex struct {
	hits       []vector.MemorySearchResult
	searches   int
	lastOpts   vector.MemorySearchOptions
	statusMeta map[string]string
	summaries  []vector.SessionSummaryEntry
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{statusMeta: make(map[string]string)}
}

func (f *fakeIndex) AddObservation(ctx context.Context, o store.Observation) error { return nil }

func (f *fakeIndex) UpdateObservationStatusMeta(id, status string) error {
	f.statusMeta[id] = status
	return nil
}

func (f *fakeIndex) AddPlan(ctx context.Context, batch store.PromptBatch) error { return nil }

func (f *fakeIndex) AddSessionSummary(ctx context.Context, entry vector.SessionSummaryEntry) error {
	f.summaries = append(f.summaries, entry)
	return nil
}

func (f *fakeIndex) SearchMemory(ctx context.Context, query string, opts vector.MemorySearchOptions) ([]vector.MemorySearchResult, error) {
	f.searches++
	f.lastOpts = opts
	return f.hits, nil
}

type noLLM struct{}

func (noLLM) Client() llm.Client { return nil }

func newTestProcessor(t *testing.T) (*Processor, *store.ActivityStore, *fakeIndex, *config.CIConfig) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "activities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default(dir)
	idx := newFakeIndex()
	p := New(config.Static(cfg), st, idx, noLLM{})
	return p, st, idx, cfg
}

func insertObservation(t *testing.T, st *store.ActivityStore, o store.Observation) store.Observation {
	t.Helper()
	if o.SessionID == "" {
		o.SessionID = "sess-1"
	}
	inserted, err := st.InsertObservation(o)
	require.NoError(t, err)
	return inserted
}

func hitFor(o store.Observation, relevance float64) vector.MemorySearchResult {
	return vector.MemorySearchResult{
		ID:          o.ID,
		Observation: o.Observation,
		MemoryType:  o.MemoryType,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		Relevance:   relevance,
	}
}

func TestAutoSupersede(t *testing.T) {
	ctx := context.Background()

	t.Run("high similarity supersedes the older entry", func(t *testing.T) {
		p, st, idx, cfg := newTestProcessor(t)
		old := insertObservation(t, st, store.Observation{
			Observation: "the config cache TTL is 5 seconds",
			MemoryType:  "discovery",
			CreatedAt:   "2026-01-01T00:00:00Z",
		})
		fresh := insertObservation(t, st, store.Observation{
			Observation: "the config cache TTL is 2 seconds",
			MemoryType:  "discovery",
		})
		idx.hits = []vector.MemorySearchResult{hitFor(old, 0.93)}

		n := p.AutoSupersede(ctx, cfg, fresh, "sess-2")
		assert.Equal(t, 1, n)
		assert.Equal(t, fresh.MemoryType, idx.lastOpts.MemoryType)

		got, err := st.GetObservation(old.ID)
		require.NoError(t, err)
		assert.Equal(t, store.ObservationSuperseded, got.Status)
		require.NotNil(t, got.SupersededBy)
		assert.Equal(t, fresh.ID, *got.SupersededBy)
		require.NotNil(t, got.ResolvedBySessionID)
		assert.Equal(t, "sess-2", *got.ResolvedBySessionID)
		assert.Equal(t, store.ObservationSuperseded, idx.statusMeta[old.ID])

		events, err := st.ListResolutionEvents(old.ID, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, store.ActionSuperseded, events[0].Action)
		assert.True(t, events[0].Applied)
		require.NotNil(t, events[0].Reason)
		assert.Contains(t, *events[0].Reason, "superseded by:")
	})

	t.Run("below threshold leaves the entry active", func(t *testing.T) {
		p, st, idx, cfg := newTestProcessor(t)
		old := insertObservation(t, st, store.Observation{
			Observation: "sessions sweep runs every minute",
			MemoryType:  "discovery",
			CreatedAt:   "2026-01-01T00:00:00Z",
		})
		fresh := insertObservation(t, st, store.Observation{
			Observation: "sessions sweep interval is configurable",
			MemoryType:  "discovery",
		})
		idx.hits = []vector.MemorySearchResult{hitFor(old, 0.84)}

		assert.Equal(t, 0, p.AutoSupersede(ctx, cfg, fresh, "sess-2"))
		got, err := st.GetObservation(old.ID)
		require.NoError(t, err)
		assert.Equal(t, store.ObservationActive, got.Status)
	})

	t.Run("equal context lowers the threshold", func(t *testing.T) {
		p, st, idx, cfg := newTestProcessor(t)
		sharedCtx := "internal/store/store.go"
		old := insertObservation(t, st, store.Observation{
			Observation: "busy_timeout is set to 5000",
			MemoryType:  "gotcha",
			Context:     &sharedCtx,
			CreatedAt:   "2026-01-01T00:00:00Z",
		})
		fresh := insertObservation(t, st, store.Observation{
			Observation: "busy_timeout is now 10000",
			MemoryType:  "gotcha",
			Context:     &sharedCtx,
		})
		idx.hits = []vector.MemorySearchResult{hitFor(old, 0.84)}

		assert.Equal(t, 1, p.AutoSupersede(ctx, cfg, fresh, "sess-2"))
	})

	t.Run("session summaries and plans never supersede", func(t *testing.T) {
		p, st, idx, cfg := newTestProcessor(t)
		fresh := insertObservation(t, st, store.Observation{
			Observation: "wrapped up the session",
			MemoryType:  "session_summary",
		})
		assert.Equal(t, 0, p.AutoSupersede(ctx, cfg, fresh, "sess-2"))
		assert.Equal(t, 0, idx.searches)
	})

	t.Run("newer hits are not superseded", func(t *testing.T) {
		p, st, idx, cfg := newTestProcessor(t)
		fresh := insertObservation(t, st, store.Observation{
			Observation: "the watcher debounce is 1s",
			MemoryType:  "discovery",
			CreatedAt:   "2026-01-01T00:00:00Z",
		})
		newer := insertObservation(t, st, store.Observation{
			Observation: "the watcher debounce is 2s",
			MemoryType:  "discovery",
			CreatedAt:   "2026-06-01T00:00:00Z",
		})
		idx.hits = []vector.MemorySearchResult{hitFor(newer, 0.95)}

		assert.Equal(t, 0, p.AutoSupersede(ctx, cfg, fresh, "sess-2"))
		got, err := st.GetObservation(newer.ID)
		require.NoError(t, err)
		assert.Equal(t, store.ObservationActive, got.Status)
	})
}

func TestReplayResolutionEvents(t *testing.T) {
	t.Run("missing observation defers the event", func(t *testing.T) {
		p, st, _, _ := newTestProcessor(t)
		_, err := st.AppendResolutionEvent(store.ResolutionEvent{
			ObservationID: "not-imported-yet",
			Action:        store.ActionResolved,
		})
		require.NoError(t, err)

		replayed, err := p.ReplayResolutionEvents()
		require.NoError(t, err)
		assert.Equal(t, 0, replayed)

		pending, err := st.UnappliedResolutionEvents()
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("older event loses to the current resolution", func(t *testing.T) {
		p, st, _, _ := newTestProcessor(t)
		sess := "sess-local"
		o := insertObservation(t, st, store.Observation{
			Observation: "flaky test in indexer",
			MemoryType:  "gotcha",
		})
		_, err := st.UpdateObservationStatus(o.ID, store.StatusUpdate{
			Status:              store.ObservationResolved,
			ResolvedBySessionID: &sess,
		})
		require.NoError(t, err)

		_, err = st.AppendResolutionEvent(store.ResolutionEvent{
			ObservationID: o.ID,
			Action:        store.ActionReactivated,
			CreatedAt:     "2026-01-01T00:00:00Z",
		})
		require.NoError(t, err)

		replayed, err := p.ReplayResolutionEvents()
		require.NoError(t, err)
		assert.Equal(t, 0, replayed)

		got, err := st.GetObservation(o.ID)
		require.NoError(t, err)
		assert.Equal(t, store.ObservationResolved, got.Status)

		pending, err := st.UnappliedResolutionEvents()
		require.NoError(t, err)
		assert.Empty(t, pending, "stale event should be marked applied, not retried")
	})

	t.Run("newer supersede event is applied", func(t *testing.T) {
		p, st, idx, _ := newTestProcessor(t)
		sess := "sess-remote"
		byID := "winner-id"
		o := insertObservation(t, st, store.Observation{
			Observation: "old fact",
			MemoryType:  "discovery",
			CreatedAt:   "2026-01-01T00:00:00Z",
		})
		require.NoError(t, st.MarkObservationEmbedded(o.ID))

		_, err := st.AppendResolutionEvent(store.ResolutionEvent{
			ObservationID:       o.ID,
			Action:              store.ActionSuperseded,
			ResolvedBySessionID: &sess,
			SupersededBy:        &byID,
			CreatedAt:           "2026-08-01T00:00:00Z",
		})
		require.NoError(t, err)

		replayed, err := p.ReplayResolutionEvents()
		require.NoError(t, err)
		assert.Equal(t, 1, replayed)

		got, err := st.GetObservation(o.ID)
		require.NoError(t, err)
		assert.Equal(t, store.ObservationSuperseded, got.Status)
		require.NotNil(t, got.SupersededBy)
		assert.Equal(t, byID, *got.SupersededBy)
		assert.Equal(t, store.ObservationSuperseded, idx.statusMeta[o.ID])
	})

	t.Run("unknown actions are retired without a status change", func(t *testing.T) {
		p, st, _, _ := newTestProcessor(t)
		o := insertObservation(t, st, store.Observation{
			Observation: "fact",
			MemoryType:  "discovery",
		})
		_, err := st.AppendResolutionEvent(store.ResolutionEvent{
			ObservationID: o.ID,
			Action:        "archived",
			CreatedAt:     "2026-12-01T00:00:00Z",
		})
		require.NoError(t, err)

		replayed, err := p.ReplayResolutionEvents()
		require.NoError(t, err)
		assert.Equal(t, 0, replayed)

		got, err := st.GetObservation(o.ID)
		require.NoError(t, err)
		assert.Equal(t, store.ObservationActive, got.Status)

		pending, err := st.UnappliedResolutionEvents()
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}
