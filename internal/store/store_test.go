package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"oakci/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) *store.ActivityStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "activities.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := openStore(t)

	sess, created, err := s.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, store.SessionActive, sess.Status)

	again, created, err := s.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	assert.False(t, created, "second start for the same id must not create")
	assert.Equal(t, sess.StartedAt, again.StartedAt)

	require.NoError(t, s.EndSession("sess-1", store.SessionCompleted))
	got, err := s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, got.Status)
	require.NotNil(t, got.EndedAt)

	// Ending an ended session is a no-op, not an error.
	require.NoError(t, s.EndSession("sess-1", store.SessionAbandoned))
	got, err = s.GetSession("sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, got.Status)
}

func TestPromptBatchSingleActive(t *testing.T) {
	s := openStore(t)
	_, _, err := s.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)

	first, err := s.StartPromptBatch("sess-1", "first prompt", "")
	require.NoError(t, err)
	assert.Equal(t, 1, first.PromptNumber)
	assert.Equal(t, store.SourceUser, first.SourceType)

	second, err := s.StartPromptBatch("sess-1", "second prompt", store.SourceUser)
	require.NoError(t, err)
	assert.Equal(t, 2, second.PromptNumber)

	active, err := s.GetActivePromptBatch("sess-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID, "starting a batch closes the previous one")

	closed, err := s.GetPromptBatch(first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BatchCompleted, closed.Status)
	require.NotNil(t, closed.EndedAt)

	require.NoError(t, s.EndSession("sess-1", store.SessionCompleted))
	_, err = s.GetActivePromptBatch("sess-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "session end closes the active batch")
}

func TestActivityBufferFlush(t *testing.T) {
	s := openStore(t)
	_, _, err := s.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	batch, err := s.StartPromptBatch("sess-1", "do things", store.SourceUser)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.BufferActivity(store.Activity{
			SessionID:     "sess-1",
			PromptBatchID: &batch.ID,
			ToolName:      "Read",
			ToolInput:     `{"file_path": "go.mod"}`,
			Success:       true,
		})
	}
	assert.Equal(t, 3, s.BufferedActivityCount())

	ids, err := s.FlushActivityBuffer()
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Equal(t, 0, s.BufferedActivityCount())

	acts, err := s.ActivitiesForBatch(batch.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 3)
	assert.NotZero(t, acts[0].TimestampEpoch)

	// Flushing an empty buffer is a no-op.
	ids, err = s.FlushActivityBuffer()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFlushActivityBufferRestoresRowsOnFailure(t *testing.T) {
	s := openStore(t)
	s.BufferActivity(store.Activity{SessionID: "sess-1", ToolName: "Read", ToolInput: "{}", Success: true})

	_, err := s.DB().Exec(`ALTER TABLE activities RENAME TO activities_hidden`)
	require.NoError(t, err)

	_, err = s.FlushActivityBuffer()
	require.Error(t, err)
	assert.Equal(t, 1, s.BufferedActivityCount(), "a failed flush keeps the rows buffered")

	_, err = s.DB().Exec(`ALTER TABLE activities_hidden RENAME TO activities`)
	require.NoError(t, err)
	ids, err := s.FlushActivityBuffer()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, 0, s.BufferedActivityCount())
}

func TestObservationStatusTransitions(t *testing.T) {
	s := openStore(t)
	o, err := s.InsertObservation(store.Observation{
		SessionID:   "sess-1",
		Observation: "WAL mode needs busy_timeout",
		MemoryType:  "gotcha",
	})
	require.NoError(t, err)
	assert.Equal(t, store.ObservationActive, o.Status)
	assert.False(t, o.Embedded)
	assert.Equal(t, 5, o.Importance)

	sess := "sess-2"
	ok, err := s.UpdateObservationStatus(o.ID, store.StatusUpdate{
		Status:              store.ObservationResolved,
		ResolvedBySessionID: &sess,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetObservation(o.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ObservationResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	require.NotNil(t, got.ResolvedAtEpoch)
	assert.Nil(t, got.SupersededBy, "superseded_by only valid for superseded")

	// Reactivation clears every resolution field.
	ok, err = s.UpdateObservationStatus(o.ID, store.StatusUpdate{Status: store.ObservationActive})
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = s.GetObservation(o.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ObservationActive, got.Status)
	assert.Nil(t, got.ResolvedAt)
	assert.Nil(t, got.ResolvedAtEpoch)
	assert.Nil(t, got.ResolvedBySessionID)
	assert.Nil(t, got.SupersededBy)

	ok, err = s.UpdateObservationStatus("no-such-id", store.StatusUpdate{Status: store.ObservationResolved})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObservationEmbeddedFlag(t *testing.T) {
	s := openStore(t)
	o, err := s.InsertObservation(store.Observation{
		SessionID: "sess-1", Observation: "fact", MemoryType: "discovery",
	})
	require.NoError(t, err)

	pending, err := s.UnembeddedObservations(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkObservationEmbedded(o.ID))
	pending, err = s.UnembeddedObservations(10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err := s.ClearEmbeddedFlags()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	pending, err = s.UnembeddedObservations(10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestResolutionEventDedup(t *testing.T) {
	s := openStore(t)
	sess := "sess-1"
	e := store.ResolutionEvent{
		ObservationID:       "obs-1",
		Action:              store.ActionResolved,
		ResolvedBySessionID: &sess,
		CreatedAt:           "2026-08-01T10:00:00Z",
	}
	first, err := s.AppendResolutionEvent(e)
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.NotEmpty(t, first.ContentHash)

	// Same identity from a re-imported backup lands on the unique hash.
	_, err = s.AppendResolutionEvent(e)
	require.NoError(t, err)

	events, err := s.ListResolutionEvents("obs-1", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSweepStaleSessions(t *testing.T) {
	s := openStore(t)
	_, _, err := s.GetOrCreateSession("sess-old", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	_, _, err = s.GetOrCreateSession("sess-live", "claude", "/tmp/project", nil)
	require.NoError(t, err)

	// sess-live has recent activity; sess-old has none newer than its start.
	s.BufferActivity(store.Activity{SessionID: "sess-live", ToolName: "Read", ToolInput: "{}", Success: true})
	_, err = s.FlushActivityBuffer()
	require.NoError(t, err)

	cutoff := time.Now().Add(time.Hour).Unix()
	swept, err := s.SweepStaleSessions(cutoff)
	require.NoError(t, err)
	assert.Len(t, swept, 2, "everything is stale against a future cutoff")

	_, _, err = s.GetOrCreateSession("sess-new", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	swept, err = s.SweepStaleSessions(time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)
	assert.Empty(t, swept)
}

func TestDeleteSessionCascade(t *testing.T) {
	s := openStore(t)
	_, _, err := s.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	batch, err := s.StartPromptBatch("sess-1", "work", store.SourceUser)
	require.NoError(t, err)
	s.BufferActivity(store.Activity{SessionID: "sess-1", PromptBatchID: &batch.ID, ToolName: "Edit", ToolInput: "{}", Success: true})
	_, err = s.FlushActivityBuffer()
	require.NoError(t, err)
	o, err := s.InsertObservation(store.Observation{SessionID: "sess-1", Observation: "fact", MemoryType: "discovery"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteSessionCascade("sess-1"))

	_, err = s.GetSession("sess-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPromptBatch(batch.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetObservation(o.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessionRelationshipsAreUndirected(t *testing.T) {
	s := openStore(t)
	score := 0.91
	_, err := s.AddSessionRelationship("sess-b", "sess-a", "manual", &score)
	require.NoError(t, err)

	// The reversed pair is the same link.
	_, err = s.AddSessionRelationship("sess-a", "sess-b", "manual", nil)
	require.NoError(t, err)

	links, err := s.ListSessionRelationships("sess-a")
	require.NoError(t, err)
	require.Len(t, links, 1)

	ids, err := s.RelatedSessionIDs("sess-b")
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-a"}, ids)

	require.NoError(t, s.RemoveSessionRelationship("sess-a", "sess-b"))
	links, err = s.ListSessionRelationships("sess-a")
	require.NoError(t, err)
	assert.Empty(t, links)
}
