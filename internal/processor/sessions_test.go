package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/store"
)

func completedSession(t *testing.T, st *store.ActivityStore, id string) store.Session {
	t.Helper()
	_, _, err := st.GetOrCreateSession(id, "claude", "/tmp/project", nil)
	require.NoError(t, err)
	_, err = st.StartPromptBatch(id, "wire the schema migrations", store.SourceUser)
	require.NoError(t, err)
	require.NoError(t, st.EndSession(id, store.SessionCompleted))
	session, err := st.GetSession(id)
	require.NoError(t, err)
	return session
}

func TestFinalizeOnePreservesExistingTitle(t *testing.T) {
	p, st, idx, cfg := newTestProcessor(t)
	completedSession(t, st, "sess-1")
	require.NoError(t, st.UpdateSessionTitle("sess-1", "Schema work"))
	session, err := st.GetSession("sess-1")
	require.NoError(t, err)

	require.NoError(t, p.finalizeOne(context.Background(), cfg, session))

	got, err := st.GetSession("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, "Schema work", *got.Title, "existing titles are never regenerated")
	require.NotNil(t, got.Summary)

	require.Len(t, idx.summaries, 1)
	assert.Equal(t, "Schema work", idx.summaries[0].Title)
	assert.Equal(t, "/tmp/project", idx.summaries[0].ProjectRoot)
}

func TestFinalizeOneTitlesUntitledSessions(t *testing.T) {
	p, st, _, cfg := newTestProcessor(t)
	session := completedSession(t, st, "sess-2")
	require.Nil(t, session.Title)

	require.NoError(t, p.finalizeOne(context.Background(), cfg, session))

	got, err := st.GetSession("sess-2")
	require.NoError(t, err)
	require.NotNil(t, got.Title)
	assert.Equal(t, "wire the schema migrations", *got.Title)
}
