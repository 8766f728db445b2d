package store_test

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/store"
)

func seedHistory(t *testing.T, s *store.ActivityStore) store.Observation {
	t.Helper()
	_, _, err := s.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	batch, err := s.StartPromptBatch("sess-1", "investigate the bug with 'quotes'", store.SourceUser)
	require.NoError(t, err)
	s.BufferActivity(store.Activity{
		SessionID: "sess-1", PromptBatchID: &batch.ID,
		ToolName: "Bash", ToolInput: `{"command": "go test ./..."}`, Success: true,
	})
	_, err = s.FlushActivityBuffer()
	require.NoError(t, err)

	o, err := s.InsertObservation(store.Observation{
		SessionID:   "sess-1",
		Observation: "the bug was a missing O'Brien escape",
		MemoryType:  "bug_fix",
		Tags:        []string{"sql", "escaping"},
	})
	require.NoError(t, err)
	require.NoError(t, s.MarkObservationEmbedded(o.ID))

	sess := "sess-1"
	_, err = s.AppendResolutionEvent(store.ResolutionEvent{
		ObservationID:       o.ID,
		Action:              store.ActionResolved,
		ResolvedBySessionID: &sess,
		Applied:             true,
	})
	require.NoError(t, err)
	return o
}

func TestExportImportRoundtrip(t *testing.T) {
	src := openStore(t)
	o := seedHistory(t, src)

	var dump bytes.Buffer
	require.NoError(t, src.ExportSQL(&dump, true))
	assert.True(t, strings.HasPrefix(dump.String(), "-- OAK Codebase Intelligence History Backup"))
	assert.Contains(t, dump.String(), "INSERT OR IGNORE INTO sessions")
	assert.Contains(t, dump.String(), "O''Brien", "single quotes must be escaped")

	dst, err := store.New(filepath.Join(t.TempDir(), "restored.db"))
	require.NoError(t, err)
	defer dst.Close()

	applied, err := dst.ImportSQL(bytes.NewReader(dump.Bytes()))
	require.NoError(t, err)
	assert.Greater(t, applied, 0)

	got, err := dst.GetObservation(o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Observation, got.Observation)
	assert.Equal(t, []string{"sql", "escaping"}, got.Tags)
	assert.False(t, got.Embedded, "import forces a local re-embed")

	pending, err := dst.UnappliedResolutionEvents()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "import queues resolution events for replay")

	// A second import of the same dump is idempotent.
	_, err = dst.ImportSQL(bytes.NewReader(dump.Bytes()))
	require.NoError(t, err)
	obs, err := dst.ListObservations(store.ObservationFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	events, err := dst.ListResolutionEvents(o.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestExportSkipsActivitiesWhenAsked(t *testing.T) {
	src := openStore(t)
	seedHistory(t, src)

	var dump bytes.Buffer
	require.NoError(t, src.ExportSQL(&dump, false))
	assert.NotContains(t, dump.String(), "INSERT OR IGNORE INTO activities")
	assert.Contains(t, dump.String(), "INSERT OR IGNORE INTO prompt_batches")
}

func TestImportRejectsNonInsertStatements(t *testing.T) {
	dst := openStore(t)
	dump := "-- OAK Codebase Intelligence History Backup\nDROP TABLE sessions;\n"
	_, err := dst.ImportSQL(strings.NewReader(dump))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected statement")

	// The store is untouched.
	_, _, err = dst.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
}

func TestValidateBackupHeader(t *testing.T) {
	good := bufio.NewReader(strings.NewReader("-- OAK Codebase Intelligence History Backup\n"))
	assert.NoError(t, store.ValidateBackupHeader(good))

	bad := bufio.NewReader(strings.NewReader("PRAGMA user_version = 9;\n"))
	assert.Error(t, store.ValidateBackupHeader(bad))
}
