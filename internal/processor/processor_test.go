package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/store"
)

func startCompletedBatch(t *testing.T, st *store.ActivityStore, sourceType string) store.PromptBatch {
	t.Helper()
	_, _, err := st.GetOrCreateSession("sess-1", "claude", "/tmp/project", nil)
	require.NoError(t, err)
	batch, err := st.StartPromptBatch("sess-1", "tidy the handlers", sourceType)
	require.NoError(t, err)
	st.BufferActivity(store.Activity{
		SessionID:     "sess-1",
		PromptBatchID: &batch.ID,
		ToolName:      "Edit",
		ToolInput:     `{"file_path": "handlers.go"}`,
		Success:       true,
	})
	_, err = st.FlushActivityBuffer()
	require.NoError(t, err)
	require.NoError(t, st.CompleteBatch(batch.ID))
	got, err := st.GetPromptBatch(batch.ID)
	require.NoError(t, err)
	return got
}

func TestProcessBatchDerivedPlanStillClassifies(t *testing.T) {
	p, st, _, cfg := newTestProcessor(t)
	batch := startCompletedBatch(t, st, store.SourceUser)
	require.NoError(t, st.SetDerivedPlan(batch.ID, "# Task Plan\n\n1. [pending] Tidy handlers\n"))
	batch, err := st.GetPromptBatch(batch.ID)
	require.NoError(t, err)
	require.Equal(t, store.SourceDerivedPlan, batch.SourceType)

	var stats CycleStats
	require.NoError(t, p.processBatch(context.Background(), cfg, batch, &stats))

	got, err := st.GetPromptBatch(batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	require.NotNil(t, got.Classification, "derived plans still get classified")
	assert.Equal(t, "refactoring", *got.Classification)
	require.NotNil(t, got.PlanContent)
	assert.Contains(t, *got.PlanContent, "Tidy handlers")
}

func TestProcessBatchPastedPlanShortCircuits(t *testing.T) {
	p, st, _, cfg := newTestProcessor(t)
	batch := startCompletedBatch(t, st, store.SourcePlan)

	var stats CycleStats
	require.NoError(t, p.processBatch(context.Background(), cfg, batch, &stats))

	got, err := st.GetPromptBatch(batch.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Nil(t, got.Classification)
}
