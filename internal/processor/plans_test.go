package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/store"
)

func taskActivity(tool, input string) store.Activity {
	return store.Activity{ToolName: tool, ToolInput: input, Success: true}
}

func TestSynthesizePlan(t *testing.T) {
	t.Run("no task activity yields no plan", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("Bash", `{"command": "ls"}`),
		})
		assert.Empty(t, plan)
	})

	t.Run("creates and updates merge into one document", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("TaskCreate", `{"id": "a", "subject": "Wire the schema", "blocks": ["2"]}`),
			taskActivity("TaskCreate", `{"id": "b", "subject": "Add handlers"}`),
			taskActivity("TaskUpdate", `{"taskId": "a", "status": "completed"}`),
			taskActivity("TaskUpdate", `{"id": "b", "status": "in_progress", "blockedBy": ["1"]}`),
		})
		require.NotEmpty(t, plan)
		assert.Contains(t, plan, "# Task Plan")
		assert.Contains(t, plan, "1. [completed] Wire the schema (#1 blocks: 2)")
		assert.Contains(t, plan, "2. [in_progress] Add handlers (blocked by: 1)")
	})

	t.Run("addBlockedBy lands on the blocking task", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("TaskCreate", `{"subject": "Draft migration plan"}`),
			taskActivity("TaskCreate", `{"subject": "Write schema doc"}`),
			taskActivity("TaskUpdate", `{"taskId": "2", "addBlockedBy": ["1"]}`),
		})
		require.NotEmpty(t, plan)
		assert.Contains(t, plan, "1. [pending] Draft migration plan (#1 blocks: 2)")
		assert.Contains(t, plan, "2. [pending] Write schema doc (blocked by: 1)")
	})

	t.Run("addBlocks extends an existing list", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("TaskCreate", `{"id": "a", "subject": "Land the parser", "blocks": ["2"]}`),
			taskActivity("TaskCreate", `{"id": "b", "subject": "Wire the cache"}`),
			taskActivity("TaskCreate", `{"id": "c", "subject": "Ship docs"}`),
			taskActivity("TaskUpdate", `{"taskId": "a", "addBlocks": ["3"]}`),
		})
		assert.Contains(t, plan, "1. [pending] Land the parser (#1 blocks: 2, 3)")
	})

	t.Run("updates without a named create yield no plan", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("TaskUpdate", `{"taskId": "1", "status": "completed"}`),
		})
		assert.Empty(t, plan)
	})

	t.Run("subject falls back through content and description", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("TaskCreate", `{"id": "a", "content": "From content"}`),
			taskActivity("TaskCreate", `{"id": "b", "description": "From description"}`),
			taskActivity("TaskCreate", `{"id": "c"}`),
		})
		assert.Contains(t, plan, "From content")
		assert.Contains(t, plan, "From description")
		assert.Contains(t, plan, "(untitled task)")
	})

	t.Run("malformed payloads are skipped", func(t *testing.T) {
		plan := synthesizePlan([]store.Activity{
			taskActivity("TaskCreate", `not json`),
			taskActivity("TaskCreate", `{"id": "ok", "subject": "Survivor"}`),
		})
		assert.Contains(t, plan, "Survivor")
		assert.NotContains(t, plan, "not json")
	})
}

func TestBuildTranscript(t *testing.T) {
	summary := "changed two files"
	errMsg := "exit status 1\nmore detail"
	out := "12 matches"
	ended := int64(1_700_000_045)
	batch := store.PromptBatch{
		UserPrompt:      "add logging",
		ResponseSummary: &summary,
		StartedAtEpoch:  1_700_000_000,
		EndedAtEpoch:    &ended,
	}
	path := "internal/server/server.go"

	transcript := buildTranscript(batch, []store.Activity{
		{ToolName: "Grep", Success: true, ToolOutputSummary: &out},
		{ToolName: "Edit", Success: true, FilePath: &path},
		{ToolName: "Bash", Success: false, ErrorMessage: &errMsg},
	}, 4000)

	assert.Contains(t, transcript, "User prompt:\nadd logging")
	assert.Contains(t, transcript, "changed two files")
	assert.Contains(t, transcript, "Duration: 45s")
	assert.Contains(t, transcript, "Tools used: Grep x1, Edit x1, Bash x1")
	assert.Contains(t, transcript, "Reads: 1, modifies: 1, creates: 0")
	assert.Contains(t, transcript, "Errors: 1 tool calls failed")
	assert.Contains(t, transcript, "1. Grep -> 12 matches")
	assert.Contains(t, transcript, "2. Edit internal/server/server.go")
	assert.Contains(t, transcript, "3. Bash [FAILED: exit status 1]")
	assert.NotContains(t, transcript, "more detail")
}

func TestBuildTranscriptCapsActivityList(t *testing.T) {
	var activities []store.Activity
	for i := 0; i < 25; i++ {
		activities = append(activities, store.Activity{ToolName: "Read", Success: true})
	}

	transcript := buildTranscript(store.PromptBatch{UserPrompt: "scan the tree"}, activities, 8000)

	assert.Contains(t, transcript, "Tools used: Read x25")
	assert.Contains(t, transcript, "20. Read")
	assert.NotContains(t, transcript, "21. Read")
	assert.Contains(t, transcript, "(5 more not shown)")
}
