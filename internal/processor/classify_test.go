package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"oakci/internal/store"
)

func act(tool string, success bool) store.Activity {
	return store.Activity{ToolName: tool, Success: success}
}

func TestHeuristicClassification(t *testing.T) {
	t.Run("failures outrank the prompt wording", func(t *testing.T) {
		got := heuristicClassification("refactor the config loader", []store.Activity{
			act("Bash", false),
			act("Edit", true),
		})
		assert.Equal(t, "debugging", got)
	})

	t.Run("file creation outranks the prompt wording", func(t *testing.T) {
		got := heuristicClassification("fix the login crash", []store.Activity{
			act("Read", true),
			act("Write", true),
		})
		assert.Equal(t, "implementation", got)
	})

	t.Run("edit-heavy batches look like refactoring", func(t *testing.T) {
		got := heuristicClassification("touch up the handlers", []store.Activity{
			act("Edit", true),
			act("MultiEdit", true),
			act("Read", true),
		})
		assert.Equal(t, "refactoring", got)
	})

	t.Run("reads only look like exploration", func(t *testing.T) {
		got := heuristicClassification("how does the indexer work", []store.Activity{
			act("Read", true),
			act("Grep", true),
			act("Glob", true),
		})
		assert.Equal(t, "exploration", got)
	})

	t.Run("prompt wording decides without decisive activity", func(t *testing.T) {
		assert.Equal(t, "debugging",
			heuristicClassification("fix the login crash", nil))
		assert.Equal(t, "refactoring",
			heuristicClassification("refactor the config loader", nil))
		assert.Equal(t, "refactoring",
			heuristicClassification("clean up the session package", nil))
	})

	t.Run("no activity defaults to exploration", func(t *testing.T) {
		assert.Equal(t, "exploration", heuristicClassification("hello", nil))
	})
}
