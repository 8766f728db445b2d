package llm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/llm"
)

func TestParseObservations(t *testing.T) {
	t.Run("plain array", func(t *testing.T) {
		out, err := llm.ParseObservations(
			`[{"observation": "sqlite busy_timeout must be set per connection", "memory_type": "gotcha"}]`)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "gotcha", out[0].MemoryType)
	})

	t.Run("code fence and prose tolerated", func(t *testing.T) {
		raw := "Here are the observations:\n```json\n" +
			`[{"observation": "config reloads have a 2s TTL", "memory_type": "Discovery"},` +
			`{"observation": "chose sqlite over postgres", "memory_type": "decision", "context": "internal/store"}]` +
			"\n```\nLet me know if you need more."
		out, err := llm.ParseObservations(raw)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "discovery", out[0].MemoryType)
		assert.Equal(t, "internal/store", out[1].Context)
	})

	t.Run("unknown types and empty observations dropped", func(t *testing.T) {
		out, err := llm.ParseObservations(
			`[{"observation": "", "memory_type": "gotcha"},` +
				`{"observation": "summaries are not extractable", "memory_type": "session_summary"},` +
				`{"observation": "kept", "memory_type": "bug_fix"}]`)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "kept", out[0].Observation)
	})

	t.Run("nested brackets inside strings", func(t *testing.T) {
		out, err := llm.ParseObservations(
			`[{"observation": "tags stored as [\"a\", \"b\"] JSON", "memory_type": "discovery"}] trailing ]`)
		require.NoError(t, err)
		require.Len(t, out, 1)
	})

	t.Run("no array is an error", func(t *testing.T) {
		_, err := llm.ParseObservations("nothing qualifies here")
		assert.Error(t, err)
	})
}

func TestParseClassification(t *testing.T) {
	assert.Equal(t, "debugging", llm.ParseClassification("debugging"))
	assert.Equal(t, "debugging", llm.ParseClassification(`"Debugging".`))
	assert.Equal(t, "refactoring", llm.ParseClassification("this batch is refactoring work"))
	assert.Equal(t, "exploration", llm.ParseClassification("no idea"))
}

func TestParseYesNo(t *testing.T) {
	assert.True(t, llm.ParseYesNo("Yes, the fix resolves it."))
	assert.False(t, llm.ParseYesNo("No."))
	assert.False(t, llm.ParseYesNo("maybe"))
}

func TestTitlePromptCapsAtTenPrompts(t *testing.T) {
	prompts := make([]string, 14)
	for i := range prompts {
		prompts[i] = "prompt"
	}
	_, user := llm.TitlePrompt(prompts)
	assert.Equal(t, 10, strings.Count(user, "prompt"))
}

func TestTruncateTokens(t *testing.T) {
	text := strings.Repeat("x", 1000)
	assert.Equal(t, text, llm.TruncateTokens(text, 250))
	assert.Equal(t, text, llm.TruncateTokens(text, 0))

	cut := llm.TruncateTokens(text, 100)
	assert.Less(t, len(cut), len(text))
	assert.Contains(t, cut, "[... truncated ...]")
}

func TestImportanceScore(t *testing.T) {
	assert.Equal(t, 3, llm.ImportanceScore("low"))
	assert.Equal(t, 5, llm.ImportanceScore("medium"))
	assert.Equal(t, 8, llm.ImportanceScore(" High "))
	assert.Equal(t, 10, llm.ImportanceScore("critical"))
	assert.Equal(t, 5, llm.ImportanceScore("unknown"))
}
