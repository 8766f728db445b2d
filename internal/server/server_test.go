package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oakci/internal/config"
	"oakci/internal/daemon"
	"oakci/internal/server"
)

const testToken = "test-token"

const serverTestRules = `version: 1
rules:
  - id: no-force-push
    tools: ["Bash"]
    action: deny
    patterns:
      - "git\\s+push\\s+.*--force"
    reason: force push is not allowed here
`

// newTestHandler stands up a full daemon on a temp project with the hash
// embedder as primary, so no model server is needed.
func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default(dir)
	cfg.Server.AuthToken = testToken
	cfg.Embedding.Primary = config.ProviderConfig{Type: "hash", Dimensions: 128, MaxChars: 8000}
	cfg.Embedding.Fallbacks = nil
	cfg.Indexer.WatchEnabled = false
	cfg.Governance.EnforcementMode = "enforce"
	require.NoError(t, cfg.Save())
	require.NoError(t, os.WriteFile(
		filepath.Join(config.CIDir(dir), "governance.yaml"), []byte(serverTestRules), 0o644))

	app, err := daemon.New(dir)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)

	return server.New(app).Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
		} else {
			req.Header.Set(k, v)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	decoded := map[string]interface{}{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), "body: %s", w.Body.String())
	}
	return w, decoded
}

func TestHealthIsOpenWithoutAuth(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodGet, "/api/health", nil, map[string]string{"Authorization": ""})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestHandler(t)

	t.Run("missing header", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": ""})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "missing authorization header", body["detail"])
	})

	t.Run("wrong scheme", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Token " + testToken})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid authorization scheme", body["detail"])
	})

	t.Run("wrong token", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodGet, "/api/status", nil, map[string]string{"Authorization": "Bearer nope"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "invalid token", body["detail"])
	})

	t.Run("valid token", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodGet, "/api/status", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, body, "daemon")
	})
}

func TestBodySizeLimit(t *testing.T) {
	h := newTestHandler(t)

	oversized := strings.NewReader(`{"query": "` + strings.Repeat("a", 2<<20) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/search", oversized)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Contains(t, w.Body.String(), "request body too large")
}

func TestSearchValidation(t *testing.T) {
	h := newTestHandler(t)

	t.Run("empty query", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/search", map[string]interface{}{"query": "   "}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "query must not be empty", body["detail"])
	})

	t.Run("limit out of range", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/search", map[string]interface{}{"query": "x", "limit": 101}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "limit must be between 1 and 100", body["detail"])
	})

	t.Run("unknown search type", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/search", map[string]interface{}{"query": "x", "search_type": "everything"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid search_type", body["detail"])
	})
}

func TestRememberSearchFetchRoundtrip(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/api/remember", map[string]interface{}{
		"observation": "the deploy script requires VAULT_ADDR to be exported",
		"memory_type": "gotcha",
		"context":     "internal/deploy",
		"tags":        []string{"deploy"},
		"importance":  7,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["stored"])
	id, ok := body["id"].(string)
	require.True(t, ok)

	w, body = doJSON(t, h, http.MethodPost, "/api/search", map[string]interface{}{
		"query":       "the deploy script requires VAULT_ADDR to be exported",
		"search_type": "memory",
		"limit":       5,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	memory, ok := body["memory"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, memory, "the stored observation should come back for its own text")
	hit := memory[0].(map[string]interface{})
	assert.Equal(t, id, hit["id"])
	assert.Contains(t, body, "total_tokens_available")

	w, body = doJSON(t, h, http.MethodPost, "/api/fetch", map[string]interface{}{"ids": []string{id}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	content := results[0].(map[string]interface{})["content"].(string)
	assert.Contains(t, content, "VAULT_ADDR")
	assert.Contains(t, content, "Context: internal/deploy")
}

func TestRememberRejectsUnknownType(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/api/remember", map[string]interface{}{
		"observation": "something",
		"memory_type": "rumor",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid memory_type", body["detail"])
}

func TestFetchValidation(t *testing.T) {
	h := newTestHandler(t)

	w, _ := doJSON(t, h, http.MethodPost, "/api/fetch", map[string]interface{}{"ids": []string{}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	tooMany := make([]string, 21)
	for i := range tooMany {
		tooMany[i] = "id"
	}
	w, body := doJSON(t, h, http.MethodPost, "/api/fetch", map[string]interface{}{"ids": tooMany}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ids must contain between 1 and 20 entries", body["detail"])
}

func TestHookSessionFlow(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/api/hooks/session-start", map[string]interface{}{
		"session_id": "sess-1", "agent": "claude",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["created"])

	_, body = doJSON(t, h, http.MethodPost, "/api/hooks/session-start", map[string]interface{}{
		"session_id": "sess-1", "agent": "claude",
	}, nil)
	assert.Equal(t, false, body["created"], "restart of a known session does not recreate it")

	w, body = doJSON(t, h, http.MethodPost, "/api/hooks/user-prompt", map[string]interface{}{
		"session_id": "sess-1", "agent": "claude", "prompt": "fix the login bug",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["prompt_number"])

	_, body = doJSON(t, h, http.MethodPost, "/api/hooks/user-prompt", map[string]interface{}{
		"session_id": "sess-1", "agent": "claude", "prompt": "fix the login bug",
	}, nil)
	assert.Equal(t, true, body["deduplicated"], "retried hook delivery is absorbed")

	w, body = doJSON(t, h, http.MethodPost, "/api/hooks/post-tool-use", map[string]interface{}{
		"session_id": "sess-1", "tool_name": "Bash", "tool_use_id": "tu-1",
		"tool_input": map[string]string{"command": "go test ./..."},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["buffered"])

	_, body = doJSON(t, h, http.MethodPost, "/api/hooks/post-tool-use", map[string]interface{}{
		"session_id": "sess-1", "tool_name": "Bash", "tool_use_id": "tu-1",
		"tool_input": map[string]string{"command": "go test ./..."},
	}, nil)
	assert.Equal(t, true, body["deduplicated"])

	w, body = doJSON(t, h, http.MethodPost, "/api/hooks/session-end", map[string]interface{}{
		"session_id": "sess-1", "status": "completed",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", body["status"])

	_, body = doJSON(t, h, http.MethodPost, "/api/hooks/session-end", map[string]interface{}{
		"session_id": "sess-1", "status": "completed",
	}, nil)
	assert.Equal(t, true, body["deduplicated"])
}

func TestHookUserPromptRequiresSession(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/api/hooks/user-prompt", map[string]interface{}{
		"prompt": "no session id",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "session_id is required", body["detail"])
}

func TestSavedTaskCRUD(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]interface{}{
		"name": "nightly review", "agent": "claude", "prompt": "review yesterday's changes",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := int64(body["id"].(float64))
	require.Positive(t, id)

	w, body = doJSON(t, h, http.MethodPut, "/api/tasks/1", map[string]interface{}{
		"name": "nightly review", "agent": "claude", "prompt": "review and summarize yesterday's changes",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["prompt"], "summarize")

	_, body = doJSON(t, h, http.MethodGet, "/api/tasks", nil, nil)
	assert.Len(t, body["tasks"], 1)

	w, _ = doJSON(t, h, http.MethodDelete, "/api/tasks/1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, h, http.MethodDelete, "/api/tasks/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, h, http.MethodPost, "/api/tasks", map[string]interface{}{"name": "no prompt"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScheduleLifecycle(t *testing.T) {
	h := newTestHandler(t)

	w, body := doJSON(t, h, http.MethodPost, "/api/schedules", map[string]interface{}{
		"name": "daily digest", "agent": "claude", "prompt": "summarize the day",
		"cron_expression": "0 18 * * *",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["enabled"], "schedules default to enabled")
	assert.Nil(t, body["last_run_at"])

	w, _ = doJSON(t, h, http.MethodPost, "/api/schedules/1/ran", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, body = doJSON(t, h, http.MethodGet, "/api/schedules", nil, nil)
	schedules := body["schedules"].([]interface{})
	require.Len(t, schedules, 1)
	assert.NotNil(t, schedules[0].(map[string]interface{})["last_run_at"])

	w, _ = doJSON(t, h, http.MethodPost, "/api/schedules/99/ran", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestObservationDetailAndDelete(t *testing.T) {
	h := newTestHandler(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/remember", map[string]interface{}{
		"observation": "the cache layer ignores negative TTLs",
		"memory_type": "bug_fix",
	}, nil)
	id := body["id"].(string)

	w, body := doJSON(t, h, http.MethodGet, "/api/observations/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	obs := body["observation"].(map[string]interface{})
	assert.Equal(t, "bug_fix", obs["memory_type"])

	w, _ = doJSON(t, h, http.MethodDelete, "/api/observations/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(t, h, http.MethodGet, "/api/observations/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContextPack(t *testing.T) {
	h := newTestHandler(t)

	_, body := doJSON(t, h, http.MethodPost, "/api/remember", map[string]interface{}{
		"observation": "the scheduler retries failed jobs with exponential backoff",
		"memory_type": "discovery",
	}, nil)
	id := body["id"].(string)

	w, body := doJSON(t, h, http.MethodPost, "/api/context", map[string]interface{}{
		"query":        "the scheduler retries failed jobs with exponential backoff",
		"token_budget": 500,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sections := body["sections"].([]interface{})
	require.NotEmpty(t, sections)
	first := sections[0].(map[string]interface{})
	assert.Equal(t, "memory", first["source"])
	assert.Equal(t, id, first["id"])
	used := body["tokens_used"].(float64)
	assert.LessOrEqual(t, used, float64(500))

	w, _ = doJSON(t, h, http.MethodPost, "/api/context", map[string]interface{}{"query": " "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreToolUseGovernance(t *testing.T) {
	h := newTestHandler(t)

	t.Run("deny returns hook envelope", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/hooks/pre-tool-use", map[string]interface{}{
			"session_id": "sess-1", "agent": "claude", "tool_name": "Bash",
			"tool_input": map[string]string{"command": "git push origin main --force"},
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		inner, ok := body["hookSpecificOutput"].(map[string]interface{})
		require.True(t, ok, "body: %s", w.Body.String())
		assert.Equal(t, "deny", inner["permissionDecision"])
		assert.Equal(t, "force push is not allowed here", inner["permissionDecisionReason"])
	})

	t.Run("deny returns cursor envelope for cursor agents", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/hooks/pre-tool-use", map[string]interface{}{
			"session_id": "sess-1", "agent": "cursor", "tool_name": "Bash",
			"tool_input": map[string]string{"command": "git push --force"},
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["continue"])
		assert.Equal(t, "deny", body["permission"])
	})

	t.Run("clean call passes through", func(t *testing.T) {
		w, body := doJSON(t, h, http.MethodPost, "/api/hooks/pre-tool-use", map[string]interface{}{
			"session_id": "sess-1", "agent": "claude", "tool_name": "Bash",
			"tool_input": map[string]string{"command": "git status"},
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, body)
	})
}
