package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"oakci/internal/daemon"
	"oakci/internal/governance"
	"oakci/internal/logging"
	"oakci/internal/store"
)

// Hook receivers. Agents retry hook delivery, so every receiver runs its
// payload identity through the dedupe cache before acting.

type sessionStartRequest struct {
	SessionID      string `json:"session_id"`
	Agent          string `json:"agent"`
	TranscriptPath string `json:"transcript_path"`
}

func (s *Server) handleHookSessionStart(c *gin.Context) {
	var req sessionStartRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		abortDetail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Agent == "" {
		req.Agent = "unknown"
	}
	var transcript *string
	if req.TranscriptPath != "" {
		transcript = &req.TranscriptPath
	}
	session, created, err := s.app.Store.GetOrCreateSession(req.SessionID, req.Agent, s.app.ProjectRoot, transcript)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to create session")
		return
	}
	logging.Hooks("SessionStart %s (agent %s, created=%v)", req.SessionID, req.Agent, created)
	c.JSON(http.StatusOK, gin.H{"session_id": session.ID, "created": created})
}

type sessionEndRequest struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (s *Server) handleHookSessionEnd(c *gin.Context) {
	var req sessionEndRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		abortDetail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	if s.app.Dedupe.Seen(daemon.DedupeKey("session-end", req.SessionID)) {
		c.JSON(http.StatusOK, gin.H{"deduplicated": true})
		return
	}
	status := req.Status
	if status != store.SessionCompleted && status != store.SessionAbandoned {
		status = store.SessionCompleted
	}

	s.closeActiveBatch(req.SessionID)
	if err := s.app.Store.EndSession(req.SessionID, status); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to end session")
		return
	}
	logging.Hooks("SessionEnd %s (%s)", req.SessionID, status)
	c.JSON(http.StatusOK, gin.H{"session_id": req.SessionID, "status": status})
}

type userPromptRequest struct {
	SessionID  string `json:"session_id"`
	Agent      string `json:"agent"`
	Prompt     string `json:"prompt"`
	SourceType string `json:"source_type"`
}

// handleHookUserPrompt closes the previous batch and opens the next one. A
// prompt marks the boundary: everything the agent does until the next prompt
// belongs to this batch.
func (s *Server) handleHookUserPrompt(c *gin.Context) {
	var req userPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		abortDetail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	if s.app.Dedupe.Seen(daemon.DedupeKey("user-prompt", req.SessionID, hashPrompt(req.Prompt))) {
		c.JSON(http.StatusOK, gin.H{"deduplicated": true})
		return
	}
	if req.Agent == "" {
		req.Agent = "unknown"
	}
	if _, _, err := s.app.Store.GetOrCreateSession(req.SessionID, req.Agent, s.app.ProjectRoot, nil); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	s.closeActiveBatch(req.SessionID)
	sourceType := req.SourceType
	if sourceType == "" {
		sourceType = store.SourceUser
	}
	batch, err := s.app.Store.StartPromptBatch(req.SessionID, req.Prompt, sourceType)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to start batch")
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batch.ID, "prompt_number": batch.PromptNumber})
}

// closeActiveBatch flushes buffered activities and completes the open batch,
// if any.
func (s *Server) closeActiveBatch(sessionID string) {
	if _, err := s.app.Store.FlushActivityBuffer(); err != nil {
		logging.Get(logging.CategoryHooks).Warn("activity flush failed: %v", err)
	}
	batch, err := s.app.Store.GetActivePromptBatch(sessionID)
	if err != nil {
		return
	}
	if err := s.app.Store.CompleteBatch(batch.ID); err != nil {
		logging.Get(logging.CategoryHooks).Warn("failed to complete batch %d: %v", batch.ID, err)
	}
}

type preToolUseRequest struct {
	SessionID string          `json:"session_id"`
	Agent     string          `json:"agent"`
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id"`
	ToolInput json.RawMessage `json:"tool_input"`
	FilePath  string          `json:"file_path"`
}

// handleHookPreToolUse is the governance interception point. A blocking
// decision is returned in the envelope shape the calling agent understands;
// everything else returns an empty object so the hook allows the call.
func (s *Server) handleHookPreToolUse(c *gin.Context) {
	var req preToolUseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ToolName == "" {
		abortDetail(c, http.StatusBadRequest, "tool_name is required")
		return
	}
	decision := s.app.Governance.Evaluate(governance.ToolRequest{
		SessionID: req.SessionID,
		Agent:     req.Agent,
		ToolName:  req.ToolName,
		ToolUseID: req.ToolUseID,
		Input:     string(req.ToolInput),
		FilePath:  req.FilePath,
	})
	if envelope := governance.DenyEnvelope(decision, governance.EnvelopeStyleFor(req.Agent)); envelope != nil {
		c.JSON(http.StatusOK, envelope)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type postToolUseRequest struct {
	SessionID         string          `json:"session_id"`
	Agent             string          `json:"agent"`
	ToolName          string          `json:"tool_name"`
	ToolUseID         string          `json:"tool_use_id"`
	ToolInput         json.RawMessage `json:"tool_input"`
	ToolOutputSummary string          `json:"tool_output_summary"`
	FilePath          string          `json:"file_path"`
	Success           *bool           `json:"success"`
	ErrorMessage      string          `json:"error_message"`
}

func (s *Server) handleHookPostToolUse(c *gin.Context) {
	var req postToolUseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || req.ToolName == "" {
		abortDetail(c, http.StatusBadRequest, "session_id and tool_name are required")
		return
	}
	if req.ToolUseID != "" &&
		s.app.Dedupe.Seen(daemon.DedupeKey("post-tool-use", req.SessionID, req.ToolUseID)) {
		c.JSON(http.StatusOK, gin.H{"deduplicated": true})
		return
	}

	activity := store.Activity{
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		ToolInput: string(req.ToolInput),
		Success:   true,
	}
	if batch, err := s.app.Store.GetActivePromptBatch(req.SessionID); err == nil {
		activity.PromptBatchID = &batch.ID
	}
	if req.ToolOutputSummary != "" {
		activity.ToolOutputSummary = &req.ToolOutputSummary
	}
	if req.FilePath != "" {
		activity.FilePath = &req.FilePath
	}
	if req.Success != nil {
		activity.Success = *req.Success
	}
	if req.ErrorMessage != "" {
		activity.ErrorMessage = &req.ErrorMessage
		activity.Success = false
	}
	s.app.Store.BufferActivity(activity)
	c.JSON(http.StatusOK, gin.H{"buffered": true})
}

type notifyRequest struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleNotify maps agent notify payloads to internal actions. Today that is
// the response summary on the active batch; unknown events are accepted and
// ignored so new agents do not break on delivery.
func (s *Server) handleNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		abortDetail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	if s.app.Dedupe.Seen(daemon.DedupeKey("notify", req.SessionID, req.Event, hashPrompt(req.Message))) {
		c.JSON(http.StatusOK, gin.H{"deduplicated": true})
		return
	}

	switch req.Event {
	case "agent_response", "response_summary":
		batch, err := s.app.Store.GetActivePromptBatch(req.SessionID)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"handled": false, "detail": "no active batch"})
			return
		}
		if err := s.app.Store.SetResponseSummary(batch.ID, req.Message); err != nil {
			abortDetail(c, http.StatusInternalServerError, "failed to store response summary")
			return
		}
		c.JSON(http.StatusOK, gin.H{"handled": true, "batch_id": batch.ID})
	default:
		logging.HooksDebug("notify event %q ignored", req.Event)
		c.JSON(http.StatusOK, gin.H{"handled": false})
	}
}

// hashPrompt keeps dedupe keys bounded regardless of prompt size.
func hashPrompt(text string) string {
	if len(text) <= 64 {
		return text
	}
	return text[:64] + "/" + strconv.Itoa(len(text))
}
