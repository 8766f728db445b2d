package server

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"oakci/internal/config"
	"oakci/internal/governance"
	"oakci/internal/store"
)

func (s *Server) handleGovernanceConfig(c *gin.Context) {
	cfg := s.app.Config()
	rulesPath := cfg.GovernanceRulesPath()
	rules, err := governance.LoadRules(rulesPath)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load rules")
		return
	}
	raw := ""
	if data, err := os.ReadFile(rulesPath); err == nil {
		raw = string(data)
	}
	c.JSON(http.StatusOK, gin.H{
		"enforcement_mode": cfg.Governance.EnforcementMode,
		"retention_days":   cfg.Governance.RetentionDays,
		"rules_path":       rulesPath,
		"rules":            rules.Rules,
		"rules_yaml":       raw,
	})
}

type governanceConfigRequest struct {
	EnforcementMode string  `json:"enforcement_mode"`
	RetentionDays   *int    `json:"retention_days"`
	RulesYAML       *string `json:"rules_yaml"`
}

func (s *Server) handleGovernanceConfigUpdate(c *gin.Context) {
	var req governanceConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EnforcementMode != "" &&
		req.EnforcementMode != governance.ModeObserve &&
		req.EnforcementMode != governance.ModeEnforce {
		abortDetail(c, http.StatusBadRequest, "enforcement_mode must be observe or enforce")
		return
	}

	// Persist through a fresh load so concurrent UI edits to other config
	// sections are not clobbered.
	cfg, err := config.Load(s.app.ProjectRoot)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load config")
		return
	}
	if req.EnforcementMode != "" {
		cfg.Governance.EnforcementMode = req.EnforcementMode
	}
	if req.RetentionDays != nil && *req.RetentionDays > 0 {
		cfg.Governance.RetentionDays = *req.RetentionDays
	}
	if err := cfg.Save(); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to save config")
		return
	}

	if req.RulesYAML != nil {
		if err := os.WriteFile(cfg.GovernanceRulesPath(), []byte(*req.RulesYAML), 0o644); err != nil {
			abortDetail(c, http.StatusInternalServerError, "failed to write rules file")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"enforcement_mode": cfg.Governance.EnforcementMode,
		"retention_days":   cfg.Governance.RetentionDays,
	})
}

func (s *Server) handleGovernanceAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	var since int64
	if hours, err := strconv.Atoi(c.Query("hours")); err == nil && hours > 0 {
		since = time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	}
	events, err := s.app.Store.ListAuditEvents(store.AuditFilter{
		SessionID: c.Query("session_id"),
		Action:    c.Query("action"),
		ToolName:  c.Query("tool_name"),
		Since:     since,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (s *Server) handleGovernanceAuditSummary(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if hours <= 0 {
		hours = 24
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	summary, err := s.app.Store.AuditSummary(since)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to summarize audit events")
		return
	}
	summary["hours"] = hours
	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleGovernanceAuditPrune(c *gin.Context) {
	pruned, err := governance.PruneExpired(s.app.Config, s.app.Store)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "audit prune failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"pruned": pruned})
}

type governanceTestRequest struct {
	SessionID string `json:"session_id"`
	Agent     string `json:"agent"`
	ToolName  string `json:"tool_name"`
	ToolInput string `json:"tool_input"`
	FilePath  string `json:"file_path"`
}

// handleGovernanceTest evaluates a hypothetical tool call so rules can be
// checked from the UI before an agent trips them. The evaluation is real and
// audited like any other.
func (s *Server) handleGovernanceTest(c *gin.Context) {
	var req governanceTestRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ToolName == "" {
		abortDetail(c, http.StatusBadRequest, "tool_name is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "governance-test"
	}
	if req.Agent == "" {
		req.Agent = "test"
	}
	decision := s.app.Governance.Evaluate(governance.ToolRequest{
		SessionID: req.SessionID,
		Agent:     req.Agent,
		ToolName:  req.ToolName,
		Input:     req.ToolInput,
		FilePath:  req.FilePath,
	})
	resp := gin.H{"decision": decision}
	if envelope := governance.DenyEnvelope(decision, governance.EnvelopeStyleFor(req.Agent)); envelope != nil {
		resp["envelope"] = envelope
	}
	c.JSON(http.StatusOK, resp)
}
