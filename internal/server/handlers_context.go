package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"oakci/internal/logging"
	"oakci/internal/store"
	"oakci/internal/vector"
)

func (s *Server) handleGetObservation(c *gin.Context) {
	o, err := s.app.Store.GetObservation(c.Param("id"))
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "observation not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load observation")
		return
	}
	events, err := s.app.Store.ListResolutionEvents(o.ID, 50)
	if err != nil {
		events = nil
	}
	c.JSON(http.StatusOK, gin.H{"observation": o, "resolution_events": events})
}

// handleDeleteObservation removes the relational row first, then the vector
// mirror. A failed mirror delete leaves an orphan vector that the next
// rebuild clears.
func (s *Server) handleDeleteObservation(c *gin.Context) {
	id := c.Param("id")
	err := s.app.Store.DeleteObservation(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "observation not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to delete observation")
		return
	}
	if err := s.app.Vector.DeleteObservation(id); err != nil {
		logging.Get(logging.CategoryServer).Warn("vector delete deferred for %s: %v", id, err)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

type contextRequest struct {
	Query       string `json:"query"`
	TokenBudget int    `json:"token_budget"`
	SessionID   string `json:"session_id"`
}

type contextSection struct {
	Source    string  `json:"source"` // memory | code | recent
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Tokens    int     `json:"tokens"`
	Relevance float64 `json:"relevance,omitempty"`
}

// handleContext assembles a context pack for an agent starting work: search
// hits for the query plus the most recent active observations, packed
// greedily until the token budget is spent.
func (s *Server) handleContext(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		abortDetail(c, http.StatusBadRequest, "query must not be empty")
		return
	}
	budget := req.TokenBudget
	if budget <= 0 {
		budget = 2000
	}

	ctx := c.Request.Context()
	used := 0
	seen := map[string]bool{}
	sections := []contextSection{}

	add := func(sec contextSection) bool {
		if seen[sec.Source+"/"+sec.ID] || used+sec.Tokens > budget {
			return false
		}
		seen[sec.Source+"/"+sec.ID] = true
		used += sec.Tokens
		sections = append(sections, sec)
		return true
	}

	memoryHits, err := s.app.Vector.SearchMemory(ctx, req.Query, vector.MemorySearchOptions{Limit: 10})
	if err != nil {
		abortEmbedding(c, err)
		return
	}
	for _, h := range memoryHits {
		if h.MemoryType == "plan" || h.MemoryType == "session_summary" {
			continue
		}
		content := h.Observation
		add(contextSection{
			Source: "memory", ID: h.ID, Content: content,
			Tokens: estimateTokens(content), Relevance: h.Relevance,
		})
	}

	codeHits, err := s.app.Vector.SearchCode(ctx, req.Query, 10, "")
	if err != nil {
		abortEmbedding(c, err)
		return
	}
	for _, h := range codeHits {
		add(contextSection{
			Source: "code", ID: h.ID, Content: h.Snippet,
			Tokens: estimateTokens(h.Snippet), Relevance: h.Relevance,
		})
	}

	// Recent activity fills whatever budget the search hits left over.
	recent, err := s.app.Store.ListObservations(store.ObservationFilter{
		SessionID: req.SessionID,
		Status:    store.ObservationActive,
		Limit:     20,
	})
	if err == nil {
		for _, o := range recent {
			if seen["memory/"+o.ID] {
				continue
			}
			add(contextSection{
				Source: "recent", ID: o.ID, Content: o.Observation,
				Tokens: estimateTokens(o.Observation),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"query":        req.Query,
		"token_budget": budget,
		"tokens_used":  used,
		"sections":     sections,
	})
}
