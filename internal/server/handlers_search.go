package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"oakci/internal/store"
	"oakci/internal/vector"
)

func (s *Server) handleHealth(c *gin.Context) {
	running, installed, updateAvailable := s.app.VersionInfo()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"version":          running,
		"installed":        installed,
		"update_available": updateAvailable,
		"project_root":     s.app.ProjectRoot,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.StatusSnapshot())
}

// Valid memory kinds accepted at the API boundary. Stored as strings so new
// kinds are a config change, not a migration.
var memoryKinds = map[string]bool{
	"gotcha": true, "bug_fix": true, "decision": true,
	"discovery": true, "trade_off": true,
}

var searchTypes = map[string]bool{
	"all": true, "code": true, "memory": true, "plans": true, "sessions": true,
}

type searchRequest struct {
	Query               string `json:"query"`
	Limit               int    `json:"limit"`
	SearchType          string `json:"search_type"`
	ApplyDocTypeWeights bool   `json:"apply_doc_type_weights"`
	IncludeResolved     bool   `json:"include_resolved"`
	PathPrefix          string `json:"path_prefix"`
}

type codeResult struct {
	vector.CodeSearchResult
	Confidence string `json:"confidence"`
	Tokens     int    `json:"tokens"`
}

type memoryResult struct {
	vector.MemorySearchResult
	Confidence string `json:"confidence"`
	Tokens     int    `json:"tokens"`
}

type sessionResult struct {
	vector.SessionSearchResult
	Confidence string `json:"confidence"`
	Tokens     int    `json:"tokens"`
}

// docTypeWeights biases code search toward source over prose and
// translations when the caller opts in.
var docTypeWeights = map[string]float64{
	"code": 1.0, "docs": 0.85, "test": 0.7, "config": 0.6, "i18n": 0.4,
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		abortDetail(c, http.StatusBadRequest, "query must not be empty")
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	if req.Limit < 1 || req.Limit > 100 {
		abortDetail(c, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}
	if req.SearchType == "" {
		req.SearchType = "all"
	}
	if !searchTypes[req.SearchType] {
		abortDetail(c, http.StatusBadRequest, "invalid search_type")
		return
	}

	ctx := c.Request.Context()
	resp := gin.H{"query": req.Query}
	totalTokens := 0

	code := []codeResult{}
	if req.SearchType == "all" || req.SearchType == "code" {
		hits, err := s.app.Vector.SearchCode(ctx, req.Query, req.Limit, req.PathPrefix)
		if err != nil {
			abortEmbedding(c, err)
			return
		}
		if req.ApplyDocTypeWeights {
			for i := range hits {
				if w, ok := docTypeWeights[hits[i].DocType]; ok {
					hits[i].Relevance *= w
				}
			}
			sort.SliceStable(hits, func(i, j int) bool { return hits[i].Relevance > hits[j].Relevance })
		}
		for _, h := range hits {
			tokens := estimateTokens(h.Snippet)
			totalTokens += tokens
			code = append(code, codeResult{h, confidence(h.Relevance), tokens})
		}
	}
	resp["code"] = code

	memory := []memoryResult{}
	plans := []memoryResult{}
	if req.SearchType == "all" || req.SearchType == "memory" || req.SearchType == "plans" {
		hits, err := s.app.Vector.SearchMemory(ctx, req.Query, vector.MemorySearchOptions{
			IncludeResolved: req.IncludeResolved,
			Limit:           req.Limit,
		})
		if err != nil {
			abortEmbedding(c, err)
			return
		}
		for _, h := range hits {
			tokens := estimateTokens(h.Observation)
			r := memoryResult{h, confidence(h.Relevance), tokens}
			if h.MemoryType == "plan" {
				if req.SearchType == "all" || req.SearchType == "plans" {
					totalTokens += tokens
					plans = append(plans, r)
				}
			} else if req.SearchType == "all" || req.SearchType == "memory" {
				totalTokens += tokens
				memory = append(memory, r)
			}
		}
	}
	resp["memory"] = memory
	resp["plans"] = plans

	sessions := []sessionResult{}
	if req.SearchType == "all" || req.SearchType == "sessions" {
		hits, err := s.app.Vector.SearchSessions(ctx, req.Query, req.Limit)
		if err != nil {
			abortEmbedding(c, err)
			return
		}
		for _, h := range hits {
			tokens := estimateTokens(h.Summary)
			totalTokens += tokens
			sessions = append(sessions, sessionResult{h, confidence(h.Relevance), tokens})
		}
	}
	resp["sessions"] = sessions

	resp["total_tokens_available"] = totalTokens
	c.JSON(http.StatusOK, resp)
}

type fetchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleFetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) < 1 || len(req.IDs) > 20 {
		abortDetail(c, http.StatusBadRequest, "ids must contain between 1 and 20 entries")
		return
	}

	observations, err := s.app.Store.GetObservationsByIDs(req.IDs)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "fetch failed")
		return
	}

	results := []gin.H{}
	total := 0
	for _, o := range observations {
		content := o.Observation
		if o.Context != nil && *o.Context != "" {
			content += "\n\nContext: " + *o.Context
		}
		tokens := estimateTokens(content)
		total += tokens
		results = append(results, gin.H{"id": o.ID, "content": content, "tokens": tokens})
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total_tokens": total})
}

type rememberRequest struct {
	Observation string   `json:"observation"`
	MemoryType  string   `json:"memory_type"`
	Context     string   `json:"context"`
	Tags        []string `json:"tags"`
	SessionID   string   `json:"session_id"`
	Importance  int      `json:"importance"`
}

func (s *Server) handleRemember(c *gin.Context) {
	var req rememberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Observation) == "" {
		abortDetail(c, http.StatusBadRequest, "observation must not be empty")
		return
	}
	if !memoryKinds[req.MemoryType] {
		abortDetail(c, http.StatusBadRequest, "invalid memory_type")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "manual-" + s.app.Store.MachineID()
	}
	if _, _, err := s.app.Store.GetOrCreateSession(sessionID, "manual", s.app.ProjectRoot, nil); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	o := store.Observation{
		SessionID:   sessionID,
		Observation: req.Observation,
		MemoryType:  req.MemoryType,
		Tags:        req.Tags,
		Importance:  req.Importance,
	}
	if req.Context != "" {
		o.Context = &req.Context
	}
	saved, err := s.app.Store.InsertObservation(o)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to store observation")
		return
	}

	message := "observation stored"
	if err := s.app.Vector.AddObservation(c.Request.Context(), saved); err != nil {
		message = "observation stored; embedding deferred"
	} else {
		_ = s.app.Store.MarkObservationEmbedded(saved.ID)
		if n := s.app.Processor.AutoSupersede(c.Request.Context(), s.app.Config(), saved, sessionID); n > 0 {
			message = "observation stored; superseded older entries"
		}
	}
	c.JSON(http.StatusOK, gin.H{"id": saved.ID, "stored": true, "message": message})
}

// confidence buckets a relevance score for display.
func confidence(relevance float64) string {
	switch {
	case relevance >= 0.80:
		return "high"
	case relevance >= 0.60:
		return "medium"
	default:
		return "low"
	}
}

// estimateTokens approximates tokens at four characters per token, matching
// the truncation heuristic used for LLM context.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// abortEmbedding maps an embedding failure to 503 with a hint, since the
// usual cause is the local model server being down.
func abortEmbedding(c *gin.Context, err error) {
	abortDetail(c, http.StatusServiceUnavailable,
		"embedding unavailable: "+err.Error()+" (ensure your local model server is running)")
}
