package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"oakci/internal/logging"
	"oakci/internal/store"
)

func (s *Server) handleListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	sessions, err := s.app.Store.ListSessions(c.Query("status"), limit, offset)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	stats, err := s.app.Store.GetBulkSessionStats(ids)
	if err != nil {
		stats = map[string]store.SessionStats{}
	}
	prompts, err := s.app.Store.GetBulkFirstPrompts(ids)
	if err != nil {
		prompts = map[string]string{}
	}

	out := make([]gin.H, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, gin.H{
			"session":      sess,
			"stats":        stats[sess.ID],
			"first_prompt": prompts[sess.ID],
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	session, err := s.app.Store.GetSession(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load session")
		return
	}
	batches, err := s.app.Store.ListPromptBatches(id, 200, 0)
	if err != nil {
		batches = nil
	}
	observations, err := s.app.Store.ListObservations(store.ObservationFilter{SessionID: id, Limit: 200})
	if err != nil {
		observations = nil
	}
	c.JSON(http.StatusOK, gin.H{
		"session":      session,
		"batches":      batches,
		"observations": observations,
	})
}

// handleDeleteSession removes a session and everything under it, then sweeps
// the derived vector entries so search never returns ghosts.
func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.app.Store.GetSession(id); err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "session not found")
		return
	}

	observations, _ := s.app.Store.ListObservations(store.ObservationFilter{SessionID: id, Limit: 10000})
	if err := s.app.Store.DeleteSessionCascade(id); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to delete session")
		return
	}
	for _, o := range observations {
		if err := s.app.Vector.DeleteObservation(o.ID); err != nil {
			logging.Get(logging.CategoryServer).Warn("vector delete failed for %s: %v", o.ID, err)
		}
	}
	if err := s.app.Vector.DeleteSessionSummary(id); err != nil {
		logging.ServerDebug("session summary delete skipped for %s: %v", id, err)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id, "observations_removed": len(observations)})
}

func (s *Server) handleListRelated(c *gin.Context) {
	id := c.Param("id")
	relationships, err := s.app.Store.ListSessionRelationships(id)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list relationships")
		return
	}
	related := make([]gin.H, 0, len(relationships))
	for _, rel := range relationships {
		other := rel.SessionA
		if other == id {
			other = rel.SessionB
		}
		entry := gin.H{"relationship": rel, "session_id": other}
		if sess, err := s.app.Store.GetSession(other); err == nil {
			entry["session"] = sess
		}
		related = append(related, entry)
	}
	c.JSON(http.StatusOK, gin.H{"related": related, "count": len(related)})
}

type relatedRequest struct {
	SessionID       string   `json:"session_id"`
	SimilarityScore *float64 `json:"similarity_score"`
	CreatedBy       string   `json:"created_by"`
}

func (s *Server) handleAddRelated(c *gin.Context) {
	id := c.Param("id")
	var req relatedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" {
		abortDetail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = "manual"
	}
	rel, err := s.app.Store.AddSessionRelationship(id, req.SessionID, createdBy, req.SimilarityScore)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

func (s *Server) handleRemoveRelated(c *gin.Context) {
	id := c.Param("id")
	other := c.Query("session_id")
	if other == "" {
		var req relatedRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			other = req.SessionID
		}
	}
	if other == "" {
		abortDetail(c, http.StatusBadRequest, "session_id is required")
		return
	}
	if err := s.app.Store.RemoveSessionRelationship(id, other); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to remove relationship")
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": other})
}

// handleSuggestedRelated searches the session-summary collection with this
// session's own summary and proposes unlinked hits.
func (s *Server) handleSuggestedRelated(c *gin.Context) {
	id := c.Param("id")
	session, err := s.app.Store.GetSession(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load session")
		return
	}

	query := ""
	if session.Summary != nil {
		query = *session.Summary
	} else if session.Title != nil {
		query = *session.Title
	}
	if query == "" {
		c.JSON(http.StatusOK, gin.H{"suggestions": []gin.H{}})
		return
	}

	linked, _ := s.app.Store.RelatedSessionIDs(id)
	linkedSet := make(map[string]bool, len(linked)+1)
	linkedSet[id] = true
	for _, l := range linked {
		linkedSet[l] = true
	}

	hits, err := s.app.Vector.SearchSessions(c.Request.Context(), query, 10)
	if err != nil {
		abortEmbedding(c, err)
		return
	}
	suggestions := []gin.H{}
	for _, h := range hits {
		if linkedSet[h.SessionID] {
			continue
		}
		suggestions = append(suggestions, gin.H{
			"session_id": h.SessionID,
			"title":      h.Title,
			"agent":      h.Agent,
			"similarity": h.Relevance,
		})
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid batch id")
		return
	}
	batch, err := s.app.Store.GetPromptBatch(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load batch")
		return
	}
	activities, err := s.app.Store.ActivitiesForBatch(id)
	if err != nil {
		activities = nil
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch, "activities": activities})
}

func (s *Server) handleDeleteBatch(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid batch id")
		return
	}
	if _, err := s.app.Store.GetPromptBatch(id); err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "batch not found")
		return
	}
	if err := s.app.Store.DeleteBatchCascade(id); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to delete batch")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleListActivities(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	var batchID *int64
	if raw := c.Query("batch_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			abortDetail(c, http.StatusBadRequest, "invalid batch_id")
			return
		}
		batchID = &id
	}
	activities, err := s.app.Store.ListActivities(c.Query("session_id"), batchID, limit, offset)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list activities")
		return
	}
	c.JSON(http.StatusOK, gin.H{"activities": activities, "count": len(activities)})
}

func (s *Server) handleGetActivity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid activity id")
		return
	}
	activity, err := s.app.Store.GetActivity(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "activity not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load activity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": activity})
}

func (s *Server) handleDeleteActivity(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid activity id")
		return
	}
	if err := s.app.Store.DeleteActivity(id); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to delete activity")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}
