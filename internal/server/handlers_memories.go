package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"oakci/internal/logging"
	"oakci/internal/store"
)

var observationStatuses = map[string]bool{
	store.ObservationActive:     true,
	store.ObservationResolved:   true,
	store.ObservationSuperseded: true,
}

func (s *Server) handleListMemories(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	observations, err := s.app.Store.ListObservations(store.ObservationFilter{
		SessionID:  c.Query("session_id"),
		MemoryType: c.Query("memory_type"),
		Status:     c.Query("status"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list memories")
		return
	}
	c.JSON(http.StatusOK, gin.H{"memories": observations, "count": len(observations)})
}

type statusChangeRequest struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	SupersededBy string `json:"superseded_by"`
	Reason       string `json:"reason"`
	SessionID    string `json:"session_id"`
}

func (s *Server) handleMemoryStatus(c *gin.Context) {
	var req statusChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		abortDetail(c, http.StatusBadRequest, "id is required")
		return
	}
	if !observationStatuses[req.Status] {
		abortDetail(c, http.StatusBadRequest, "invalid status")
		return
	}
	if req.Status == store.ObservationSuperseded && req.SupersededBy == "" {
		abortDetail(c, http.StatusBadRequest, "superseded requires superseded_by")
		return
	}

	changed, err := s.changeObservationStatus(req)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "observation not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "status update failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": req.ID, "status": req.Status, "changed": changed})
}

type bulkStatusRequest struct {
	IDs       []string `json:"ids"`
	Status    string   `json:"status"`
	Reason    string   `json:"reason"`
	SessionID string   `json:"session_id"`
}

func (s *Server) handleMemoriesBulkUpdate(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		abortDetail(c, http.StatusBadRequest, "ids must not be empty")
		return
	}
	if !observationStatuses[req.Status] || req.Status == store.ObservationSuperseded {
		abortDetail(c, http.StatusBadRequest, "invalid status for bulk update")
		return
	}
	s.bulkChange(c, req.IDs, req.Status, req.Reason, req.SessionID)
}

func (s *Server) handleMemoriesBulkResolve(c *gin.Context) {
	var req bulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		abortDetail(c, http.StatusBadRequest, "ids must not be empty")
		return
	}
	s.bulkChange(c, req.IDs, store.ObservationResolved, req.Reason, req.SessionID)
}

func (s *Server) bulkChange(c *gin.Context, ids []string, status, reason, sessionID string) {
	changed := 0
	for _, id := range ids {
		ok, err := s.changeObservationStatus(statusChangeRequest{
			ID: id, Status: status, Reason: reason, SessionID: sessionID,
		})
		if err != nil {
			logging.Get(logging.CategoryServer).Warn("bulk status change failed for %s: %v", id, err)
			continue
		}
		if ok {
			changed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"requested": len(ids), "changed": changed, "status": status})
}

// changeObservationStatus is the manual counterpart of auto-supersede: it
// mutates the relational row, appends the resolution event so other machines
// converge, and syncs the vector copy's metadata.
func (s *Server) changeObservationStatus(req statusChangeRequest) (bool, error) {
	if _, err := s.app.Store.GetObservation(req.ID); err != nil {
		return false, err
	}

	update := store.StatusUpdate{Status: req.Status}
	if req.SessionID != "" {
		update.ResolvedBySessionID = &req.SessionID
	}
	if req.SupersededBy != "" {
		update.SupersededBy = &req.SupersededBy
	}
	changed, err := s.app.Store.UpdateObservationStatus(req.ID, update)
	if err != nil || !changed {
		return changed, err
	}

	action := store.ActionResolved
	switch req.Status {
	case store.ObservationActive:
		action = store.ActionReactivated
	case store.ObservationSuperseded:
		action = store.ActionSuperseded
	}
	event := store.ResolutionEvent{
		ObservationID: req.ID,
		Action:        action,
		Applied:       true,
	}
	if req.SessionID != "" {
		event.ResolvedBySessionID = &req.SessionID
	}
	if req.SupersededBy != "" {
		event.SupersededBy = &req.SupersededBy
	}
	if req.Reason != "" {
		event.Reason = &req.Reason
	}
	if _, err := s.app.Store.AppendResolutionEvent(event); err != nil {
		logging.Get(logging.CategoryServer).Warn("failed to log resolution event for %s: %v", req.ID, err)
	}
	if err := s.app.Vector.UpdateObservationStatusMeta(req.ID, req.Status); err != nil {
		logging.ServerDebug("vector status sync deferred for %s: %v", req.ID, err)
	}
	return true, nil
}

func (s *Server) handleMemoryStats(c *gin.Context) {
	stats, err := s.app.Store.MemoryStats()
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to compute memory stats")
		return
	}
	counts, err := s.app.Vector.Counts()
	if err == nil {
		stats["vector_counts"] = counts
	}
	c.JSON(http.StatusOK, stats)
}
