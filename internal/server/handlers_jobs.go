package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"oakci/internal/store"
)

// Saved tasks and agent schedules are job definitions the dashboard manages;
// the daemon stores them, agents pull and execute them.

type savedTaskRequest struct {
	Name   string `json:"name"`
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

func (r savedTaskRequest) validate() string {
	if strings.TrimSpace(r.Name) == "" {
		return "name must not be empty"
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return "prompt must not be empty"
	}
	return ""
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.app.Store.ListSavedTasks()
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	if tasks == nil {
		tasks = []store.SavedTask{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req savedTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		abortDetail(c, http.StatusBadRequest, msg)
		return
	}
	task, err := s.app.Store.CreateSavedTask(store.SavedTask{
		Name: req.Name, Agent: req.Agent, Prompt: req.Prompt,
	})
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to create task")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req savedTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		abortDetail(c, http.StatusBadRequest, msg)
		return
	}
	err := s.app.Store.UpdateSavedTask(store.SavedTask{
		ID: id, Name: req.Name, Agent: req.Agent, Prompt: req.Prompt,
	})
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to update task")
		return
	}
	task, err := s.app.Store.GetSavedTask(id)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load task")
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := s.app.Store.DeleteSavedTask(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to delete task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

type scheduleRequest struct {
	Name           string `json:"name"`
	Agent          string `json:"agent"`
	Prompt         string `json:"prompt"`
	CronExpression string `json:"cron_expression"`
	Enabled        *bool  `json:"enabled"`
}

func (r scheduleRequest) validate() string {
	if strings.TrimSpace(r.Name) == "" {
		return "name must not be empty"
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return "prompt must not be empty"
	}
	if strings.TrimSpace(r.CronExpression) == "" {
		return "cron_expression must not be empty"
	}
	return ""
}

func (r scheduleRequest) enabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

func (s *Server) handleListSchedules(c *gin.Context) {
	schedules, err := s.app.Store.ListAgentSchedules()
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	if schedules == nil {
		schedules = []store.AgentSchedule{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

func (s *Server) handleCreateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		abortDetail(c, http.StatusBadRequest, msg)
		return
	}
	schedule, err := s.app.Store.CreateAgentSchedule(store.AgentSchedule{
		Name: req.Name, Agent: req.Agent, Prompt: req.Prompt,
		CronExpression: req.CronExpression, Enabled: req.enabled(),
	})
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	c.JSON(http.StatusOK, schedule)
}

func (s *Server) handleUpdateSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		abortDetail(c, http.StatusBadRequest, msg)
		return
	}
	err := s.app.Store.UpdateAgentSchedule(store.AgentSchedule{
		ID: id, Name: req.Name, Agent: req.Agent, Prompt: req.Prompt,
		CronExpression: req.CronExpression, Enabled: req.enabled(),
	})
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to update schedule")
		return
	}
	schedule, err := s.app.Store.GetAgentSchedule(id)
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	c.JSON(http.StatusOK, schedule)
}

func (s *Server) handleDeleteSchedule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := s.app.Store.DeleteAgentSchedule(id)
	if err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

// handleScheduleRan records that an agent executed the schedule, so the
// dashboard can show last-run times without owning a scheduler.
func (s *Server) handleScheduleRan(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if _, err := s.app.Store.GetAgentSchedule(id); err == store.ErrNotFound {
		abortDetail(c, http.StatusNotFound, "schedule not found")
		return
	} else if err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to load schedule")
		return
	}
	if err := s.app.Store.TouchScheduleRun(id); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to record run")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "recorded": true})
}

// pathID parses the numeric :id segment, aborting with 400 on garbage.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		abortDetail(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
