// Package server is the HTTP API: search and retrieval, activity browsing,
// hook ingestion, governance, backup, tunnel and relay control, and devtools.
// Handlers read everything through the daemon.App handle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"oakci/internal/daemon"
	"oakci/internal/logging"
)

// Server wraps the router and the daemon handle.
type Server struct {
	app    *daemon.App
	router *gin.Engine
}

// New builds the router with the full middleware stack and route table.
func New(app *daemon.App) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{app: app, router: router}
	router.Use(s.corsMiddleware())
	router.Use(s.authMiddleware())
	router.Use(s.sizeLimitMiddleware())
	s.registerRoutes()
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/status", s.handleStatus)

	api.POST("/search", s.handleSearch)
	api.POST("/fetch", s.handleFetch)
	api.POST("/remember", s.handleRemember)

	api.POST("/context", s.handleContext)
	api.GET("/observations/:id", s.handleGetObservation)
	api.DELETE("/observations/:id", s.handleDeleteObservation)

	api.GET("/memories", s.handleListMemories)
	api.POST("/memories/status", s.handleMemoryStatus)
	api.POST("/memories/bulk-update", s.handleMemoriesBulkUpdate)
	api.POST("/memories/bulk-resolve", s.handleMemoriesBulkResolve)

	activity := api.Group("/activity")
	activity.GET("/sessions", s.handleListSessions)
	activity.GET("/sessions/:id", s.handleGetSession)
	activity.DELETE("/sessions/:id", s.handleDeleteSession)
	activity.GET("/sessions/:id/related", s.handleListRelated)
	activity.POST("/sessions/:id/related", s.handleAddRelated)
	activity.DELETE("/sessions/:id/related", s.handleRemoveRelated)
	activity.GET("/sessions/:id/suggested-related", s.handleSuggestedRelated)
	activity.GET("/batches/:id", s.handleGetBatch)
	activity.DELETE("/batches/:id", s.handleDeleteBatch)
	activity.GET("/activities", s.handleListActivities)
	activity.GET("/activities/:id", s.handleGetActivity)
	activity.DELETE("/activities/:id", s.handleDeleteActivity)

	tasks := api.Group("/tasks")
	tasks.GET("", s.handleListTasks)
	tasks.POST("", s.handleCreateTask)
	tasks.PUT("/:id", s.handleUpdateTask)
	tasks.DELETE("/:id", s.handleDeleteTask)

	schedules := api.Group("/schedules")
	schedules.GET("", s.handleListSchedules)
	schedules.POST("", s.handleCreateSchedule)
	schedules.PUT("/:id", s.handleUpdateSchedule)
	schedules.DELETE("/:id", s.handleDeleteSchedule)
	schedules.POST("/:id/ran", s.handleScheduleRan)

	gov := api.Group("/governance")
	gov.GET("/config", s.handleGovernanceConfig)
	gov.PUT("/config", s.handleGovernanceConfigUpdate)
	gov.GET("/audit", s.handleGovernanceAudit)
	gov.GET("/audit/summary", s.handleGovernanceAuditSummary)
	gov.POST("/audit/prune", s.handleGovernanceAuditPrune)
	gov.POST("/test", s.handleGovernanceTest)

	backup := api.Group("/backup")
	backup.GET("/status", s.handleBackupStatus)
	backup.POST("/create", s.handleBackupCreate)
	backup.POST("/restore", s.handleBackupRestore)

	tun := api.Group("/tunnel")
	tun.POST("/start", s.handleTunnelStart)
	tun.POST("/stop", s.handleTunnelStop)
	tun.GET("/status", s.handleTunnelStatus)

	cl := api.Group("/cloud")
	cl.POST("/preflight", s.handleCloudPreflight)
	cl.POST("/start", s.handleCloudStart)
	cl.POST("/stop", s.handleCloudStop)
	cl.GET("/settings", s.handleCloudSettings)
	cl.PUT("/settings", s.handleCloudSettingsUpdate)
	cl.GET("/status", s.handleCloudStatus)
	cl.POST("/connect", s.handleCloudConnect)
	cl.POST("/disconnect", s.handleCloudDisconnect)

	dev := api.Group("/devtools")
	dev.POST("/rebuild", s.handleRebuild)
	dev.POST("/reset-processing", s.handleResetProcessing)
	dev.POST("/process-cycle", s.handleProcessCycle)
	dev.POST("/reembed", s.handleReembed)
	dev.GET("/memory-stats", s.handleMemoryStats)

	hooks := api.Group("/hooks")
	hooks.POST("/session-start", s.handleHookSessionStart)
	hooks.POST("/session-end", s.handleHookSessionEnd)
	hooks.POST("/user-prompt", s.handleHookUserPrompt)
	hooks.POST("/pre-tool-use", s.handleHookPreToolUse)
	hooks.POST("/post-tool-use", s.handleHookPostToolUse)

	api.POST("/notify", s.handleNotify)
	api.POST("/restart", s.handleRestart)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	c := s.app.Config()
	addr := fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Server("Listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
