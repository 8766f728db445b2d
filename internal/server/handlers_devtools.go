package server

import (
	"errors"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"oakci/internal/config"
	"oakci/internal/daemon"
	"oakci/internal/indexer"
	"oakci/internal/logging"
)

// handleRebuild runs a full index build. A build already in flight is a 409;
// a build that outlives the request deadline keeps going in the background
// and the caller gets 504.
func (s *Server) handleRebuild(c *gin.Context) {
	stats, err := s.app.Rebuild(c.Request.Context(), 2*time.Minute)
	if errors.Is(err, indexer.ErrBuildInProgress) {
		abortDetail(c, http.StatusConflict, "rebuild already in progress")
		return
	}
	if errors.Is(err, daemon.ErrRebuildTimeout) {
		abortDetail(c, http.StatusGatewayTimeout, "rebuild still running; check /api/status")
		return
	}
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"rebuilt": true, "stats": stats})
}

func (s *Server) handleResetProcessing(c *gin.Context) {
	reset, err := s.app.Store.ResetProcessing()
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "reset failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches_reset": reset})
}

func (s *Server) handleProcessCycle(c *gin.Context) {
	stats := s.app.Processor.RunCycle(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cycle": stats})
}

// handleReembed clears every embedded flag; the next processor cycles then
// re-mirror all observations into the vector store.
func (s *Server) handleReembed(c *gin.Context) {
	cleared, err := s.app.Store.ClearEmbeddedFlags()
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, "reembed failed")
		return
	}
	stats := s.app.Processor.RunCycle(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"flags_cleared": cleared, "cycle": stats})
}

// handleRestart spawns a detached successor in the project directory,
// responds immediately, and signals this process shortly after so the reply
// reaches the caller before the listener dies.
func (s *Server) handleRestart(c *gin.Context) {
	cmd := exec.Command(config.CLICommand(), "serve", "--project", s.app.ProjectRoot)
	cmd.Dir = s.app.ProjectRoot
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		abortDetail(c, http.StatusInternalServerError, "failed to spawn successor: "+err.Error())
		return
	}
	// Detach fully; the successor outlives us.
	go func() { _ = cmd.Process.Release() }()

	logging.Server("Restart requested, successor pid %d", cmd.Process.Pid)
	go func() {
		time.Sleep(500 * time.Millisecond)
		p, err := os.FindProcess(os.Getpid())
		if err == nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}()
	c.JSON(http.StatusOK, gin.H{"restarting": true, "successor_pid": cmd.Process.Pid})
}
