package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"oakci/internal/config"
)

func (s *Server) handleBackupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.BackupStatus())
}

func (s *Server) handleBackupCreate(c *gin.Context) {
	path, err := s.app.CreateBackup()
	if err != nil {
		abortDetail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "created": true})
}

type restoreRequest struct {
	File string `json:"file"`
}

// handleBackupRestore imports a dump from .oak/ci-history. The file name is
// constrained to that directory so the API cannot be used to read arbitrary
// paths. Restores run under a timeout; a large import that exceeds it
// returns 504.
func (s *Server) handleBackupRestore(c *gin.Context) {
	var req restoreRequest
	_ = c.ShouldBindJSON(&req)

	path := s.app.BackupPath()
	if req.File != "" {
		name := filepath.Base(req.File)
		if !strings.HasSuffix(name, ".sql") {
			abortDetail(c, http.StatusBadRequest, "backup file must be a .sql dump")
			return
		}
		path = filepath.Join(config.BackupDir(s.app.ProjectRoot), name)
	}
	if _, err := os.Stat(path); err != nil {
		abortDetail(c, http.StatusNotFound, "backup file not found")
		return
	}

	type result struct {
		imported, replayed int
		err                error
	}
	done := make(chan result, 1)
	go func() {
		imported, replayed, err := s.app.RestoreBackupFile(path)
		done <- result{imported, replayed, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			abortDetail(c, http.StatusBadRequest, r.err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"restored":        true,
			"rows_imported":   r.imported,
			"events_replayed": r.replayed,
		})
	case <-time.After(2 * time.Minute):
		abortDetail(c, http.StatusGatewayTimeout, "restore timed out")
	}
}
