package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type tunnelStartRequest struct {
	Command []string `json:"command"`
}

// handleTunnelStart launches the tunnel subprocess and waits briefly for the
// public URL to appear in its output. The URL joins the dynamic CORS set so
// the dashboard served through the tunnel can call back in.
func (s *Server) handleTunnelStart(c *gin.Context) {
	var req tunnelStartRequest
	_ = c.ShouldBindJSON(&req)
	args := req.Command
	if len(args) == 0 {
		cfg := s.app.Config()
		args = []string{
			"cloudflared", "tunnel", "--url",
			fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		}
	}

	if err := s.app.Tunnel.Start(args); err != nil {
		abortDetail(c, http.StatusBadRequest, err.Error())
		return
	}

	// The URL shows up in subprocess output within a few seconds.
	deadline := time.Now().Add(20 * time.Second)
	for time.Now().Before(deadline) {
		status := s.app.Tunnel.Status()
		if !status.Running {
			abortDetail(c, http.StatusBadGateway, "tunnel process exited: "+status.LastError)
			return
		}
		if status.URL != "" {
			s.app.Origins.Add(status.URL)
			c.JSON(http.StatusOK, status)
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	c.JSON(http.StatusAccepted, s.app.Tunnel.Status())
}

func (s *Server) handleTunnelStop(c *gin.Context) {
	if url := s.app.Tunnel.Status().URL; url != "" {
		s.app.Origins.Remove(url)
	}
	if err := s.app.Tunnel.Stop(); err != nil {
		abortDetail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

func (s *Server) handleTunnelStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Tunnel.Status())
}

func (s *Server) handleCloudPreflight(c *gin.Context) {
	if stepErr := s.app.Cloud.Preflight(c.Request.Context()); stepErr != nil {
		c.JSON(http.StatusOK, gin.H{
			"status":     "error",
			"phase":      stepErr.Phase,
			"detail":     stepErr.Detail,
			"suggestion": stepErr.Suggestion,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCloudStart runs the stepwise deploy, then connects. Each failed step
// comes back as a structured error naming the phase.
func (s *Server) handleCloudStart(c *gin.Context) {
	settings, stepErr := s.app.Cloud.Deploy(c.Request.Context())
	if stepErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"status":     "error",
			"phase":      stepErr.Phase,
			"detail":     stepErr.Detail,
			"suggestion": stepErr.Suggestion,
		})
		return
	}
	if stepErr := s.app.Cloud.Connect(c.Request.Context()); stepErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"status":     "error",
			"phase":      stepErr.Phase,
			"detail":     stepErr.Detail,
			"suggestion": stepErr.Suggestion,
			"settings":   settings,
		})
		return
	}
	if settings.RelayURL != "" {
		s.app.Origins.Add(settings.RelayURL)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "settings": settings})
}

func (s *Server) handleCloudStop(c *gin.Context) {
	if url := s.app.Cloud.Settings().RelayURL; url != "" {
		s.app.Origins.Remove(url)
	}
	s.app.Cloud.Disconnect()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCloudSettings(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Cloud.Settings())
}

type cloudSettingsRequest struct {
	RelayURL   string `json:"relay_url"`
	AuthToken  string `json:"auth_token"`
	WorkerName string `json:"worker_name"`
}

func (s *Server) handleCloudSettingsUpdate(c *gin.Context) {
	var req cloudSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.app.Cloud.UpdateSettings(req.RelayURL, req.AuthToken, req.WorkerName); err != nil {
		abortDetail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.app.Cloud.Settings())
}

func (s *Server) handleCloudStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.Cloud.Status())
}

func (s *Server) handleCloudConnect(c *gin.Context) {
	if stepErr := s.app.Cloud.Connect(c.Request.Context()); stepErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"status":     "error",
			"phase":      stepErr.Phase,
			"detail":     stepErr.Detail,
			"suggestion": stepErr.Suggestion,
		})
		return
	}
	if url := s.app.Cloud.Settings().RelayURL; url != "" {
		s.app.Origins.Add(url)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCloudDisconnect(c *gin.Context) {
	s.app.Cloud.Disconnect()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
