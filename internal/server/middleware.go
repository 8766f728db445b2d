package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware checks the request origin against the configured static
// origins plus the runtime set (tunnel and relay URLs). Allowed responses
// carry Access-Control-Allow-Origin and Vary: Origin.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			if c.Request.Method == http.MethodOptions {
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
				c.Header("Access-Control-Max-Age", "3600")
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
		}
		c.Next()
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.app.Config().Server.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return s.app.Origins.Contains(origin)
}

// authMiddleware enforces bearer-token auth on /api/* when a token is
// configured. GET /api/health stays open so agents can probe the daemon
// before they have credentials. With no token configured it is a no-op.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.app.Config().Server.AuthToken
		if token == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Next()
			return
		}
		if c.Request.URL.Path == "/api/health" && c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abortDetail(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		scheme, value, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			abortDetail(c, http.StatusUnauthorized, "invalid authorization scheme")
			return
		}
		if value != token {
			abortDetail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Next()
	}
}

// sizeLimitMiddleware rejects requests whose declared Content-Length exceeds
// the configured cap. Chunked bodies fall through.
func (s *Server) sizeLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		max := s.app.Config().Server.MaxBodyBytes
		if max > 0 && c.Request.ContentLength > max {
			abortDetail(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		c.Next()
	}
}

// abortDetail writes the standard error shape and stops the chain.
func abortDetail(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}
