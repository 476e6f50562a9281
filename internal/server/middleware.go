package server

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obsmetrics "github.com/smallbiznis/alima/internal/observability/metrics"
	"golang.org/x/crypto/bcrypt"
)

const bearerPrefix = "Bearer "

// AdminAuth requires the configured bearer token. The configured value may
// be a bcrypt hash of the token. An empty value closes the admin surface.
func (s *Server) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) || !s.validAdminToken(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func (s *Server) validAdminToken(token string) bool {
	if s.adminToken == "" || token == "" {
		return false
	}
	if isBcryptHash(s.adminToken) {
		return bcrypt.CompareHashAndPassword([]byte(s.adminToken), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1
}

func isBcryptHash(v string) bool {
	return strings.HasPrefix(v, "$2a$") || strings.HasPrefix(v, "$2b$") || strings.HasPrefix(v, "$2y$")
}

func MetricsMiddleware(m *obsmetrics.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.Observe(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
