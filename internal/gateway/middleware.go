package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/citychat/internal/auth"
)

// securityHeaders are set on every response, errors included.
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "1; mode=block"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' data: blob:; font-src 'self'; connect-src 'self';"},
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range securityHeaders {
			h.Set(kv[0], kv[1])
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.Metrics.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.Metrics.Latency.WithLabelValues(route).Observe(elapsed.Seconds())
		slog.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"bytes", c.Writer.Size(),
			"elapsed", elapsed,
		)
	}
}

// edgeRateLimit applies the per-IP budget of the path's class.
func (s *Server) edgeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		class := auth.RateClass(c.Request.URL.Path)
		if !s.Edge.Allow(c.Request.Context(), class, c.ClientIP()) {
			s.Metrics.RateLimited.WithLabelValues("edge_" + class).Inc()
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// edgeAuth rejects non-public routes that carry no session cookie.
func (s *Server) edgeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := s.Config()
		if auth.IsPublicRoute(c.Request.URL.Path, cfg.Gateway.PublicRoutes...) {
			c.Next()
			return
		}
		if !auth.HasSessionEvidence(c.Request, cfg.Gateway.CookieName) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// strictAuth verifies the session token unless gateway.authMode is "edge".
func (s *Server) strictAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Config().Gateway.Strict() {
			c.Next()
			return
		}
		if !s.verifyRequest(c) {
			return
		}
		c.Next()
	}
}

// requireSession verifies the session token in every auth mode.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.verifyRequest(c) {
			return
		}
		c.Next()
	}
}

// verifyRequest runs the strict session check and stores the identity on
// the request context. It aborts with 401 and returns false on failure.
func (s *Server) verifyRequest(c *gin.Context) bool {
	id, err := auth.VerifySessionStrict(c.Request.Context(), c.Request, s.Config().Gateway.CookieName, s.Verifier)
	if err != nil {
		slog.Debug("session rejected", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return false
	}
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
	return true
}
