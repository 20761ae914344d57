package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/citychat/internal/auth"
)

func (s *Server) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     s.Config().Gateway.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Request.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// handleSignout revokes the presented session, if valid, and clears the cookie.
func (s *Server) handleSignout(c *gin.Context) {
	if token := auth.SessionToken(c.Request, s.Config().Gateway.CookieName); token != "" {
		if err := s.Verifier.Revoke(c.Request.Context(), token); err != nil {
			slog.Warn("signout with unusable session", "error", err)
		}
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	id, err := auth.VerifySessionStrict(c.Request.Context(), c.Request, s.Config().Gateway.CookieName, s.Verifier)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user":          gin.H{"uid": id.UID},
	})
}

// handleSessionDelete clears the cookie without revoking the token.
func (s *Server) handleSessionDelete(c *gin.Context) {
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
