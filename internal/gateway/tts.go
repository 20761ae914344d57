package gateway

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lhdbsbz/citychat/internal/auth"
	"github.com/lhdbsbz/citychat/internal/tts"
)

type ttsBody struct {
	Text    *string `json:"text"`
	VoiceID string  `json:"voiceId"`
}

// handleTTS always verifies the session: audio is billed per user.
func (s *Server) handleTTS(c *gin.Context) {
	if s.ttsClient().APIKey == "" {
		slog.Error("missing elevenlabs api key")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "TTS service configuration error"})
		return
	}
	if !s.verifyRequest(c) {
		return
	}
	ctx := c.Request.Context()
	uid := auth.CurrentUserID(ctx)

	profile, err := s.Profiles.Profile(ctx, uid)
	if err != nil {
		if errors.Is(err, auth.ErrProfileNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "User profile not found"})
			return
		}
		slog.Error("profile lookup failed", "uid", uid, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !profile.TTSEnabled {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Text-to-speech is not enabled for this account"})
		return
	}

	var body ttsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if body.Text == nil || *body.Text == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Text is required and must be a string"})
		return
	}
	text := *body.Text
	if body.VoiceID != "" && !tts.ValidVoiceID(body.VoiceID) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid voice ID"})
		return
	}

	decision, err := s.TTSLimit.Allow(ctx, "tts:"+uid, len([]rune(text)))
	if err != nil {
		slog.Error("rate limit store failed", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !decision.Allowed {
		s.Metrics.RateLimited.WithLabelValues("tts_" + decision.Reason).Inc()
		slog.Info("tts rate limited", "uid", uid, "reason", decision.Reason)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Please try again later."})
		return
	}

	voiceID := body.VoiceID
	if voiceID == "" {
		voiceID = profile.VoiceID
	}
	if voiceID == "" {
		voiceID = s.Config().ElevenLabs.DefaultVoiceID
	}

	audio, err := s.ttsClient().Synthesize(ctx, voiceID, text)
	if err != nil {
		var apiErr *tts.APIError
		switch {
		case errors.Is(err, tts.ErrInvalidVoiceID):
			slog.Error("configured voice id is invalid", "uid", uid, "voice", voiceID)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "TTS service configuration error"})
		case errors.Is(err, tts.ErrNotConfigured):
			slog.Error("missing elevenlabs api key")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "TTS service configuration error"})
		case errors.As(err, &apiErr):
			s.Metrics.UpstreamErrors.WithLabelValues("elevenlabs").Inc()
			slog.Error("elevenlabs api error", "status", apiErr.StatusCode, "detail", apiErr.DetailStatus)
			c.AbortWithStatusJSON(apiErr.StatusCode, gin.H{"error": apiErr.UserMessage()})
		default:
			s.Metrics.UpstreamErrors.WithLabelValues("elevenlabs").Inc()
			slog.Error("tts request failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.Header("Content-Length", strconv.Itoa(len(audio)))
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "audio/mpeg", audio)
}
