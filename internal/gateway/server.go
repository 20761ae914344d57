package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lhdbsbz/citychat/internal/auth"
	"github.com/lhdbsbz/citychat/internal/config"
	"github.com/lhdbsbz/citychat/internal/dify"
	"github.com/lhdbsbz/citychat/internal/ratelimit"
	"github.com/lhdbsbz/citychat/internal/tts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionVerifier verifies and revokes session tokens.
type SessionVerifier interface {
	auth.Verifier
	Revoke(ctx context.Context, token string) error
}

// Server is the citychat relay. Settings and upstream clients are swapped
// as a whole by Reload; handlers read them per request.
type Server struct {
	Verifier SessionVerifier
	Profiles auth.ProfileStore
	TTSLimit *ratelimit.FixedWindow
	Edge     *ratelimit.EdgeLimiter
	Metrics  *Metrics
	Conns    *ConnManager

	cfg     atomic.Pointer[config.Config]
	dify    atomic.Pointer[dify.Client]
	tts     atomic.Pointer[tts.Client]
	httpSrv *http.Server
	startAt time.Time
}

func ttsLimits(cfg *config.Config) ratelimit.Limits {
	return ratelimit.Limits{
		MaxRequests: cfg.TTS.MaxRequestsPerMinute,
		MaxUnits:    cfg.TTS.MaxCharsPerMinute,
		Window:      cfg.TTS.Window,
	}
}

func edgeBudgets(cfg *config.Config) map[string]int {
	return map[string]int{
		auth.ClassAuth:    cfg.RateLimit.Edge.Auth,
		auth.ClassAPI:     cfg.RateLimit.Edge.API,
		auth.ClassDefault: cfg.RateLimit.Edge.Default,
	}
}

// NewServer wires the relay from cfg. store backs the TTS limiter; nil
// selects an in-memory store.
func NewServer(cfg *config.Config, verifier SessionVerifier, store ratelimit.Store) *Server {
	if store == nil {
		store = ratelimit.NewMemoryStore()
	}
	s := &Server{
		Verifier: verifier,
		TTSLimit: ratelimit.NewFixedWindow(store, ttsLimits(cfg)),
		Edge:     ratelimit.NewEdgeLimiter(edgeBudgets(cfg)),
		Metrics:  NewMetrics(),
		Conns:    NewConnManager(),
		startAt:  time.Now(),
	}
	s.Profiles = &auth.ConfigProfiles{Get: s.Config}
	s.swap(cfg)
	return s
}

func (s *Server) swap(cfg *config.Config) {
	s.cfg.Store(cfg)
	s.dify.Store(dify.NewClient(cfg.Dify))
	s.tts.Store(tts.NewClient(cfg.ElevenLabs))
}

// Config returns the settings the relay is running with.
func (s *Server) Config() *config.Config { return s.cfg.Load() }

func (s *Server) difyClient() *dify.Client { return s.dify.Load() }

func (s *Server) ttsClient() *tts.Client { return s.tts.Load() }

// Reload applies cfg to requests that start after it returns: auth mode,
// public routes, upstream settings, profiles and every rate-limit budget.
// The listen port and the rate-limit store stay as they were started.
func (s *Server) Reload(cfg *config.Config) {
	prev := s.Config()
	s.swap(cfg)
	s.TTSLimit.SetLimits(ttsLimits(cfg))
	s.Edge.SetBudgets(edgeBudgets(cfg))
	if fields := config.RestartRequired(prev, cfg); len(fields) > 0 {
		slog.Warn("config changes need a restart", "fields", fields)
	}
	slog.Info("relay settings reloaded", "authMode", cfg.Gateway.AuthMode, "sections", config.Changes(prev, cfg))
}

// Handler builds the gin engine with all relay routes.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(securityHeadersMiddleware(), gin.Recovery(), s.requestLogger(), s.edgeRateLimit(), s.edgeAuth())

	engine.GET("/health", s.ginHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))

	api := engine.Group("/api")
	api.POST("/chat", s.strictAuth(), s.handleChat)
	api.POST("/upload", s.requireSession(), s.handleUpload)
	api.POST("/tts", s.handleTTS)
	api.POST("/auth/signout", s.handleSignout)
	api.GET("/auth/session", s.handleSessionStatus)
	api.DELETE("/auth/session", s.handleSessionDelete)

	engine.GET("/ws", s.strictAuth(), s.ginWebSocket)

	engine.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return engine
}

// Start begins listening and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.Config()
	addr := fmt.Sprintf(":%d", cfg.Gateway.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("citychat relay starting", "port", cfg.Gateway.Port, "authMode", cfg.Gateway.AuthMode)

	go func() {
		<-ctx.Done()
		s.Conns.Broadcast("server.shutdown", map[string]any{"reason": "shutdown"})
		s.Conns.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) ginHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.startAt).String(),
		"clients": s.Conns.Count(),
	})
}
