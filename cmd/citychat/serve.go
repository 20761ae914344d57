package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lhdbsbz/citychat/internal/auth"
	"github.com/lhdbsbz/citychat/internal/config"
	"github.com/lhdbsbz/citychat/internal/gateway"
	"github.com/lhdbsbz/citychat/internal/logging"
	"github.com/lhdbsbz/citychat/internal/ratelimit"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides gateway.port)")
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Get()
	if servePort > 0 {
		cfg.Gateway.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("citychat starting", "version", version, "home", config.Home())
	for _, dir := range []string{config.DataDir(), config.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if cfg.Dify.APIKey == "" {
		slog.Warn("dify api key is not set; chat and upload requests will fail upstream")
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	secret := cfg.Auth.SessionSecret
	if secret == "" {
		secret = config.GenerateSecret()
		slog.Warn("auth.sessionSecret is not set; using a random secret, sessions will not survive a restart")
	}
	verifier, err := auth.NewHMACVerifier(secret, cfg.Auth.SessionTTL)
	if err != nil {
		return err
	}

	var store ratelimit.Store
	if cfg.RateLimit.Store == "redis" {
		rs, err := ratelimit.DialRedis(ctx, cfg.RateLimit.Redis)
		if err != nil {
			return err
		}
		defer rs.Close()
		store = rs
		slog.Info("rate limit store", "kind", "redis", "addr", cfg.RateLimit.Redis.Addr)
	}

	srv := gateway.NewServer(cfg, verifier, store)

	sweeper, err := ratelimit.NewSweeper(cfg.TTS.SweepSchedule)
	if err != nil {
		return err
	}
	sweeper.Add("tts-windows", srv.TTSLimit.Sweep)
	sweeper.Add("edge-windows", srv.Edge.Cleanup)
	sweeper.Add("revoked-sessions", func(context.Context) (int, error) { return verifier.PruneRevoked(), nil })
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	config.RegisterOnReload(func(c *config.Config) {
		if servePort > 0 {
			cp := *c
			cp.Gateway.Port = servePort
			c = &cp
		}
		logging.Setup(c.Log.Level, c.Log.Format)
		srv.Reload(c)
	})
	if _, err := os.Stat(configPath()); err == nil {
		go config.Watch(ctx, configPath())
	}

	return srv.Start(ctx)
}
