package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const reloadDelay = 200 * time.Millisecond

// ReloadFile loads path and, when it validates and differs from the live
// config, makes it live and runs the RegisterOnReload callbacks. It returns
// the changed sections. A file that fails to load or validate leaves the
// live config untouched.
func ReloadFile(path string) ([]string, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	changed := Changes(Get(), cfg)
	if len(changed) == 0 {
		return nil, nil
	}
	Set(cfg)
	notifyReload(cfg)
	return changed, nil
}

// Watch follows path through viper's fsnotify watcher and applies edits with
// ReloadFile after writes settle. It blocks until ctx is done.
func Watch(ctx context.Context, path string) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch disabled", "path", path, "error", err)
		return
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	apply := func() {
		if ctx.Err() != nil {
			return
		}
		changed, err := ReloadFile(path)
		switch {
		case err != nil:
			slog.Warn("config reload rejected, keeping running config", "path", path, "error", err)
		case len(changed) == 0:
			slog.Debug("config file touched without changes", "path", path)
		default:
			slog.Info("config reloaded", "path", path, "sections", changed)
		}
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDelay, apply)
	})
	v.WatchConfig()

	<-ctx.Done()
	mu.Lock()
	if timer != nil {
		timer.Stop()
	}
	mu.Unlock()
}
