package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var current atomic.Pointer[Config]

var (
	onReloadMu        sync.Mutex
	onReloadCallbacks []func(*Config)
)

// Get returns the current in-memory config (hot-reloaded when the file changes).
// It never returns nil: before Set is called it returns DefaultConfig().
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

// Set sets the current in-memory config. Used at startup and by the file watcher.
func Set(c *Config) {
	if c != nil {
		current.Store(c)
	}
}

// RegisterOnReload registers a callback that runs after config is hot-reloaded.
func RegisterOnReload(fn func(*Config)) {
	onReloadMu.Lock()
	defer onReloadMu.Unlock()
	onReloadCallbacks = append(onReloadCallbacks, fn)
}

func notifyReload(cfg *Config) {
	onReloadMu.Lock()
	cb := make([]func(*Config), len(onReloadCallbacks))
	copy(cb, onReloadCallbacks)
	onReloadMu.Unlock()
	for _, fn := range cb {
		fn(cfg)
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadDotEnv loads a .env file next to the working directory and one in the
// citychat home. Missing files are not an error.
func LoadDotEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(ResolveHome(), ".env"))
}

// Load reads a YAML (or .toml) config file, expands ${ENV} placeholders and
// fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ensureNonNilMaps(cfg)
	applyLoadDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func ensureNonNilMaps(cfg *Config) {
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]ProfileConfig)
	}
}

func applyLoadDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.CookieName == "" {
		cfg.Gateway.CookieName = def.Gateway.CookieName
	}
	if cfg.Gateway.AuthMode == "" {
		cfg.Gateway.AuthMode = def.Gateway.AuthMode
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = def.Auth.SessionTTL
	}
	if cfg.Dify.BaseURL == "" {
		cfg.Dify.BaseURL = def.Dify.BaseURL
	}
	if cfg.Dify.Timeout <= 0 {
		cfg.Dify.Timeout = def.Dify.Timeout
	}
	if cfg.ElevenLabs.BaseURL == "" {
		cfg.ElevenLabs.BaseURL = def.ElevenLabs.BaseURL
	}
	if cfg.ElevenLabs.ModelID == "" {
		cfg.ElevenLabs.ModelID = def.ElevenLabs.ModelID
	}
	if cfg.ElevenLabs.DefaultVoiceID == "" {
		cfg.ElevenLabs.DefaultVoiceID = def.ElevenLabs.DefaultVoiceID
	}
	if cfg.TTS.MaxRequestsPerMinute <= 0 {
		cfg.TTS.MaxRequestsPerMinute = def.TTS.MaxRequestsPerMinute
	}
	if cfg.TTS.MaxCharsPerMinute <= 0 {
		cfg.TTS.MaxCharsPerMinute = def.TTS.MaxCharsPerMinute
	}
	if cfg.TTS.Window <= 0 {
		cfg.TTS.Window = def.TTS.Window
	}
	if cfg.TTS.SweepSchedule == "" {
		cfg.TTS.SweepSchedule = def.TTS.SweepSchedule
	}
	if cfg.RateLimit.Store == "" {
		cfg.RateLimit.Store = def.RateLimit.Store
	}
	if cfg.RateLimit.Redis.Prefix == "" {
		cfg.RateLimit.Redis.Prefix = def.RateLimit.Redis.Prefix
	}
	if cfg.RateLimit.Edge.Auth <= 0 {
		cfg.RateLimit.Edge.Auth = def.RateLimit.Edge.Auth
	}
	if cfg.RateLimit.Edge.API <= 0 {
		cfg.RateLimit.Edge.API = def.RateLimit.Edge.API
	}
	if cfg.RateLimit.Edge.Default <= 0 {
		cfg.RateLimit.Edge.Default = def.RateLimit.Edge.Default
	}
	if cfg.Upload.MaxBytes <= 0 {
		cfg.Upload.MaxBytes = def.Upload.MaxBytes
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Client.RelayURL == "" {
		cfg.Client.RelayURL = def.Client.RelayURL
	}
}

// applyEnvOverrides lets deployments keep upstream keys out of the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DIFY_API_KEY"); v != "" && cfg.Dify.APIKey == "" {
		cfg.Dify.APIKey = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" && cfg.ElevenLabs.APIKey == "" {
		cfg.ElevenLabs.APIKey = v
	}
	if v := os.Getenv("CITYCHAT_SESSION_SECRET"); v != "" && cfg.Auth.SessionSecret == "" {
		cfg.Auth.SessionSecret = v
	}
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// LoadOrDefault loads path, falling back to defaults (with env overrides) when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		cfg = DefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return nil, err
}

// ResolveHome returns the CITYCHAT_HOME directory.
// Priority: CITYCHAT_HOME env > ~/.citychat/
func ResolveHome() string {
	if home := os.Getenv("CITYCHAT_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".citychat"
	}
	return filepath.Join(userHome, ".citychat")
}

// ResolveConfigPath finds the config file.
// Priority: --config flag > CITYCHAT_HOME/config.yaml
func ResolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return filepath.Join(ResolveHome(), "config.yaml")
}

// GenerateSecret returns a random hex secret (32 bytes = 64 chars) for signing session tokens.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-secret-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Write marshals cfg to YAML and writes it to path. Creates parent directory if needed.
func Write(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
