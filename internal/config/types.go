package config

import "time"

type Config struct {
	Gateway    GatewayConfig            `yaml:"gateway" json:"gateway" toml:"gateway"`
	Auth       AuthConfig               `yaml:"auth" json:"auth" toml:"auth"`
	Dify       DifyConfig               `yaml:"dify" json:"dify" toml:"dify"`
	ElevenLabs ElevenLabsConfig         `yaml:"elevenlabs" json:"elevenlabs" toml:"elevenlabs"`
	TTS        TTSConfig                `yaml:"tts" json:"tts" toml:"tts"`
	RateLimit  RateLimitConfig          `yaml:"rateLimit" json:"rateLimit" toml:"rateLimit"`
	Upload     UploadConfig             `yaml:"upload" json:"upload" toml:"upload"`
	Profiles   map[string]ProfileConfig `yaml:"profiles" json:"profiles" toml:"profiles"`
	Log        LogConfig                `yaml:"log" json:"log" toml:"log"`
	Client     ClientConfig             `yaml:"client" json:"client" toml:"client"`
}

type GatewayConfig struct {
	Port         int      `yaml:"port" json:"port" toml:"port"`
	CookieName   string   `yaml:"cookieName" json:"cookieName" toml:"cookieName"`       // 会话 cookie 名，默认 __session
	PublicRoutes []string `yaml:"publicRoutes" json:"publicRoutes" toml:"publicRoutes"` // 追加到内置公开路由
	AuthMode     string   `yaml:"authMode" json:"authMode" toml:"authMode"`             // "edge" | "strict"
}

// Auth modes. Upload and TTS verify the session token in both.
const (
	AuthModeStrict = "strict"
	AuthModeEdge   = "edge"
)

// Strict reports whether chat and the websocket verify the session signature
// in addition to the edge cookie check. Only an explicit "edge" turns it off.
func (g GatewayConfig) Strict() bool { return g.AuthMode != AuthModeEdge }

type AuthConfig struct {
	SessionSecret string        `yaml:"sessionSecret" json:"-" toml:"sessionSecret"`
	SessionTTL    time.Duration `yaml:"sessionTTL" json:"sessionTTL" toml:"sessionTTL"`
}

type DifyConfig struct {
	BaseURL string        `yaml:"baseURL" json:"baseURL" toml:"baseURL"`
	APIKey  string        `yaml:"apiKey" json:"-" toml:"apiKey"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

type ElevenLabsConfig struct {
	BaseURL         string  `yaml:"baseURL" json:"baseURL" toml:"baseURL"`
	APIKey          string  `yaml:"apiKey" json:"-" toml:"apiKey"`
	ModelID         string  `yaml:"modelId" json:"modelId" toml:"modelId"`
	DefaultVoiceID  string  `yaml:"defaultVoiceId" json:"defaultVoiceId" toml:"defaultVoiceId"`
	Stability       float64 `yaml:"stability" json:"stability" toml:"stability"`
	SimilarityBoost float64 `yaml:"similarityBoost" json:"similarityBoost" toml:"similarityBoost"`
}

type TTSConfig struct {
	MaxRequestsPerMinute int           `yaml:"maxRequestsPerMinute" json:"maxRequestsPerMinute" toml:"maxRequestsPerMinute"`
	MaxCharsPerMinute    int           `yaml:"maxCharsPerMinute" json:"maxCharsPerMinute" toml:"maxCharsPerMinute"`
	Window               time.Duration `yaml:"window" json:"window" toml:"window"`
	SweepSchedule        string        `yaml:"sweepSchedule" json:"sweepSchedule" toml:"sweepSchedule"` // cron 表达式，默认 @every 5m
}

type RateLimitConfig struct {
	Store string          `yaml:"store" json:"store" toml:"store"` // "memory" | "redis"
	Redis RedisConfig     `yaml:"redis" json:"redis" toml:"redis"`
	Edge  EdgeLimitConfig `yaml:"edge" json:"edge" toml:"edge"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" toml:"addr"`
	Password string `yaml:"password" json:"-" toml:"password"`
	DB       int    `yaml:"db" json:"db" toml:"db"`
	Prefix   string `yaml:"prefix" json:"prefix" toml:"prefix"`
}

// EdgeLimitConfig holds requests-per-minute budgets for each path class.
type EdgeLimitConfig struct {
	Auth    int `yaml:"auth" json:"auth" toml:"auth"`
	API     int `yaml:"api" json:"api" toml:"api"`
	Default int `yaml:"default" json:"default" toml:"default"`
}

type UploadConfig struct {
	MaxBytes int64 `yaml:"maxBytes" json:"maxBytes" toml:"maxBytes"`
}

type ProfileConfig struct {
	TTSEnabled bool   `yaml:"ttsEnabled" json:"ttsEnabled" toml:"ttsEnabled"`
	VoiceID    string `yaml:"voiceId" json:"voiceId" toml:"voiceId"`
	Role       string `yaml:"role" json:"role" toml:"role"` // "user" | "admin"
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level"`
	Format string `yaml:"format" json:"format" toml:"format"` // "text" | "json"
}

// ClientConfig is read by the terminal chat client.
type ClientConfig struct {
	RelayURL     string `yaml:"relayURL" json:"relayURL" toml:"relayURL"`
	UserID       string `yaml:"userId" json:"userId" toml:"userId"`
	SessionToken string `yaml:"sessionToken" json:"-" toml:"sessionToken"`
}

const (
	DefaultPort           = 19810
	DefaultCookieName     = "__session"
	DefaultDifyBaseURL    = "https://api.dify.ai/v1"
	DefaultElevenLabsURL  = "https://api.elevenlabs.io/v1"
	DefaultTTSModel       = "eleven_monolingual_v1"
	DefaultVoiceID        = "pNInz6obpgDQGcFmaJgB"
	DefaultUploadMaxBytes = 15 * 1024 * 1024
	DefaultSweepSchedule  = "@every 5m"
)

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Port:       DefaultPort,
			CookieName: DefaultCookieName,
			AuthMode:   AuthModeStrict,
		},
		Auth: AuthConfig{
			SessionTTL: 14 * 24 * time.Hour,
		},
		Dify: DifyConfig{
			BaseURL: DefaultDifyBaseURL,
			Timeout: 5 * time.Minute,
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL:         DefaultElevenLabsURL,
			ModelID:         DefaultTTSModel,
			DefaultVoiceID:  DefaultVoiceID,
			Stability:       0.5,
			SimilarityBoost: 0.5,
		},
		TTS: TTSConfig{
			MaxRequestsPerMinute: 10,
			MaxCharsPerMinute:    1000,
			Window:               time.Minute,
			SweepSchedule:        DefaultSweepSchedule,
		},
		RateLimit: RateLimitConfig{
			Store: "memory",
			Redis: RedisConfig{Addr: "localhost:6379", Prefix: "citychat:rl:"},
			Edge:  EdgeLimitConfig{Auth: 10, API: 60, Default: 100},
		},
		Upload:   UploadConfig{MaxBytes: DefaultUploadMaxBytes},
		Profiles: map[string]ProfileConfig{},
		Log:      LogConfig{Level: "info", Format: "text"},
		Client: ClientConfig{
			RelayURL: "http://localhost:19810",
		},
	}
}
