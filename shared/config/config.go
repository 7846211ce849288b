package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"adstream/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeCatalog    = "catalog"
	ModeGenerative = "generative"

	BackendFile  = "file"
	BackendRedis = "redis"

	// DefaultCachePrefix doubles as the cached schedule schema version
	DefaultCachePrefix = "ADSTREAM_CACHE_v2_"
)

type Config struct {
	AI          AIConfig          `yaml:"ai"`
	Player      PlayerConfig      `yaml:"player"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Storage     StorageConfig     `yaml:"storage"`
	Server      ServerConfig      `yaml:"server"`
	CacheWarmer CacheWarmerConfig `yaml:"cache_warmer"`
	Email       EmailConfig       `yaml:"email"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Log         LogConfig         `yaml:"log"`
}

type AIConfig struct {
	GeminiAPIKey        string `yaml:"gemini_api_key" env:"GEMINI_API_KEY"`
	Model               string `yaml:"model"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	PollTimeoutSeconds  int    `yaml:"poll_timeout_seconds"`
	PollMaxAttempts     int    `yaml:"poll_max_attempts"`
}

type PlayerConfig struct {
	DefaultWindowSeconds       float64 `yaml:"default_window_seconds"`
	SkipCountdownSeconds       int     `yaml:"skip_countdown_seconds"`
	InlineSkipCountdownSeconds int     `yaml:"inline_skip_countdown_seconds"`
	JumpLeadSeconds            float64 `yaml:"jump_lead_seconds"`
}

type AcquisitionConfig struct {
	// Mode is "catalog" (pick from the ad catalog) or "generative" (fabricate brand creatives)
	Mode string `yaml:"mode"`
}

type CatalogConfig struct {
	File              string `yaml:"file"`
	VerifyWithYouTube bool   `yaml:"verify_with_youtube"`
	YouTubeAPIKey     string `yaml:"youtube_api_key" env:"YOUTUBE_API_KEY"`
}

type StorageConfig struct {
	Backend     string      `yaml:"backend"`
	DataDir     string      `yaml:"data_dir"`
	CachePrefix string      `yaml:"cache_prefix"`
	// TTLHours bounds how long a stored key lives in either backend; 0 keeps keys forever
	TTLHours    int         `yaml:"ttl_hours"`
	Redis       RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	VideoDir       string   `yaml:"video_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type CacheWarmerConfig struct {
	Schedule     string           `yaml:"schedule"`
	Videos       []string         `yaml:"videos"`
	Personas     []models.Persona `yaml:"personas"`
	DelaySeconds int              `yaml:"delay_seconds"`
	SendReport   bool             `yaml:"send_report"`
}

type EmailConfig struct {
	SMTPServer string `yaml:"smtp_server"`
	SMTPPort   int    `yaml:"smtp_port"`
	Username   string `yaml:"username" env:"EMAIL_USERNAME"`
	Password   string `yaml:"password" env:"EMAIL_PASSWORD"`
	FromEmail  string `yaml:"from_email"`
	ToEmail    string `yaml:"to_email"`
}

type MonitoringConfig struct {
	HealthPort int `yaml:"health_port"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	configFile := os.Getenv("CONFIG_FILE")
	explicit := configFile != ""
	if !explicit {
		configFile = "config.yaml"
	}

	cfg, err := LoadFile(configFile)
	if err != nil {
		// The default config file is optional; defaults and env are enough for a local demo
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg = newConfig()
			cfg.applyEnv()
			cfg.applyDefaults()
			if err := cfg.validate(); err != nil {
				return nil, fmt.Errorf("config validation failed: %w", err)
			}
			return cfg, nil
		}
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads a YAML config, applies env fallbacks and defaults, and validates it.
func LoadFile(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// newConfig presets defaults where zero is a meaningful setting, so the YAML
// decoder only overrides them when the key is present.
func newConfig() *Config {
	return &Config{
		Player: PlayerConfig{SkipCountdownSeconds: 5},
	}
}

func (c *Config) applyEnv() {
	if c.AI.GeminiAPIKey == "" {
		c.AI.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Catalog.YouTubeAPIKey == "" {
		c.Catalog.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")
	}
	if c.Storage.Redis.Password == "" {
		c.Storage.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if c.Email.Username == "" {
		c.Email.Username = os.Getenv("EMAIL_USERNAME")
	}
	if c.Email.Password == "" {
		c.Email.Password = os.Getenv("EMAIL_PASSWORD")
	}
}

func (c *Config) applyDefaults() {
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-flash"
	}
	if c.AI.PollIntervalSeconds <= 0 {
		c.AI.PollIntervalSeconds = 5
	}
	if c.AI.PollTimeoutSeconds <= 0 {
		c.AI.PollTimeoutSeconds = 300
	}
	if c.AI.PollMaxAttempts <= 0 {
		c.AI.PollMaxAttempts = 60
	}

	if c.Player.DefaultWindowSeconds <= 0 {
		c.Player.DefaultWindowSeconds = 30
	}
	if c.Player.JumpLeadSeconds == 0 {
		c.Player.JumpLeadSeconds = 3
	}

	if c.Acquisition.Mode == "" {
		c.Acquisition.Mode = ModeCatalog
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.CachePrefix == "" {
		c.Storage.CachePrefix = DefaultCachePrefix
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.VideoDir == "" {
		c.Server.VideoDir = "videos"
	}

	if c.CacheWarmer.Schedule == "" {
		c.CacheWarmer.Schedule = "0 0 3 * * *" // Daily at 3 AM
	}
	if c.CacheWarmer.DelaySeconds == 0 {
		c.CacheWarmer.DelaySeconds = 2
	}

	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	switch c.Acquisition.Mode {
	case ModeCatalog, ModeGenerative:
	default:
		return fmt.Errorf("acquisition mode must be %q or %q, got %q", ModeCatalog, ModeGenerative, c.Acquisition.Mode)
	}
	switch c.Storage.Backend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("storage backend must be %q or %q, got %q", BackendFile, BackendRedis, c.Storage.Backend)
	}
	if c.Player.SkipCountdownSeconds < 0 || c.Player.InlineSkipCountdownSeconds < 0 {
		return fmt.Errorf("skip countdown cannot be negative")
	}
	if c.Player.JumpLeadSeconds < 0 {
		return fmt.Errorf("jump lead cannot be negative")
	}
	if c.Storage.TTLHours < 0 {
		return fmt.Errorf("storage ttl cannot be negative")
	}
	if !strings.HasSuffix(c.Storage.CachePrefix, "_") {
		return fmt.Errorf("cache prefix %q must end with an underscore", c.Storage.CachePrefix)
	}
	return nil
}

// ValidatePlayerServer checks settings the player server needs. The Gemini key
// is not required here: the viewer can supply it over the socket.
func (c *Config) ValidatePlayerServer() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required (server.addr)")
	}
	if c.Catalog.VerifyWithYouTube && c.Catalog.YouTubeAPIKey == "" {
		return fmt.Errorf("YouTube API key is required for catalog verification (set YOUTUBE_API_KEY or catalog.youtube_api_key)")
	}
	return nil
}

// ValidateCacheWarmer checks settings the scheduled cache warmer needs.
func (c *Config) ValidateCacheWarmer() error {
	if c.AI.GeminiAPIKey == "" {
		return fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or ai.gemini_api_key)")
	}
	if len(c.CacheWarmer.Videos) == 0 {
		return fmt.Errorf("at least one video is required (cache_warmer.videos)")
	}
	if len(c.CacheWarmer.Personas) == 0 {
		return fmt.Errorf("at least one persona is required (cache_warmer.personas)")
	}
	for i, p := range c.CacheWarmer.Personas {
		if p.Name == "" {
			return fmt.Errorf("persona %d has no name", i)
		}
	}
	if c.Catalog.VerifyWithYouTube && c.Catalog.YouTubeAPIKey == "" {
		return fmt.Errorf("YouTube API key is required for catalog verification (set YOUTUBE_API_KEY or catalog.youtube_api_key)")
	}
	if c.CacheWarmer.SendReport {
		if c.Email.Username == "" {
			return fmt.Errorf("Email username is required (set EMAIL_USERNAME or email.username)")
		}
		if c.Email.Password == "" {
			return fmt.Errorf("Email password is required (set EMAIL_PASSWORD or email.password)")
		}
		if c.Email.SMTPServer == "" || c.Email.ToEmail == "" {
			return fmt.Errorf("email.smtp_server and email.to_email are required to send reports")
		}
	}
	return nil
}
