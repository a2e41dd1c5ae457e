package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Live     LiveConfig     `mapstructure:"live"`
	Search   SearchConfig   `mapstructure:"search"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// StoreConfig selects the persistence backend: postgres, sqlite or memory.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	KeyPrefix   string        `mapstructure:"key_prefix"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MongoConfig configures the conversation turn archive. Empty URI disables it.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// LiveConfig configures realtime sessions against the Gemini Live API.
type LiveConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	Model                string        `mapstructure:"model"`
	Endpoint             string        `mapstructure:"endpoint"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay"`
	InitCooldown         time.Duration `mapstructure:"init_cooldown"`
	InactivityTimeout    time.Duration `mapstructure:"inactivity_timeout"`
	SweepSchedule        string        `mapstructure:"sweep_schedule"`
	DefaultProfile       string        `mapstructure:"default_profile"`
	DefaultLanguage      string        `mapstructure:"default_language"`
	ProbeModel           string        `mapstructure:"probe_model"`
}

type SearchConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	SuggestionModel string        `mapstructure:"suggestion_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxQueryLength  int           `mapstructure:"max_query_length"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Temperature     float32       `mapstructure:"temperature"`
	RecencyFilter   string        `mapstructure:"recency_filter"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// QuotaConfig holds per-plan limits keyed by lower-case plan name.
type QuotaConfig struct {
	Window           time.Duration         `mapstructure:"window"`
	HistoryRetention time.Duration         `mapstructure:"history_retention"`
	Plans            map[string]PlanLimits `mapstructure:"plans"`
}

type PlanLimits struct {
	InteractionsPerMonth int64 `mapstructure:"interactions_per_month"`
	AudioMinutesPerMonth int64 `mapstructure:"audio_minutes_per_month"`
	SearchesPerMonth     int64 `mapstructure:"searches_per_month"`
	TokensPerMinute      int64 `mapstructure:"tokens_per_minute"`
	RequestsPerMinute    int64 `mapstructure:"requests_per_minute"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as a path error
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.allow_origins", []string{"*"})

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "liveassist")
	v.SetDefault("database.database", "liveassist")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.health_check_period", "1m")

	// Store
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "./data/liveassist.db")

	// Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "liveassist:")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.dial_timeout", "5s")

	// Mongo
	v.SetDefault("mongo.database", "liveassist")
	v.SetDefault("mongo.collection", "conversation_turns")
	v.SetDefault("mongo.connect_timeout", "10s")

	// Auth
	v.SetDefault("auth.access_token_ttl", "15m")
	v.SetDefault("auth.refresh_token_ttl", "168h") // 7 days

	// Live sessions
	v.SetDefault("live.model", "gemini-live-2.5-flash-preview")
	v.SetDefault("live.endpoint", "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent")
	v.SetDefault("live.handshake_timeout", "15s")
	v.SetDefault("live.max_reconnect_attempts", 3)
	v.SetDefault("live.reconnect_base_delay", "2s")
	v.SetDefault("live.init_cooldown", "5s")
	v.SetDefault("live.inactivity_timeout", "30m")
	v.SetDefault("live.sweep_schedule", "@every 1m")
	v.SetDefault("live.default_profile", "interview")
	v.SetDefault("live.default_language", "en-US")
	v.SetDefault("live.probe_model", "gemini-1.5-flash")

	// Search
	v.SetDefault("search.base_url", "https://api.perplexity.ai")
	v.SetDefault("search.model", "sonar")
	v.SetDefault("search.suggestion_model", "sonar")
	v.SetDefault("search.timeout", "30s")
	v.SetDefault("search.max_query_length", 2000)
	v.SetDefault("search.max_tokens", 4000)
	v.SetDefault("search.temperature", 0.2)
	v.SetDefault("search.recency_filter", "month")
	v.SetDefault("search.cache_ttl", "10m")

	// Quota
	v.SetDefault("quota.window", "1m")
	v.SetDefault("quota.history_retention", "2160h") // 90 days
	setPlanDefaults(v, "free", PlanLimits{10, 20, 0, 1000, 10})
	setPlanDefaults(v, "basic", PlanLimits{100, 200, 50, 5000, 50})
	setPlanDefaults(v, "pro", PlanLimits{900, 600, 100, 10000, 100})

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func setPlanDefaults(v *viper.Viper, plan string, l PlanLimits) {
	prefix := "quota.plans." + plan + "."
	v.SetDefault(prefix+"interactions_per_month", l.InteractionsPerMonth)
	v.SetDefault(prefix+"audio_minutes_per_month", l.AudioMinutesPerMonth)
	v.SetDefault(prefix+"searches_per_month", l.SearchesPerMonth)
	v.SetDefault(prefix+"tokens_per_minute", l.TokensPerMinute)
	v.SetDefault(prefix+"requests_per_minute", l.RequestsPerMinute)
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Mongo
	v.BindEnv("mongo.uri", "MONGO_URI")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Provider API keys
	v.BindEnv("live.api_key", "GEMINI_API_KEY")
	v.BindEnv("search.api_key", "PERPLEXITY_API_KEY")

	v.BindEnv("store.driver", "STORE_DRIVER")
}
