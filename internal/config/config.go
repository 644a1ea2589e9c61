package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Backend BackendConfig `mapstructure:"backend"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Search  SearchConfig  `mapstructure:"search"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RemoteConfig addresses the remote session/message store.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BackendConfig selects and configures streaming chat backends.
type BackendConfig struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	HTTPSSE         HTTPSSEConfig `mapstructure:"httpsse"`
	Gemini          GeminiConfig  `mapstructure:"gemini"`
}

type HTTPSSEConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// CacheConfig selects the local cache backend.
type CacheConfig struct {
	Backend    string       `mapstructure:"backend"` // sqlite, redis, mongo
	Passphrase string       `mapstructure:"passphrase"`
	SQLite     SQLiteConfig `mapstructure:"sqlite"`
	Redis      RedisConfig  `mapstructure:"redis"`
	Mongo      MongoConfig  `mapstructure:"mongo"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SearchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	PageSize int           `mapstructure:"page_size"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and env vars
	}

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
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8745)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // streaming responses stay open
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Remote store
	v.SetDefault("remote.timeout", "15s")

	// Backends
	v.SetDefault("backend.default_provider", "httpsse")
	v.SetDefault("backend.httpsse.timeout", "120s")
	v.SetDefault("backend.gemini.model", "gemini-2.5-flash")

	// Cache
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.sqlite.path", "./data/converse-cache.db")
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("cache.mongo.database", "converse")

	// Search
	v.SetDefault("search.debounce", "300ms")
	v.SetDefault("search.page_size", 20)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age_days", 7)
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("remote.base_url", "REMOTE_BASE_URL")
	v.BindEnv("remote.token", "REMOTE_TOKEN")

	v.BindEnv("backend.httpsse.endpoint", "CHAT_STREAM_ENDPOINT")
	v.BindEnv("backend.httpsse.token", "CHAT_STREAM_TOKEN")
	v.BindEnv("backend.gemini.api_key", "GEMINI_API_KEY")

	v.BindEnv("cache.passphrase", "CACHE_PASSPHRASE")
	v.BindEnv("cache.redis.password", "REDIS_PASSWORD")
	v.BindEnv("cache.mongo.uri", "MONGO_URI")

	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
}
