package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"playground-engine/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Engine    EngineConfig
	Docker    DockerConfig
	History   HistoryConfig
	Sessions  SessionConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// EngineConfig tunes the execution engine. Zero timeouts keep the
// per-language defaults from the language registry.
type EngineConfig struct {
	TeardownGrace          time.Duration `envconfig:"ENGINE_TEARDOWN_GRACE" default:"2s"`
	PythonSimulatedDelay   time.Duration `envconfig:"ENGINE_PYTHON_SIMULATED_DELAY" default:"1s"`
	SQLSimulatedDelay      time.Duration `envconfig:"ENGINE_SQL_SIMULATED_DELAY" default:"800ms"`
	JavaScriptTimeout      time.Duration `envconfig:"ENGINE_JAVASCRIPT_TIMEOUT"`
	PythonTimeout          time.Duration `envconfig:"ENGINE_PYTHON_TIMEOUT"`
	SQLTimeout             time.Duration `envconfig:"ENGINE_SQL_TIMEOUT"`
	LuaTimeout             time.Duration `envconfig:"ENGINE_LUA_TIMEOUT"`
	JavaScriptCallStackMax int           `envconfig:"ENGINE_JS_CALL_STACK_MAX" default:"1024"`
}

// DockerConfig enables the container boundary.
type DockerConfig struct {
	Enabled     bool   `envconfig:"DOCKER_ENABLED" default:"false"`
	PythonImage string `envconfig:"DOCKER_PYTHON_IMAGE" default:"python:3.12-alpine"`
	CPPImage    string `envconfig:"DOCKER_CPP_IMAGE" default:"gcc:latest"`
	JavaImage   string `envconfig:"DOCKER_JAVA_IMAGE" default:"eclipse-temurin:21-jdk-alpine"`
	Preload     bool   `envconfig:"DOCKER_PRELOAD" default:"true"`
	PidsLimit   int64  `envconfig:"DOCKER_PIDS_LIMIT" default:"32"`
	NanoCPUs    int64  `envconfig:"DOCKER_NANO_CPUS" default:"500000000"`
}

// HistoryConfig controls persistence of execution summaries.
type HistoryConfig struct {
	Enabled bool   `envconfig:"HISTORY_ENABLED" default:"true"`
	DBPath  string `envconfig:"HISTORY_DB_PATH" default:"playground.db"`
	Limit   int    `envconfig:"HISTORY_LIMIT" default:"50"`
}

// SessionConfig bounds the number and lifetime of playground sessions.
type SessionConfig struct {
	IdleTTL time.Duration `envconfig:"SESSION_IDLE_TTL" default:"10m"`
	Max     int           `envconfig:"SESSION_MAX" default:"64"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"10"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"20"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Engine: EngineConfig{
			TeardownGrace:          2 * time.Second,
			PythonSimulatedDelay:   time.Second,
			SQLSimulatedDelay:      800 * time.Millisecond,
			JavaScriptCallStackMax: 1024,
		},
		Docker: DockerConfig{
			Enabled:     false,
			PythonImage: "python:3.12-alpine",
			CPPImage:    "gcc:latest",
			JavaImage:   "eclipse-temurin:21-jdk-alpine",
			Preload:     true,
			PidsLimit:   32,
			NanoCPUs:    500_000_000,
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "playground.db",
			Limit:   50,
		},
		Sessions: SessionConfig{
			IdleTTL: 10 * time.Minute,
			Max:     64,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			Enabled:           true,
		},
	}
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}
