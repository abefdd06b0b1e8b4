// Package config loads Labtasker's server configuration from a YAML file
// plus LABTASKER_-prefixed environment variables, the same viper-based
// layering the teacher's internal/config/config.go uses.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree for the server process.
type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Reaper   ReaperConfig
	Events   EventsConfig
	Auth     AuthConfig
	LogLevel string
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RedisConfig mirrors redisstore.Options field-for-field so it can be
// passed straight through at wiring time.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DispatchConfig tunes the dispatch engine, mirroring dispatch.Config.
type DispatchConfig struct {
	MaxCASAttempts int
	FetchScanLimit int
}

// ReaperConfig tunes the background sweep scheduler. Only SweepInterval
// is read; LockTTL is not, and the scheduler's reaper lock always uses a
// fixed 5-second TTL.
type ReaperConfig struct {
	SweepInterval time.Duration
	LockTTL       time.Duration
}

// EventsConfig tunes the in-process event bus. BufferSize is the capacity
// of a subscribe-events subscription that does not name its own;
// websocket subscriptions always use events.DefaultBufferSize.
type EventsConfig struct {
	BufferSize int
}

// AuthConfig guards the admin API surface (queue-scoped client operations
// are always authenticated with the queue's own shared secret regardless
// of this setting, per spec.md §6).
type AuthConfig struct {
	AdminEnabled   bool
	AdminJWTSecret string
}

// Load reads ./config.yaml (or /etc/labtasker/config.yaml) if present,
// then layers LABTASKER_-prefixed environment variables on top.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/labtasker")

	setDefaults()

	viper.SetEnvPrefix("LABTASKER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Suggested bounds from spec.md §5.
	viper.SetDefault("dispatch.maxcasattempts", 8)
	viper.SetDefault("dispatch.fetchscanlimit", 32)

	// spec.md §4.6: sweep interval should be at most half the minimum
	// heartbeat_timeout in use across tasks.
	viper.SetDefault("reaper.sweepinterval", 10*time.Second)
	viper.SetDefault("reaper.lockttl", 5*time.Second)

	viper.SetDefault("events.buffersize", 1024)

	viper.SetDefault("auth.adminenabled", false)
	viper.SetDefault("auth.adminjwtsecret", "")

	viper.SetDefault("loglevel", "info")
}
