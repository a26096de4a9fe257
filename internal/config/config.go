package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Engine   EngineConfig
	Admin    AdminConfig
	Redis    RedisConfig
	Metrics  MetricsConfig
	Auth     AuthConfig
	LogLevel string
}

// EngineConfig tunes the scheduler's own lifecycle behavior: deadlock
// detection, the watchdog's stall check, and which event bus the engine
// publishes lifecycle events to.
type EngineConfig struct {
	DeadlockGraceTimeout  time.Duration
	WatchdogTickRate      time.Duration
	PulseDeadlockDuration time.Duration
	EventBus              string // "local" or "redis"
}

type AdminConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

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

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/macrocore")

	setDefaults()

	viper.SetEnvPrefix("MACROCORE")
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
	// Engine defaults
	viper.SetDefault("engine.deadlockgracetimeout", 200*time.Millisecond)
	viper.SetDefault("engine.watchdogtickrate", 2*time.Second)
	viper.SetDefault("engine.pulsedeadlockduration", 5*time.Second)
	viper.SetDefault("engine.eventbus", "local")

	// Admin API defaults
	viper.SetDefault("admin.host", "0.0.0.0")
	viper.SetDefault("admin.port", 8080)
	viper.SetDefault("admin.readtimeout", 30*time.Second)
	viper.SetDefault("admin.writetimeout", 30*time.Second)
	viper.SetDefault("admin.idletimeout", 120*time.Second)
	viper.SetDefault("admin.ratelimitrps", 1000)

	// Redis defaults (event bus only, when engine.eventbus is "redis")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Auth defaults
	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	// Logging defaults
	viper.SetDefault("loglevel", "info")
}
