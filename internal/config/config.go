package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is shared by both binaries; each reads the fields it needs.
type Config struct {
	Port               string
	RelayPort          string
	DatabaseURL        string
	RedisAddr          string
	RedisChannel       string
	OperatorKey        string
	AdminKey           string
	PollInterval       time.Duration
	BatchSize          int
	RateLimitPerMinute int
	RateLimitBurst     int
	LogLevel           string
}

// Load reads configuration from the environment. Every knob has a
// development default except the API keys, which must be set for the
// protected endpoints to be reachable at all.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("RELAY_PORT", "8081")
	v.SetDefault("DB_DSN", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_CHANNEL", "queue.changes")
	v.SetDefault("OPERATOR_KEY", "")
	v.SetDefault("ADMIN_KEY", "")
	v.SetDefault("POLL_SECONDS", 1)
	v.SetDefault("BATCH_SIZE", 100)
	v.SetDefault("RATE_LIMIT_PER_MIN", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)
	v.SetDefault("LOG_LEVEL", "info")

	pollSeconds := v.GetInt("POLL_SECONDS")
	if pollSeconds <= 0 {
		pollSeconds = 1
	}

	return Config{
		Port:               v.GetString("PORT"),
		RelayPort:          v.GetString("RELAY_PORT"),
		DatabaseURL:        v.GetString("DB_DSN"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisChannel:       v.GetString("REDIS_CHANNEL"),
		OperatorKey:        v.GetString("OPERATOR_KEY"),
		AdminKey:           v.GetString("ADMIN_KEY"),
		PollInterval:       time.Duration(pollSeconds) * time.Second,
		BatchSize:          v.GetInt("BATCH_SIZE"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MIN"),
		RateLimitBurst:     v.GetInt("RATE_LIMIT_BURST"),
		LogLevel:           v.GetString("LOG_LEVEL"),
	}
}
