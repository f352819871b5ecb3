package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// envPrefix is the prefix for configuration environment variables, so
// server.port becomes CONJURE_SERVER_PORT.
const envPrefix = "CONJURE"

// Load reads configuration from an optional config.yaml in the working
// directory and from environment variables, with the environment taking
// precedence. Returns a populated, validated Config or an error describing
// what is missing or out of bounds.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, the environment can carry
		// everything. Any other read error is real.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers a default for every key. Secrets and connection
// URLs default to empty strings so AutomaticEnv picks them up; validation
// rejects them if they stay empty where required.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.queue_key", "conjure:tasks:ready")
	v.SetDefault("redis.dequeue_timeout", "5s")
	v.SetDefault("redis.connect_attempts", 3)
	v.SetDefault("redis.connect_backoff", "500ms")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.request_timeout", "60s")
	v.SetDefault("llm.mock_failure_rate", 0.0)
	v.SetDefault("llm.mock_latency", "50ms")

	v.SetDefault("scheduler.poll_interval", "2s")
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.backoff_min", "1s")
	v.SetDefault("scheduler.backoff_max", "15s")
	v.SetDefault("scheduler.reconcile_interval", "1m")
	v.SetDefault("scheduler.ready_grace_period", "30s")
	v.SetDefault("scheduler.executing_warn_after", "10m")

	v.SetDefault("worker.concurrency", 2)

	v.SetDefault("task.default_max_attempts", 3)
}
