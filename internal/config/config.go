package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"  validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis"     validate:"required"`
	LLM       LLMConfig       `mapstructure:"llm"       validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Task      TaskConfig      `mapstructure:"task"      validate:"required"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// RedisConfig contains the connection and queue settings for the dispatch
// queue. QueueKey is the Redis list that carries ready-task signals.
type RedisConfig struct {
	URL             string        `mapstructure:"url"              validate:"required,url"`
	QueueKey        string        `mapstructure:"queue_key"        validate:"required"`
	DequeueTimeout  time.Duration `mapstructure:"dequeue_timeout"  validate:"required"`
	ConnectAttempts int           `mapstructure:"connect_attempts" validate:"required,gte=1"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"  validate:"required"`
}

// LLMConfig contains all generative model integration settings.
// Provider selects the backing implementation: "gemini" for the real API,
// "mock" for deterministic local generation.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"        validate:"required,oneof=gemini mock"`
	GeminiAPIKey   string        `mapstructure:"gemini_api_key"  validate:"required_if=Provider gemini"`
	ModelName      string        `mapstructure:"model_name"      validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`

	// MockFailureRate makes the mock provider fail that fraction of calls,
	// which exercises the retry machinery end to end in development.
	MockFailureRate float64 `mapstructure:"mock_failure_rate" validate:"gte=0,lte=1"`
	// MockLatency is the artificial delay the mock provider sleeps per call.
	MockLatency time.Duration `mapstructure:"mock_latency"`
}

// SchedulerConfig tunes the scheduler loop and the reconciliation sweep.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
	BatchSize    int           `mapstructure:"batch_size"    validate:"required,gte=1"`

	// BackoffMin and BackoffMax bound the exponential backoff applied when
	// the store is unreachable. The delay doubles per consecutive failure.
	BackoffMin time.Duration `mapstructure:"backoff_min" validate:"required"`
	BackoffMax time.Duration `mapstructure:"backoff_max" validate:"required"`

	// ReconcileInterval is how often the sweep re-signals stale ready tasks
	// and reports stale executing ones.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"required"`
	// ReadyGracePeriod is how long a ready task may sit untouched before
	// the sweep assumes its dispatch signal was lost.
	ReadyGracePeriod time.Duration `mapstructure:"ready_grace_period" validate:"required"`
	// ExecutingWarnAfter is how long a task may stay executing before the
	// sweep logs a warning about it. No automatic recovery is applied.
	ExecutingWarnAfter time.Duration `mapstructure:"executing_warn_after" validate:"required"`
}

// WorkerConfig tunes the worker process.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"required,gte=1"`
}

// TaskConfig carries task creation defaults.
type TaskConfig struct {
	DefaultMaxAttempts int `mapstructure:"default_max_attempts" validate:"required,gte=1,lte=20"`
}
