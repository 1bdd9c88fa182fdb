// Package config manages application configuration from environment variables,
// an optional YAML file and default values.
package config

import "time"

// Config defines the application configuration. Values can be set via
// environment variables prefixed with APP_ (e.g., APP_LLM_API_KEY) or
// through config.yaml.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Web       WebConfig       `mapstructure:"web"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LogConfig controls log level and output format.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Token            string        `mapstructure:"token"             validate:"required_if=Enabled true"`
	MaxMessageLength int           `mapstructure:"max_message_length" validate:"min=1,max=4096"`
	TypingTimeout    time.Duration `mapstructure:"typing_timeout"     validate:"min=100ms"`
}

// WebConfig configures the HTTP API. Rate limits apply per client IP;
// TrustedProxies lists the proxies whose forwarding headers are believed.
type WebConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"             validate:"required_if=Enabled true"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"  validate:"dive,cidr|ip"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"   validate:"gte=0"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// LLMConfig selects and tunes the language model backend.
type LLMConfig struct {
	Provider         string        `mapstructure:"provider"           validate:"required,oneof=openai gemini"`
	BaseURL          string        `mapstructure:"base_url"           validate:"omitempty,url"`
	APIKey           string        `mapstructure:"api_key"            validate:"required"`
	Model            string        `mapstructure:"model"              validate:"required"`
	Temperature      float32       `mapstructure:"temperature"        validate:"gte=0,lte=2"`
	MaxTokens        int           `mapstructure:"max_tokens"         validate:"min=1,max=1000000"`
	Timeout          time.Duration `mapstructure:"timeout"            validate:"min=1s,max=300s"`
	SystemPrompt     string        `mapstructure:"system_prompt"`
	SystemPromptPath string        `mapstructure:"system_prompt_path"`
	Breaker          BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the LLM backend.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures" validate:"min=1"`
	OpenTimeout time.Duration `mapstructure:"open_timeout" validate:"min=1s"`
}

// DatabaseConfig holds the connection pool settings. URL is either a
// postgres:// DSN or a SQLite file path.
type DatabaseConfig struct {
	URL                string        `mapstructure:"url"                  validate:"required"`
	MinConns           int           `mapstructure:"min_conns"            validate:"min=0"`
	MaxConns           int           `mapstructure:"max_conns"            validate:"min=1,gtefield=MinConns"`
	CommandTimeout     time.Duration `mapstructure:"command_timeout"      validate:"min=1s"`
	ConnectAttempts    uint          `mapstructure:"connect_attempts"     validate:"min=1"`
	MaxHistoryMessages int           `mapstructure:"max_history_messages" validate:"min=1,max=100"`
}

// RedisConfig enables the shared session backend when Addr is set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"         validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// SchedulerConfig lists the background tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables one task on a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MessagesConfig holds the fixed texts sent to Telegram users.
type MessagesConfig struct {
	Welcome        string `mapstructure:"welcome"         validate:"required"`
	Help           string `mapstructure:"help"            validate:"required"`
	HistoryCleared string `mapstructure:"history_cleared" validate:"required"`
	GeneralError   string `mapstructure:"general_error"   validate:"required"`
}
