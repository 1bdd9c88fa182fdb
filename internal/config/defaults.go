package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	// Log defaults
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	// Telegram defaults
	DefaultTelegramEnabled          = true
	DefaultTelegramMaxMessageLength = 4096 // Telegram's maximum message length
	DefaultTelegramTypingTimeout    = 3 * time.Second

	// Web defaults
	DefaultWebEnabled         = true
	DefaultWebAddr            = ":8000"
	DefaultWebRateLimitRPS    = 1.0
	DefaultWebRateLimitBurst  = 5
	DefaultWebShutdownTimeout = 10 * time.Second

	// LLM defaults
	DefaultLLMProvider         = "openai"
	DefaultLLMBaseURL          = "https://openrouter.ai/api/v1"
	DefaultLLMModel            = "openai/gpt-oss-20b:free"
	DefaultLLMTemperature      = 0.7
	DefaultLLMMaxTokens        = 1000
	DefaultLLMTimeout          = 30 * time.Second
	DefaultLLMSystemPrompt     = "Ты полезный AI ассистент. Отвечай кратко и по делу."
	DefaultBreakerMaxFailures  = 5
	DefaultBreakerOpenDuration = 30 * time.Second

	// Database defaults
	DefaultDBURL              = "storage.db" // SQLite file when no postgres DSN is given
	DefaultDBMinConns         = 2
	DefaultDBMaxConns         = 10
	DefaultDBCommandTimeout   = 30 * time.Second
	DefaultDBConnectAttempts  = 5
	DefaultMaxHistoryMessages = 10

	// Redis defaults
	DefaultRedisKeyPrefix = "aidd"

	// Scheduler defaults
	DefaultSQLMaintenanceSchedule = "0 0 3 * * *"
)

// DefaultMessages are the fixed Telegram texts.
var DefaultMessages = MessagesConfig{
	Welcome: "👋 Привет! Я AI ассистент на базе LLM.\n\n" +
		"Я могу помочь тебе с:\n" +
		"• Ответами на вопросы\n" +
		"• Генерацией идей\n" +
		"• Объяснением сложных тем\n" +
		"• Поддержкой в диалоге\n\n" +
		"Просто напиши мне что-нибудь, и я отвечу!\n\n" +
		"Используй /help чтобы узнать доступные команды.",
	Help: "📋 Доступные команды:\n\n" +
		"/start - Показать приветственное сообщение\n" +
		"/help - Показать это сообщение\n" +
		"/clear - Очистить историю диалога\n\n" +
		"💬 Просто отправь мне текстовое сообщение, и я отвечу!",
	HistoryCleared: "✅ История диалога очищена. Начнём с чистого листа!",
	GeneralError:   "Извините, произошла ошибка. Попробуйте еще раз.",
}

// setDefaults sets default values for optional configuration parameters
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	// Telegram defaults
	v.SetDefault("telegram.enabled", DefaultTelegramEnabled)
	v.SetDefault("telegram.max_message_length", DefaultTelegramMaxMessageLength)
	v.SetDefault("telegram.typing_timeout", DefaultTelegramTypingTimeout)

	// Web defaults
	v.SetDefault("web.enabled", DefaultWebEnabled)
	v.SetDefault("web.addr", DefaultWebAddr)
	v.SetDefault("web.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("web.rate_limit_rps", DefaultWebRateLimitRPS)
	v.SetDefault("web.rate_limit_burst", DefaultWebRateLimitBurst)
	v.SetDefault("web.shutdown_timeout", DefaultWebShutdownTimeout)

	// LLM defaults
	v.SetDefault("llm.provider", DefaultLLMProvider)
	v.SetDefault("llm.base_url", DefaultLLMBaseURL)
	v.SetDefault("llm.model", DefaultLLMModel)
	v.SetDefault("llm.temperature", DefaultLLMTemperature)
	v.SetDefault("llm.max_tokens", DefaultLLMMaxTokens)
	v.SetDefault("llm.timeout", DefaultLLMTimeout)
	v.SetDefault("llm.system_prompt", DefaultLLMSystemPrompt)
	v.SetDefault("llm.breaker.max_failures", DefaultBreakerMaxFailures)
	v.SetDefault("llm.breaker.open_timeout", DefaultBreakerOpenDuration)

	// Database defaults
	v.SetDefault("database.url", DefaultDBURL)
	v.SetDefault("database.min_conns", DefaultDBMinConns)
	v.SetDefault("database.max_conns", DefaultDBMaxConns)
	v.SetDefault("database.command_timeout", DefaultDBCommandTimeout)
	v.SetDefault("database.connect_attempts", DefaultDBConnectAttempts)
	v.SetDefault("database.max_history_messages", DefaultMaxHistoryMessages)

	// Redis defaults
	v.SetDefault("redis.key_prefix", DefaultRedisKeyPrefix)

	// Scheduler defaults
	v.SetDefault("scheduler.tasks", map[string]any{
		"sql_maintenance": map[string]any{
			"enabled":  true,
			"schedule": DefaultSQLMaintenanceSchedule,
		},
	})

	// Message defaults
	v.SetDefault("messages.welcome", DefaultMessages.Welcome)
	v.SetDefault("messages.help", DefaultMessages.Help)
	v.SetDefault("messages.history_cleared", DefaultMessages.HistoryCleared)
	v.SetDefault("messages.general_error", DefaultMessages.GeneralError)
}
