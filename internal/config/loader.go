package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

// envAliases binds keys that have no default to their APP_* variable and to
// the variable names used by existing deployments.
var envAliases = map[string][]string{
	"telegram.token":         {"APP_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"},
	"llm.api_key":            {"APP_LLM_API_KEY", "OPENROUTER_API_KEY"},
	"llm.system_prompt_path": {"APP_LLM_SYSTEM_PROMPT_PATH", "SYSTEM_PROMPT_PATH"},
	"database.url":           {"APP_DATABASE_URL", "DATABASE_URL"},
	"redis.addr":             {"APP_REDIS_ADDR", "REDIS_ADDR"},
	"redis.password":         {"APP_REDIS_PASSWORD", "REDIS_PASSWORD"},
}

// LoadConfig loads and validates configuration from:
// 1. Default values
// 2. the YAML file at path (optional)
// 3. a .env file in the working directory (optional)
// 4. APP_* environment variables
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperrors.NewConfigError("failed to load .env file", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("failed to bind env for %s", key), err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, apperrors.NewConfigError("failed to read config file", err)
			}
		} else if errors.Is(err, os.ErrNotExist) {
			slog.Info("Configuration file not found, using defaults and environment", "path", path)
		} else {
			return nil, apperrors.NewConfigError("failed to stat config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to parse config", err)
	}

	if err := cfg.loadSystemPrompt(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tags and the cross-section rules tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return apperrors.NewConfigError("invalid configuration", err)
	}
	if !c.Telegram.Enabled && !c.Web.Enabled {
		return apperrors.NewConfigError("invalid configuration", errors.New("at least one of telegram or web must be enabled"))
	}
	for name, task := range c.Scheduler.Tasks {
		if task.Enabled && strings.TrimSpace(task.Schedule) == "" {
			return apperrors.NewConfigError("invalid configuration", fmt.Errorf("scheduler task %q is enabled without a schedule", name))
		}
	}
	return nil
}

// loadSystemPrompt replaces the inline prompt with the file contents when a
// prompt path is configured.
func (c *Config) loadSystemPrompt() error {
	if c.LLM.SystemPromptPath == "" {
		c.LLM.SystemPrompt = strings.TrimSpace(c.LLM.SystemPrompt)
		return nil
	}
	data, err := os.ReadFile(c.LLM.SystemPromptPath)
	if err != nil {
		return apperrors.NewConfigError("failed to read system prompt file", err)
	}
	c.LLM.SystemPrompt = strings.TrimSpace(string(data))
	return nil
}
