package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/gmail"
	"github.com/Veraticus/the-mail-must-flow/internal/llm"
	"github.com/Veraticus/the-mail-must-flow/internal/queue"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full application configuration.
type Config struct {
	Gmail    gmail.OAuth2Config
	Database DatabaseConfig
	Evals    EvalsConfig
	AMQP     AMQPConfig
	HTTP     HTTPConfig
	Logging  LoggingConfig
	LLM      llm.Config
	Redis    RedisConfig
	Engine   EngineConfig
}

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

// EvalsConfig locates the dataset of model decisions. An empty path disables recording.
type EvalsConfig struct {
	Path string
}

// AMQPConfig locates the broker. An empty URL disables the queue consumer.
type AMQPConfig struct {
	URL   string
	Queue string
}

// RedisConfig locates the dedup store. An empty address disables dedup.
type RedisConfig struct {
	queue.RedisConfig
	DedupTTL time.Duration
}

// HTTPConfig configures the webhook server.
type HTTPConfig struct {
	Addr   string
	APIKey string
}

// LoggingConfig sets the default logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// EngineConfig tunes bulk runs.
type EngineConfig struct {
	Workers int
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", filepath.Join("~", ".local", "share", "mailflow", "mailflow.db"))
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", time.Second)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("amqp.queue", "mailflow.messages")
	v.SetDefault("redis.dedup_ttl", 24*time.Hour)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("engine.workers", 4)
}

// Load reads every key from v. Provider API keys fall back to OPENAI_API_KEY and
// ANTHROPIC_API_KEY when the config leaves them empty.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("database.driver")),
			Path:   ExpandPath(v.GetString("database.path")),
			DSN:    v.GetString("database.dsn"),
		},
		LLM: llm.Config{
			Provider:    strings.ToLower(v.GetString("llm.provider")),
			Model:       v.GetString("llm.model"),
			BaseURL:     v.GetString("llm.base_url"),
			Temperature: v.GetFloat64("llm.temperature"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			MaxRetries:  v.GetInt("llm.max_retries"),
			RetryDelay:  v.GetDuration("llm.retry_delay"),
			Timeout:     v.GetDuration("llm.timeout"),
			RateLimit:   v.GetInt("llm.rate_limit"),
		},
		Evals: EvalsConfig{Path: ExpandPath(v.GetString("evals.path"))},
		Gmail: gmail.OAuth2Config{
			CredentialsFile: ExpandPath(v.GetString("gmail.credentials_file")),
			TokenFile:       ExpandPath(v.GetString("gmail.token_file")),
		},
		AMQP: AMQPConfig{
			URL:   v.GetString("amqp.url"),
			Queue: v.GetString("amqp.queue"),
		},
		Redis: RedisConfig{
			RedisConfig: queue.RedisConfig{
				Addr:     v.GetString("redis.addr"),
				Password: v.GetString("redis.password"),
				DB:       v.GetInt("redis.db"),
			},
			DedupTTL: v.GetDuration("redis.dedup_ttl"),
		},
		HTTP: HTTPConfig{
			Addr:   v.GetString("http.addr"),
			APIKey: v.GetString("http.api_key"),
		},
		Engine: EngineConfig{Workers: v.GetInt("engine.workers")},
	}

	switch cfg.LLM.Provider {
	case "openai":
		cfg.LLM.APIKey = firstNonEmpty(v.GetString("llm.openai_api_key"), os.Getenv("OPENAI_API_KEY"))
		if cfg.LLM.Model == "" {
			cfg.LLM.Model = "gpt-4o-mini"
		}
	case "anthropic":
		cfg.LLM.APIKey = firstNonEmpty(v.GetString("llm.anthropic_api_key"), os.Getenv("ANTHROPIC_API_KEY"))
		if cfg.LLM.Model == "" {
			cfg.LLM.Model = "claude-3-5-haiku-latest"
		}
	default:
		return nil, fmt.Errorf("%w: unsupported llm.provider %q", common.ErrInvalidConfig, cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and far from the config.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database.dsn", common.ErrMissingConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported database.driver %q", common.ErrInvalidConfig, c.Database.Driver)
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("%w: engine.workers must be at least 1", common.ErrInvalidConfig)
	}
	if c.LLM.RateLimit < 0 || c.LLM.MaxRetries < 0 {
		return fmt.Errorf("%w: llm.rate_limit and llm.max_retries cannot be negative", common.ErrInvalidConfig)
	}
	switch c.Logging.Format {
	case "console", "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format %q", common.ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// GmailEnabled reports whether mailbox history lookups are configured.
func (c *Config) GmailEnabled() bool {
	return c.Gmail.CredentialsFile != ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
