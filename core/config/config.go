package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// VKConfig holds VK community API settings.
type VKConfig struct {
	Token string `yaml:"token" envconfig:"VK_TOKEN"`
	// Version selects the VK API version for every call.
	Version string `yaml:"version" envconfig:"VK_API_VERSION"`
	// Confirmation is the string echoed back to VK's callback confirmation request.
	Confirmation string `yaml:"confirmation" envconfig:"VK_CONFIRMATION"`
	GroupID      int64  `yaml:"group_id" envconfig:"VK_GROUP_ID"`
}

// BotConfig holds conversation-level settings.
type BotConfig struct {
	// RestartKeyword resets a conversation to the main menu when sent as plain text.
	RestartKeyword string `yaml:"restart_keyword" envconfig:"BOT_RESTART_KEYWORD"`
	// PageSize bounds paginated catalog listings shown in menus.
	PageSize int `yaml:"page_size" envconfig:"BOT_PAGE_SIZE"`
}

// WebhookConfig specifies the callback listener settings.
type WebhookConfig struct {
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// RateLimitConfig holds settings for per-peer inbound rate limiting.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
}

// RepublishConfig controls the scheduled republishing job.
type RepublishConfig struct {
	Enabled bool `yaml:"enabled" envconfig:"REPUBLISH_ENABLED"`
	// Schedule is a cron expression gating republish scans.
	Schedule string `yaml:"schedule" envconfig:"REPUBLISH_SCHEDULE"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// Config aggregates the full application configuration.
type Config struct {
	VK        VKConfig        `yaml:"vk"`
	Bot       BotConfig       `yaml:"bot"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Republish RepublishConfig `yaml:"republish"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.VK.Token == "" {
		return fmt.Errorf("vk.token is required")
	}
	if strings.TrimSpace(cfg.VK.Version) == "" {
		cfg.VK.Version = "5.103"
	}
	if strings.TrimSpace(cfg.VK.Confirmation) == "" {
		return fmt.Errorf("vk.confirmation is required")
	}

	if strings.TrimSpace(cfg.Bot.RestartKeyword) == "" {
		cfg.Bot.RestartKeyword = "restart"
	}
	if cfg.Bot.PageSize <= 0 {
		cfg.Bot.PageSize = 5
	}

	if strings.TrimSpace(cfg.Webhook.Listen) == "" {
		cfg.Webhook.Listen = "0.0.0.0"
	}
	if cfg.Webhook.Port <= 0 {
		return fmt.Errorf("webhook.port must be > 0")
	}

	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}

	if cfg.Republish.Enabled {
		sched := strings.TrimSpace(cfg.Republish.Schedule)
		if sched == "" {
			return fmt.Errorf("republish.schedule is required when republish.enabled is true")
		}
		if !gronx.New().IsValid(sched) {
			return fmt.Errorf("invalid republish.schedule cron expression %q", cfg.Republish.Schedule)
		}
		cfg.Republish.Schedule = sched
	}

	return nil
}
