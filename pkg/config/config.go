// Package config loads gateway configuration from an optional YAML file
// with environment variables taking precedence.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/pocketping/bridge-gateway/pkg/logger"
	"github.com/pocketping/bridge-gateway/pkg/uafilter"
)

// TelegramConfig enables the Telegram adapter when both fields are set.
type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN" yaml:"botToken"`
	ChatID   int64  `env:"TELEGRAM_CHAT_ID" yaml:"chatId"`
}

func (c TelegramConfig) Enabled() bool { return c.BotToken != "" && c.ChatID != 0 }

// DiscordConfig enables the Discord adapter when a token and channel are
// set. EnableGateway additionally opens the persistent socket for
// operator replies.
type DiscordConfig struct {
	BotToken      string `env:"DISCORD_BOT_TOKEN" yaml:"botToken"`
	ChannelID     string `env:"DISCORD_CHANNEL_ID" yaml:"channelId"`
	EnableGateway bool   `env:"DISCORD_ENABLE_GATEWAY" yaml:"enableGateway"`
	Username      string `env:"DISCORD_USERNAME" yaml:"username"`
	AvatarURL     string `env:"DISCORD_AVATAR_URL" yaml:"avatarUrl"`
}

func (c DiscordConfig) Enabled() bool { return c.BotToken != "" && c.ChannelID != "" }

// SlackConfig enables the Slack adapter when a token and channel are set.
type SlackConfig struct {
	BotToken  string `env:"SLACK_BOT_TOKEN" yaml:"botToken"`
	ChannelID string `env:"SLACK_CHANNEL_ID" yaml:"channelId"`
	Username  string `env:"SLACK_USERNAME" yaml:"username"`
	IconEmoji string `env:"SLACK_ICON_EMOJI" yaml:"iconEmoji"`
}

func (c SlackConfig) Enabled() bool { return c.BotToken != "" && c.ChannelID != "" }

// Config is the full gateway configuration.
type Config struct {
	Port   int    `env:"PORT" yaml:"port"`
	APIKey string `env:"API_KEY" yaml:"apiKey"`

	EventsWebhookURL    string `env:"EVENTS_WEBHOOK_URL" yaml:"eventsWebhookUrl"`
	EventsWebhookSecret string `env:"EVENTS_WEBHOOK_SECRET" yaml:"eventsWebhookSecret"`

	// DBPath enables the SQLite-backed bridge-id store when set.
	DBPath string `env:"BRIDGE_DB_PATH" yaml:"dbPath"`

	// TestBotIDs lists bot ids whose platform messages are processed
	// instead of dropped, for end-to-end testing against real channels.
	TestBotIDs []string `env:"BRIDGE_TEST_BOT_IDS" envSeparator:"," yaml:"testBotIds"`

	Telegram TelegramConfig  `yaml:"telegram"`
	Discord  DiscordConfig   `yaml:"discord"`
	Slack    SlackConfig     `yaml:"slack"`
	UAFilter uafilter.Config `yaml:"uaFilter"`
	Log      logger.Config   `yaml:"log"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 3001
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.UAFilter.Mode == "" {
		cfg.UAFilter.Mode = uafilter.ModeBlocklist
	}
}
