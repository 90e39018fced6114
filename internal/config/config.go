// Package config loads meowgent configuration from an optional YAML file
// layered under environment variables. Environment always wins, so a bare
// deployment can run from a .env file alone.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither file nor environment provide a value.
const (
	DefaultHistoryLength     = 10
	DefaultMaxRetries        = 3
	DefaultRandomReplyChance = 36
	DefaultFollowUpTimeout   = 180 * time.Second
	DefaultMaxTokens         = 1024
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultAnthropicModel    = "claude-sonnet-4-20250514"
	DefaultVoiceChannel      = "general"
	DefaultVoiceJoinMessage  = "{name}が{channel}に入ったにゃ！"
	DefaultVoiceLeaveMessage = "{name}が{channel}からきえてくにゃ・・・"
)

// LLMConfig selects and configures the chat model backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "openai" or "anthropic"
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float32 `yaml:"temperature"`
}

// DiscordConfig configures the Discord gateway adapter.
type DiscordConfig struct {
	Token                string        `yaml:"token"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
	RateLimit            float64       `yaml:"rate_limit"`
	RateBurst            int           `yaml:"rate_burst"`
}

// VoiceConfig configures voice channel join/leave announcements.
type VoiceConfig struct {
	Enabled             bool   `yaml:"enabled"`
	JoinMessage         string `yaml:"join_message"`
	LeaveMessage        string `yaml:"leave_message"`
	NotificationChannel string `yaml:"notification_channel"`
}

// CronJobConfig defines a recurring scheduled job that injects a prompt
// into the agent for a channel.
type CronJobConfig struct {
	ID       string `yaml:"id"`
	Schedule string `yaml:"schedule"` // cron expression, "every:<duration>" or "at:<RFC3339>"
	Channel  string `yaml:"channel"`
	Prompt   string `yaml:"prompt"`
	Enabled  bool   `yaml:"enabled"`
}

// Config is the root configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	SystemPrompt string `yaml:"system_prompt"`

	HistoryLength     int           `yaml:"history_length"`
	MaxRetries        int           `yaml:"max_retries"`
	RandomReplyChance int           `yaml:"random_reply_chance"`
	FollowUpTimeout   time.Duration `yaml:"follow_up_timeout"`

	LLM     LLMConfig       `yaml:"llm"`
	Discord DiscordConfig   `yaml:"discord"`
	Voice   VoiceConfig     `yaml:"voice"`
	Jobs    []CronJobConfig `yaml:"jobs"`

	SearXNGURL string `yaml:"searxng_url"`
}

// Load reads the YAML file at path (when non-empty), expands environment
// references in it, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from the environment alone.
func FromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.SystemPrompt, "CHARACTER_PROMPT")

	setString(&c.Discord.Token, "DISCORD_BOT_TOKEN")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "anthropic":
		setString(&c.LLM.APIKey, "ANTHROPIC_API_KEY")
		setString(&c.LLM.Model, "ANTHROPIC_MODEL")
	default:
		setString(&c.LLM.APIKey, "OPEN_AI_API_KEY", "OPENAI_API_KEY")
		setString(&c.LLM.Model, "OPEN_AI_MODEL", "OPENAI_MODEL")
		setString(&c.LLM.BaseURL, "OPEN_AI_API_URL", "OPENAI_API_URL")
	}
	setInt(&c.LLM.MaxTokens, "OPEN_AI_MAX_TOKEN")
	setFloat32(&c.LLM.Temperature, "TEMPERATURE")

	setBool(&c.Voice.Enabled, "VOICE_NOTIFICATION_ENABLED")
	setString(&c.Voice.JoinMessage, "VOICE_JOIN_MESSAGE")
	setString(&c.Voice.LeaveMessage, "VOICE_LEAVE_MESSAGE")
	setString(&c.Voice.NotificationChannel, "VOICE_NOTIFICATION_CHANNEL")

	setString(&c.SearXNGURL, "SEARXNG_URL")
}

func (c *Config) applyDefaults() {
	if c.HistoryLength <= 0 {
		c.HistoryLength = DefaultHistoryLength
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RandomReplyChance <= 0 {
		c.RandomReplyChance = DefaultRandomReplyChance
	}
	if c.FollowUpTimeout <= 0 {
		c.FollowUpTimeout = DefaultFollowUpTimeout
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		if strings.EqualFold(c.LLM.Provider, "anthropic") {
			c.LLM.Model = DefaultAnthropicModel
		} else {
			c.LLM.Model = DefaultOpenAIModel
		}
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = DefaultMaxTokens
	}
	if c.Voice.JoinMessage == "" {
		c.Voice.JoinMessage = DefaultVoiceJoinMessage
	}
	if c.Voice.LeaveMessage == "" {
		c.Voice.LeaveMessage = DefaultVoiceLeaveMessage
	}
	if c.Voice.NotificationChannel == "" {
		c.Voice.NotificationChannel = DefaultVoiceChannel
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord token is required (DISCORD_BOT_TOKEN)")
	}
	switch strings.ToLower(strings.TrimSpace(c.LLM.Provider)) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm api key is required")
	}
	return nil
}

func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = v
			return
		}
	}
}

func setInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = n
	}
}

func setFloat32(dst *float32, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(v), 32); err == nil {
		*dst = float32(f)
	}
}

func setBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	*dst = strings.EqualFold(strings.TrimSpace(v), "true")
}
