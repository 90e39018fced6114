package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("OPEN_AI_API_KEY", "sk-test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.HistoryLength != DefaultHistoryLength {
		t.Errorf("HistoryLength = %d", cfg.HistoryLength)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d", cfg.MaxRetries)
	}
	if cfg.RandomReplyChance != DefaultRandomReplyChance {
		t.Errorf("RandomReplyChance = %d", cfg.RandomReplyChance)
	}
	if cfg.FollowUpTimeout != DefaultFollowUpTimeout {
		t.Errorf("FollowUpTimeout = %s", cfg.FollowUpTimeout)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != DefaultOpenAIModel {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.MaxTokens != DefaultMaxTokens {
		t.Errorf("MaxTokens = %d", cfg.LLM.MaxTokens)
	}
	if cfg.Voice.NotificationChannel != DefaultVoiceChannel {
		t.Errorf("NotificationChannel = %q", cfg.Voice.NotificationChannel)
	}
	if cfg.Voice.JoinMessage != DefaultVoiceJoinMessage || cfg.Voice.LeaveMessage != DefaultVoiceLeaveMessage {
		t.Errorf("voice messages = %+v", cfg.Voice)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("TEST_BOT_TOKEN", "file-token")
	t.Setenv("OPEN_AI_API_KEY", "sk-test")

	path := writeConfigFile(t, `
log_level: debug
system_prompt: "you are a cat"
history_length: 20
random_reply_chance: 10
llm:
  provider: openai
  model: gpt-4o
discord:
  token: ${TEST_BOT_TOKEN}
voice:
  enabled: true
  notification_channel: lounge
jobs:
  - id: morning
    schedule: "0 9 * * *"
    channel: chan-1
    prompt: "say good morning"
    enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.SystemPrompt != "you are a cat" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Discord.Token != "file-token" {
		t.Errorf("Token = %q, want env reference expanded", cfg.Discord.Token)
	}
	if cfg.HistoryLength != 20 || cfg.RandomReplyChance != 10 {
		t.Errorf("HistoryLength = %d, RandomReplyChance = %d", cfg.HistoryLength, cfg.RandomReplyChance)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
	if !cfg.Voice.Enabled || cfg.Voice.NotificationChannel != "lounge" {
		t.Errorf("Voice = %+v", cfg.Voice)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Schedule != "0 9 * * *" || !cfg.Jobs[0].Enabled {
		t.Errorf("Jobs = %+v", cfg.Jobs)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "env-token")
	t.Setenv("OPEN_AI_API_KEY", "sk-test")
	t.Setenv("OPEN_AI_MODEL", "gpt-4o-mini")
	t.Setenv("TEMPERATURE", "0.7")

	path := writeConfigFile(t, `
llm:
  model: gpt-4o
discord:
  token: file-token
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("Token = %q, want env to win", cfg.Discord.Token)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want env to win", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("Temperature = %v", cfg.LLM.Temperature)
	}
}

func TestAnthropicProviderEnv(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "ak-test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.APIKey != "ak-test" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.Model != DefaultAnthropicModel {
		t.Errorf("Model = %q", cfg.LLM.Model)
	}
}

func TestOpenAIKeyEnvFallback(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "test-token")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.LLM.APIKey != "sk-fallback" {
		t.Errorf("APIKey = %q", cfg.LLM.APIKey)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing token",
			cfg:  Config{LLM: LLMConfig{Provider: "openai", APIKey: "k"}},
			want: "discord token",
		},
		{
			name: "bad provider",
			cfg: Config{
				Discord: DiscordConfig{Token: "t"},
				LLM:     LLMConfig{Provider: "cohere", APIKey: "k"},
			},
			want: "unsupported llm provider",
		},
		{
			name: "missing api key",
			cfg: Config{
				Discord: DiscordConfig{Token: "t"},
				LLM:     LLMConfig{Provider: "openai"},
			},
			want: "api key",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error")
	}
}

func TestFollowUpTimeoutDefault(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "t")
	t.Setenv("OPEN_AI_API_KEY", "k")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.FollowUpTimeout != 180*time.Second {
		t.Errorf("FollowUpTimeout = %s", cfg.FollowUpTimeout)
	}
}
