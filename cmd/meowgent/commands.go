package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xsota/meowgent/internal/agent"
	"github.com/xsota/meowgent/internal/agent/providers"
	"github.com/xsota/meowgent/internal/bot"
	"github.com/xsota/meowgent/internal/chain"
	"github.com/xsota/meowgent/internal/channels/discord"
	"github.com/xsota/meowgent/internal/config"
	"github.com/xsota/meowgent/internal/history"
	"github.com/xsota/meowgent/internal/sched"
	"github.com/xsota/meowgent/internal/tools/clock"
	"github.com/xsota/meowgent/internal/tools/schedule"
	"github.com/xsota/meowgent/internal/tools/websearch"
)

const shutdownTimeout = 10 * time.Second

// buildServeCmd creates the "serve" command that runs the bot.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and start chatting",
		Long: `Start the bot with the configured Discord gateway and LLM provider.

The bot will:
1. Load configuration from the file, .env and environment
2. Connect to the Discord gateway
3. Register the agent tools (current_time, web_search, create_task)
4. Start the task scheduler with any configured jobs
5. Consume message and voice events until interrupted

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with environment configuration alone
  meowgent serve

  # Start with a config file
  meowgent serve --config /etc/meowgent/meowgent.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("MEOWGENT_CONFIG")
			}
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

func runServe(parent context.Context, configPath string, debug bool) error {
	// A local .env is optional; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := buildLogger(cfg.LogLevel, debug)
	slog.SetDefault(logger)

	gateway, err := discord.New(discord.Config{
		Token:                cfg.Discord.Token,
		MaxReconnectAttempts: cfg.Discord.MaxReconnectAttempts,
		ReconnectBackoff:     cfg.Discord.ReconnectBackoff,
		RateLimit:            cfg.Discord.RateLimit,
		RateBurst:            cfg.Discord.RateBurst,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("create discord gateway: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	registry := agent.NewRegistry()
	executor := agent.NewExecutor(registry, 0, logger)
	invoker := agent.NewInvoker(provider, registry, executor, agent.InvokerOptions{
		Model:       cfg.LLM.Model,
		System:      cfg.SystemPrompt,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		MaxRetries:  cfg.MaxRetries,
	}, logger)

	hist := history.New(cfg.HistoryLength,
		history.NewVoicePattern(cfg.Voice.JoinMessage, cfg.Voice.LeaveMessage), logger)

	locks := bot.NewKeyedLocks()
	follower := chain.New(gateway, invoker, hist, agent.SafeText, logger,
		chain.WithWaitTimeout(cfg.FollowUpTimeout),
		chain.WithBotReplyChance(cfg.RandomReplyChance),
		chain.WithLock(locks.Lock))

	// The scheduler and the bot reference each other: tasks run through
	// the bot, and the create_task tool feeds the scheduler.
	var b *bot.Bot
	scheduler := sched.New(func(ctx context.Context, channelID, prompt string) error {
		return b.RunScheduledPrompt(ctx, channelID, prompt)
	}, sched.WithLogger(logger))

	stamina := bot.NewStamina(bot.DefaultMaxStamina)

	b = bot.New(gateway, hist, invoker, follower, cfg.Voice,
		bot.WithLogger(logger),
		bot.WithRandomReplyChance(cfg.RandomReplyChance),
		bot.WithLocks(locks),
		bot.WithStamina(stamina))

	registry.Register(clock.New())
	registry.Register(websearch.New(websearch.Config{SearXNGURL: cfg.SearXNGURL}))
	registry.Register(schedule.New(scheduler))

	for _, job := range cfg.Jobs {
		if err := scheduler.AddJob(job); err != nil {
			return fmt.Errorf("add job %q: %w", job.ID, err)
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gateway.Start(ctx); err != nil {
		return fmt.Errorf("start discord gateway: %w", err)
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// The presence line doubles as a stamina gauge.
	stamina.AddListener(func(current, max int) {
		bar := bot.RenderStaminaBar(current, max, 10)
		if err := gateway.SetPresence(ctx, bar); err != nil {
			logger.Debug("presence update failed", "error", err)
		}
	})
	stamina.StartRecovery(ctx, bot.DefaultRecoveryInterval, bot.DefaultRecoveryAmount)

	logger.Info("meowgent started",
		"provider", provider.Name(),
		"model", cfg.LLM.Model,
		"jobs", len(cfg.Jobs))

	runErr := b.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler shutdown incomplete", "error", err)
	}
	if err := gateway.Stop(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown incomplete", "error", err)
	}

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	logger.Info("meowgent stopped")
	return nil
}

// buildProvider constructs the configured chat backend.
func buildProvider(cfg *config.Config) (agent.ChatProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case "anthropic":
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create anthropic provider: %w", err)
		}
		return p, nil
	default:
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:     cfg.LLM.APIKey,
			BaseURL:    cfg.LLM.BaseURL,
			MaxRetries: cfg.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("create openai provider: %w", err)
		}
		return p, nil
	}
}

func buildLogger(level string, debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
