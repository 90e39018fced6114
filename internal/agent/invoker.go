package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xsota/meowgent/pkg/models"
)

// MaxRetries bounds model invocations for a single run, counting
// tool-resolution rounds and blank responses alike.
const MaxRetries = 3

// ErrRetriesExhausted is returned when a run ends without a usable
// assistant reply.
var ErrRetriesExhausted = errors.New("agent: retries exhausted")

// InvokerOptions carries the per-deployment model settings.
type InvokerOptions struct {
	Model       string
	System      string
	MaxTokens   int
	Temperature float32
	MaxRetries  int
}

// Invoker drives the invocation loop: call the model, resolve any tool
// calls it emits, and repeat until a non-blank assistant reply arrives
// or the retry budget runs out.
type Invoker struct {
	provider    ChatProvider
	registry    *Registry
	executor    *Executor
	model       string
	system      string
	maxTokens   int
	temperature float32
	maxRetries  int
	logger      *slog.Logger
}

// NewInvoker creates an invoker bound to a provider and tool registry.
func NewInvoker(provider ChatProvider, registry *Registry, executor *Executor, opts InvokerOptions, logger *slog.Logger) *Invoker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		provider:    provider,
		registry:    registry,
		executor:    executor,
		model:       opts.Model,
		system:      opts.System,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		maxRetries:  opts.MaxRetries,
		logger:      logger.With("component", "invoker"),
	}
}

// Run executes one full invocation over the given conversation window.
// The window is cloned; tool rounds grow the working copy but never the
// caller's slice. The returned turn is the final assistant reply.
func (in *Invoker) Run(ctx context.Context, channelID string, window []models.Turn) (*models.Turn, error) {
	working := models.CloneTurns(window)

	for attempt := 1; attempt <= in.maxRetries; attempt++ {
		resp, err := in.provider.Invoke(ctx, &InvokeRequest{
			Model:       in.model,
			System:      in.system,
			ChannelID:   channelID,
			Turns:       working,
			Tools:       in.registry.AsLLMTools(),
			MaxTokens:   in.maxTokens,
			Temperature: in.temperature,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Providers retry transient failures themselves; an
			// error surfacing here is fatal to the run.
			in.logger.Warn("provider invocation failed",
				"provider", in.provider.Name(),
				"channel_id", channelID,
				"attempt", attempt,
				"error", err)
			return nil, err
		}

		if len(resp.ToolCalls) > 0 {
			working = in.resolveToolCalls(ctx, channelID, working, resp)
			continue
		}

		if isBlank(resp) {
			in.logger.Debug("blank model response",
				"channel_id", channelID, "attempt", attempt)
			continue
		}

		final := resp.Clone()
		final.Role = models.RoleAssistant
		final.ChannelID = channelID
		if final.ID == "" {
			final.ID = uuid.NewString()
		}
		if final.CreatedAt.IsZero() {
			final.CreatedAt = time.Now()
		}
		return &final, nil
	}

	return nil, ErrRetriesExhausted
}

// resolveToolCalls appends the tool-calling assistant turn and one tool
// turn per call, in the order the model emitted them.
func (in *Invoker) resolveToolCalls(ctx context.Context, channelID string, working []models.Turn, resp *models.Turn) []models.Turn {
	assistant := resp.Clone()
	assistant.Role = models.RoleAssistant
	assistant.ChannelID = channelID
	if assistant.ID == "" {
		assistant.ID = uuid.NewString()
	}
	if assistant.CreatedAt.IsZero() {
		assistant.CreatedAt = time.Now()
	}
	working = append(working, assistant)

	for _, call := range resp.ToolCalls {
		result := in.executor.Execute(ctx, call)
		working = append(working, models.Turn{
			ID:          uuid.NewString(),
			ChannelID:   channelID,
			Role:        models.RoleTool,
			Content:     result.Content,
			ToolResults: []models.ToolResult{result},
			CreatedAt:   time.Now(),
		})
	}
	return working
}
