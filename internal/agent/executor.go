package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xsota/meowgent/pkg/models"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 30 * time.Second

// Executor runs tool calls emitted by the model and converts every
// failure mode into a result the conversation can carry forward.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   logger.With("component", "tool_executor"),
	}
}

// Execute resolves and runs a single tool call. It never returns an
// error: panics, timeouts, and tool failures all become error-tagged
// results so the model can read them and recover.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	params := normalizeToolArgs(call.Input)

	result := e.executeWithTimeout(ctx, call.Name, params)

	e.logger.Debug("tool executed",
		"tool", call.Name,
		"is_error", result.IsError,
		"duration", time.Since(start))

	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    result.Content,
		IsError:    result.IsError,
	}
}

func (e *Executor) executeWithTimeout(ctx context.Context, name string, params json.RawMessage) *ToolResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result *ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := e.registry.Execute(ctx, name, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return &ToolResult{Content: "tool execution failed: " + out.err.Error(), IsError: true}
		}
		if out.result == nil {
			return &ToolResult{Content: "tool returned no result", IsError: true}
		}
		return out.result
	case <-ctx.Done():
		return &ToolResult{
			Content: fmt.Sprintf("tool %s timed out after %s", name, e.timeout),
			IsError: true,
		}
	}
}

// normalizeToolArgs unwraps tool arguments that arrive as a JSON string
// wrapping a JSON object. Some models double-encode arguments; anything
// that cannot be unwrapped passes through unchanged for the tool to
// reject with its own message.
func normalizeToolArgs(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		inner := json.RawMessage(s)
		if json.Valid(inner) {
			return inner
		}
	}
	return raw
}
