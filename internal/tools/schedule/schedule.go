// Package schedule exposes the create_task tool: the model schedules a
// prompt to be handed back to itself later, which is how "remind me in
// 30 minutes" style requests work.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xsota/meowgent/internal/agent"
)

// maxDeferMinutes caps how far out a task can be scheduled (one week).
const maxDeferMinutes = 7 * 24 * 60

// Deferrer registers one-shot deferred tasks.
type Deferrer interface {
	Defer(channelID, prompt string, delay time.Duration) string
	Cancel(id string) bool
}

// Tool implements create_task over a Deferrer.
type Tool struct {
	scheduler Deferrer
}

// New creates a create_task tool.
func New(scheduler Deferrer) *Tool {
	return &Tool{scheduler: scheduler}
}

func (t *Tool) Name() string { return "create_task" }

func (t *Tool) Description() string {
	return "Schedule a prompt to be sent back to you in a channel after a delay. Use this for reminders and delayed follow-ups."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"channel_id": map[string]interface{}{
				"type":        "string",
				"description": "Channel where the task fires.",
			},
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Instruction you will receive when the task fires.",
			},
			"minutes_later": map[string]interface{}{
				"type":        "number",
				"description": "Delay in minutes from now.",
			},
		},
		"required": []string{"channel_id", "prompt", "minutes_later"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.scheduler == nil {
		return toolError("scheduler unavailable"), nil
	}

	var input struct {
		ChannelID    string  `json:"channel_id"`
		Prompt       string  `json:"prompt"`
		MinutesLater float64 `json:"minutes_later"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.ChannelID) == "" {
		return toolError("channel_id is required"), nil
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return toolError("prompt is required"), nil
	}
	if input.MinutesLater < 0 {
		return toolError("minutes_later must not be negative"), nil
	}
	if input.MinutesLater > maxDeferMinutes {
		return toolError(fmt.Sprintf("minutes_later must be at most %d", maxDeferMinutes)), nil
	}

	delay := time.Duration(input.MinutesLater * float64(time.Minute))
	id := t.scheduler.Defer(input.ChannelID, input.Prompt, delay)

	return jsonResult(map[string]any{
		"status":        "scheduled",
		"task_id":       id,
		"channel_id":    input.ChannelID,
		"minutes_later": input.MinutesLater,
	}), nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func jsonResult(payload any) *agent.ToolResult {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return &agent.ToolResult{Content: string(encoded)}
}
