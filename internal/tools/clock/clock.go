// Package clock provides the current_time tool so the model can answer
// time-sensitive questions instead of guessing.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xsota/meowgent/internal/agent"
)

// Tool reports the current date and time.
type Tool struct {
	now func() time.Time
}

// New creates a clock tool.
func New() *Tool {
	return &Tool{now: time.Now}
}

// WithNow overrides the clock, for tests.
func (t *Tool) WithNow(now func() time.Time) *Tool {
	t.now = now
	return t
}

func (t *Tool) Name() string { return "current_time" }

func (t *Tool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone like Asia/Tokyo."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name. Defaults to the server timezone.",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	now := t.now()
	tz := strings.TrimSpace(input.Timezone)
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return toolError(fmt.Sprintf("unknown timezone %q", tz)), nil
		}
		now = now.In(loc)
	}

	return jsonResult(map[string]string{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": now.Location().String(),
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
