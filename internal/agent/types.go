// Package agent implements the model-invocation loop: it sends channel
// history to a chat model, resolves any tool calls the model requests, and
// retries until a usable textual answer is produced.
package agent

import (
	"context"
	"encoding/json"

	"github.com/xsota/meowgent/pkg/models"
)

// ChatProvider is the contract for the language model backend.
//
// Implementations must be safe for concurrent use; multiple channel flows
// may call Invoke simultaneously. Invoke must be an idempotent-safe point:
// the loop re-dispatches the same request shape after tool resolution and
// blank answers.
type ChatProvider interface {
	// Invoke sends the conversation and returns one response turn, which
	// may carry zero or more tool call requests.
	Invoke(ctx context.Context, req *InvokeRequest) (*models.Turn, error)

	// Name returns the provider identifier, used for logging and routing.
	Name() string
}

// InvokeRequest carries everything a provider needs for one model call.
type InvokeRequest struct {
	Model       string
	System      string
	ChannelID   string
	Turns       []models.Turn
	Tools       []Tool
	MaxTokens   int
	Temperature float32
}

// Tool is the single interface all agent tools implement. Synchronous tools
// simply return; long-running tools honor ctx cancellation.
type Tool interface {
	// Name returns the tool name used for model function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool. Failures may be reported either through the
	// error or through an IsError result; both are absorbed into an
	// error-tagged ToolResult by the executor.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution before correlation with the
// originating call.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}
