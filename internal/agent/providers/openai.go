// Package providers implements chat model backends for the agent loop.
// Both providers speak the same non-streaming contract: one request with
// the full conversation window, one response turn that may carry tool
// calls.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/xsota/meowgent/internal/agent"
	"github.com/xsota/meowgent/pkg/models"
)

// OpenAIConfig holds settings for the OpenAI-compatible backend. BaseURL
// lets the provider point at any chat-completions-compatible endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIProvider implements agent.ChatProvider over the chat completions
// API. It retries transient failures with a linear backoff.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a provider from config, applying defaults for
// the optional retry settings.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Invoke sends the conversation and returns the model's response turn.
func (p *OpenAIProvider) Invoke(ctx context.Context, req *agent.InvokeRequest) (*models.Turn, error) {
	oaiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertToOpenAIMessages(req.Turns, req.System),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		oaiReq.Tools = convertToOpenAITools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		resp, err = p.client.CreateChatCompletion(ctx, oaiReq)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableMessage(err.Error()) || attempt == p.maxRetries {
			return nil, fmt.Errorf("openai: completion failed: %w", err)
		}
		select {
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response contained no choices")
	}

	msg := resp.Choices[0].Message
	turn := &models.Turn{
		Role:    models.RoleAssistant,
		Content: msg.Content,
	}
	for _, tc := range msg.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return turn, nil
}

// convertToOpenAIMessages maps the conversation window to the wire
// format. The system prompt is injected as the first message; tool turns
// expand to one message per result, linked by tool call ID.
func convertToOpenAIMessages(turns []models.Turn, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(turns)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, turn := range turns {
		switch turn.Role {
		case models.RoleTool:
			for _, tr := range turn.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}

		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: turn.Content,
			}
			for _, tc := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, msg)

		default:
			msg := openai.ChatCompletionMessage{
				Role:    string(turn.Role),
				Content: turn.Content,
			}
			if parts := multiContentParts(turn.Parts); parts != nil {
				msg.Content = ""
				msg.MultiContent = parts
			}
			result = append(result, msg)
		}
	}

	return result
}

// multiContentParts returns the vision multi-content form, or nil when
// the turn has no image parts.
func multiContentParts(parts []models.ContentPart) []openai.ChatMessagePart {
	hasImage := false
	for _, p := range parts {
		if p.Type == models.PartImageURL {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return nil
	}

	out := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case models.PartText:
			if p.Text != "" {
				out = append(out, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			}
		case models.PartImageURL:
			out = append(out, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    p.ImageURL,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return out
}

// convertToOpenAITools maps tool definitions to function declarations. A
// tool with an unparseable schema degrades to an empty object schema so
// the rest of the tools keep working.
func convertToOpenAITools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(tool.Schema(), &schemaMap); err != nil {
			schemaMap = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

// isRetryableMessage classifies transient failures worth retrying: rate
// limits, server errors, and timeouts.
func isRetryableMessage(msg string) bool {
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return true
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return true
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return true
	}
	return false
}
