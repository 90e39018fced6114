package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xsota/meowgent/internal/agent"
	"github.com/xsota/meowgent/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicConfig holds settings for the Claude backend.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider implements agent.ChatProvider over the Messages API.
type AnthropicProvider struct {
	client     anthropic.Client
	maxRetries int
	retryDelay time.Duration
}

// NewAnthropicProvider creates a provider from config, applying defaults
// for the optional retry settings.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}, nil
}

// Name returns the provider identifier used for routing and logging.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Invoke sends the conversation and returns the model's response turn.
func (p *AnthropicProvider) Invoke(ctx context.Context, req *agent.InvokeRequest) (*models.Turn, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  convertToAnthropicMessages(req.Turns),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: req.System},
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		tools, err := convertToAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	var message *anthropic.Message
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		message, err = p.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableMessage(err.Error()) || attempt == p.maxRetries {
			return nil, fmt.Errorf("anthropic: completion failed: %w", err)
		}
		select {
		case <-time.After(p.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	turn := &models.Turn{Role: models.RoleAssistant}
	var text strings.Builder
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			turn.ToolCalls = append(turn.ToolCalls, models.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: json.RawMessage(b.Input),
			})
		}
	}
	turn.Content = text.String()
	return turn, nil
}

// convertToAnthropicMessages maps the conversation window to the
// Messages API format. The API has no in-thread system role, so history
// turns tagged system (voice notifications and the like) ride along as
// user text. Turns that would produce no content blocks are skipped;
// the API rejects empty messages.
func convertToAnthropicMessages(turns []models.Turn) []anthropic.MessageParam {
	var result []anthropic.MessageParam

	for _, turn := range turns {
		var content []anthropic.ContentBlockParamUnion

		if len(turn.Parts) > 0 {
			for _, p := range turn.Parts {
				switch p.Type {
				case models.PartText:
					if p.Text != "" {
						content = append(content, anthropic.NewTextBlock(p.Text))
					}
				case models.PartImageURL:
					content = append(content, anthropic.NewImageBlock(anthropic.URLImageSourceParam{
						URL: p.ImageURL,
					}))
				}
			}
		} else if turn.Content != "" {
			content = append(content, anthropic.NewTextBlock(turn.Content))
		}

		for _, tr := range turn.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				tr.ToolCallID,
				tr.Content,
				tr.IsError,
			))
		}

		for _, tc := range turn.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Input, &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if len(content) == 0 {
			continue
		}

		if turn.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result
}

// convertToAnthropicTools maps tool definitions to the API's tool params.
func convertToAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}
	return result, nil
}
