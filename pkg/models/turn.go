package models

import (
	"encoding/json"
	"time"
)

// Role indicates the turn author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartType identifies a part in a composite content turn.
type ContentPartType string

const (
	PartText     ContentPartType = "text"
	PartImageURL ContentPartType = "image_url"
)

// ContentPart is one element of a composite (text + image) turn content.
type ContentPart struct {
	Type     ContentPartType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL string          `json:"image_url,omitempty"`
}

// Turn is one unit of conversation: a message with a role and content.
// Turns are immutable once appended to history; stores hand out copies.
//
// Content holds plain text turns. Parts holds composite text+image content
// and takes precedence over Content when non-empty.
type Turn struct {
	ID          string        `json:"id"`
	ChannelID   string        `json:"channel_id"`
	AuthorID    string        `json:"author_id,omitempty"`
	AuthorName  string        `json:"author_name,omitempty"`
	Role        Role          `json:"role"`
	Content     string        `json:"content,omitempty"`
	Parts       []ContentPart `json:"parts,omitempty"`
	ToolCalls   []ToolCall    `json:"tool_calls,omitempty"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	clone := t
	if len(t.Parts) > 0 {
		clone.Parts = make([]ContentPart, len(t.Parts))
		copy(clone.Parts, t.Parts)
	}
	if len(t.ToolCalls) > 0 {
		clone.ToolCalls = make([]ToolCall, len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			clone.ToolCalls[i] = tc
			if tc.Input != nil {
				clone.ToolCalls[i].Input = append(json.RawMessage(nil), tc.Input...)
			}
		}
	}
	if len(t.ToolResults) > 0 {
		clone.ToolResults = make([]ToolResult, len(t.ToolResults))
		copy(clone.ToolResults, t.ToolResults)
	}
	return clone
}

// CloneTurns deep-copies a turn sequence.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// ToolCall represents the model's request to execute a tool.
// Input is usually a JSON object, but upstream services are allowed to emit
// a raw string; consumers parse it best-effort and fall back to the raw form.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution. Failures are data,
// not control flow: IsError tags the result and Content carries the message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
