package models

import (
	"encoding/json"
	"testing"
)

func TestCloneIsDeep(t *testing.T) {
	turn := Turn{
		ID:      "t1",
		Role:    RoleAssistant,
		Content: "original",
		Parts: []ContentPart{
			{Type: PartText, Text: "hello"},
		},
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "web_search", Input: json.RawMessage(`{"query":"cats"}`)},
		},
		ToolResults: []ToolResult{
			{ToolCallID: "c1", Content: "result"},
		},
	}

	clone := turn.Clone()
	clone.Parts[0].Text = "mutated"
	clone.ToolCalls[0].Input[2] = 'X'
	clone.ToolResults[0].Content = "mutated"

	if turn.Parts[0].Text != "hello" {
		t.Error("Parts shared between clone and original")
	}
	if string(turn.ToolCalls[0].Input) != `{"query":"cats"}` {
		t.Error("ToolCall input shared between clone and original")
	}
	if turn.ToolResults[0].Content != "result" {
		t.Error("ToolResults shared between clone and original")
	}
}

func TestCloneTurnsNil(t *testing.T) {
	if CloneTurns(nil) != nil {
		t.Error("nil input should stay nil")
	}
	out := CloneTurns([]Turn{{ID: "a"}, {ID: "b"}})
	if len(out) != 2 || out[0].ID != "a" {
		t.Errorf("out = %+v", out)
	}
}
