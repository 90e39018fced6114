package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xsota/meowgent/pkg/models"
)

type scriptedProvider struct {
	responses []*models.Turn
	errs      []error
	calls     int
	requests  []*InvokeRequest
}

func (p *scriptedProvider) Invoke(_ context.Context, req *InvokeRequest) (*models.Turn, error) {
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx < len(p.responses) {
		return p.responses[idx], nil
	}
	return nil, errors.New("script exhausted")
}

func (p *scriptedProvider) Name() string { return "scripted" }

type echoTool struct {
	name  string
	calls []json.RawMessage
	fail  bool
}

func (t *echoTool) Name() string            { return t.name }
func (t *echoTool) Description() string     { return "echoes params back" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(_ context.Context, params json.RawMessage) (*ToolResult, error) {
	t.calls = append(t.calls, params)
	if t.fail {
		return nil, errors.New("echo failed")
	}
	return &ToolResult{Content: "echo:" + string(params)}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestInvoker(p ChatProvider, tools ...Tool) (*Invoker, *Registry) {
	reg := NewRegistry()
	for _, t := range tools {
		reg.Register(t)
	}
	exec := NewExecutor(reg, time.Second, discardLogger())
	inv := NewInvoker(p, reg, exec, InvokerOptions{Model: "test-model"}, discardLogger())
	return inv, reg
}

func textTurn(text string) *models.Turn {
	return &models.Turn{Role: models.RoleAssistant, Content: text}
}

func TestRunReturnsFirstUsableReply(t *testing.T) {
	p := &scriptedProvider{responses: []*models.Turn{textTurn("hello")}}
	inv, _ := newTestInvoker(p)

	turn, err := inv.Run(context.Background(), "chan-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if turn.Content != "hello" {
		t.Errorf("Content = %q, want %q", turn.Content, "hello")
	}
	if turn.ChannelID != "chan-1" {
		t.Errorf("ChannelID = %q, want chan-1", turn.ChannelID)
	}
	if turn.ID == "" || turn.CreatedAt.IsZero() {
		t.Error("expected ID and CreatedAt to be filled")
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
}

func TestRunRetriesBlankResponses(t *testing.T) {
	p := &scriptedProvider{responses: []*models.Turn{
		textTurn(""),
		textTurn("   "),
		textTurn("finally"),
	}}
	inv, _ := newTestInvoker(p)

	turn, err := inv.Run(context.Background(), "chan-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if turn.Content != "finally" {
		t.Errorf("Content = %q, want %q", turn.Content, "finally")
	}
	if p.calls != 3 {
		t.Errorf("provider calls = %d, want 3", p.calls)
	}
}

func TestRunExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{responses: []*models.Turn{
		textTurn(""), textTurn(""), textTurn(""), textTurn("never reached"),
	}}
	inv, _ := newTestInvoker(p)

	_, err := inv.Run(context.Background(), "chan-1", nil)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if p.calls != MaxRetries {
		t.Errorf("provider calls = %d, want %d", p.calls, MaxRetries)
	}
}

func TestRunPropagatesProviderError(t *testing.T) {
	failure := errors.New("invalid api key")
	p := &scriptedProvider{errs: []error{failure, failure, failure}}
	inv, _ := newTestInvoker(p)

	_, err := inv.Run(context.Background(), "chan-1", nil)
	if !errors.Is(err, failure) {
		t.Fatalf("err = %v, want the provider's error", err)
	}
	if errors.Is(err, ErrRetriesExhausted) {
		t.Error("provider failure must not surface as retry exhaustion")
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want no retry of a fatal error", p.calls)
	}
}

func TestRunResolvesToolCalls(t *testing.T) {
	tool := &echoTool{name: "lookup"}
	p := &scriptedProvider{responses: []*models.Turn{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "lookup", Input: json.RawMessage(`{"q":"a"}`)},
				{ID: "call-2", Name: "lookup", Input: json.RawMessage(`{"q":"b"}`)},
			},
		},
		textTurn("done"),
	}}
	inv, _ := newTestInvoker(p, tool)

	seed := []models.Turn{{Role: models.RoleUser, Content: "alice:1 hi"}}
	turn, err := inv.Run(context.Background(), "chan-1", seed)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if turn.Content != "done" {
		t.Errorf("Content = %q, want %q", turn.Content, "done")
	}
	if len(tool.calls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(tool.calls))
	}
	if string(tool.calls[0]) != `{"q":"a"}` || string(tool.calls[1]) != `{"q":"b"}` {
		t.Errorf("tool calls out of order: %s, %s", tool.calls[0], tool.calls[1])
	}

	// Second invocation must see the tool round: seed + assistant + two
	// tool turns.
	second := p.requests[1]
	if len(second.Turns) != 4 {
		t.Fatalf("second request turns = %d, want 4", len(second.Turns))
	}
	if second.Turns[1].Role != models.RoleAssistant || len(second.Turns[1].ToolCalls) != 2 {
		t.Error("expected assistant tool-call turn at index 1")
	}
	if second.Turns[2].Role != models.RoleTool || second.Turns[2].ToolResults[0].ToolCallID != "call-1" {
		t.Error("expected tool result for call-1 at index 2")
	}
	if second.Turns[3].Role != models.RoleTool || second.Turns[3].ToolResults[0].ToolCallID != "call-2" {
		t.Error("expected tool result for call-2 at index 3")
	}
}

func TestRunUnknownToolIsAbsorbed(t *testing.T) {
	p := &scriptedProvider{responses: []*models.Turn{
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "call-1", Name: "no_such_tool"}},
		},
		textTurn("recovered"),
	}}
	inv, _ := newTestInvoker(p)

	turn, err := inv.Run(context.Background(), "chan-1", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if turn.Content != "recovered" {
		t.Errorf("Content = %q, want %q", turn.Content, "recovered")
	}
	second := p.requests[1]
	last := second.Turns[len(second.Turns)-1]
	if !last.ToolResults[0].IsError {
		t.Error("expected error-tagged result for unknown tool")
	}
	if !strings.Contains(last.ToolResults[0].Content, "tool not found: no_such_tool") {
		t.Errorf("result = %q, want tool-not-found message", last.ToolResults[0].Content)
	}
}

func TestRunDoesNotMutateCallerWindow(t *testing.T) {
	tool := &echoTool{name: "lookup"}
	p := &scriptedProvider{responses: []*models.Turn{
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "c", Name: "lookup", Input: json.RawMessage(`{}`)}},
		},
		textTurn("done"),
	}}
	inv, _ := newTestInvoker(p, tool)

	seed := make([]models.Turn, 1, 8)
	seed[0] = models.Turn{Role: models.RoleUser, Content: "alice:1 hi"}
	if _, err := inv.Run(context.Background(), "chan-1", seed); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seed) != 1 {
		t.Errorf("caller window grew to %d turns", len(seed))
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{errs: []error{context.Canceled, context.Canceled, context.Canceled}}
	inv, _ := newTestInvoker(p)

	cancel()
	_, err := inv.Run(ctx, "chan-1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
}

func TestSafeText(t *testing.T) {
	tests := []struct {
		name string
		turn *models.Turn
		want string
	}{
		{"nil turn", nil, blankFallback},
		{"plain text", textTurn("hi"), "hi"},
		{"padded text trimmed", textTurn("  hello  "), "hello"},
		{
			"padded parts trimmed",
			&models.Turn{Parts: []models.ContentPart{
				{Type: models.PartText, Text: " first "},
				{Type: models.PartText, Text: " second "},
			}},
			"first\nsecond",
		},
		{"whitespace only", textTurn("  \n "), blankFallback},
		{"empty", textTurn(""), blankFallback},
		{
			"parts preferred",
			&models.Turn{Content: "ignored", Parts: []models.ContentPart{
				{Type: models.PartText, Text: "first"},
				{Type: models.PartImageURL, ImageURL: "https://example.com/x.png"},
				{Type: models.PartText, Text: "second"},
			}},
			"first\nsecond",
		},
		{
			"blank parts fall back to content",
			&models.Turn{Content: "body", Parts: []models.ContentPart{
				{Type: models.PartText, Text: "  "},
			}},
			"body",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeText(tt.turn); got != tt.want {
				t.Errorf("SafeText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNormalizeToolArgs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "{}"},
		{"object passes through", `{"a":1}`, `{"a":1}`},
		{"double encoded object", `"{\"a\":1}"`, `{"a":1}`},
		{"plain string stays wrapped", `"not json"`, `"not json"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeToolArgs(json.RawMessage(tt.in))
			if string(got) != tt.want {
				t.Errorf("normalizeToolArgs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExecutorTimesOutSlowTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&sleepTool{d: time.Second})
	exec := NewExecutor(reg, 20*time.Millisecond, discardLogger())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c", Name: "sleep"})
	if !result.IsError {
		t.Fatal("expected error result for timed-out tool")
	}
	if !strings.Contains(result.Content, "timed out") {
		t.Errorf("result = %q, want timeout message", result.Content)
	}
}

func TestExecutorRecoversPanickingTool(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&panicTool{})
	exec := NewExecutor(reg, time.Second, discardLogger())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c", Name: "boom"})
	if !result.IsError {
		t.Fatal("expected error result for panicking tool")
	}
	if !strings.Contains(result.Content, "tool panicked") {
		t.Errorf("result = %q, want panic message", result.Content)
	}
}

func TestExecutorAbsorbsToolError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "echo", fail: true})
	exec := NewExecutor(reg, time.Second, discardLogger())

	result := exec.Execute(context.Background(), models.ToolCall{ID: "c", Name: "echo", Input: json.RawMessage(`{}`)})
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(result.Content, "echo failed") {
		t.Errorf("result = %q, want underlying error text", result.Content)
	}
	if result.ToolCallID != "c" {
		t.Errorf("ToolCallID = %q, want c", result.ToolCallID)
	}
}

func TestRegistryRejectsOversizedParams(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "echo"})

	big := json.RawMessage(fmt.Sprintf(`{"pad":%q}`, strings.Repeat("x", MaxToolParamsSize)))
	result, err := reg.Execute(context.Background(), "echo", big)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for oversized params")
	}
}

type sleepTool struct{ d time.Duration }

func (t *sleepTool) Name() string            { return "sleep" }
func (t *sleepTool) Description() string     { return "sleeps" }
func (t *sleepTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *sleepTool) Execute(context.Context, json.RawMessage) (*ToolResult, error) {
	time.Sleep(t.d)
	return &ToolResult{Content: "slept"}, nil
}

type panicTool struct{}

func (t *panicTool) Name() string            { return "boom" }
func (t *panicTool) Description() string     { return "panics" }
func (t *panicTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *panicTool) Execute(context.Context, json.RawMessage) (*ToolResult, error) {
	panic("boom")
}
