package schedule

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type fakeDeferrer struct {
	channelID string
	prompt    string
	delay     time.Duration
	calls     int
}

func (d *fakeDeferrer) Defer(channelID, prompt string, delay time.Duration) string {
	d.calls++
	d.channelID = channelID
	d.prompt = prompt
	d.delay = delay
	return "task-1"
}

func (d *fakeDeferrer) Cancel(string) bool { return true }

func TestExecuteSchedulesTask(t *testing.T) {
	d := &fakeDeferrer{}
	tool := New(d)

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"channel_id":"chan-1","prompt":"remind about tea","minutes_later":30}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %q", result.Content)
	}
	if d.calls != 1 || d.channelID != "chan-1" || d.prompt != "remind about tea" {
		t.Errorf("deferred = %+v", d)
	}
	if d.delay != 30*time.Minute {
		t.Errorf("delay = %v, want 30m", d.delay)
	}

	var payload struct {
		Status string `json:"status"`
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal([]byte(result.Content), &payload); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if payload.Status != "scheduled" || payload.TaskID != "task-1" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestExecuteFractionalMinutes(t *testing.T) {
	d := &fakeDeferrer{}
	tool := New(d)

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"channel_id":"chan-1","prompt":"soon","minutes_later":0.5}`))
	if err != nil || result.IsError {
		t.Fatalf("Execute: %v, %v", err, result)
	}
	if d.delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", d.delay)
	}
}

func TestExecuteValidation(t *testing.T) {
	tool := New(&fakeDeferrer{})

	cases := []struct {
		name   string
		params string
		want   string
	}{
		{"missing channel", `{"prompt":"p","minutes_later":5}`, "channel_id"},
		{"missing prompt", `{"channel_id":"c","minutes_later":5}`, "prompt"},
		{"negative delay", `{"channel_id":"c","prompt":"p","minutes_later":-1}`, "negative"},
		{"too far out", `{"channel_id":"c","prompt":"p","minutes_later":99999999}`, "at most"},
		{"bad json", `{nope`, "invalid parameters"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !result.IsError {
				t.Fatalf("expected error result, got %q", result.Content)
			}
			if !strings.Contains(result.Content, tt.want) {
				t.Errorf("result = %q, want mention of %q", result.Content, tt.want)
			}
		})
	}
}
