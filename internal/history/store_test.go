package history

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/xsota/meowgent/pkg/models"
)

const (
	joinTemplate  = "{name}が{channel}に入ったにゃ！"
	leaveTemplate = "{name}が{channel}からきえてくにゃ・・・"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(capacity int) *Store {
	return New(capacity, NewVoicePattern(joinTemplate, leaveTemplate), discardLogger())
}

func TestAppendPrefixesUserText(t *testing.T) {
	s := newTestStore(10)
	if !s.Append("chan-1", Inbound{
		AuthorID:   "111",
		AuthorName: "alice",
		Role:       models.RoleUser,
		Text:       "  こんにちは  ",
	}) {
		t.Fatal("Append returned false")
	}

	window := s.Snapshot("chan-1")
	if len(window) != 1 {
		t.Fatalf("window = %d turns, want 1", len(window))
	}
	turn := window[0]
	if turn.Content != "alice:111 こんにちは" {
		t.Errorf("content = %q", turn.Content)
	}
	if turn.Role != models.RoleUser || turn.ChannelID != "chan-1" {
		t.Errorf("turn = %+v", turn)
	}
	if turn.ID == "" || turn.CreatedAt.IsZero() {
		t.Error("turn missing id or timestamp")
	}
}

func TestAppendDropsEmptyText(t *testing.T) {
	s := newTestStore(10)
	if s.Append("chan-1", Inbound{AuthorID: "1", AuthorName: "a", Role: models.RoleUser, Text: "   "}) {
		t.Error("blank text should not append")
	}
	if s.Len("chan-1") != 0 {
		t.Errorf("length = %d, want 0", s.Len("chan-1"))
	}
}

func TestAppendImageBuildsTwoPartTurn(t *testing.T) {
	s := newTestStore(10)
	s.Append("chan-1", Inbound{
		AuthorID:   "111",
		AuthorName: "alice",
		Role:       models.RoleUser,
		Text:       "look at this",
		ImageURL:   "https://cdn.example.com/cat.png",
	})

	window := s.Snapshot("chan-1")
	if len(window) != 1 {
		t.Fatalf("window = %d turns, want 1", len(window))
	}
	parts := window[0].Parts
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0].Type != models.PartText || parts[0].Text != "alice:111 look at this" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != models.PartImageURL || parts[1].ImageURL != "https://cdn.example.com/cat.png" {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestAppendImageWithoutTextStillAppends(t *testing.T) {
	s := newTestStore(10)
	if !s.Append("chan-1", Inbound{
		AuthorID:   "111",
		AuthorName: "alice",
		Role:       models.RoleUser,
		ImageURL:   "https://cdn.example.com/cat.png",
	}) {
		t.Fatal("image-only message should append")
	}
	if s.Len("chan-1") != 1 {
		t.Errorf("length = %d, want 1", s.Len("chan-1"))
	}
}

func TestAppendReclassifiesVoiceAnnouncement(t *testing.T) {
	s := newTestStore(10)
	s.Append("chan-1", Inbound{
		Role: models.RoleAssistant,
		Text: "aliceが雑談に入ったにゃ！",
	})
	s.Append("chan-1", Inbound{
		Role: models.RoleAssistant,
		Text: "こんにちはにゃ",
	})

	window := s.Snapshot("chan-1")
	if window[0].Role != models.RoleSystem {
		t.Errorf("announcement role = %s, want system", window[0].Role)
	}
	if window[1].Role != models.RoleAssistant {
		t.Errorf("speech role = %s, want assistant", window[1].Role)
	}
}

func TestWindowEvictsOldestAtCapacity(t *testing.T) {
	s := newTestStore(10)
	for i := 0; i < 11; i++ {
		s.Append("chan-1", Inbound{
			AuthorID:   "111",
			AuthorName: "alice",
			Role:       models.RoleUser,
			Text:       fmt.Sprintf("message %d", i),
		})
	}

	window := s.Snapshot("chan-1")
	if len(window) != 10 {
		t.Fatalf("window = %d turns, want 10", len(window))
	}
	if window[0].Content != "alice:111 message 1" {
		t.Errorf("oldest = %q, want message 0 evicted", window[0].Content)
	}
	if window[9].Content != "alice:111 message 10" {
		t.Errorf("newest = %q", window[9].Content)
	}
}

func TestWindowsAreIndependentPerChannel(t *testing.T) {
	s := newTestStore(10)
	s.Append("chan-1", Inbound{AuthorID: "1", AuthorName: "a", Role: models.RoleUser, Text: "one"})
	s.Append("chan-2", Inbound{AuthorID: "1", AuthorName: "a", Role: models.RoleUser, Text: "two"})

	if s.Len("chan-1") != 1 || s.Len("chan-2") != 1 {
		t.Errorf("lengths = %d, %d", s.Len("chan-1"), s.Len("chan-2"))
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := newTestStore(10)
	s.Append("chan-1", Inbound{
		AuthorID:   "1",
		AuthorName: "a",
		Role:       models.RoleUser,
		Text:       "original",
		ImageURL:   "https://example.com/a.png",
	})

	snap := s.Snapshot("chan-1")
	snap[0].Content = "mutated"
	snap[0].Parts[0].Text = "mutated"

	fresh := s.Snapshot("chan-1")
	if fresh[0].Parts[0].Text != "a:1 original" {
		t.Errorf("store turn mutated through snapshot: %q", fresh[0].Parts[0].Text)
	}
}

func TestAppendTurnFillsDefaults(t *testing.T) {
	s := newTestStore(10)
	s.AppendTurn("chan-1", models.Turn{Role: models.RoleAssistant, Content: "text"})

	window := s.Snapshot("chan-1")
	turn := window[0]
	if turn.ID == "" || turn.ChannelID != "chan-1" || turn.CreatedAt.IsZero() {
		t.Errorf("turn = %+v", turn)
	}
}
