// Package history implements the bounded per-channel conversation log used
// as model context. Each channel keeps at most a fixed number of recent
// turns; the oldest turn is evicted first when the window overflows.
package history

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xsota/meowgent/pkg/models"
)

// Inbound is a raw platform message before normalization.
type Inbound struct {
	AuthorID   string
	AuthorName string
	Role       models.Role
	Text       string
	ImageURL   string // first image attachment, empty when none
}

// Store holds per-channel turn windows. All access goes through the store's
// lock; callers needing a stable view take a Snapshot before mutating
// concurrently.
type Store struct {
	mu       sync.RWMutex
	capacity int
	voice    *VoicePattern
	turns    map[string][]models.Turn
	logger   *slog.Logger
}

// New creates a store with the given window capacity. voice may be nil when
// announcement reclassification is not wanted.
func New(capacity int, voice *VoicePattern, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		capacity: capacity,
		voice:    voice,
		turns:    make(map[string][]models.Turn),
		logger:   logger.With("component", "history"),
	}
}

// Append normalizes a raw inbound message into a conversation turn and
// appends it to the channel's window. It returns true when a turn was
// appended; empty messages with no image append nothing.
//
// Normalization rules:
//   - text with an image: a two-part turn, the prefixed text part first
//     (kept even when blank) followed by the image reference;
//   - user text: prefixed as "{displayName}:{authorId} {text}";
//   - assistant text matching a voice announcement: stored as a system
//     turn so the model does not mistake platform notifications for its
//     own prior speech;
//   - assistant or system text otherwise: stored as-is.
func (s *Store) Append(channelID string, in Inbound) bool {
	text := strings.TrimSpace(in.Text)

	var turn models.Turn
	switch {
	case in.ImageURL != "":
		turn = models.Turn{
			Role: in.Role,
			Parts: []models.ContentPart{
				{Type: models.PartText, Text: fmt.Sprintf("%s:%s %s", in.AuthorName, in.AuthorID, text)},
				{Type: models.PartImageURL, ImageURL: in.ImageURL},
			},
		}
	case text == "":
		return false
	case in.Role == models.RoleUser:
		turn = models.Turn{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("%s:%s %s", in.AuthorName, in.AuthorID, text),
		}
	case in.Role == models.RoleAssistant:
		role := models.RoleAssistant
		if s.voice.Match(text) {
			role = models.RoleSystem
		}
		turn = models.Turn{Role: role, Content: text}
	default:
		turn = models.Turn{Role: in.Role, Content: text}
	}

	turn.ID = uuid.NewString()
	turn.ChannelID = channelID
	turn.AuthorID = in.AuthorID
	turn.AuthorName = in.AuthorName
	turn.CreatedAt = time.Now()

	s.AppendTurn(channelID, turn)
	return true
}

// AppendTurn appends an already-normalized turn, evicting the oldest entry
// when the window exceeds capacity.
func (s *Store) AppendTurn(channelID string, turn models.Turn) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.ChannelID == "" {
		turn.ChannelID = channelID
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	s.mu.Lock()
	window := append(s.turns[channelID], turn)
	if len(window) > s.capacity {
		window = window[1:]
	}
	s.turns[channelID] = window
	s.mu.Unlock()

	s.logger.Debug("turn appended",
		"channel_id", channelID,
		"role", turn.Role,
		"length", len(window))
}

// Snapshot returns a deep copy of the channel's window, safe to mutate.
func (s *Store) Snapshot(channelID string) []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneTurns(s.turns[channelID])
}

// Len returns the current window length for a channel.
func (s *Store) Len(channelID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns[channelID])
}
