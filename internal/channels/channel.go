// Package channels defines the gateway contract between the bot core and
// the chat platform, plus the rate limiting and metrics shared by gateway
// implementations.
package channels

import (
	"context"
	"time"
)

// Gateway is the interface a chat platform connection implements. The bot
// core only ever talks to the platform through it, which keeps the
// orchestration logic testable with an in-memory fake.
type Gateway interface {
	// Start connects to the platform and begins delivering events.
	Start(ctx context.Context) error

	// Stop gracefully disconnects and closes the event channels.
	Stop(ctx context.Context) error

	// Send posts a message to a channel and returns a reference to it.
	Send(ctx context.Context, channelID, text string) (MessageRef, error)

	// Reply posts a message as a reply to a previously sent message.
	Reply(ctx context.Context, ref MessageRef, text string) (MessageRef, error)

	// AwaitReply blocks until someone replies to the referenced message
	// or the timeout elapses. Timeout is reported as a Timeout-coded
	// error.
	AwaitReply(ctx context.Context, ref MessageRef, timeout time.Duration) (*InboundMessage, error)

	// Typing signals a typing indicator in a channel. Errors are
	// advisory; callers log and move on.
	Typing(ctx context.Context, channelID string) error

	// SetPresence updates the bot's displayed activity.
	SetPresence(ctx context.Context, activity string) error

	// ResolveChannel maps a channel name within a guild to its channel
	// ID. A value that is not a known name is returned unchanged, so
	// callers may configure either a name or a raw ID.
	ResolveChannel(ctx context.Context, guildID, name string) (string, error)

	// Messages returns the inbound message stream. Closed on Stop.
	Messages() <-chan *InboundMessage

	// VoiceEvents returns the voice join/leave stream. Closed on Stop.
	VoiceEvents() <-chan *VoiceEvent

	// Status returns the current connection status.
	Status() Status
}

// MessageRef identifies a message on the platform.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// InboundMessage is a normalized message event. Text has platform mention
// markup already resolved to display names.
type InboundMessage struct {
	Ref        MessageRef
	AuthorID   string
	AuthorName string
	Text       string

	// ImageURL is the first image attachment, if any.
	ImageURL string

	// FromSelf marks messages the bot itself sent.
	FromSelf bool

	// FromBot marks messages from any bot account, including self.
	FromBot bool

	// MentionsSelf is set when the bot was mentioned or replied to.
	MentionsSelf bool

	// Claimed is set when an AwaitReply waiter consumed this message;
	// the follow-up flow owns the response, the main loop only records
	// it.
	Claimed bool

	Timestamp time.Time
}

// VoiceEvent is a normalized voice channel join or leave.
type VoiceEvent struct {
	GuildID     string
	ChannelName string
	UserID      string
	UserName    string
	Joined      bool
}

// Status represents the connection status of a gateway.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"` // Unix timestamp
}
