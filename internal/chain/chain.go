// Package chain keeps a conversation going after the bot answers: it
// waits for a threaded reply to the bot's message and, when one arrives,
// generates and posts a follow-up, then waits on that one. The flow is a
// loop, so arbitrarily long back-and-forths use constant stack.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/xsota/meowgent/internal/channels"
	"github.com/xsota/meowgent/pkg/models"
)

// DefaultWaitTimeout is how long the runner waits for a reply before
// giving the conversation up.
const DefaultWaitTimeout = 180 * time.Second

// DefaultBotReplyChance gates replies from other bots: the chain
// continues with probability 1/DefaultBotReplyChance, which keeps two
// bots from talking forever.
const DefaultBotReplyChance = 36

// Invoker generates one assistant reply for a conversation window.
type Invoker interface {
	Run(ctx context.Context, channelID string, window []models.Turn) (*models.Turn, error)
}

// History supplies the current conversation window for a channel.
type History interface {
	Snapshot(channelID string) []models.Turn
}

// Sender is the gateway surface the runner needs.
type Sender interface {
	Reply(ctx context.Context, ref channels.MessageRef, text string) (channels.MessageRef, error)
	AwaitReply(ctx context.Context, ref channels.MessageRef, timeout time.Duration) (*channels.InboundMessage, error)
	Typing(ctx context.Context, channelID string) error
}

// Text extracts the sendable text of an assistant turn.
type Text func(*models.Turn) string

// Runner drives the follow-up loop for one sent message.
type Runner struct {
	gateway        Sender
	invoker        Invoker
	history        History
	text           Text
	waitTimeout    time.Duration
	botReplyChance int
	randInt        func(n int) int
	lock           func(channelID string) func()
	logger         *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWaitTimeout overrides the reply wait timeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(r *Runner) { r.waitTimeout = d }
}

// WithBotReplyChance overrides the 1/n bot-reply gate.
func WithBotReplyChance(n int) Option {
	return func(r *Runner) { r.botReplyChance = n }
}

// WithRandInt injects the random source, for tests.
func WithRandInt(fn func(n int) int) Option {
	return func(r *Runner) { r.randInt = fn }
}

// WithLock has the runner hold a per-channel lock while generating and
// sending each follow-up, so chains, mention replies, and scheduled
// prompts on the same channel stay serialized.
func WithLock(fn func(channelID string) func()) Option {
	return func(r *Runner) {
		if fn != nil {
			r.lock = fn
		}
	}
}

// New creates a follow-up runner.
func New(gateway Sender, invoker Invoker, history History, text Text, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		gateway:        gateway,
		invoker:        invoker,
		history:        history,
		text:           text,
		waitTimeout:    DefaultWaitTimeout,
		botReplyChance: DefaultBotReplyChance,
		randInt:        rand.IntN,
		lock:           func(string) func() { return func() {} },
		logger:         logger.With("component", "chain"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run watches for replies to ref and answers them until nobody replies,
// a bot reply loses the dice roll, or something fails. It blocks and is
// meant to be spawned on its own goroutine.
func (r *Runner) Run(ctx context.Context, channelID string, ref channels.MessageRef) {
	for {
		msg, err := r.gateway.AwaitReply(ctx, ref, r.waitTimeout)
		if err != nil {
			if !channels.IsTimeout(err) && ctx.Err() == nil {
				r.logger.Warn("await reply failed", "channel_id", channelID, "error", err)
			}
			return
		}
		if msg.FromSelf {
			return
		}
		if msg.FromBot && r.randInt(r.botReplyChance) != 0 {
			r.logger.Debug("bot reply lost the dice roll, ending chain",
				"channel_id", channelID, "author", msg.AuthorName)
			return
		}

		next, ok := r.respond(ctx, channelID, msg)
		if !ok {
			return
		}
		ref = next
	}
}

// respond generates and posts one follow-up to msg.
func (r *Runner) respond(ctx context.Context, channelID string, msg *channels.InboundMessage) (channels.MessageRef, bool) {
	unlock := r.lock(channelID)
	defer unlock()

	window := r.history.Snapshot(channelID)
	window = append(window, models.Turn{
		ID:         uuid.NewString(),
		ChannelID:  channelID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Role:       models.RoleUser,
		Content:    fmt.Sprintf("%s「%s」", msg.AuthorName, msg.Text),
		CreatedAt:  time.Now(),
	})

	if err := r.gateway.Typing(ctx, channelID); err != nil {
		r.logger.Debug("typing indicator failed", "error", err)
	}

	turn, err := r.invoker.Run(ctx, channelID, window)
	if err != nil {
		r.logger.Warn("follow-up generation failed",
			"channel_id", channelID, "error", err)
		return channels.MessageRef{}, false
	}

	ref, err := r.gateway.Reply(ctx, msg.Ref, r.text(turn))
	if err != nil {
		r.logger.Warn("follow-up send failed",
			"channel_id", channelID, "error", err)
		return channels.MessageRef{}, false
	}
	return ref, true
}
