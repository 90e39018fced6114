// Package bot wires the gateway event streams to the agent: it records
// every message into history, decides which ones deserve a reply,
// generates and posts replies, announces voice channel activity, and
// runs scheduled prompts.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/xsota/meowgent/internal/agent"
	"github.com/xsota/meowgent/internal/channels"
	"github.com/xsota/meowgent/internal/config"
	"github.com/xsota/meowgent/internal/history"
	"github.com/xsota/meowgent/pkg/models"
)

// DefaultRandomReplyChance gates unprompted replies and replies to other
// bots at 1/n per message.
const DefaultRandomReplyChance = 36

// minTurnsForUnprompted is how much channel context must exist before
// the bot will interject without being addressed.
const minTurnsForUnprompted = 2

// Invoker generates one assistant reply for a conversation window.
type Invoker interface {
	Run(ctx context.Context, channelID string, window []models.Turn) (*models.Turn, error)
}

// Follower continues a conversation after a sent message. It blocks
// until the back-and-forth dies down, so the bot spawns it on its own
// goroutine.
type Follower interface {
	Run(ctx context.Context, channelID string, ref channels.MessageRef)
}

// Bot consumes gateway events and drives the agent.
type Bot struct {
	gateway  channels.Gateway
	history  *history.Store
	invoker  Invoker
	follower Follower
	voice    config.VoiceConfig

	randomReplyChance int
	randInt           func(n int) int
	logger            *slog.Logger

	locks   *KeyedLocks
	stamina *Stamina
	wg      sync.WaitGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) { b.logger = logger }
}

// WithRandomReplyChance overrides the 1/n unprompted-reply gate.
func WithRandomReplyChance(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.randomReplyChance = n
		}
	}
}

// WithRandInt injects the random source, for tests.
func WithRandInt(fn func(n int) int) Option {
	return func(b *Bot) { b.randInt = fn }
}

// WithLocks shares a per-channel lock set with other components, such
// as the follow-up runner.
func WithLocks(locks *KeyedLocks) Option {
	return func(b *Bot) {
		if locks != nil {
			b.locks = locks
		}
	}
}

// WithStamina attaches a stamina gauge; each generated reply spends a
// point from it.
func WithStamina(s *Stamina) Option {
	return func(b *Bot) { b.stamina = s }
}

// New creates a bot. follower may be nil, in which case sent messages
// are not watched for replies.
func New(gateway channels.Gateway, hist *history.Store, invoker Invoker, follower Follower, voice config.VoiceConfig, opts ...Option) *Bot {
	b := &Bot{
		gateway:           gateway,
		history:           hist,
		invoker:           invoker,
		follower:          follower,
		voice:             voice,
		randomReplyChance: DefaultRandomReplyChance,
		randInt:           rand.IntN,
		logger:            slog.Default(),
		locks:             NewKeyedLocks(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bot")
	return b
}

// Run consumes the gateway streams until ctx is cancelled or the
// gateway closes them. It blocks; in-flight handlers are waited for
// before it returns.
func (b *Bot) Run(ctx context.Context) error {
	messages := b.gateway.Messages()
	voiceEvents := b.gateway.VoiceEvents()

	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.spawn(func() { b.handleMessage(ctx, msg) })
		case ev, ok := <-voiceEvents:
			if !ok {
				return nil
			}
			b.spawn(func() { b.handleVoice(ctx, ev) })
		}
	}
}

// RunScheduledPrompt injects prompt into the channel's conversation and
// posts the agent's response. It is the execution callback for
// scheduled tasks.
func (b *Bot) RunScheduledPrompt(ctx context.Context, channelID, prompt string) error {
	unlock := b.locks.Lock(channelID)
	defer unlock()

	window := b.history.Snapshot(channelID)
	window = append(window, models.Turn{
		Role:      models.RoleSystem,
		ChannelID: channelID,
		Content:   prompt,
	})

	turn, err := b.invoker.Run(ctx, channelID, window)
	if err != nil {
		return fmt.Errorf("scheduled prompt generation: %w", err)
	}

	ref, err := b.gateway.Send(ctx, channelID, agent.SafeText(turn))
	if err != nil {
		return fmt.Errorf("scheduled prompt send: %w", err)
	}

	b.spendStamina()
	b.follow(ctx, channelID, ref)
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *channels.InboundMessage) {
	role := models.RoleUser
	if msg.FromSelf {
		role = models.RoleAssistant
	}
	b.history.Append(msg.Ref.ChannelID, history.Inbound{
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Role:       role,
		Text:       msg.Text,
		ImageURL:   msg.ImageURL,
	})

	if msg.FromSelf {
		return
	}
	// A claimed message was consumed by a follow-up waiter; the
	// follow-up flow answers it and the main loop only records it.
	if msg.Claimed {
		return
	}
	if !b.shouldReply(msg) {
		return
	}

	b.respond(ctx, msg)
}

// shouldReply decides whether a non-self, unclaimed message gets a
// response. Humans addressing the bot always do. Bots addressing it and
// anyone not addressing it roll a 1/n die, and only once the channel
// has enough context to riff on.
func (b *Bot) shouldReply(msg *channels.InboundMessage) bool {
	if msg.MentionsSelf && !msg.FromBot {
		return true
	}
	if b.history.Len(msg.Ref.ChannelID) <= minTurnsForUnprompted {
		return false
	}
	return b.randInt(b.randomReplyChance) == 0
}

func (b *Bot) respond(ctx context.Context, msg *channels.InboundMessage) {
	channelID := msg.Ref.ChannelID

	unlock := b.locks.Lock(channelID)
	defer unlock()

	if err := b.gateway.Typing(ctx, channelID); err != nil {
		b.logger.Debug("typing indicator failed", "error", err)
	}

	window := b.history.Snapshot(channelID)
	turn, err := b.invoker.Run(ctx, channelID, window)
	if err != nil {
		b.logger.Warn("reply generation failed",
			"channel_id", channelID,
			"author", msg.AuthorName,
			"error", err)
		return
	}

	ref, err := b.gateway.Reply(ctx, msg.Ref, agent.SafeText(turn))
	if err != nil {
		b.logger.Warn("reply send failed",
			"channel_id", channelID, "error", err)
		return
	}

	b.spendStamina()
	b.follow(ctx, channelID, ref)
}

func (b *Bot) handleVoice(ctx context.Context, ev *channels.VoiceEvent) {
	if !b.voice.Enabled {
		return
	}

	tmpl := b.voice.LeaveMessage
	if ev.Joined {
		tmpl = b.voice.JoinMessage
	}
	text := history.Render(tmpl, ev.UserName, ev.ChannelName)

	channelID, err := b.gateway.ResolveChannel(ctx, ev.GuildID, b.voice.NotificationChannel)
	if err != nil {
		b.logger.Warn("voice notification channel lookup failed",
			"guild_id", ev.GuildID,
			"channel", b.voice.NotificationChannel,
			"error", err)
		return
	}

	if _, err := b.gateway.Send(ctx, channelID, text); err != nil {
		b.logger.Warn("voice notification send failed",
			"channel_id", channelID, "error", err)
	}
}

func (b *Bot) spendStamina() {
	if b.stamina != nil {
		b.stamina.Spend(1)
	}
}

// follow hands a sent message to the follower on its own goroutine.
func (b *Bot) follow(ctx context.Context, channelID string, ref channels.MessageRef) {
	if b.follower == nil {
		return
	}
	b.spawn(func() { b.follower.Run(ctx, channelID, ref) })
}

// spawn runs fn on a tracked goroutine with panic isolation, so a bug
// in one event handler cannot take the whole bot down.
func (b *Bot) spawn(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked", "panic", r)
			}
		}()
		fn()
	}()
}
