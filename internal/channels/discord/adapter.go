// Package discord implements the channels.Gateway contract over the
// Discord gateway and REST API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/xsota/meowgent/internal/channels"
)

// maxMessageLength is Discord's hard limit per message. Longer replies
// are split into sequential chunks.
const maxMessageLength = 2000

// discordSession allows mocking the Discord session in tests.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	UpdateGameStatus(idle int, name string) error
	AddHandler(handler interface{}) func()
}

// Config holds configuration for the Discord gateway.
type Config struct {
	// Token is the bot token from the Discord developer portal (required).
	Token string

	// MaxReconnectAttempts bounds reconnection attempts after a drop.
	MaxReconnectAttempts int

	// ReconnectBackoff caps the exponential reconnect backoff.
	ReconnectBackoff time.Duration

	// RateLimit is outbound operations per second.
	RateLimit float64

	// RateBurst is the outbound burst capacity.
	RateBurst int

	Logger *slog.Logger
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrInvalidInput("token is required", nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 5
	}
	if c.RateBurst == 0 {
		c.RateBurst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Gateway implements channels.Gateway for Discord.
type Gateway struct {
	config  Config
	session discordSession

	status    channels.Status
	botUserID string
	mu        sync.RWMutex

	messages chan *channels.InboundMessage
	voice    chan *channels.VoiceEvent

	waiters   map[channels.MessageRef]chan *channels.InboundMessage
	waitersMu sync.Mutex

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	reconnectCount int

	rateLimiter *channels.RateLimiter
	metrics     *channels.Metrics
	logger      *slog.Logger
}

// New creates a Discord gateway from config.
func New(config Config) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		config:      config,
		status:      channels.Status{Connected: false},
		messages:    make(chan *channels.InboundMessage, 100),
		voice:       make(chan *channels.VoiceEvent, 100),
		waiters:     make(map[channels.MessageRef]chan *channels.InboundMessage),
		rateLimiter: channels.NewRateLimiter(config.RateLimit, config.RateBurst),
		metrics:     channels.NewMetrics(),
		logger:      config.Logger.With("gateway", "discord"),
	}, nil
}

// Start opens the gateway connection and registers event handlers.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status.Connected {
		return channels.ErrInternal("gateway already started", nil)
	}

	g.logger.Info("starting discord gateway", "rate_limit", g.config.RateLimit)

	if g.session == nil {
		dg, err := discordgo.New("Bot " + g.config.Token)
		if err != nil {
			g.metrics.RecordError(channels.ErrCodeAuthentication)
			return channels.ErrAuthentication("failed to create discord session", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildVoiceStates |
			discordgo.IntentsMessageContent
		g.session = dg
	}

	// Handlers read g.ctx; it must exist before any event can fire.
	g.ctx, g.cancel = context.WithCancel(ctx)

	g.session.AddHandler(g.handleReady)
	g.session.AddHandler(g.handleMessageCreate)
	g.session.AddHandler(g.handleVoiceStateUpdate)
	g.session.AddHandler(g.handleDisconnect)

	if err := g.connectWithRetry(ctx); err != nil {
		g.cancel()
		g.metrics.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to connect to discord", err)
	}

	g.status.Connected = true
	g.status.Error = ""
	g.status.LastPing = time.Now().Unix()

	g.logger.Info("discord gateway started")
	return nil
}

// Stop closes the connection and the event channels.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.status.Connected {
		return nil
	}

	g.logger.Info("stopping discord gateway")

	if g.cancel != nil {
		g.cancel()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("stop timeout, forcing shutdown")
	}

	if err := g.session.Close(); err != nil {
		g.status.Error = err.Error()
		g.metrics.RecordError(channels.ErrCodeConnection)
		return channels.ErrConnection("failed to close discord session", err)
	}

	g.status.Connected = false
	close(g.messages)
	close(g.voice)

	g.logger.Info("discord gateway stopped")
	return nil
}

// Send posts a message, splitting it at the platform length limit. The
// returned reference points at the last chunk so callers can await
// replies to it.
func (g *Gateway) Send(ctx context.Context, channelID, text string) (channels.MessageRef, error) {
	return g.deliver(ctx, channelID, text, nil)
}

// Reply posts a message as a reply to ref.
func (g *Gateway) Reply(ctx context.Context, ref channels.MessageRef, text string) (channels.MessageRef, error) {
	return g.deliver(ctx, ref.ChannelID, text, &discordgo.MessageReference{
		ChannelID: ref.ChannelID,
		MessageID: ref.MessageID,
	})
}

func (g *Gateway) deliver(ctx context.Context, channelID, text string, reference *discordgo.MessageReference) (channels.MessageRef, error) {
	if strings.TrimSpace(text) == "" {
		g.metrics.RecordError(channels.ErrCodeInvalidInput)
		return channels.MessageRef{}, channels.ErrInvalidInput("empty message text", nil)
	}
	if !g.connected() {
		g.metrics.RecordMessageFailed()
		return channels.MessageRef{}, channels.NewError(channels.ErrCodeUnavailable, "gateway not connected", nil)
	}

	var last *discordgo.Message
	for i, chunk := range splitMessage(text) {
		if err := g.rateLimiter.Wait(ctx); err != nil {
			g.metrics.RecordError(channels.ErrCodeTimeout)
			return channels.MessageRef{}, channels.ErrTimeout("rate limit wait cancelled", err)
		}

		var msg *discordgo.Message
		var err error
		if reference != nil && i == 0 {
			msg, err = g.session.ChannelMessageSendReply(channelID, chunk, reference)
		} else {
			msg, err = g.session.ChannelMessageSend(channelID, chunk)
		}
		if err != nil {
			g.metrics.RecordMessageFailed()
			g.logger.Error("failed to send message", "channel_id", channelID, "error", err)
			if isRateLimitError(err) {
				g.metrics.RecordError(channels.ErrCodeRateLimit)
				return channels.MessageRef{}, channels.NewError(channels.ErrCodeRateLimit, "discord rate limit exceeded", err)
			}
			g.metrics.RecordError(channels.ErrCodeInternal)
			return channels.MessageRef{}, channels.ErrInternal("failed to send message", err)
		}
		last = msg
		g.metrics.RecordMessageSent()
	}

	return channels.MessageRef{ChannelID: last.ChannelID, MessageID: last.ID}, nil
}

// AwaitReply blocks until a reply to ref arrives or the timeout elapses.
func (g *Gateway) AwaitReply(ctx context.Context, ref channels.MessageRef, timeout time.Duration) (*channels.InboundMessage, error) {
	ch := make(chan *channels.InboundMessage, 1)

	g.waitersMu.Lock()
	g.waiters[ref] = ch
	g.waitersMu.Unlock()
	defer func() {
		g.waitersMu.Lock()
		delete(g.waiters, ref)
		g.waitersMu.Unlock()
	}()

	g.metrics.RecordReplyAwaited()

	select {
	case msg := <-ch:
		return msg, nil
	case <-time.After(timeout):
		return nil, channels.ErrTimeout(fmt.Sprintf("no reply to %s within %s", ref.MessageID, timeout), nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Typing signals a typing indicator.
func (g *Gateway) Typing(ctx context.Context, channelID string) error {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return channels.ErrTimeout("rate limit wait cancelled", err)
	}
	if err := g.session.ChannelTyping(channelID); err != nil {
		return channels.ErrInternal("failed to trigger typing", err)
	}
	return nil
}

// SetPresence updates the bot's displayed activity.
func (g *Gateway) SetPresence(_ context.Context, activity string) error {
	if err := g.session.UpdateGameStatus(0, activity); err != nil {
		return channels.ErrInternal("failed to update presence", err)
	}
	return nil
}

// ResolveChannel maps a text channel name in a guild to its ID. When no
// channel carries that name the input is returned as-is, letting callers
// pass raw channel IDs through the same path.
func (g *Gateway) ResolveChannel(_ context.Context, guildID, name string) (string, error) {
	if guildID == "" {
		return name, nil
	}
	chs, err := g.session.GuildChannels(guildID)
	if err != nil {
		return "", channels.ErrInternal("failed to list guild channels", err)
	}
	for _, ch := range chs {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			return ch.ID, nil
		}
	}
	return name, nil
}

// Messages returns the inbound message stream.
func (g *Gateway) Messages() <-chan *channels.InboundMessage {
	return g.messages
}

// VoiceEvents returns the voice join/leave stream.
func (g *Gateway) VoiceEvents() <-chan *channels.VoiceEvent {
	return g.voice
}

// Status returns the current connection status.
func (g *Gateway) Status() channels.Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Metrics returns the current metrics snapshot.
func (g *Gateway) Metrics() channels.MetricsSnapshot {
	return g.metrics.Snapshot()
}

func (g *Gateway) connected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status.Connected
}

// Event handlers

func (g *Gateway) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.botUserID = r.User.ID
	g.status.Connected = true
	g.status.Error = ""
	g.status.LastPing = time.Now().Unix()
	g.reconnectCount = 0

	g.logger.Info("discord connection ready",
		"user", r.User.Username,
		"guilds", len(r.Guilds))
}

func (g *Gateway) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	g.mu.RLock()
	selfID := g.botUserID
	g.mu.RUnlock()

	msg := &channels.InboundMessage{
		Ref:        channels.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m),
		Text:       m.ContentWithMentionsReplaced(),
		FromSelf:   m.Author.ID == selfID,
		FromBot:    m.Author.Bot,
		Timestamp:  m.Timestamp,
	}
	for _, att := range m.Attachments {
		if strings.HasPrefix(att.ContentType, "image/") {
			msg.ImageURL = att.URL
			break
		}
	}
	for _, u := range m.Mentions {
		if u.ID == selfID {
			msg.MentionsSelf = true
			break
		}
	}
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == selfID {
		msg.MentionsSelf = true
	}

	// A reply to a message someone is awaiting goes to that waiter; the
	// main loop still records it but must not answer it twice.
	if m.MessageReference != nil && !msg.FromSelf {
		ref := channels.MessageRef{
			ChannelID: m.ChannelID,
			MessageID: m.MessageReference.MessageID,
		}
		g.waitersMu.Lock()
		if ch, ok := g.waiters[ref]; ok {
			delete(g.waiters, ref)
			msg.Claimed = true
			ch <- msg
		}
		g.waitersMu.Unlock()
	}

	g.metrics.RecordMessageReceived()

	select {
	case g.messages <- msg:
	case <-g.ctx.Done():
	default:
		g.logger.Warn("messages channel full, dropping message",
			"channel_id", m.ChannelID)
		g.metrics.RecordMessageFailed()
	}
}

func (g *Gateway) handleVoiceStateUpdate(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	g.mu.RLock()
	selfID := g.botUserID
	g.mu.RUnlock()

	if v.UserID == selfID {
		return
	}

	var channelID string
	var joined bool
	switch {
	case v.ChannelID != "" && (v.BeforeUpdate == nil || v.BeforeUpdate.ChannelID == ""):
		channelID, joined = v.ChannelID, true
	case v.ChannelID == "" && v.BeforeUpdate != nil && v.BeforeUpdate.ChannelID != "":
		channelID, joined = v.BeforeUpdate.ChannelID, false
	default:
		// Moves and mute/deafen toggles are not announced.
		return
	}

	name := v.UserID
	if v.Member != nil {
		name = memberName(v.Member)
	}

	event := &channels.VoiceEvent{
		GuildID:     v.GuildID,
		ChannelName: g.channelName(channelID),
		UserID:      v.UserID,
		UserName:    name,
		Joined:      joined,
	}

	g.metrics.RecordVoiceEvent()

	select {
	case g.voice <- event:
	case <-g.ctx.Done():
	default:
		g.logger.Warn("voice channel full, dropping event",
			"channel_id", channelID)
	}
}

func (g *Gateway) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.status.Connected = false
	g.status.Error = "disconnected from discord"

	g.logger.Warn("disconnected from discord")
	g.metrics.RecordError(channels.ErrCodeConnection)

	g.wg.Add(1)
	go g.reconnect()
}

// Reconnection

func (g *Gateway) connectWithRetry(ctx context.Context) error {
	var err error
	maxAttempts := g.config.MaxReconnectAttempts

	for attempt := 0; attempt < maxAttempts; attempt++ {
		g.logger.Info("connecting to discord",
			"attempt", attempt+1, "max_attempts", maxAttempts)

		if err = g.session.Open(); err == nil {
			return nil
		}
		g.metrics.RecordReconnectAttempt()

		backoff := calculateBackoff(attempt, g.config.ReconnectBackoff)
		g.logger.Warn("connection failed, retrying",
			"error", err, "backoff_ms", backoff.Milliseconds())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

func (g *Gateway) reconnect() {
	defer g.wg.Done()

	if g.ctx.Err() != nil {
		return
	}

	g.mu.Lock()
	g.reconnectCount++
	attempt := g.reconnectCount
	maxAttempts := g.config.MaxReconnectAttempts
	g.mu.Unlock()

	if maxAttempts > 0 && attempt > maxAttempts {
		g.logger.Error("max reconnection attempts reached", "attempts", attempt-1)
		g.mu.Lock()
		g.status.Error = fmt.Sprintf("max reconnection attempts (%d) reached", maxAttempts)
		g.mu.Unlock()
		return
	}

	g.metrics.RecordReconnectAttempt()
	time.Sleep(calculateBackoff(attempt, g.config.ReconnectBackoff))

	err := g.session.Open()

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.status.Error = fmt.Sprintf("reconnection attempt %d failed: %v", attempt, err)
		g.metrics.RecordError(channels.ErrCodeConnection)
		g.logger.Error("reconnection failed", "error", err, "attempt", attempt)
		return
	}
	g.status.Connected = true
	g.status.Error = ""
	g.status.LastPing = time.Now().Unix()
	g.reconnectCount = 0
	g.logger.Info("reconnection successful")
}

func calculateBackoff(attempt int, maxWait time.Duration) time.Duration {
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxWait {
		backoff = maxWait
	}
	return backoff
}

// channelName resolves a channel ID to its name, falling back to the ID.
func (g *Gateway) channelName(channelID string) string {
	ch, err := g.session.Channel(channelID)
	if err != nil || ch == nil || ch.Name == "" {
		return channelID
	}
	return ch.Name
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func memberName(member *discordgo.Member) string {
	if member.Nick != "" {
		return member.Nick
	}
	if member.User != nil {
		if member.User.GlobalName != "" {
			return member.User.GlobalName
		}
		return member.User.Username
	}
	return ""
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "rate limit") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "Too Many Requests")
}

// splitMessage cuts text into platform-sized chunks, preferring newline
// boundaries. The limit counts characters, not bytes.
func splitMessage(text string) []string {
	runes := []rune(text)
	if len(runes) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	for len(runes) > maxMessageLength {
		cut := maxMessageLength
		for i := maxMessageLength - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
