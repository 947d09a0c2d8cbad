package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const (
	discordSendAttempts = 3
	discordInboundLimit = 10 * time.Second
	replyCacheTTL       = time.Hour
)

// discordAPI is the part of *discordgo.Session the sink calls after Start.
type discordAPI interface {
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UpdateGameStatus(idle int, name string) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

var slashCommands = []*discordgo.ApplicationCommand{
	{Name: "players", Description: "List players currently online"},
	{Name: "status", Description: "Show the game server connection status"},
}

type DiscordSinkConfig struct {
	ChannelID string
	GuildID   string
	BotName   string
	Relay     []Kind
	Censor    *Censor
	Commands  bool
}

// DiscordSink relays game events to one Discord channel and channel messages
// back into the game.
type DiscordSink struct {
	session   *discordgo.Session // nil when driven through api only
	api       discordAPI
	chat      ChatSender
	channelID string
	guildID   string
	botKey    string
	relay     map[Kind]bool
	censor    *Censor
	commands  bool
	retryStep time.Duration
	cache     *messageCache
	log       zerolog.Logger

	botUserID string
	channel   *discordgo.Channel
	removers  []func()

	mu       sync.Mutex
	players  []string
	status   Status
	presence string // last presence text accepted by the gateway
}

func NewDiscordSink(token string, cfg DiscordSinkConfig, chat ChatSender, log zerolog.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discordgo session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent |
		discordgo.IntentsGuildMessageReactions

	d := newDiscordSink(session, cfg, chat, log)
	d.session = session
	return d, nil
}

func newDiscordSink(api discordAPI, cfg DiscordSinkConfig, chat ChatSender, log zerolog.Logger) *DiscordSink {
	relay := make(map[Kind]bool, len(cfg.Relay))
	for _, k := range cfg.Relay {
		relay[k] = true
	}
	return &DiscordSink{
		api:       api,
		chat:      chat,
		channelID: cfg.ChannelID,
		guildID:   cfg.GuildID,
		botKey:    playerKey(normalizeName(cfg.BotName)),
		relay:     relay,
		censor:    cfg.Censor,
		commands:  cfg.Commands,
		retryStep: time.Second,
		cache:     newMessageCache(replyCacheTTL),
		log:       log.With().Str("component", "discord").Logger(),
	}
}

func (d *DiscordSink) Name() string { return "Discord" }

func (d *DiscordSink) Start(ctx context.Context) error {
	if d.session != nil {
		d.removers = append(d.removers,
			d.session.AddHandler(d.onMessage),
			d.session.AddHandler(d.onReaction),
			d.session.AddHandler(d.onInteraction),
		)
		if err := d.session.Open(); err != nil {
			return fmt.Errorf("%w: discord open: %w", errStartupFatal, err)
		}
		d.botUserID = d.session.State.User.ID
		d.log.Info().Str("username", d.session.State.User.Username).Msg("Discord bot connected")
	}

	if err := d.acquireChannel(ctx); err != nil {
		return fmt.Errorf("%w: %w", errStartupFatal, err)
	}

	if d.session != nil && d.commands {
		if _, err := d.session.ApplicationCommandBulkOverwrite(d.botUserID, d.guildID, slashCommands, discordgo.WithContext(ctx)); err != nil {
			d.log.Warn().Err(err).Msg("Failed to register slash commands")
		}
	}
	return d.setPresence("Server offline")
}

// acquireChannel fetches the relay channel once and checks it can hold text messages.
func (d *DiscordSink) acquireChannel(ctx context.Context) error {
	ch, err := d.api.Channel(d.channelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("fetch channel %s: %w", d.channelID, err)
	}
	if !textChannel(ch.Type) {
		return fmt.Errorf("channel %s cannot receive text messages (type %d)", d.channelID, ch.Type)
	}
	d.channel = ch
	return nil
}

func textChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM,
		discordgo.ChannelTypeGuildNewsThread, discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildVoice:
		return true
	}
	return false
}

func (d *DiscordSink) Stop(ctx context.Context) error {
	for _, remove := range d.removers {
		remove()
	}
	d.removers = nil
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

func (d *DiscordSink) UpdatePlayers(ctx context.Context, players []string) error {
	d.mu.Lock()
	d.players = players
	d.mu.Unlock()
	return d.setPresence(presenceText(len(players)))
}

// setPresence skips gateway updates that would not change the shown text;
// player snapshots arrive on every poll and presence updates are rate limited.
func (d *DiscordSink) setPresence(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == d.presence {
		return nil
	}
	if err := d.api.UpdateGameStatus(0, text); err != nil {
		return err
	}
	d.presence = text
	return nil
}

func presenceText(n int) string {
	if n == 1 {
		return "1 player online"
	}
	return fmt.Sprintf("%d players online", n)
}

func (d *DiscordSink) UpdateStatus(ctx context.Context, status Status) error {
	d.mu.Lock()
	d.status = status
	d.mu.Unlock()

	if !status.Online {
		if err := d.setPresence("Server offline"); err != nil {
			d.log.Debug().Err(err).Msg("Failed to update presence")
		}
	}
	msg := formatStatus(status)
	if msg == "" {
		return nil
	}
	_, err := d.send(ctx, msg)
	return err
}

func (d *DiscordSink) UpdateGamemode(context.Context, string) error { return nil }

func (d *DiscordSink) HandleChat(ctx context.Context, event ChatEvent) error {
	if !d.relay[event.Kind] {
		return nil
	}
	if d.botKey != "" && playerKey(event.DisplayName) == d.botKey {
		return nil
	}
	msg := formatChatEvent(event)
	if msg == "" {
		return nil
	}
	sent, err := d.send(ctx, d.censor.Apply(msg))
	if err != nil {
		return err
	}
	if sent != nil {
		d.cache.add(sent.ID, event.DisplayName, event.Text)
	}
	return nil
}

func (d *DiscordSink) SendMessage(ctx context.Context, text string) error {
	_, err := d.send(ctx, text)
	return err
}

func (d *DiscordSink) send(ctx context.Context, content string) (*discordgo.Message, error) {
	if d.channel == nil {
		return nil, errors.New("discord channel not acquired")
	}
	var sent *discordgo.Message
	err := retryLinear(ctx, discordSendAttempts, d.retryStep, func() error {
		m, err := d.api.ChannelMessageSend(d.channelID, content, discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		sent = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("send to Discord: %w", err)
	}
	return sent, nil
}

func (d *DiscordSink) onMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.System || m.Author.ID == d.botUserID || m.WebhookID != "" {
		return
	}
	if m.ChannelID != d.channelID {
		return
	}
	if m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply {
		return
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	author := memberName(m.Member, m.Author)
	d.cache.add(m.ID, author, content)

	if m.MessageReference != nil {
		if ref, ok := d.cache.get(m.MessageReference.MessageID); ok {
			content = fmt.Sprintf("(reply to %s) %s", ref.author, content)
		} else if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
			content = fmt.Sprintf("(reply to %s) %s", memberName(nil, m.ReferencedMessage.Author), content)
		}
	}

	d.relayToGame(fmt.Sprintf("[Discord] %s: %s", author, d.censor.Apply(content)))
}

func (d *DiscordSink) onReaction(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.UserID == d.botUserID || r.ChannelID != d.channelID {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	target, ok := d.cache.get(r.MessageID)
	if !ok {
		return
	}
	user := "Someone"
	if r.Member != nil && r.Member.User != nil {
		user = memberName(r.Member, r.Member.User)
	}
	d.relayToGame(fmt.Sprintf("[Discord] %s reacted %s to %s", user, r.Emoji.Name, target.author))
}

func (d *DiscordSink) relayToGame(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), discordInboundLimit)
	defer cancel()
	if err := d.chat.SendChat(ctx, text); err != nil {
		d.log.Warn().Err(err).Msg("Failed to relay Discord message to game")
	}
}

func (d *DiscordSink) onInteraction(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	content, ok := d.commandResponse(i.ApplicationCommandData().Name)
	if !ok {
		return
	}
	err := d.api.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to respond to slash command")
	}
}

func (d *DiscordSink) commandResponse(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch name {
	case "players":
		if len(d.players) == 0 {
			return "Nobody is online.", true
		}
		return fmt.Sprintf("%s: %s", presenceText(len(d.players)), strings.Join(d.players, ", ")), true
	case "status":
		if d.status.Online {
			return fmt.Sprintf("🟢 Connected, %s.", presenceText(len(d.players))), true
		}
		if d.status.Reason == "" {
			return "⚪ Not connected yet.", true
		}
		return fmt.Sprintf("🔴 Offline (%s).", d.status.Reason), true
	}
	return "", false
}

func memberName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}

var markdownEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `_`, `\_`, `~`, `\~`, "`", "\\`", `|`, `\|`)

func formatChatEvent(e ChatEvent) string {
	name := markdownEscaper.Replace(e.DisplayName)
	switch e.Kind {
	case KindChat:
		return fmt.Sprintf("💬 **%s**: %s", name, e.Text)
	case KindJoin:
		return fmt.Sprintf("➡️ **%s** joined the game", name)
	case KindLeave:
		return fmt.Sprintf("⬅️ **%s** left the game", name)
	case KindDeath:
		return fmt.Sprintf("💀 **%s** %s", name, e.Text)
	case KindVersionMismatch:
		return fmt.Sprintf("⚠️ **%s** %s", name, e.Text)
	default:
		return ""
	}
}

func formatStatus(s Status) string {
	if s.Online {
		if s.Reason == "connected" {
			return "✅ Connected to the game server"
		}
		return ""
	}
	switch DisconnectReason(s.Reason) {
	case ReasonStopped:
		return "🛑 Relay stopped"
	case ReasonServer:
		return "⚠️ Lost connection to the game server"
	case ReasonError:
		return "❌ Could not connect to the game server"
	case ReasonRetriesExhausted:
		return fmt.Sprintf("❌ Failed to reconnect after %d attempts", s.Attempts)
	default:
		return ""
	}
}

type cachedMessage struct {
	author  string
	content string
	at      time.Time
}

// messageCache remembers recent relayed messages for reply and reaction context.
type messageCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cachedMessage
	now     func() time.Time
}

func newMessageCache(ttl time.Duration) *messageCache {
	return &messageCache{ttl: ttl, entries: make(map[string]cachedMessage), now: time.Now}
}

func (c *messageCache) add(id, author, content string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.at) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[id] = cachedMessage{author: author, content: content, at: now}
}

func (c *messageCache) get(id string) (cachedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok || c.now().Sub(e.at) > c.ttl {
		return cachedMessage{}, false
	}
	return e, true
}

func (c *messageCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
