// Package discord adapts Discord guild and DM chats onto the Router
// contract.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/router"
)

// ChannelName identifies this adapter in sessions.
const ChannelName = "discord"

// Adapter is the Discord channel adapter.
type Adapter struct {
	cfg     config.DiscordConfig
	router  *router.Router
	session *discordgo.Session
	logger  *slog.Logger
}

// New creates a Discord adapter.
func New(cfg config.DiscordConfig, r *router.Router, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		router: r,
		logger: logger.With("adapter", ChannelName),
	}
}

func (a *Adapter) Name() string { return ChannelName }

// Start opens the gateway connection and installs the message handler.
func (a *Adapter) Start(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + a.cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	dg.AddHandler(a.handleMessageCreate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	a.session = dg

	go func() {
		<-ctx.Done()
		if err := dg.Close(); err != nil {
			a.logger.Warn("discord close failed", "error", err)
		}
	}()

	a.logger.Info("discord adapter started")
	return nil
}

// Send delivers text to a Discord channel id.
func (a *Adapter) Send(ctx context.Context, recipient, text string) error {
	if a.session == nil {
		return fmt.Errorf("discord adapter not started")
	}
	if _, err := a.session.ChannelMessageSend(recipient, text); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	if !a.allowedUser(m.Author.ID) || !a.allowedGuild(m.GuildID) {
		a.logger.Debug("ignoring message outside allow-lists", "user", m.Author.ID, "guild", m.GuildID)
		return
	}

	ctx := context.Background()
	userID := "dc-" + m.Author.ID
	reply, err := a.router.HandleMessage(ctx, userID, ChannelName, m.Content)
	if err != nil {
		a.logger.Error("message handling failed", "user", userID, "error", err)
		return
	}
	if reply.Content == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply.Content); err != nil {
		a.logger.Error("send reply failed", "channel", m.ChannelID, "error", err)
	}
}

func (a *Adapter) allowedUser(id string) bool {
	if len(a.cfg.AllowedUsers) == 0 {
		return true
	}
	for _, allowed := range a.cfg.AllowedUsers {
		if allowed == id {
			return true
		}
	}
	return false
}

// allowedGuild admits DMs (empty guild) and listed guilds.
func (a *Adapter) allowedGuild(id string) bool {
	if id == "" || len(a.cfg.AllowedGuilds) == 0 {
		return true
	}
	for _, allowed := range a.cfg.AllowedGuilds {
		if allowed == id {
			return true
		}
	}
	return false
}
