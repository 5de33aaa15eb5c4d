// Package telegram adapts Telegram chats onto the Router contract via
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/rustyclaw/rustyclaw/internal/config"
	"github.com/rustyclaw/rustyclaw/internal/router"
)

// ChannelName identifies this adapter in sessions.
const ChannelName = "telegram"

// Adapter is the Telegram channel adapter.
type Adapter struct {
	cfg    config.TelegramConfig
	router *router.Router
	bot    *bot.Bot
	logger *slog.Logger
}

// New creates a Telegram adapter.
func New(cfg config.TelegramConfig, r *router.Router, logger *slog.Logger) *Adapter {
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

// Start connects the bot and begins the long-poll loop.
func (a *Adapter) Start(ctx context.Context) error {
	b, err := bot.New(a.cfg.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	a.bot = b

	go b.Start(ctx)
	a.logger.Info("telegram adapter started")
	return nil
}

// Send delivers text to a chat id.
func (a *Adapter) Send(ctx context.Context, recipient, text string) error {
	if a.bot == nil {
		return fmt.Errorf("telegram adapter not started")
	}
	chatID, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q", recipient)
	}
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (a *Adapter) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" || update.Message.From == nil {
		return
	}
	senderID := update.Message.From.ID
	if !a.allowed(senderID) {
		a.logger.Debug("ignoring message from unlisted user", "user", senderID)
		return
	}

	userID := fmt.Sprintf("tg-%d", senderID)
	reply, err := a.router.HandleMessage(ctx, userID, ChannelName, update.Message.Text)
	if err != nil {
		a.logger.Error("message handling failed", "user", userID, "error", err)
		a.reply(ctx, b, update.Message.Chat.ID, "Something went wrong handling that message.")
		return
	}
	a.reply(ctx, b, update.Message.Chat.ID, reply.Content)
}

func (a *Adapter) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		a.logger.Error("send reply failed", "chat", chatID, "error", err)
	}
}

// allowed applies the allowed-users filter; an empty list admits all.
func (a *Adapter) allowed(userID int64) bool {
	if len(a.cfg.AllowedUsers) == 0 {
		return true
	}
	for _, id := range a.cfg.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
