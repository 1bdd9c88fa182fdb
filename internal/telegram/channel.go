// Package telegram runs the Telegram channel: it builds the bot client,
// routes slash commands and plain text to the handlers and publishes the
// command menu when polling starts.
package telegram

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Ant-Pavel/systech-aidd/internal/bot/handlers"
	"github.com/Ant-Pavel/systech-aidd/internal/config"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/logger"
)

// Channel is the Telegram side of the relay.
type Channel struct {
	bot      *bot.Bot
	commands []handlers.Command
	logger   *slog.Logger
}

// New creates the bot client and installs every route. Update logging runs
// first, plain text goes to the chat handler and each command gets its own
// middleware chain. Extra options are appended after the defaults.
func New(cfg config.TelegramConfig, deps handlers.HandlerDeps, opts ...bot.Option) (*Channel, error) {
	if cfg.Token == "" {
		return nil, apperrors.NewConfigError("telegram token is required", nil)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	log := deps.Logger.With("component", "telegram")

	base := []bot.Option{
		bot.WithMiddlewares(logger.Middleware(deps.Logger)),
		bot.WithDefaultHandler(handlers.NewChatHandler(deps)),
	}
	b, err := bot.New(cfg.Token, append(base, opts...)...)
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to create telegram bot", err)
	}

	commands := handlers.RegisterAllCommands(deps)
	for _, cmd := range commands {
		b.RegisterHandler(bot.HandlerTypeMessageText, cmd.Name, bot.MatchTypeCommandStartOnly, cmd.Wrapped())
	}

	log.Info("Telegram channel ready", "commands", len(commands))
	return &Channel{bot: b, commands: commands, logger: log}, nil
}

// Start publishes the command menu and long-polls until ctx is cancelled.
// A failed menu update is logged and polling starts anyway.
func (c *Channel) Start(ctx context.Context) {
	if err := c.publishCommands(ctx); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish command menu", "error", err)
	}
	c.bot.Start(ctx)
}

func (c *Channel) publishCommands(ctx context.Context) error {
	menu := make([]models.BotCommand, 0, len(c.commands))
	for _, cmd := range c.commands {
		menu = append(menu, models.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	if _, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: menu}); err != nil {
		return apperrors.NewConnectivityError("failed to set telegram commands", err)
	}
	return nil
}
