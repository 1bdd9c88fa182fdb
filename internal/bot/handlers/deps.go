// Package handlers contains the Telegram command and message handlers and
// their registration table.
package handlers

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	"github.com/Ant-Pavel/systech-aidd/internal/database"
	"github.com/Ant-Pavel/systech-aidd/internal/relay"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger *slog.Logger
	Config *config.Config
	Store  database.Store
	Relay  *relay.Relay
}

// Sender is the subset of *bot.Bot the handlers talk to.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// reply sends text to the chat and logs a failed delivery.
func reply(ctx context.Context, s Sender, log *slog.Logger, chatID int64, text string) bool {
	if _, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send message", "error", err, "chat_id", chatID)
		return false
	}
	return true
}
