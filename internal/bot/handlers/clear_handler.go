package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewClearHandler returns a handler for the /clear command. The
// acknowledgement is the same whether or not anything was deleted.
func NewClearHandler(deps HandlerDeps) bot.HandlerFunc {
	h := clearHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

type clearHandler struct {
	deps HandlerDeps
}

func (h clearHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "clear")

	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Clear handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := update.Message.From.ID
	log.InfoContext(ctx, "Handling /clear command", "chat_id", chatID, "user_id", userID)

	n, err := h.deps.Store.ClearHistory(ctx, userID, chatID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to clear history", "error", err, "chat_id", chatID, "user_id", userID)
		reply(ctx, s, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	log.InfoContext(ctx, "History cleared", "chat_id", chatID, "user_id", userID, "deleted", n)
	reply(ctx, s, log, chatID, h.deps.Config.Messages.HistoryCleared)
}
