package handlers

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/identity"
	"github.com/Ant-Pavel/systech-aidd/internal/relay"
)

const sendMessageTimeout = 10 * time.Second

// NewChatHandler returns the default handler: any text that is not a
// command goes through the relay and the reply is sent back.
func NewChatHandler(deps HandlerDeps) bot.HandlerFunc {
	h := chatHandler{deps}
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.handle(ctx, b, update)
	}
}

type chatHandler struct {
	deps HandlerDeps
}

func (h chatHandler) handle(ctx context.Context, s Sender, update *models.Update) {
	log := h.deps.Logger.With("handler", "chat")

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Text == "" {
		log.DebugContext(ctx, "Ignoring update without text or sender", "update_id", update.ID)
		return
	}

	chatID := msg.Chat.ID
	userID := msg.From.ID

	sendTyping(ctx, s, log, chatID)
	typingCtx, stopTyping := context.WithCancel(ctx)
	go keepTyping(typingCtx, s, log, chatID, h.deps.Config.Telegram.TypingTimeout)

	text, err := h.deps.Relay.Complete(ctx, relay.Request{
		Identity: identity.Native(userID, chatID),
		Text:     msg.Text,
		Source:   database.SourceTelegram,
	})
	stopTyping()

	if err != nil && !apperrors.HasCode(err, apperrors.CodeConsistency) {
		log.ErrorContext(ctx, "Failed to complete exchange", "error", err, "chat_id", chatID, "user_id", userID)
		reply(ctx, s, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()
	for _, part := range splitMessage(text, h.deps.Config.Telegram.MaxMessageLength) {
		if !reply(sendCtx, s, log, chatID, part) {
			return
		}
	}
	log.InfoContext(ctx, "Sent reply", "chat_id", chatID, "user_id", userID, "length", len([]rune(text)))
}

// sendTyping shows the typing indicator once.
func sendTyping(ctx context.Context, s Sender, log *slog.Logger, chatID int64) {
	_, err := s.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})
	if err != nil && ctx.Err() == nil {
		log.DebugContext(ctx, "Typing action failed", "error", err, "chat_id", chatID)
	}
}

// keepTyping repeats the typing indicator every interval until ctx is
// cancelled.
func keepTyping(ctx context.Context, s Sender, log *slog.Logger, chatID int64, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sendTyping(ctx, s, log, chatID)
		}
	}
}

// splitMessage cuts text into parts of at most limit runes, preferring to
// break after a newline in the second half of a part.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		if i := lastIndexRune(runes[:limit], '\n'); i >= limit/2 {
			cut = i + 1
		}
		if part := strings.TrimRight(string(runes[:cut]), "\n"); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
