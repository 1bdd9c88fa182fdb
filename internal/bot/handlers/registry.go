package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// Command is one slash command: its name without the slash, the text shown
// in the Telegram command menu, and the handler with its own middleware.
type Command struct {
	Name        string
	Description string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
}

// Wrapped returns the handler with its middleware applied. The first
// middleware is the outermost.
func (c Command) Wrapped() tgbot.HandlerFunc {
	h := c.Handler
	for i := len(c.Middleware) - 1; i >= 0; i-- {
		h = c.Middleware[i](h)
	}
	return h
}

// RegisterAllCommands returns the commands in menu order. Plain text is
// served by NewChatHandler, installed as the bot's default handler.
func RegisterAllCommands(deps HandlerDeps) []Command {
	return []Command{
		{Name: "start", Description: "Start a conversation", Handler: NewStartHandler(deps)},
		{Name: "help", Description: "Show what the bot can do", Handler: NewHelpHandler(deps)},
		{Name: "clear", Description: "Forget the conversation history", Handler: NewClearHandler(deps)},
	}
}
