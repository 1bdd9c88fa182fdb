// Package bot wires the long-running components together and manages their
// lifecycle: the Telegram listener, the web server and the scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Listener is a Telegram update source such as *telegram.Channel.
type Listener interface {
	Start(ctx context.Context)
}

// WebServer serves HTTP until its context is cancelled.
type WebServer interface {
	Start(ctx context.Context) error
}

// Bot represents the application and manages its components' lifecycle.
// Telegram and web are optional; at least one must be present.
type Bot struct {
	logger    *slog.Logger
	telegram  Listener
	web       WebServer
	scheduler *Scheduler
}

// NewBot creates the orchestrator. Pass nil for a disabled channel.
func NewBot(logger *slog.Logger, telegram Listener, web WebServer, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		telegram:  telegram,
		web:       web,
		scheduler: scheduler,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (b *Bot) Run(ctx context.Context) error {
	if b.telegram == nil && b.web == nil {
		return fmt.Errorf("no channel enabled: enable telegram or web")
	}

	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	if b.telegram != nil {
		g.Go(func() error {
			b.logger.Info("Starting Telegram bot listener...")

			b.telegram.Start(gCtx)
			b.logger.Info("Telegram bot listener stopped.")

			if gCtx.Err() == nil {
				b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	if b.web != nil {
		g.Go(func() error {
			b.logger.Info("Starting web server...")
			if err := b.web.Start(gCtx); err != nil {
				b.logger.Error("Web server failed", "error", err)
				return err
			}
			return nil
		})
	}

	if b.scheduler != nil {
		g.Go(func() error {
			b.logger.Info("Starting scheduler...")
			if err := b.scheduler.Start(gCtx); err != nil {
				b.logger.Error("Failed to start scheduler", "error", err)
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")

			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}
