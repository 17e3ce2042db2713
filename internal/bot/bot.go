// Package bot wires the survey bot's components together and manages their
// lifecycle: the HTTP server, the optional Telegram listener and the
// scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/surveybot/internal/config"
)

// Bot represents the running application.
type Bot struct {
	logger     *slog.Logger
	cfg        *config.Config
	httpServer *http.Server
	tgBot      *tgbot.Bot
	scheduler  *Scheduler
}

// NewBot creates a Bot. tgBot is nil unless Telegram is the configured
// platform.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	httpServer *http.Server,
	tgBot *tgbot.Bot,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		cfg:        cfg,
		httpServer: httpServer,
		tgBot:      tgBot,
		scheduler:  scheduler,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Starting HTTP server...", "addr", b.httpServer.Addr)
		if err := b.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("HTTP server failed", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		b.logger.Info("HTTP server stopped.")
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), b.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := b.httpServer.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("Error shutting down HTTP server", "error", err)
		}
		return nil
	})

	if b.tgBot != nil {
		g.Go(func() error {
			return b.runTelegram(gCtx)
		})
	}

	g.Go(func() error {
		b.logger.Info("Starting scheduler...")
		if err := b.scheduler.Start(); err != nil {
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

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// runTelegram processes Telegram updates, either pushed to the webhook
// handler mounted on the HTTP server or pulled by long polling.
func (b *Bot) runTelegram(ctx context.Context) error {
	tgCfg := b.cfg.Messenger.Telegram

	if tgCfg.WebhookURL != "" {
		b.logger.Info("Registering Telegram webhook...", "url", tgCfg.WebhookURL)
		if _, err := b.tgBot.SetWebhook(ctx, &tgbot.SetWebhookParams{
			URL:         tgCfg.WebhookURL,
			SecretToken: tgCfg.WebhookSecret,
		}); err != nil {
			return fmt.Errorf("failed to set telegram webhook: %w", err)
		}
		b.tgBot.StartWebhook(ctx)
		b.logger.Info("Telegram webhook processing stopped.")
		return nil
	}

	b.logger.Info("Starting Telegram bot listener...")
	b.tgBot.Start(ctx)
	b.logger.Info("Telegram bot listener stopped.")

	if ctx.Err() == nil {
		b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
		return fmt.Errorf("telegram listener stopped unexpectedly")
	}
	return nil
}
