// Package main contains the entrypoint for the survey bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/surveybot/internal/bot"
	"github.com/edgard/surveybot/internal/bot/handlers"
	"github.com/edgard/surveybot/internal/bot/tasks"
	"github.com/edgard/surveybot/internal/config"
	"github.com/edgard/surveybot/internal/database"
	"github.com/edgard/surveybot/internal/logger"
	"github.com/edgard/surveybot/internal/lookup"
	"github.com/edgard/surveybot/internal/messenger"
	"github.com/edgard/surveybot/internal/reminder"
	"github.com/edgard/surveybot/internal/server"
	"github.com/edgard/surveybot/internal/survey"
	"github.com/edgard/surveybot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all components and returns the process exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	kb, err := lookup.LoadKnowledgeBase(cfg.Lookup.KnowledgeBasePath)
	if err != nil {
		log.Error("Failed to load knowledge base", "path", cfg.Lookup.KnowledgeBasePath, "error", err)
		return 1
	}
	finder, err := lookup.NewFinder(ctx, cfg.Lookup, kb, log)
	if err != nil {
		log.Error("Failed to initialize answer lookup", "backend", cfg.Lookup.Backend, "error", err)
		return 1
	}

	var (
		out    messenger.Messenger
		tg     *tgbot.Bot
		tgHTTP http.Handler
	)
	switch cfg.Messenger.Platform {
	case "telegram":
		tg, err = telegram.NewTelegramBot(cfg.Messenger.Telegram, log, tgbot.WithMiddlewares(logger.Middleware(log)))
		if err != nil {
			log.Error("Failed to create Telegram bot", "error", err)
			return 1
		}
		out = messenger.NewTelegram(tg, log)
		if cfg.Messenger.Telegram.WebhookURL != "" {
			tgHTTP = tg.WebhookHandler()
		}
	default:
		out, err = messenger.NewLINE(cfg.Messenger.LINE.ChannelAccessToken, log)
		if err != nil {
			log.Error("Failed to create LINE client", "error", err)
			return 1
		}
	}

	engine := survey.NewEngine(store, finder, cfg.Survey, log)
	dispatcher := survey.NewDispatcher(engine, out, survey.ConfirmPrompt(cfg.Survey),
		cfg.Survey.EventTimeout, cfg.Survey.WebhookConcurrency, log)

	if tg != nil {
		hDeps := handlers.HandlerDeps{
			Logger: log,
			Config: cfg,
			Store:  store,
			Events: dispatcher,
		}
		if err := telegram.RegisterHandlers(tg, log, handlers.RegisterAllCommands(hDeps)); err != nil {
			log.Error("Failed to register Telegram handlers", "error", err)
			return 1
		}
	}

	router := server.NewRouter(server.Deps{
		Logger:          log,
		Events:          dispatcher,
		Store:           store,
		ChannelSecret:   cfg.Messenger.LINE.ChannelSecret,
		CallbackPath:    cfg.Server.LINECallbackPath,
		TelegramPath:    cfg.Messenger.Telegram.WebhookPath,
		TelegramHandler: tgHTTP,
	})
	httpServer := server.NewHTTPServer(cfg.Server.Addr, router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	tDeps := tasks.TaskDeps{
		Logger:  log,
		Store:   store,
		Sweeper: reminder.NewSweeper(store, out, cfg.Survey, log),
		Config:  cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, httpServer, tg, sched)

	log.Info("Starting bot...", "platform", cfg.Messenger.Platform, "lookup", cfg.Lookup.Backend)
	runErr := app.Run(ctx)
	log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
