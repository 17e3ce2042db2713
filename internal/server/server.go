// Package server exposes the HTTP endpoints of the survey bot: the LINE
// webhook callback, an optional Telegram webhook and a health check.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/edgard/surveybot/internal/logger"
	"github.com/edgard/surveybot/internal/survey"
)

// BatchHandler processes the events of one webhook delivery.
type BatchHandler interface {
	HandleBatch(ctx context.Context, events []survey.Event) int
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds what the router needs. TelegramHandler is optional and is
// mounted at TelegramPath when set.
type Deps struct {
	Logger          *slog.Logger
	Events          BatchHandler
	Store           Pinger
	ChannelSecret   string
	CallbackPath    string
	TelegramPath    string
	TelegramHandler http.Handler
}

// NewRouter builds the HTTP router.
func NewRouter(deps Deps) *mux.Router {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http_server")

	r := mux.NewRouter()
	r.Use(logger.HTTPMiddleware(log))

	if deps.ChannelSecret != "" {
		r.Handle(deps.CallbackPath, &lineCallback{
			secret: deps.ChannelSecret,
			events: deps.Events,
			log:    log.With("handler", "line_callback"),
		}).Methods(http.MethodPost)
	}
	if deps.TelegramHandler != nil {
		r.Handle(deps.TelegramPath, deps.TelegramHandler).Methods(http.MethodPost)
	}
	r.HandleFunc("/healthz", healthHandler(deps.Store, log)).Methods(http.MethodGet)

	return r
}

// NewHTTPServer wraps handler in an http.Server with the given timeouts.
func NewHTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}
}

type lineCallback struct {
	secret string
	events BatchHandler
	log    *slog.Logger
}

func (h *lineCallback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cb, err := webhook.ParseRequest(h.secret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			h.log.WarnContext(r.Context(), "Rejected webhook with invalid signature")
		} else {
			h.log.WarnContext(r.Context(), "Failed to parse webhook body", "error", err)
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	events := eventsFromCallback(r.Context(), cb, h.log)
	if len(events) > 0 {
		// LINE may drop the connection once it has the status; the batch
		// still runs to completion.
		ctx := context.WithoutCancel(r.Context())
		if failed := h.events.HandleBatch(ctx, events); failed > 0 {
			h.log.WarnContext(ctx, "Some webhook events failed", "failed", failed, "total", len(events))
		}
	}

	w.WriteHeader(http.StatusOK)
}

// eventsFromCallback keeps text messages sent by users and skips everything
// else.
func eventsFromCallback(ctx context.Context, cb *webhook.CallbackRequest, log *slog.Logger) []survey.Event {
	events := make([]survey.Event, 0, len(cb.Events))
	for _, raw := range cb.Events {
		msgEvent, ok := raw.(webhook.MessageEvent)
		if !ok {
			log.DebugContext(ctx, "Skipping non-message event", "type", raw.GetType())
			continue
		}
		text, ok := msgEvent.Message.(webhook.TextMessageContent)
		if !ok {
			log.DebugContext(ctx, "Skipping non-text message")
			continue
		}
		source, ok := msgEvent.Source.(webhook.UserSource)
		if !ok || source.UserId == "" {
			log.DebugContext(ctx, "Skipping message without a user source")
			continue
		}

		events = append(events, survey.Event{
			UserID:     source.UserId,
			MessageID:  text.Id,
			Text:       text.Text,
			ReplyToken: msgEvent.ReplyToken,
			Timestamp:  time.UnixMilli(msgEvent.Timestamp),
		})
	}
	return events
}

func healthHandler(store Pinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "Health check failed", "error", err)
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}
}
