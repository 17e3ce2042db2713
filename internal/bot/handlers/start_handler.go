package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/surveybot/internal/database"
)

// NewStartHandler returns a handler for the /start command. New participants
// are greeted by the survey flow; everyone else gets the help text.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return startHandler{deps}.Handle
}

type startHandler struct {
	deps HandlerDeps
}

func (h startHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "start")

	ev, ok := eventFromUpdate(update)
	if !ok {
		log.WarnContext(ctx, "Start handler received update without a private message", "update_id", update.ID)
		return
	}

	log.InfoContext(ctx, "Handling /start command", "chat_id", update.Message.Chat.ID)

	state, err := h.deps.Store.GetUserState(ctx, ev.UserID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read participant state", "error", err, "user_id", ev.UserID)
		return
	}

	if state.Step == database.StepWelcome {
		if err := h.deps.Events.Handle(ctx, ev); err != nil {
			log.ErrorContext(ctx, "Failed to start survey", "error", err, "user_id", ev.UserID)
		}
		return
	}

	sendText(ctx, b, update.Message.Chat.ID, h.deps.Config.Survey.Messages.Help, log)
}
