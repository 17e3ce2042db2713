package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/surveybot/internal/survey"
)

// NewMessageHandler returns the handler feeding plain private messages into
// the survey flow.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return messageHandler{deps}.Handle
}

type messageHandler struct {
	deps HandlerDeps
}

func (h messageHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	ev, ok := eventFromUpdate(update)
	if !ok {
		log.DebugContext(ctx, "Skipping update without a private text message", "update_id", update.ID)
		return
	}

	// Replies go out through the messenger; a failure has already been logged
	// by the dispatcher.
	_ = h.deps.Events.Handle(ctx, ev)
}

// isSurveyMessage matches private text messages that are not commands.
func isSurveyMessage(update *models.Update) bool {
	if _, ok := eventFromUpdate(update); !ok {
		return false
	}
	return !strings.HasPrefix(update.Message.Text, "/")
}

// eventFromUpdate converts a private text message into a survey event. The
// chat id doubles as user id and reply token.
func eventFromUpdate(update *models.Update) (survey.Event, bool) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return survey.Event{}, false
	}
	msg := update.Message
	if msg.Chat.Type != models.ChatTypePrivate {
		return survey.Event{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return survey.Event{
		UserID:     chatID,
		MessageID:  strconv.Itoa(msg.ID),
		Text:       msg.Text,
		ReplyToken: chatID,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	}, true
}
