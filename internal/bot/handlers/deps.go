// Package handlers implements the Telegram update handlers of the survey bot.
package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/surveybot/internal/config"
	"github.com/edgard/surveybot/internal/database"
	"github.com/edgard/surveybot/internal/survey"
)

// EventHandler runs one inbound event through the survey flow.
type EventHandler interface {
	Handle(ctx context.Context, ev survey.Event) error
}

// StateReader is the part of database.Store the handlers need.
type StateReader interface {
	GetUserState(ctx context.Context, userID string) (*database.UserState, error)
}

// HandlerDeps provides dependencies for Telegram handlers.
type HandlerDeps struct {
	Logger *slog.Logger
	Config *config.Config
	Store  StateReader
	Events EventHandler
}
