// Package tasks implements the scheduled jobs of the survey bot.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/surveybot/internal/config"
	"github.com/edgard/surveybot/internal/database"
)

// ReminderSweeper delivers due reminders.
type ReminderSweeper interface {
	Sweep(ctx context.Context) ([]database.FiredReminder, error)
}

// TaskDeps contains the dependencies of scheduled tasks.
type TaskDeps struct {
	Logger  *slog.Logger
	Store   database.Store
	Sweeper ReminderSweeper
	Config  *config.Config
}
