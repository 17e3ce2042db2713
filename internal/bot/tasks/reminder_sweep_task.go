package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/surveybot/internal/reminder"
)

// newReminderSweepTask creates the task pushing due reminders. A tick that
// finds the previous one still running is skipped without error.
func newReminderSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", ReminderSweepTask)

	return func(ctx context.Context) error {
		startTime := time.Now()

		fired, err := deps.Sweeper.Sweep(ctx)
		if errors.Is(err, reminder.ErrSweepInProgress) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reminder sweep failed: %w", err)
		}

		log.DebugContext(ctx, "Reminder sweep task completed", "fired", len(fired), "duration", time.Since(startTime))
		return nil
	}
}
