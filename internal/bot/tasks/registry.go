package tasks

import (
	"context"
)

// ScheduledTaskFunc defines the signature of scheduled tasks. The context
// provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// Task names, matching the keys under scheduler.tasks in the configuration.
const (
	ReminderSweepTask  = "reminder_sweep"
	SQLMaintenanceTask = "sql_maintenance"
)

// RegisterAllTasks returns every task keyed by its configuration name.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks[ReminderSweepTask] = newReminderSweepTask(deps)
	tasks[SQLMaintenanceTask] = newSQLMaintenanceTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
