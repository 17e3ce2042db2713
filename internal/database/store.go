package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUserState returns the stored row, or a step-0 row with null fields
	// for unknown users.
	GetUserState(ctx context.Context, userID string) (*UserState, error)

	// UpsertUserState merges delta into the stored row (see MergeUserState)
	// and writes the result in one transaction.
	UpsertUserState(ctx context.Context, userID string, delta StateDelta) (*UserState, error)

	// AppendChatLog inserts a chat log entry.
	AppendChatLog(ctx context.Context, entry *ChatLogEntry) error

	// SaveTurn applies an optional state delta and an optional chat log entry
	// atomically.
	SaveTurn(ctx context.Context, userID string, delta *StateDelta, entry *ChatLogEntry) (*UserState, error)

	// GetChatLogs returns a user's chat log in insertion order.
	GetChatLogs(ctx context.Context, userID string) ([]ChatLogEntry, error)

	// SweepReminders claims every reminder due in [now-lookback, now]: it
	// stamps the marker step and clears the selected rows in one transaction
	// and returns them for delivery. Claimed reminders are never returned
	// again, whether or not delivery succeeds.
	SweepReminders(ctx context.Context, now time.Time, lookback time.Duration) ([]FiredReminder, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

const userStateColumns = `user_id, step, research_id, last_question, registration_time,
	reminder_3days, reminder_7days, reminder_14days, reminder_21days,
	before_the_last_day, after_use_ends, created_at, updated_at`

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	state, err := getUserState(ctx, s.db, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting user state", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user state for %s: %w", userID, err)
	}
	if state == nil {
		return &UserState{UserID: userID, Step: StepWelcome}, nil
	}
	return state, nil
}

func (s *sqlxStore) UpsertUserState(ctx context.Context, userID string, delta StateDelta) (*UserState, error) {
	return s.SaveTurn(ctx, userID, &delta, nil)
}

func (s *sqlxStore) AppendChatLog(ctx context.Context, entry *ChatLogEntry) error {
	if entry == nil {
		return fmt.Errorf("cannot save nil chat log entry")
	}
	_, err := s.SaveTurn(ctx, entry.UserID, nil, entry)
	return err
}

func (s *sqlxStore) SaveTurn(ctx context.Context, userID string, delta *StateDelta, entry *ChatLogEntry) (*UserState, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if entry != nil {
		if entry.UserID != userID {
			return nil, fmt.Errorf("chat log user_id %q does not match %q", entry.UserID, userID)
		}
		if !entry.Timestamp.Valid {
			return nil, fmt.Errorf("chat log entry must have a timestamp")
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for saving turn", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	existing, err := getUserState(ctx, tx, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reading user state", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to read user state for %s: %w", userID, err)
	}
	result := existing
	if result == nil {
		result = &UserState{UserID: userID, Step: StepWelcome}
	}

	if delta != nil {
		merged, err := MergeUserState(userID, existing, *delta, s.now())
		if err != nil {
			return nil, err
		}

		query := `
			INSERT INTO user_state (` + userStateColumns + `)
			VALUES (:user_id, :step, :research_id, :last_question, :registration_time,
				:reminder_3days, :reminder_7days, :reminder_14days, :reminder_21days,
				:before_the_last_day, :after_use_ends, :created_at, :updated_at)
			ON CONFLICT(user_id) DO UPDATE SET
				step = excluded.step,
				research_id = excluded.research_id,
				last_question = excluded.last_question,
				registration_time = excluded.registration_time,
				reminder_3days = excluded.reminder_3days,
				reminder_7days = excluded.reminder_7days,
				reminder_14days = excluded.reminder_14days,
				reminder_21days = excluded.reminder_21days,
				before_the_last_day = excluded.before_the_last_day,
				after_use_ends = excluded.after_use_ends,
				updated_at = excluded.updated_at
		`
		if _, err := tx.NamedExecContext(ctx, query, merged); err != nil {
			s.logger.ErrorContext(ctx, "Error saving user state", "user_id", userID, "error", err)
			return nil, fmt.Errorf("failed to save user state for %s: %w", userID, err)
		}
		result = merged
	}

	if entry != nil {
		query := `
			INSERT INTO chat_logs (user_id, message_id, user_message, response_id, reply_id, timestamp, version)
			VALUES (:user_id, :message_id, :user_message, :response_id, :reply_id, :timestamp, :version)
		`
		res, err := tx.NamedExecContext(ctx, query, entry)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error saving chat log", "user_id", userID, "message_id", entry.MessageID, "error", err)
			return nil, fmt.Errorf("failed to save chat log for %s: %w", userID, err)
		}
		if id, err := res.LastInsertId(); err == nil {
			entry.ID = id
		} else {
			s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving chat log",
				"user_id", userID, "error", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Turn saved successfully",
		"user_id", userID, "step", result.Step, "state_written", delta != nil, "chat_log_written", entry != nil)
	return result, nil
}

func (s *sqlxStore) GetChatLogs(ctx context.Context, userID string) ([]ChatLogEntry, error) {
	var entries []ChatLogEntry
	query := `
		SELECT id, user_id, message_id, user_message, response_id, reply_id, timestamp, version
		FROM chat_logs
		WHERE user_id = ?
		ORDER BY id ASC
	`
	if err := s.db.SelectContext(ctx, &entries, query, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting chat logs", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get chat logs for %s: %w", userID, err)
	}
	return entries, nil
}

func (s *sqlxStore) SweepReminders(ctx context.Context, now time.Time, lookback time.Duration) ([]FiredReminder, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for reminder sweep", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	from := now.Add(-lookback).UnixMilli()
	to := now.UnixMilli()
	var fired []FiredReminder

	// Kinds are processed in schedule order so that a user with several
	// overdue reminders ends on the latest marker.
	for _, kind := range ReminderKinds {
		column := kind.Column()
		var due []struct {
			UserID     string         `db:"user_id"`
			ResearchID sql.NullString `db:"research_id"`
		}
		query := fmt.Sprintf(`SELECT user_id, research_id FROM user_state WHERE %s BETWEEN ? AND ? ORDER BY %s, user_id`, column, column)
		if err := tx.SelectContext(ctx, &due, query, from, to); err != nil {
			s.logger.ErrorContext(ctx, "Error selecting due reminders", "kind", kind, "error", err)
			return nil, fmt.Errorf("failed to select due %s reminders: %w", kind, err)
		}
		if len(due) == 0 {
			continue
		}

		userIDs := make([]string, 0, len(due))
		for _, row := range due {
			userIDs = append(userIDs, row.UserID)
			fired = append(fired, FiredReminder{Kind: kind, UserID: row.UserID, ResearchID: row.ResearchID})
		}

		def := reminderDefs[kind]
		query, args, err := sqlx.In(`UPDATE user_state SET step = ?, updated_at = ? WHERE step < ? AND user_id IN (?)`,
			float64(def.marker), to, float64(def.ceiling), userIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to build marker query for %s reminders: %w", kind, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			s.logger.ErrorContext(ctx, "Error stamping reminder markers", "kind", kind, "error", err)
			return nil, fmt.Errorf("failed to stamp %s markers: %w", kind, err)
		}

		query, args, err = sqlx.In(fmt.Sprintf(`UPDATE user_state SET %s = NULL WHERE user_id IN (?)`, column), userIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to build clear query for %s reminders: %w", kind, err)
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error clearing fired reminders", "kind", kind, "error", err)
			return nil, fmt.Errorf("failed to clear fired %s reminders: %w", kind, err)
		}
		if affected, err := result.RowsAffected(); err == nil && int(affected) != len(userIDs) {
			s.logger.WarnContext(ctx, "Not all fired reminders were cleared",
				"kind", kind, "requested", len(userIDs), "affected", affected)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit reminder sweep", "error", err)
		return nil, fmt.Errorf("failed to commit reminder sweep: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Reminder sweep committed", "fired", len(fired))
	return fired, nil
}

// RunSQLMaintenance refreshes planner statistics and executes VACUUM.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting maintenance", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (optimize, VACUUM)...")

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error running VACUUM", "error", err)
		return fmt.Errorf("failed to run VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	return nil
}

// getUserState reads a full row in one statement. It returns nil, nil when
// the user has no row.
func getUserState(ctx context.Context, q sqlx.QueryerContext, userID string) (*UserState, error) {
	var state UserState
	err := sqlx.GetContext(ctx, q, &state, `SELECT `+userStateColumns+` FROM user_state WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
