// Package reminder pushes the follow-up prompts scheduled at registration.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgard/surveybot/internal/config"
	"github.com/edgard/surveybot/internal/database"
	"github.com/edgard/surveybot/internal/messenger"
	"github.com/edgard/surveybot/internal/survey"
)

// ErrSweepInProgress is returned by Sweep when a previous tick is still running.
var ErrSweepInProgress = errors.New("reminder sweep already in progress")

// ReminderStore is the part of database.Store the sweeper needs.
type ReminderStore interface {
	SweepReminders(ctx context.Context, now time.Time, lookback time.Duration) ([]database.FiredReminder, error)
}

// Sweeper delivers due reminders. Ticks never overlap.
type Sweeper struct {
	store     ReminderStore
	messenger messenger.Messenger
	cfg       config.SurveyConfig
	log       *slog.Logger
	now       func() time.Time
	running   sync.Mutex
}

// NewSweeper creates a Sweeper.
func NewSweeper(store ReminderStore, m messenger.Messenger, cfg config.SurveyConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		messenger: m,
		cfg:       cfg,
		log:       logger.With("component", "reminder_sweeper"),
		now:       time.Now,
	}
}

// Sweep runs one tick: every reminder due within the lookback window is
// claimed in the store, then pushed once. Pushes happen after the store
// transaction commits and a failed push is not retried. It returns the
// reminders that fired.
func (s *Sweeper) Sweep(ctx context.Context) ([]database.FiredReminder, error) {
	if !s.running.TryLock() {
		s.log.WarnContext(ctx, "Previous reminder sweep still running, skipping tick")
		return nil, ErrSweepInProgress
	}
	defer s.running.Unlock()

	now := s.now()
	fired, err := s.store.SweepReminders(ctx, now, s.cfg.ReminderLookback)
	if err != nil {
		return nil, fmt.Errorf("reminder sweep failed: %w", err)
	}

	for _, r := range fired {
		if err := s.fire(ctx, r); err != nil {
			s.log.WarnContext(ctx, "Reminder delivery failed", "kind", r.Kind, "user_id", r.UserID, "error", err)
		}
	}

	if len(fired) > 0 {
		s.log.InfoContext(ctx, "Reminder sweep finished", "fired", len(fired))
	}
	return fired, nil
}

func (s *Sweeper) fire(ctx context.Context, r database.FiredReminder) error {
	userID := r.UserID
	s.log.DebugContext(ctx, "Sending reminder", "kind", r.Kind, "user_id", userID)

	switch r.Kind {
	case database.ReminderBeforeLastDay:
		return s.messenger.Push(ctx, userID, messenger.Texts(s.cfg.Messages.BeforeLastDay)...)
	case database.ReminderAfterUseEnds:
		if err := s.messenger.Push(ctx, userID, survey.PostSurveyMessages(s.cfg, r.ResearchID.String)...); err != nil {
			return err
		}
		return s.messenger.PushConfirm(ctx, userID, survey.ConfirmPrompt(s.cfg))
	default:
		return s.messenger.Push(ctx, userID, messenger.Texts(s.cfg.Messages.Reminder)...)
	}
}
