package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrStaleState is returned when a StateDelta's ExpectStep no longer matches
// the stored step.
var ErrStaleState = errors.New("user state changed concurrently")

// MergeUserState resolves the row that results from applying delta to
// existing. existing may be nil for a user without a stored row. The input
// row is never modified.
//
// Rules:
//   - omitted delta fields keep the stored value
//   - research_id keeps the first non-null value unless the write targets
//     StepResearchID or sets ClaimResearchID
//   - registration_time is set once; the six reminders are computed from it
//     in the same write and never recomputed
//   - an empty LastQuestion clears the stored value
func MergeUserState(userID string, existing *UserState, delta StateDelta, now time.Time) (*UserState, error) {
	merged := UserState{UserID: userID, Step: StepWelcome}
	if existing != nil {
		merged = *existing
		merged.UserID = userID
	}

	if delta.ExpectStep != nil && merged.Step != *delta.ExpectStep {
		return nil, fmt.Errorf("%w: expected step %v, found %v", ErrStaleState, *delta.ExpectStep, merged.Step)
	}

	if delta.Step != nil {
		merged.Step = *delta.Step
	}

	if delta.ResearchID != nil {
		overwrite := merged.Step == StepResearchID || delta.ClaimResearchID
		if overwrite || !merged.ResearchID.Valid {
			merged.ResearchID = sql.NullString{String: *delta.ResearchID, Valid: true}
		}
	}

	if delta.LastQuestion != nil {
		if *delta.LastQuestion == "" {
			merged.LastQuestion = sql.NullString{}
		} else {
			merged.LastQuestion = sql.NullString{String: *delta.LastQuestion, Valid: true}
		}
	}

	if delta.RegistrationTime != nil && !merged.RegistrationTime.Valid {
		registered := NewUnixTime(*delta.RegistrationTime)
		merged.RegistrationTime = registered
		for _, kind := range ReminderKinds {
			merged.setReminder(kind, NewUnixTime(registered.Time.Add(kind.Offset())))
		}
	}

	stamp := NewUnixTime(now)
	if !merged.CreatedAt.Valid {
		merged.CreatedAt = stamp
	}
	merged.UpdatedAt = stamp

	return &merged, nil
}
