package database

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

// Step is the stage marker persisted for each participant. Whole values are
// conversation stages; the fractional values are reminder markers layered on
// the Q&A stage.
type Step float64

const (
	StepWelcome    Step = 0
	StepResearchID Step = 1
	StepPreSurvey  Step = 2
	StepQA         Step = 3
	StepPostSurvey Step = 5
	StepFinished   Step = 10

	StepReminded3Days         Step = 4.3
	StepReminded7Days         Step = 4.7
	StepReminded14Days        Step = 4.14
	StepReminded21Days        Step = 4.21
	StepRemindedBeforeLastDay Step = 4.9
)

// StepPtr returns a pointer to s, for use in StateDelta literals.
func StepPtr(s Step) *Step {
	return &s
}

// UnixTime is a nullable instant stored as unix milliseconds, which keeps
// range comparisons in SQL purely numeric.
type UnixTime struct {
	Time  time.Time
	Valid bool
}

// NewUnixTime returns a valid UnixTime truncated to millisecond precision.
func NewUnixTime(t time.Time) UnixTime {
	return UnixTime{Time: time.UnixMilli(t.UnixMilli()).UTC(), Valid: true}
}

// Scan implements sql.Scanner.
func (u *UnixTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*u = UnixTime{}
	case int64:
		*u = UnixTime{Time: time.UnixMilli(v).UTC(), Valid: true}
	case float64:
		*u = UnixTime{Time: time.UnixMilli(int64(v)).UTC(), Valid: true}
	default:
		return fmt.Errorf("cannot scan %T into UnixTime", value)
	}
	return nil
}

// Value implements driver.Valuer.
func (u UnixTime) Value() (driver.Value, error) {
	if !u.Valid {
		return nil, nil
	}
	return u.Time.UnixMilli(), nil
}

// UserState is the per-participant progress row.
type UserState struct {
	UserID       string         `db:"user_id"`
	Step         Step           `db:"step"`
	ResearchID   sql.NullString `db:"research_id"`
	LastQuestion sql.NullString `db:"last_question"`

	RegistrationTime UnixTime `db:"registration_time"`
	Reminder3Days    UnixTime `db:"reminder_3days"`
	Reminder7Days    UnixTime `db:"reminder_7days"`
	Reminder14Days   UnixTime `db:"reminder_14days"`
	Reminder21Days   UnixTime `db:"reminder_21days"`
	BeforeLastDay    UnixTime `db:"before_the_last_day"`
	AfterUseEnds     UnixTime `db:"after_use_ends"`

	CreatedAt UnixTime `db:"created_at"`
	UpdatedAt UnixTime `db:"updated_at"`
}

// Reminder returns the scheduled instant for the given reminder kind.
func (s *UserState) Reminder(kind ReminderKind) UnixTime {
	switch kind {
	case Reminder3Days:
		return s.Reminder3Days
	case Reminder7Days:
		return s.Reminder7Days
	case Reminder14Days:
		return s.Reminder14Days
	case Reminder21Days:
		return s.Reminder21Days
	case ReminderBeforeLastDay:
		return s.BeforeLastDay
	case ReminderAfterUseEnds:
		return s.AfterUseEnds
	}
	return UnixTime{}
}

func (s *UserState) setReminder(kind ReminderKind, t UnixTime) {
	switch kind {
	case Reminder3Days:
		s.Reminder3Days = t
	case Reminder7Days:
		s.Reminder7Days = t
	case Reminder14Days:
		s.Reminder14Days = t
	case Reminder21Days:
		s.Reminder21Days = t
	case ReminderBeforeLastDay:
		s.BeforeLastDay = t
	case ReminderAfterUseEnds:
		s.AfterUseEnds = t
	}
}

// ChatLogEntry records one message handled in the Q&A stage. Rows are never
// updated or deleted.
type ChatLogEntry struct {
	ID          int64    `db:"id"`
	UserID      string   `db:"user_id"`
	MessageID   string   `db:"message_id"`
	UserMessage string   `db:"user_message"`
	ResponseID  string   `db:"response_id"`
	ReplyID     string   `db:"reply_id"`
	Timestamp   UnixTime `db:"timestamp"`
	Version     string   `db:"version"`
}

// ReminderKind identifies one of the six follow-up prompts scheduled at
// registration.
type ReminderKind int

const (
	Reminder3Days ReminderKind = iota
	Reminder7Days
	Reminder14Days
	Reminder21Days
	ReminderBeforeLastDay
	ReminderAfterUseEnds
)

// ReminderKinds lists every kind in sweep order.
var ReminderKinds = []ReminderKind{
	Reminder3Days,
	Reminder7Days,
	Reminder14Days,
	Reminder21Days,
	ReminderBeforeLastDay,
	ReminderAfterUseEnds,
}

type reminderDef struct {
	name       string
	column     string
	offsetDays int
	marker     Step
	// ceiling is the first step the marker may not overwrite. Markers follow
	// reminder order, not numeric order (4.14 comes after 4.7).
	ceiling Step
}

var reminderDefs = map[ReminderKind]reminderDef{
	Reminder3Days:         {"3days", "reminder_3days", 3, StepReminded3Days, StepPostSurvey},
	Reminder7Days:         {"7days", "reminder_7days", 7, StepReminded7Days, StepPostSurvey},
	Reminder14Days:        {"14days", "reminder_14days", 14, StepReminded14Days, StepPostSurvey},
	Reminder21Days:        {"21days", "reminder_21days", 21, StepReminded21Days, StepPostSurvey},
	ReminderBeforeLastDay: {"before_the_last_day", "before_the_last_day", 31, StepRemindedBeforeLastDay, StepPostSurvey},
	ReminderAfterUseEnds:  {"after_use_ends", "after_use_ends", 31 + 31, StepPostSurvey, StepFinished},
}

func (k ReminderKind) String() string {
	if def, ok := reminderDefs[k]; ok {
		return def.name
	}
	return fmt.Sprintf("reminder(%d)", int(k))
}

// Column returns the user_state column holding this reminder.
func (k ReminderKind) Column() string {
	return reminderDefs[k].column
}

// Offset returns the delay from registration to this reminder.
func (k ReminderKind) Offset() time.Duration {
	return time.Duration(reminderDefs[k].offsetDays) * 24 * time.Hour
}

// Marker returns the step stamped on a user once this reminder fired.
func (k ReminderKind) Marker() Step {
	return reminderDefs[k].marker
}

// StateDelta is a proposed change to a UserState. Nil fields keep the stored
// value.
type StateDelta struct {
	// Step moves the user to a new step.
	Step *Step
	// ExpectStep rejects the write with ErrStaleState when the stored step differs.
	ExpectStep *Step

	ResearchID *string
	// ClaimResearchID lets ResearchID replace an existing value. Writes
	// targeting StepResearchID always replace it.
	ClaimResearchID bool

	// LastQuestion replaces the stored value; a pointer to "" clears it.
	LastQuestion *string

	// RegistrationTime is applied only when none is stored yet, and then
	// schedules all reminders.
	RegistrationTime *time.Time
}

// FiredReminder identifies one reminder row selected by a sweep.
type FiredReminder struct {
	Kind       ReminderKind
	UserID     string
	ResearchID sql.NullString
}
