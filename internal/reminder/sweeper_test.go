package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/edgard/surveybot/internal/config"
	"github.com/edgard/surveybot/internal/database"
	"github.com/edgard/surveybot/internal/messenger"
)

type push struct {
	userID  string
	texts   []string
	confirm bool
}

type fakeMessenger struct {
	mu      sync.Mutex
	pushes  []push
	pushErr error
}

func (f *fakeMessenger) Reply(context.Context, string, ...messenger.Message) error {
	return errors.New("reply not expected")
}

func (f *fakeMessenger) Push(_ context.Context, userID string, messages ...messenger.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.Text)
	}
	f.pushes = append(f.pushes, push{userID: userID, texts: texts})
	return f.pushErr
}

func (f *fakeMessenger) PushConfirm(_ context.Context, userID string, c messenger.Confirm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, push{userID: userID, texts: []string{c.Text}, confirm: true})
	return f.pushErr
}

func (f *fakeMessenger) sent() []push {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push(nil), f.pushes...)
}

func testConfig() config.SurveyConfig {
	return config.SurveyConfig{
		Affirmative:      "はい",
		Negative:         "いいえ",
		PostSurveyURL:    "https://example.com/post",
		ReminderLookback: 24 * time.Hour,
		UTCOffset:        9 * time.Hour,
		Messages: config.SurveyMessages{
			PostSurvey:     []string{"{research_id}: survey {survey_url}", "interview"},
			Reminder:       "how are you?",
			BeforeLastDay:  "last day tomorrow",
			ConfirmText:    "done?",
			ConfirmAltText: "confirm",
		},
	}
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, nil)
}

func register(t *testing.T, store database.Store, userID string, registered time.Time) {
	t.Helper()

	researchID := "R-" + userID
	_, err := store.UpsertUserState(context.Background(), userID, database.StateDelta{
		Step:             database.StepPtr(database.StepQA),
		ResearchID:       &researchID,
		RegistrationTime: &registered,
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", userID, err)
	}
}

func TestSweepPushesDueReminderOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t)
	register(t, store, "U1", now.Add(-3*24*time.Hour-12*time.Hour))
	register(t, store, "U2", now.Add(-time.Hour))

	m := &fakeMessenger{}
	sweeper := NewSweeper(store, m, testConfig(), nil)
	sweeper.now = func() time.Time { return now }

	fired, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(fired) != 1 || fired[0].UserID != "U1" || fired[0].Kind != database.Reminder3Days {
		t.Fatalf("unexpected fired reminders: %+v", fired)
	}
	sent := m.sent()
	if len(sent) != 1 || sent[0].userID != "U1" || sent[0].texts[0] != "how are you?" {
		t.Fatalf("unexpected pushes: %+v", sent)
	}

	state, err := store.GetUserState(ctx, "U1")
	if err != nil {
		t.Fatalf("GetUserState() error = %v", err)
	}
	if state.Step != database.StepReminded3Days {
		t.Errorf("step = %v, want %v", state.Step, database.StepReminded3Days)
	}
	if state.Reminder3Days.Valid {
		t.Errorf("reminder_3days should be cleared")
	}
	if !state.Reminder7Days.Valid {
		t.Errorf("reminder_7days should still be scheduled")
	}

	sweeper.now = func() time.Time { return now.Add(time.Minute) }
	fired, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if len(fired) != 0 || len(m.sent()) != 1 {
		t.Errorf("reminder delivered twice: fired=%+v pushes=%+v", fired, m.sent())
	}
}

func TestSweepAfterUseEndsSendsClosingSurvey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	store := newTestStore(t)
	register(t, store, "U1", now.Add(-62*24*time.Hour-time.Hour))

	m := &fakeMessenger{}
	sweeper := NewSweeper(store, m, testConfig(), nil)
	sweeper.now = func() time.Time { return now }

	if _, err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	sent := m.sent()
	if len(sent) != 2 {
		t.Fatalf("expected survey and confirm pushes, got %+v", sent)
	}
	if sent[0].texts[0] != "R-U1: survey https://example.com/post" || len(sent[0].texts) != 2 {
		t.Errorf("unexpected survey push: %+v", sent[0])
	}
	if !sent[1].confirm {
		t.Errorf("expected confirm prompt, got %+v", sent[1])
	}

	state, err := store.GetUserState(ctx, "U1")
	if err != nil {
		t.Fatalf("GetUserState() error = %v", err)
	}
	if state.Step != database.StepPostSurvey {
		t.Errorf("step = %v, want %v", state.Step, database.StepPostSurvey)
	}
}

func TestSweepClearsReminderWhenPushFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t)
	register(t, store, "U1", now.Add(-31*24*time.Hour))

	m := &fakeMessenger{pushErr: errors.New("blocked by user")}
	sweeper := NewSweeper(store, m, testConfig(), nil)
	sweeper.now = func() time.Time { return now }

	fired, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(fired) != 1 || fired[0].Kind != database.ReminderBeforeLastDay {
		t.Fatalf("unexpected fired reminders: %+v", fired)
	}
	if sent := m.sent(); sent[0].texts[0] != "last day tomorrow" {
		t.Errorf("unexpected push: %+v", sent[0])
	}

	state, err := store.GetUserState(ctx, "U1")
	if err != nil {
		t.Fatalf("GetUserState() error = %v", err)
	}
	if state.BeforeLastDay.Valid {
		t.Errorf("before_the_last_day should be cleared even after a failed push")
	}
}

func TestSweepSkipsOverlappingTick(t *testing.T) {
	t.Parallel()

	sweeper := NewSweeper(newTestStore(t), &fakeMessenger{}, testConfig(), nil)
	sweeper.running.Lock()
	defer sweeper.running.Unlock()

	if _, err := sweeper.Sweep(context.Background()); !errors.Is(err, ErrSweepInProgress) {
		t.Fatalf("Sweep() error = %v, want %v", err, ErrSweepInProgress)
	}
}

// blockingMessenger holds every push until release is closed.
type blockingMessenger struct {
	fakeMessenger
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingMessenger) Push(ctx context.Context, userID string, messages ...messenger.Message) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.fakeMessenger.Push(ctx, userID, messages...)
}

func TestSweepPushesOutsideStoreTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	store := newTestStore(t)
	register(t, store, "U1", now.Add(-3*24*time.Hour-time.Hour))
	register(t, store, "U2", now.Add(-time.Hour))

	m := &blockingMessenger{started: make(chan struct{}), release: make(chan struct{})}
	sweeper := NewSweeper(store, m, testConfig(), nil)
	sweeper.now = func() time.Time { return now }

	done := make(chan error, 1)
	go func() {
		_, err := sweeper.Sweep(ctx)
		done <- err
	}()

	select {
	case <-m.started:
	case <-time.After(5 * time.Second):
		t.Fatal("push was not attempted")
	}

	readCtx, cancel := context.WithTimeout(ctx, time.Second)
	state, err := store.GetUserState(readCtx, "U2")
	cancel()
	close(m.release)
	if err != nil {
		t.Fatalf("store blocked while a reminder push was in flight: %v", err)
	}
	if state.Step != database.StepQA {
		t.Errorf("U2 step = %v, want %v", state.Step, database.StepQA)
	}

	if err := <-done; err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if sent := m.sent(); len(sent) != 1 || sent[0].userID != "U1" {
		t.Errorf("unexpected pushes: %+v", sent)
	}
}
