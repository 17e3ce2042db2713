// Package survey implements the conversation flow: a per-user step machine
// that walks participants from registration through Q&A to the closing
// survey.
package survey

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/edgard/surveybot/internal/config"
	"github.com/edgard/surveybot/internal/database"
	"github.com/edgard/surveybot/internal/lookup"
	"github.com/edgard/surveybot/internal/messenger"
)

// Event is one inbound text message.
type Event struct {
	UserID     string
	MessageID  string
	Text       string
	ReplyToken string
	Timestamp  time.Time
}

// Outcome is what the engine decided to send for one event. Confirm asks
// the caller to push the yes/no prompt after the replies.
type Outcome struct {
	Replies []messenger.Message
	Confirm bool
}

// StateStore is the part of database.Store the engine needs.
type StateStore interface {
	GetUserState(ctx context.Context, userID string) (*database.UserState, error)
	SaveTurn(ctx context.Context, userID string, delta *database.StateDelta, entry *database.ChatLogEntry) (*database.UserState, error)
}

// Engine decides replies and state changes for inbound messages.
type Engine struct {
	store    StateStore
	finder   lookup.Finder
	cfg      config.SurveyConfig
	log      *slog.Logger
	locks    *keyedMutex
	newToken func() (string, error)
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store StateStore, finder lookup.Finder, cfg config.SurveyConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		finder:   finder,
		cfg:      cfg,
		log:      logger.With("component", "survey_engine"),
		locks:    newKeyedMutex(),
		newToken: newToken,
		now:      time.Now,
	}
}

// Process handles one event. State is read, the decision made and the
// result persisted while holding the user's lock. Nothing is persisted when
// an error is returned.
func (e *Engine) Process(ctx context.Context, ev Event) (*Outcome, error) {
	if ev.UserID == "" {
		return nil, fmt.Errorf("event has no user id")
	}

	unlock := e.locks.Lock(ev.UserID)
	defer unlock()

	state, err := e.store.GetUserState(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read state for %s: %w", ev.UserID, err)
	}

	text := strings.TrimSpace(ev.Text)
	log := e.log.With("user_id", ev.UserID, "step", state.Step)

	switch phaseOf(state.Step) {
	case phaseWelcome:
		return e.welcome(ctx, ev, state)
	case phaseResearchID:
		return e.registerResearchID(ctx, ev, state, text)
	case phasePreSurvey:
		return e.preSurvey(ctx, ev, state, text)
	case phaseQA:
		return e.answer(ctx, ev, state, text)
	case phasePostSurvey:
		return e.postSurvey(ctx, ev, state, text)
	case phaseFinished:
		log.DebugContext(ctx, "Participant already finished, ignoring message")
		return &Outcome{}, nil
	default:
		log.WarnContext(ctx, "Unknown step, ignoring message")
		return &Outcome{}, nil
	}
}

func (e *Engine) welcome(ctx context.Context, ev Event, state *database.UserState) (*Outcome, error) {
	delta, err := transitionDelta(ctx, state.Step, eventGreet)
	if err != nil {
		return nil, err
	}
	registered := e.eventTime(ev)
	delta.RegistrationTime = &registered

	if _, err := e.store.SaveTurn(ctx, ev.UserID, delta, nil); err != nil {
		return nil, err
	}
	return &Outcome{Replies: messenger.Texts(e.cfg.Messages.Welcome...)}, nil
}

func (e *Engine) registerResearchID(ctx context.Context, ev Event, state *database.UserState, text string) (*Outcome, error) {
	delta, err := transitionDelta(ctx, state.Step, eventRegister)
	if err != nil {
		return nil, err
	}
	registered := e.eventTime(ev)
	delta.ResearchID = &text
	delta.ClaimResearchID = true
	delta.RegistrationTime = &registered

	if _, err := e.store.SaveTurn(ctx, ev.UserID, delta, nil); err != nil {
		return nil, err
	}
	reply := render(e.cfg.Messages.ResearchIDAccepted, text, e.cfg.PreSurveyURL)
	return &Outcome{Replies: messenger.Texts(reply), Confirm: true}, nil
}

func (e *Engine) preSurvey(ctx context.Context, ev Event, state *database.UserState, text string) (*Outcome, error) {
	if text != e.cfg.Affirmative {
		reply := render(e.cfg.Messages.PreSurveyRetry, state.ResearchID.String, e.cfg.PreSurveyURL)
		return &Outcome{Replies: messenger.Texts(reply), Confirm: true}, nil
	}

	delta, err := transitionDelta(ctx, state.Step, eventConfirmPre)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.SaveTurn(ctx, ev.UserID, delta, nil); err != nil {
		return nil, err
	}
	return &Outcome{Replies: messenger.Texts(e.cfg.Messages.QAInstructions)}, nil
}

func (e *Engine) postSurvey(ctx context.Context, ev Event, state *database.UserState, text string) (*Outcome, error) {
	if text != e.cfg.Affirmative {
		return &Outcome{Replies: PostSurveyMessages(e.cfg, state.ResearchID.String), Confirm: true}, nil
	}

	delta, err := transitionDelta(ctx, state.Step, eventConfirmPost)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.SaveTurn(ctx, ev.UserID, delta, nil); err != nil {
		return nil, err
	}
	return &Outcome{Replies: messenger.Texts(e.cfg.Messages.Closing...)}, nil
}

// PostSurveyMessages returns the closing survey sequence sent at step 5.
func PostSurveyMessages(cfg config.SurveyConfig, researchID string) []messenger.Message {
	return lo.Map(cfg.Messages.PostSurvey, func(t string, _ int) messenger.Message {
		return messenger.Message{Text: render(t, researchID, cfg.PostSurveyURL)}
	})
}

// ConfirmPrompt returns the yes/no prompt asking whether a survey was answered.
func ConfirmPrompt(cfg config.SurveyConfig) messenger.Confirm {
	return messenger.Confirm{
		AltText: cfg.Messages.ConfirmAltText,
		Text:    cfg.Messages.ConfirmText,
		Yes:     cfg.Affirmative,
		No:      cfg.Negative,
	}
}

// answer runs the Q&A sub-protocol. The step is never written here, so
// reminder markers stamped by the sweep survive.
func (e *Engine) answer(ctx context.Context, ev Event, state *database.UserState, text string) (*Outcome, error) {
	res, err := e.finder.FindOption(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("answer lookup failed: %w", err)
	}

	entry := &database.ChatLogEntry{
		UserID:      ev.UserID,
		MessageID:   ev.MessageID,
		UserMessage: text,
		ResponseID:  strconv.Itoa(res.Index),
		Timestamp:   database.NewUnixTime(e.eventTime(ev)),
		Version:     e.cfg.Version,
	}

	if res.Disambiguate || len(res.Options) > 0 {
		return e.offerChoices(ctx, ev, res, entry)
	}

	var delta *database.StateDelta
	if state.LastQuestion.Valid {
		entry.ReplyID = correlate(state.LastQuestion.String, text)
		cleared := ""
		delta = &database.StateDelta{LastQuestion: &cleared}
	}

	if _, err := e.store.SaveTurn(ctx, ev.UserID, delta, entry); err != nil {
		return nil, err
	}

	answers := res.Answers
	if len(answers) == 0 {
		answers = []string{e.cfg.Messages.QAFallback}
	}
	e.log.DebugContext(ctx, "Answered question", "user_id", ev.UserID, "index", res.Index, "reply_id", entry.ReplyID)
	return &Outcome{Replies: messenger.Texts(answers...)}, nil
}

func (e *Engine) offerChoices(ctx context.Context, ev Event, res *lookup.Result, entry *database.ChatLogEntry) (*Outcome, error) {
	n := min(len(res.Options), len(res.Choices))
	choices := lo.Map(res.Choices[:n], func(c string, _ int) string {
		return strings.ReplaceAll(c, "\t", " ")
	})
	quickReplies := make([]messenger.QuickReply, n)
	for i := range n {
		quickReplies[i] = messenger.QuickReply{Label: res.Options[i], Text: choices[i]}
	}

	token, err := e.newToken()
	if err != nil {
		return nil, err
	}
	lastQuestion := strings.Join(append([]string{token}, choices...), "\t")
	entry.ReplyID = token

	if _, err := e.store.SaveTurn(ctx, ev.UserID, &database.StateDelta{LastQuestion: &lastQuestion}, entry); err != nil {
		return nil, err
	}

	prompt := e.cfg.Messages.Disambiguation
	if len(res.Answers) > 0 && res.Answers[0] != "" {
		prompt = res.Answers[0]
	}
	e.log.DebugContext(ctx, "Offered choices", "user_id", ev.UserID, "choices", n, "reply_id", token)
	return &Outcome{Replies: []messenger.Message{{Text: prompt, QuickReplies: quickReplies}}}, nil
}

// correlate returns the token of a previous choice menu when text is one of
// its choices, or "" otherwise. A menu without a token never correlates.
func correlate(lastQuestion, text string) string {
	parts := strings.Split(lastQuestion, "\t")
	if parts[0] == "" {
		return ""
	}
	if lo.Contains(parts[1:], text) {
		return parts[0]
	}
	return ""
}

// eventTime is the event timestamp in the participant's zone.
func (e *Engine) eventTime(ev Event) time.Time {
	t := ev.Timestamp
	if t.IsZero() {
		t = e.now()
	}
	return t.In(e.cfg.Location())
}

// render substitutes {research_id} and {survey_url} in a message template.
func render(tmpl, researchID, surveyURL string) string {
	return strings.NewReplacer("{research_id}", researchID, "{survey_url}", surveyURL).Replace(tmpl)
}
