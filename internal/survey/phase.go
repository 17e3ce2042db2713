package survey

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"github.com/edgard/surveybot/internal/database"
)

// phase is the conversation stage derived from a stored step.
type phase string

const (
	phaseWelcome    phase = "welcome"
	phaseResearchID phase = "research_id"
	phasePreSurvey  phase = "pre_survey"
	phaseQA         phase = "qa"
	phasePostSurvey phase = "post_survey"
	phaseFinished   phase = "finished"
	phaseUnknown    phase = "unknown"
)

// Events accepted by the phase machine.
const (
	eventGreet       = "greet"
	eventRegister    = "register"
	eventConfirmPre  = "confirm_pre"
	eventConfirmPost = "confirm_post"
)

var phaseEvents = fsm.Events{
	{Name: eventGreet, Src: []string{string(phaseWelcome)}, Dst: string(phaseResearchID)},
	{Name: eventRegister, Src: []string{string(phaseResearchID)}, Dst: string(phasePreSurvey)},
	{Name: eventConfirmPre, Src: []string{string(phasePreSurvey)}, Dst: string(phaseQA)},
	{Name: eventConfirmPost, Src: []string{string(phasePostSurvey)}, Dst: string(phaseFinished)},
}

// phaseSteps is the step written when a transition enters a phase.
var phaseSteps = map[phase]database.Step{
	phaseWelcome:    database.StepWelcome,
	phaseResearchID: database.StepResearchID,
	phasePreSurvey:  database.StepPreSurvey,
	phaseQA:         database.StepQA,
	phasePostSurvey: database.StepPostSurvey,
	phaseFinished:   database.StepFinished,
}

// phaseOf maps a stored step to its phase. Steps in [3, 5) are Q&A,
// including the reminder markers.
func phaseOf(step database.Step) phase {
	switch {
	case step == database.StepWelcome:
		return phaseWelcome
	case step == database.StepResearchID:
		return phaseResearchID
	case step == database.StepPreSurvey:
		return phasePreSurvey
	case step >= database.StepQA && step < database.StepPostSurvey:
		return phaseQA
	case step == database.StepPostSurvey:
		return phasePostSurvey
	case step == database.StepFinished:
		return phaseFinished
	default:
		return phaseUnknown
	}
}

// transitionDelta builds the guarded step change for event. The write is
// rejected with database.ErrStaleState if the stored step moved meanwhile.
func transitionDelta(ctx context.Context, current database.Step, event string) (*database.StateDelta, error) {
	from := phaseOf(current)
	machine := fsm.NewFSM(string(from), phaseEvents, nil)
	if err := machine.Event(ctx, event); err != nil {
		return nil, fmt.Errorf("event %s not allowed in phase %s: %w", event, from, err)
	}
	return &database.StateDelta{
		Step:       database.StepPtr(phaseSteps[phase(machine.Current())]),
		ExpectStep: database.StepPtr(current),
	}, nil
}
