package session

import (
	"fmt"

	"github.com/mcdev12/classcast/go/internal/protocol"
)

// Phase is the student's position in the quiz lifecycle.
type Phase int

const (
	Unregistered Phase = iota
	Registering
	Confirmed
	WaitingRound
	InRound
	Answered
	AckSent
	WaitingResults
	ShowingResults
)

var phaseNames = [...]string{
	Unregistered:   "Unregistered",
	Registering:    "Registering",
	Confirmed:      "Confirmed",
	WaitingRound:   "WaitingRound",
	InRound:        "InRound",
	Answered:       "Answered",
	AckSent:        "AckSent",
	WaitingResults: "WaitingResults",
	ShowingResults: "ShowingResults",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// MarshalText renders the phase by name in JSON snapshots.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name written by MarshalText.
func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Screen is a UI screen the student device can show.
type Screen string

const (
	ScreenRegistration   Screen = "Registration"
	ScreenWaitingRound   Screen = "WaitingRound"
	ScreenAnswering      Screen = "Answering"
	ScreenWaitingResults Screen = "WaitingResults"
	ScreenShowingResults Screen = "ShowingResults"
)

// ScreenFor maps a phase to the screen that renders it.
func ScreenFor(p Phase) Screen {
	switch p {
	case WaitingRound:
		return ScreenWaitingRound
	case InRound, Answered:
		return ScreenAnswering
	case AckSent, WaitingResults:
		return ScreenWaitingResults
	case ShowingResults:
		return ScreenShowingResults
	default:
		return ScreenRegistration
	}
}

// Outcome classifies the student's answer once the correct one is shown.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeBlank     Outcome = "blank"
)

// State is everything the student device knows about the session. It is a
// plain value; only Apply produces new ones.
type State struct {
	Phase         Phase           `json:"phase"`
	StudentName   string          `json:"student_name,omitempty"`
	AssignedCode  string          `json:"assigned_code,omitempty"`
	LastAnswer    protocol.Answer `json:"last_answer,omitempty"`
	CorrectAnswer protocol.Answer `json:"correct_answer,omitempty"`
	Round         int             `json:"round"`

	HasAnsweredThisRound bool `json:"has_answered_this_round"`

	// EndRoundSeen records that this round's ENDROUND was already handled, so
	// the many repeats of it that follow are recognised as duplicates.
	EndRoundSeen bool `json:"end_round_seen"`
}

// Resumed returns the state of a student whose code survived a restart.
func Resumed(code string) State {
	return State{Phase: Confirmed, AssignedCode: code}
}

// Outcome compares the student's answer with the revealed one.
func (s State) Outcome() Outcome {
	if s.Phase != ShowingResults || s.CorrectAnswer == "" {
		return OutcomeNone
	}
	switch s.LastAnswer {
	case "", protocol.AnswerBlank:
		return OutcomeBlank
	case s.CorrectAnswer:
		return OutcomeCorrect
	default:
		return OutcomeIncorrect
	}
}
