package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcdev12/classcast/go/internal/protocol"
	"github.com/mcdev12/classcast/go/internal/transmit"
)

// DefaultAckDuration is how long one-shot acknowledgements stay on air.
const DefaultAckDuration = 2 * time.Second

var (
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidAnswer = errors.New("invalid answer")
	ErrNotRegistered = errors.New("no code assigned")
	ErrWrongPhase    = errors.New("action not available in this phase")
)

// Reasons reported for ignored events.
const (
	ReasonNotApplicable      = "not applicable in this phase"
	ReasonDuplicate          = "duplicate"
	ReasonOtherStudent       = "addressed to another student"
	ReasonConflictingConfirm = "conflicting confirmation"
	ReasonUnknownEvent       = "unknown event"
)

// Result describes what one Apply call did.
type Result struct {
	State   State
	Effects []Effect
	// Changed is false when the event was ignored; Reason then says why.
	Changed bool
	Reason  string
	// Err is set only when a local action was rejected.
	Err error
}

// Apply is the transition function. It is pure and total: every (state,
// event) pair yields a Result, and events that do not apply to the current
// phase leave the state untouched.
func Apply(s State, ev Event) Result {
	return apply(s, ev, DefaultAckDuration)
}

func apply(s State, ev Event, ack time.Duration) Result {
	switch e := ev.(type) {
	case NameSubmitted:
		return submitName(s, e.Name)
	case AnswerSelected:
		return selectAnswer(s, e.Answer, ack)
	case Received:
		return receive(s, e.Message, ack)
	case TransmissionElapsed:
		return elapsed(s, e.Message)
	default:
		return ignore(s, ReasonUnknownEvent)
	}
}

func submitName(s State, raw string) Result {
	if s.Phase != Unregistered && s.Phase != Registering {
		return reject(s, fmt.Errorf("%w: already %s", ErrWrongPhase, s.Phase))
	}

	name := strings.TrimSpace(raw)
	switch {
	case name == "":
		return reject(s, fmt.Errorf("%w: name is empty", ErrInvalidName))
	case utf8.RuneCountInString(name) > protocol.MaxNameLen:
		return reject(s, fmt.Errorf("%w: at most %d characters", ErrInvalidName, protocol.MaxNameLen))
	case strings.Contains(name, protocol.Separator):
		return reject(s, fmt.Errorf("%w: %q is not allowed", ErrInvalidName, protocol.Separator))
	case len(protocol.Encode(protocol.Name{Name: name})) > protocol.MaxPayloadSize:
		// Accented characters take more than one byte on air.
		return reject(s, fmt.Errorf("%w: too long to broadcast", ErrInvalidName))
	}

	if s.Phase == Registering && s.StudentName == name {
		return ignore(s, ReasonDuplicate)
	}

	s.Phase = Registering
	s.StudentName = name
	return changed(s,
		Transmit{Message: protocol.Name{Name: name}, Mode: transmit.Persistent()},
		Navigate{Screen: ScreenRegistration},
	)
}

func selectAnswer(s State, a protocol.Answer, ack time.Duration) Result {
	if !a.IsChoice() {
		return reject(s, fmt.Errorf("%w: %q", ErrInvalidAnswer, a))
	}
	if s.Phase != InRound || s.HasAnsweredThisRound {
		return reject(s, fmt.Errorf("%w: %s", ErrWrongPhase, s.Phase))
	}
	if s.AssignedCode == "" {
		return reject(s, ErrNotRegistered)
	}
	return answer(s, a, ack)
}

// answer moves InRound to Answered and puts the response on air.
func answer(s State, a protocol.Answer, ack time.Duration) Result {
	s.Phase = Answered
	s.LastAnswer = a
	s.HasAnsweredThisRound = true
	return changed(s,
		Transmit{Message: protocol.Response{Code: s.AssignedCode, Answer: a}, Mode: transmit.Timed(ack)},
		RecordAnswer{Answer: a},
		Navigate{Screen: ScreenAnswering},
	)
}

func receive(s State, m protocol.Message, ack time.Duration) Result {
	switch msg := m.(type) {
	case protocol.Confirm:
		return confirm(s, msg, ack)

	case protocol.StartAll:
		if s.Phase != Confirmed || s.AssignedCode == "" {
			return ignore(s, ReasonNotApplicable)
		}
		s.Phase = WaitingRound
		return changed(s,
			StopTransmit{},
			Transmit{Message: protocol.AckStart{}, Mode: transmit.Persistent()},
			Navigate{Screen: ScreenWaitingRound},
		)

	case protocol.NewRound:
		if s.Phase != WaitingRound && s.Phase != ShowingResults {
			return ignore(s, ReasonNotApplicable)
		}
		s.Phase = InRound
		s.Round++
		s.HasAnsweredThisRound = false
		s.EndRoundSeen = false
		s.LastAnswer = ""
		s.CorrectAnswer = ""
		return changed(s,
			StopTransmit{},
			Navigate{Screen: ScreenAnswering},
		)

	case protocol.EndRound:
		return endRound(s, ack)

	case protocol.ConfirmResponse:
		if s.Phase != Answered {
			return ignore(s, ReasonNotApplicable)
		}
		if msg.Code != s.AssignedCode {
			return ignore(s, ReasonOtherStudent)
		}
		s.Phase = AckSent
		return changed(s,
			Transmit{Message: protocol.AckResponse{Code: msg.Code}, Mode: transmit.Persistent()},
			Navigate{Screen: ScreenWaitingResults},
		)

	case protocol.ShowAnswer:
		if !awaitingResults(s) {
			return ignore(s, ReasonNotApplicable)
		}
		s.Phase = ShowingResults
		s.CorrectAnswer = msg.Correct
		return changed(s,
			Transmit{Message: protocol.AckShowAnswer{Code: s.AssignedCode}, Mode: transmit.Persistent()},
			Navigate{Screen: ScreenShowingResults},
		)

	default:
		// Other students' traffic and our own echoes share the namespace.
		return ignore(s, ReasonNotApplicable)
	}
}

func confirm(s State, msg protocol.Confirm, ack time.Duration) Result {
	if s.StudentName == "" || msg.Name != s.StudentName {
		return ignore(s, ReasonOtherStudent)
	}
	if s.Phase != Registering {
		if s.AssignedCode != "" && msg.Code != s.AssignedCode {
			return ignore(s, ReasonConflictingConfirm)
		}
		if s.AssignedCode == msg.Code {
			return ignore(s, ReasonDuplicate)
		}
		return ignore(s, ReasonNotApplicable)
	}

	s.Phase = Confirmed
	s.AssignedCode = msg.Code
	return changed(s,
		Transmit{Message: protocol.AckCode{Code: msg.Code}, Mode: transmit.Timed(ack)},
		Persist{Code: msg.Code},
		Navigate{Screen: ScreenRegistration},
	)
}

func endRound(s State, ack time.Duration) Result {
	if s.EndRoundSeen {
		return ignore(s, ReasonDuplicate)
	}
	switch s.Phase {
	case InRound:
		if s.HasAnsweredThisRound || s.AssignedCode == "" {
			return ignore(s, ReasonNotApplicable)
		}
		// Forced blank: the response goes out and stays on air for its full
		// duration; the move to WaitingResults happens when it elapses.
		s.EndRoundSeen = true
		return answer(s, protocol.AnswerBlank, ack)
	case Answered, AckSent:
		s.Phase = WaitingResults
		s.EndRoundSeen = true
		return changed(s,
			StopTransmit{},
			Navigate{Screen: ScreenWaitingResults},
		)
	default:
		return ignore(s, ReasonNotApplicable)
	}
}

func elapsed(s State, m protocol.Message) Result {
	if _, ok := m.(protocol.Response); !ok {
		return ignore(s, ReasonNotApplicable)
	}
	if s.Phase != Answered || !s.EndRoundSeen {
		return ignore(s, ReasonNotApplicable)
	}
	s.Phase = WaitingResults
	return changed(s, Navigate{Screen: ScreenWaitingResults})
}

// awaitingResults reports whether the round is over from the student's side.
func awaitingResults(s State) bool {
	switch s.Phase {
	case WaitingResults:
		return true
	case Answered, AckSent:
		return s.EndRoundSeen
	}
	return false
}

func changed(s State, effects ...Effect) Result {
	return Result{State: s, Effects: effects, Changed: true}
}

func ignore(s State, reason string) Result {
	return Result{State: s, Reason: reason}
}

func reject(s State, err error) Result {
	return Result{State: s, Reason: err.Error(), Err: err}
}

// CodeLoader is the part of the session store read at construction.
type CodeLoader interface {
	Load(ctx context.Context) (code string, ok bool, err error)
}

// Machine holds the current State and feeds it through Apply. It is not safe
// for concurrent use; the runtime serialises every call through one goroutine.
type Machine struct {
	state       State
	ackDuration time.Duration
}

// Option configures a Machine.
type Option func(*Machine)

// WithAckDuration overrides DefaultAckDuration.
func WithAckDuration(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.ackDuration = d
		}
	}
}

// NewMachine creates a machine, resuming into Confirmed when loader holds a
// code from an earlier run.
func NewMachine(ctx context.Context, loader CodeLoader, opts ...Option) (*Machine, error) {
	m := &Machine{ackDuration: DefaultAckDuration}
	for _, opt := range opts {
		opt(m)
	}

	if loader != nil {
		code, ok, err := loader.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load assigned code: %w", err)
		}
		if ok && code != "" {
			m.state = Resumed(code)
		}
	}
	return m, nil
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	return m.state
}

// Apply runs ev through the transition function and keeps the new state.
func (m *Machine) Apply(ev Event) Result {
	res := apply(m.state, ev, m.ackDuration)
	m.state = res.State
	return res
}

// Propose computes what ev would do without keeping the result. Pair it with
// Commit when the caller must first check that the effects can be carried out.
func (m *Machine) Propose(ev Event) Result {
	return apply(m.state, ev, m.ackDuration)
}

// Commit keeps the state of a Result obtained from Propose.
func (m *Machine) Commit(res Result) {
	m.state = res.State
}
