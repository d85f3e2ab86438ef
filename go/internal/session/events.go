package session

import (
	"github.com/mcdev12/classcast/go/internal/protocol"
	"github.com/mcdev12/classcast/go/internal/transmit"
)

// Event is anything that can move the machine: local UI actions, decoded
// inbound messages and timer notifications.
type Event interface {
	isEvent()
}

// NameSubmitted is the registration form being sent.
type NameSubmitted struct {
	Name string
}

// AnswerSelected is the student tapping one of A-D.
type AnswerSelected struct {
	Answer protocol.Answer
}

// Received wraps one decoded inbound broadcast.
type Received struct {
	Message protocol.Message
}

// TransmissionElapsed reports that a timed transmission of Message ran its course.
type TransmissionElapsed struct {
	Message protocol.Message
}

func (NameSubmitted) isEvent()       {}
func (AnswerSelected) isEvent()      {}
func (Received) isEvent()            {}
func (TransmissionElapsed) isEvent() {}

// Effect is an instruction for the collaborators around the machine. The
// machine only describes them; the runtime executes them in order.
type Effect interface {
	isEffect()
}

// Transmit replaces whatever is on air with Message.
type Transmit struct {
	Message protocol.Message
	Mode    transmit.Mode
}

// StopTransmit takes the device off air.
type StopTransmit struct{}

// Persist stores the assigned code so it survives a restart.
type Persist struct {
	Code string
}

// RecordAnswer stores the last submitted answer for display.
type RecordAnswer struct {
	Answer protocol.Answer
}

// Navigate asks the UI to show Screen.
type Navigate struct {
	Screen Screen
}

func (Transmit) isEffect()     {}
func (StopTransmit) isEffect() {}
func (Persist) isEffect()      {}
func (RecordAnswer) isEffect() {}
func (Navigate) isEffect()     {}
