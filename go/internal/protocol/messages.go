package protocol

import "strings"

// Tag is the first colon-separated field of every payload
type Tag string

const (
	TagName            Tag = "NAME"
	TagConfirm         Tag = "CONF"
	TagAckCode         Tag = "ACKCODE"
	TagStart           Tag = "START"
	TagAckStart        Tag = "ACK_START"
	TagNewRound        Tag = "NEWROUND"
	TagResponse        Tag = "RESP"
	TagConfirmResponse Tag = "CONFRES"
	TagAckResponse     Tag = "ACKRES"
	TagEndRound        Tag = "ENDROUND"
	TagShowAnswer      Tag = "SHOWAW"
	TagAckShowAnswer   Tag = "ACK_SHOWAW"
)

const (
	// Separator splits fields on the wire.
	Separator = ":"

	// startAllScope is the fixed suffix of START:ALL.
	startAllScope = "ALL"

	// MaxNameLen is the longest student name that still fits in NAME:<name>.
	MaxNameLen = 17

	// MaxPayloadSize is the manufacturer data capacity of a legacy advertisement.
	MaxPayloadSize = 24
)

// Answer is a student choice. BLANK is only ever sent on the student's behalf.
type Answer string

const (
	AnswerA     Answer = "A"
	AnswerB     Answer = "B"
	AnswerC     Answer = "C"
	AnswerD     Answer = "D"
	AnswerBlank Answer = "BLANK"
)

// ParseAnswer accepts any casing and surrounding whitespace.
func ParseAnswer(s string) (Answer, bool) {
	a := Answer(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case AnswerA, AnswerB, AnswerC, AnswerD, AnswerBlank:
		return a, true
	}
	return "", false
}

// IsChoice reports whether a is one of the four selectable options.
func (a Answer) IsChoice() bool {
	switch a {
	case AnswerA, AnswerB, AnswerC, AnswerD:
		return true
	}
	return false
}

// Message is the closed set of payloads exchanged between the teacher and
// student devices. Only types in this package implement it.
type Message interface {
	Tag() Tag
	fields() []string
}

// Name is advertised by a student asking to be registered.
type Name struct {
	Name string
}

// Confirm assigns a code to a registered name.
type Confirm struct {
	Name string
	Code string
}

// AckCode acknowledges a Confirm.
type AckCode struct {
	Code string
}

// StartAll tells every registered student the quiz is starting.
type StartAll struct{}

// AckStart is advertised while a student waits for the first round.
type AckStart struct{}

// NewRound opens a question.
type NewRound struct{}

// Response carries a student's answer for the current round.
type Response struct {
	Code   string
	Answer Answer
}

// ConfirmResponse tells the student with Code that its response arrived.
type ConfirmResponse struct {
	Code string
}

// AckResponse acknowledges a ConfirmResponse.
type AckResponse struct {
	Code string
}

// EndRound closes the current question.
type EndRound struct{}

// ShowAnswer reveals the correct answer of the round that just ended.
type ShowAnswer struct {
	Correct Answer
}

// AckShowAnswer acknowledges a ShowAnswer.
type AckShowAnswer struct {
	Code string
}

func (Name) Tag() Tag            { return TagName }
func (Confirm) Tag() Tag         { return TagConfirm }
func (AckCode) Tag() Tag         { return TagAckCode }
func (StartAll) Tag() Tag        { return TagStart }
func (AckStart) Tag() Tag        { return TagAckStart }
func (NewRound) Tag() Tag        { return TagNewRound }
func (Response) Tag() Tag        { return TagResponse }
func (ConfirmResponse) Tag() Tag { return TagConfirmResponse }
func (AckResponse) Tag() Tag     { return TagAckResponse }
func (EndRound) Tag() Tag        { return TagEndRound }
func (ShowAnswer) Tag() Tag      { return TagShowAnswer }
func (AckShowAnswer) Tag() Tag   { return TagAckShowAnswer }

func (m Name) fields() []string            { return []string{m.Name} }
func (m Confirm) fields() []string         { return []string{m.Name, m.Code} }
func (m AckCode) fields() []string         { return []string{m.Code} }
func (StartAll) fields() []string          { return []string{startAllScope} }
func (AckStart) fields() []string          { return nil }
func (NewRound) fields() []string          { return nil }
func (m Response) fields() []string        { return []string{m.Code, string(m.Answer)} }
func (m ConfirmResponse) fields() []string { return []string{m.Code} }
func (m AckResponse) fields() []string     { return []string{m.Code} }
func (EndRound) fields() []string          { return nil }
func (m ShowAnswer) fields() []string      { return []string{string(m.Correct)} }
func (m AckShowAnswer) fields() []string   { return []string{m.Code} }
