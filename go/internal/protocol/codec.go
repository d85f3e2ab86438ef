package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned by Validate for messages that cannot survive a
// trip over the wire.
var ErrMalformed = errors.New("malformed message")

type decoder struct {
	arity int
	build func(f []string) (Message, bool)
}

// decoders is keyed by the exact tag, so ACK_SHOWAW can never be mistaken for
// ACKRES or SHOWAW the way a prefix check would.
var decoders = map[Tag]decoder{
	TagName: {1, func(f []string) (Message, bool) {
		if utf8.RuneCountInString(f[0]) > MaxNameLen {
			return nil, false
		}
		return Name{Name: f[0]}, true
	}},
	TagConfirm: {2, func(f []string) (Message, bool) {
		return Confirm{Name: f[0], Code: f[1]}, true
	}},
	TagAckCode: {1, func(f []string) (Message, bool) {
		return AckCode{Code: f[0]}, true
	}},
	TagStart: {1, func(f []string) (Message, bool) {
		if f[0] != startAllScope {
			return nil, false
		}
		return StartAll{}, true
	}},
	TagAckStart: {0, func([]string) (Message, bool) { return AckStart{}, true }},
	TagNewRound: {0, func([]string) (Message, bool) { return NewRound{}, true }},
	TagResponse: {2, func(f []string) (Message, bool) {
		a, ok := ParseAnswer(f[1])
		if !ok {
			return nil, false
		}
		return Response{Code: f[0], Answer: a}, true
	}},
	TagConfirmResponse: {1, func(f []string) (Message, bool) {
		return ConfirmResponse{Code: f[0]}, true
	}},
	TagAckResponse: {1, func(f []string) (Message, bool) {
		return AckResponse{Code: f[0]}, true
	}},
	TagEndRound: {0, func([]string) (Message, bool) { return EndRound{}, true }},
	TagShowAnswer: {1, func(f []string) (Message, bool) {
		a, ok := ParseAnswer(f[0])
		if !ok || !a.IsChoice() {
			return nil, false
		}
		return ShowAnswer{Correct: a}, true
	}},
	TagAckShowAnswer: {1, func(f []string) (Message, bool) {
		return AckShowAnswer{Code: f[0]}, true
	}},
}

// Decode parses one payload. Anything it does not recognise is dropped: an
// unknown tag, the wrong number of fields, an empty field or invalid UTF-8 all
// yield (nil, false).
func Decode(payload []byte) (Message, bool) {
	text := strings.TrimSpace(strings.TrimRight(string(payload), "\x00"))
	if text == "" || !utf8.ValidString(text) {
		return nil, false
	}

	parts := strings.Split(text, Separator)
	d, ok := decoders[Tag(parts[0])]
	if !ok {
		return nil, false
	}

	fields := parts[1:]
	if len(fields) != d.arity {
		return nil, false
	}
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return nil, false
		}
	}

	return d.build(fields)
}

// Encode renders m in wire form. It never fails; use Validate first when the
// fields come from user input.
func Encode(m Message) []byte {
	return []byte(String(m))
}

// String renders m in wire form as text.
func String(m Message) string {
	parts := append([]string{string(m.Tag())}, m.fields()...)
	return strings.Join(parts, Separator)
}

// Validate reports whether m would decode back to itself.
func Validate(m Message) error {
	for _, f := range m.fields() {
		if strings.TrimSpace(f) != f || f == "" {
			return fmt.Errorf("%w: %s has an empty or padded field", ErrMalformed, m.Tag())
		}
		if strings.Contains(f, Separator) {
			return fmt.Errorf("%w: %s field %q contains %q", ErrMalformed, m.Tag(), f, Separator)
		}
		if !utf8.ValidString(f) {
			return fmt.Errorf("%w: %s field is not valid UTF-8", ErrMalformed, m.Tag())
		}
	}

	switch v := m.(type) {
	case Name:
		if utf8.RuneCountInString(v.Name) > MaxNameLen {
			return fmt.Errorf("%w: name longer than %d characters", ErrMalformed, MaxNameLen)
		}
	case Response:
		if _, ok := ParseAnswer(string(v.Answer)); !ok || string(v.Answer) != strings.ToUpper(string(v.Answer)) {
			return fmt.Errorf("%w: unknown answer %q", ErrMalformed, v.Answer)
		}
	case ShowAnswer:
		if !v.Correct.IsChoice() {
			return fmt.Errorf("%w: correct answer must be one of A-D, got %q", ErrMalformed, v.Correct)
		}
	}
	return nil
}
