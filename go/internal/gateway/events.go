package gateway

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/classcast/go/internal/session"
	"github.com/mcdev12/classcast/go/internal/student"
)

// EventType is the kind of message pushed to UI clients.
type EventType string

const (
	EventTypeNavigate EventType = "navigate"
	EventTypeNotice   EventType = "notice"
	EventTypeState    EventType = "state"
)

// UIEvent is the JSON document written to every websocket client.
type UIEvent struct {
	ID        string           `json:"id"`
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Screen    session.Screen   `json:"screen,omitempty"`
	Text      string           `json:"text,omitempty"`
	Snapshot  student.Snapshot `json:"snapshot"`
}

func newEvent(t EventType, snap student.Snapshot) *UIEvent {
	return &UIEvent{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Snapshot:  snap,
	}
}

// NavigateEvent tells the UI to switch screens.
func NavigateEvent(screen session.Screen, snap student.Snapshot) *UIEvent {
	ev := newEvent(EventTypeNavigate, snap)
	ev.Screen = screen
	return ev
}

// NoticeEvent carries a message the student should see, such as a send failure.
func NoticeEvent(text string, snap student.Snapshot) *UIEvent {
	ev := newEvent(EventTypeNotice, snap)
	ev.Screen = snap.Screen
	ev.Text = text
	return ev
}

// StateEvent carries the full snapshot, sent on connect and after local actions.
func StateEvent(snap student.Snapshot) *UIEvent {
	ev := newEvent(EventTypeState, snap)
	ev.Screen = snap.Screen
	return ev
}
