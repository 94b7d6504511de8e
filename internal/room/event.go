package room

import "time"

// EventKind names a room lifecycle transition.
type EventKind string

const (
	EventRoomCreated       EventKind = "room-created"
	EventRoomDeleted       EventKind = "room-deleted"
	EventParticipantJoined EventKind = "participant-joined"
	EventParticipantLeft   EventKind = "participant-left"
)

// Event describes a lifecycle transition. Drawing operations never produce
// events.
type Event struct {
	At              time.Time `json:"at"`
	Kind            EventKind `json:"kind"`
	RoomID          string    `json:"roomId"`
	ParticipantID   string    `json:"participantId,omitempty"`
	ParticipantName string    `json:"participantName,omitempty"`
	Participants    int       `json:"participants"`
}

// Observer receives lifecycle events. Observe is called with room locks held
// and must not block or call back into the registry.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

type observers []Observer

func (o observers) Observe(e Event) {
	for _, obs := range o {
		obs.Observe(e)
	}
}
