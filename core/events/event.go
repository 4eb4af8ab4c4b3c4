package events

import "rentescrow/core/types"

// Event represents a structured state change emitted by a native module.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a canonical attribute map.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. HTTP feeds,
// collaborators tracking history).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans a single event out to every wrapped emitter in order. Nil entries
// are skipped.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// PayloadOf extracts the canonical payload from an event, returning nil when
// the event does not carry one.
func PayloadOf(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	p, ok := evt.(Payload)
	if !ok {
		return nil
	}
	return p.Event()
}
