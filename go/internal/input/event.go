// Package input defines the raw events produced by touch and orientation
// hardware and the Source capability that delivers them.
package input

import (
	"context"

	"github.com/mcdev12/vremote/go/internal/remote"
)

// Kind identifies the concrete type of an Event.
type Kind uint8

const (
	KindTouch       Kind = 0x01
	KindOrientation Kind = 0x02
)

// Event is anything a Source emits.
type Event interface {
	Kind() Kind
}

// Phase of a touch event
type Phase uint8

const (
	PhaseStart Phase = iota
	PhaseMove
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseStart:
		return "start"
	case PhaseMove:
		return "move"
	case PhaseEnd:
		return "end"
	}
	return "unknown"
}

// TouchEvent reports a contact change. Fingers is the number of contacts
// down after the event; X and Y are the primary contact in screen pixels.
type TouchEvent struct {
	Phase   Phase
	Fingers int
	X       float64
	Y       float64
}

func (e TouchEvent) Kind() Kind {
	return KindTouch
}

// OrientationEvent carries one screen-adjusted orientation sample.
type OrientationEvent struct {
	Orientation remote.Quaternion
}

func (e OrientationEvent) Kind() Kind {
	return KindOrientation
}

// Source is a device or transport that emits input events. Bind starts
// delivery; the returned channel is closed when ctx is done or the source is
// exhausted. Events are delivered in the order the device reported them.
type Source interface {
	Bind(ctx context.Context) (<-chan Event, error)
}
