// Package aggregator answers "what is the controller doing right now" from
// whichever source is authoritative: the paired phone while the session is
// connected, the local touch surface and orientation sensor otherwise.
package aggregator

import (
	"encoding/json"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

// ConnectionStatus reports whether a peer session is live.
type ConnectionStatus interface {
	Connected() bool
}

// StateTable is the peer-derived state written by the router.
type StateTable interface {
	Get(eventType string) (json.RawMessage, bool)
}

// LocalInput is the locally classified touch state.
type LocalInput interface {
	State() remote.State
}

// OrientationSampler returns the latest orientation sample.
type OrientationSampler interface {
	Latest() (remote.Quaternion, bool)
}

// Aggregator has no state of its own; every call reads its sources.
type Aggregator struct {
	status      ConnectionStatus
	table       StateTable
	local       LocalInput
	orientation OrientationSampler
}

// New wires the aggregator. local and orientation may be nil on receivers
// without a touch surface or sensor.
func New(status ConnectionStatus, table StateTable, local LocalInput, orientation OrientationSampler) *Aggregator {
	return &Aggregator{
		status:      status,
		table:       table,
		local:       local,
		orientation: orientation,
	}
}

// Reading is one consistent sample: State was taken from the source that
// Connected names.
type Reading struct {
	State     remote.State
	Connected bool
	// Oriented is false while State.Orientation is only the identity
	// placeholder because no orientation has been seen yet.
	Oriented bool
}

// Read samples the current controller state together with the connection
// status it was chosen by. The status is consulted once.
func (a *Aggregator) Read() Reading {
	if a.status != nil && a.status.Connected() {
		s, ok := a.remoteState()
		return Reading{State: s, Connected: true, Oriented: ok}
	}
	s, ok := a.localState()
	return Reading{State: s, Oriented: ok}
}

// Sample returns the current controller state. It never blocks on I/O and
// has no side effects.
func (a *Aggregator) Sample() remote.State {
	return a.Read().State
}

// Orientation is Sample().Orientation.
func (a *Aggregator) Orientation() remote.Quaternion {
	return a.Sample().Orientation
}

// Buttons is Sample().Buttons.
func (a *Aggregator) Buttons() remote.Buttons {
	return a.Sample().Buttons
}

// Trackpad returns the trackpad position, or false when nothing is touching.
func (a *Aggregator) Trackpad() (remote.Trackpad, bool) {
	return a.Sample().TrackpadPosition()
}

func (a *Aggregator) remoteState() (remote.State, bool) {
	raw, ok := a.table.Get(remote.TypeRemotePhone)
	if !ok {
		return remote.DefaultState(), false
	}
	s, err := remote.ParseState(raw)
	if err != nil {
		log.Debug().Err(err).Msg("undecodable remotephone state, using defaults")
		return remote.DefaultState(), false
	}
	return s, true
}

func (a *Aggregator) localState() (remote.State, bool) {
	s := remote.DefaultState()
	if a.local != nil {
		s = a.local.State()
	}
	s.Orientation = remote.IdentityQuaternion
	if a.orientation == nil {
		return s, false
	}
	q, ok := a.orientation.Latest()
	if ok {
		s.Orientation = q
	}
	return s, ok
}
