// Package router keeps the latest state received from the paired peer,
// keyed by event type.
package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

// ProtocolError reports a malformed inbound message. It is recovered
// locally: the message is dropped and the session continues.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// Sender writes a message back to the peer.
type Sender interface {
	Send(msg remote.Message) error
}

// Config controls router behaviour.
type Config struct {
	// Enabled false accepts inbound messages but ignores them.
	Enabled bool
	// Debug logs dropped and malformed messages.
	Debug bool
}

// Router is the only writer of the peer-derived state table.
type Router struct {
	sender Sender
	config Config

	mu    sync.RWMutex
	table map[string]json.RawMessage
}

// New creates a router that echoes pings through sender.
func New(sender Sender, config Config) *Router {
	return &Router{
		sender: sender,
		config: config,
		table:  make(map[string]json.RawMessage),
	}
}

// OnMessage routes one inbound message. The returned error is informational;
// the caller keeps the session open regardless.
func (r *Router) OnMessage(msg remote.Message) error {
	r.mu.RLock()
	enabled, debug := r.config.Enabled, r.config.Debug
	r.mu.RUnlock()
	if !enabled {
		return nil
	}

	switch msg.Type {
	case "":
		err := &ProtocolError{Reason: "missing event type"}
		if debug {
			log.Warn().Err(err).Msg("dropping inbound message")
		}
		return err

	case remote.TypePing:
		if err := r.sender.Send(msg); err != nil {
			if debug {
				log.Warn().Err(err).Msg("failed to echo ping")
			}
			return fmt.Errorf("echo ping: %w", err)
		}
		return nil

	default:
		// The payload buffer may be reused by the decoder; keep our own copy.
		state := append(json.RawMessage(nil), msg.State...)
		r.mu.Lock()
		r.table[msg.Type] = state
		r.mu.Unlock()
		return nil
	}
}

// Get returns the latest payload for eventType. Absent is not an error.
func (r *Router) Get(eventType string) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.table[eventType]
	return state, ok
}

// SetEnabled toggles whether inbound messages update the table.
func (r *Router) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Enabled = enabled
}

// Types lists the event types that have been received.
func (r *Router) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.table))
	for t := range r.table {
		types = append(types, t)
	}
	return types
}

// RemotePhone returns the latest phone state, if one has been received and
// decodes.
func (r *Router) RemotePhone() (remote.State, bool) {
	raw, ok := r.Get(remote.TypeRemotePhone)
	if !ok {
		return remote.DefaultState(), false
	}
	s, err := remote.ParseState(raw)
	if err != nil {
		if r.config.Debug {
			log.Warn().Err(err).Msg("undecodable remotephone state")
		}
		return remote.DefaultState(), false
	}
	return s, true
}

// Keyboard returns the keys currently held on the remote keyboard, keyed by
// key name. Unpressed keys are absent.
func (r *Router) Keyboard() map[string]bool {
	keys := make(map[string]bool)
	raw, ok := r.Get(remote.TypeKeyboard)
	if !ok {
		return keys
	}
	if err := json.Unmarshal(raw, &keys); err != nil {
		return make(map[string]bool)
	}
	return keys
}

// Gamepad returns the raw state of the gamepad at index, if any.
func (r *Router) Gamepad(index int) (json.RawMessage, bool) {
	raw, ok := r.Get(remote.TypeGamepad)
	if !ok {
		return nil, false
	}
	var pads []json.RawMessage
	if err := json.Unmarshal(raw, &pads); err != nil {
		return nil, false
	}
	if index < 0 || index >= len(pads) || string(pads[index]) == "null" {
		return nil, false
	}
	return pads[index], true
}
