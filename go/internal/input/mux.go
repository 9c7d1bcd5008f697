package input

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

// Mux binds one Source and fans its events out to subscribers. Handlers run
// on the Mux goroutine, one event at a time, in delivery order; for each
// event they are called in the order they subscribed.
type Mux struct {
	mu     sync.RWMutex
	nextID int
	touch  []touchSub
	orient []orientSub
}

type touchSub struct {
	id int
	fn func(TouchEvent)
}

type orientSub struct {
	id int
	fn func(remote.Quaternion)
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{}
}

// SubscribeTouch registers fn for touch events and returns its cancel func.
func (m *Mux) SubscribeTouch(fn func(TouchEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.touch = append(m.touch, touchSub{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.touch = slices.DeleteFunc(m.touch, func(s touchSub) bool { return s.id == id })
	}
}

// SubscribeOrientation registers fn for orientation samples.
func (m *Mux) SubscribeOrientation(fn func(remote.Quaternion)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.orient = append(m.orient, orientSub{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.orient = slices.DeleteFunc(m.orient, func(s orientSub) bool { return s.id == id })
	}
}

// Run binds src and dispatches until ctx is done or the source ends.
func (m *Mux) Run(ctx context.Context, src Source) error {
	events, err := src.Bind(ctx)
	if err != nil {
		return fmt.Errorf("bind input source: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				log.Debug().Msg("input source exhausted")
				return nil
			}
			m.dispatch(ev)
		}
	}
}

func (m *Mux) dispatch(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch e := ev.(type) {
	case TouchEvent:
		for _, sub := range m.touch {
			sub.fn(e)
		}
	case OrientationEvent:
		for _, sub := range m.orient {
			sub.fn(e.Orientation)
		}
	default:
		log.Warn().Uint8("kind", uint8(ev.Kind())).Msg("unsupported input event")
	}
}
