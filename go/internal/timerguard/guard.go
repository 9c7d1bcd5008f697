// Package timerguard provides a single-shot, cancelable timer whose callback
// runs under its owner's lock and never fires once it has been superseded.
package timerguard

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Guard holds at most one pending timer. Start and Stop must be called with
// the owner's lock held; the callback is invoked with that same lock held.
type Guard struct {
	clock clockwork.Clock
	owner sync.Locker

	timer   clockwork.Timer
	cancel  chan struct{}
	gen     uint64
	pending bool
}

// New creates a guard bound to the owner's lock.
func New(clock clockwork.Clock, owner sync.Locker) *Guard {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{clock: clock, owner: owner}
}

// Start cancels any pending timer and schedules fire after d.
func (g *Guard) Start(d time.Duration, fire func()) {
	g.Stop()

	g.gen++
	gen := g.gen
	timer := g.clock.NewTimer(d)
	cancel := make(chan struct{})
	g.timer = timer
	g.cancel = cancel
	g.pending = true

	go func() {
		select {
		case <-timer.Chan():
		case <-cancel:
			return
		}

		g.owner.Lock()
		defer g.owner.Unlock()
		// Stopped or restarted while we waited for the lock.
		if g.gen != gen {
			return
		}
		g.pending = false
		g.timer = nil
		g.cancel = nil
		fire()
	}()
}

// Stop cancels the pending timer, if any, and reports whether one was pending.
func (g *Guard) Stop() bool {
	if !g.pending {
		return false
	}
	g.gen++
	stopAndDrainTimer(g.timer)
	close(g.cancel)
	g.timer = nil
	g.cancel = nil
	g.pending = false
	return true
}

// Pending reports whether a timer is scheduled and has not fired yet.
func (g *Guard) Pending() bool {
	return g.pending
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
