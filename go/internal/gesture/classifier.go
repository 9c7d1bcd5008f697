// Package gesture turns raw multi-touch contacts into emulated controller
// buttons and a trackpad position.
//
// One finger maps to click, two to app, three or more to home. A contact
// released inside the tap window pulses the button of the gesture's peak
// finger count for a short hold so a once-per-frame reader can observe it.
// A contact held past the press threshold holds the button until the finger
// count drops below what the button needs.
package gesture

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/vremote/go/internal/input"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/mcdev12/vremote/go/internal/timerguard"
	"github.com/rs/zerolog/log"
)

// Button is an emulated controller button. Its value is the finger count
// that selects it.
type Button int

const (
	ButtonNone  Button = 0
	ButtonClick Button = 1
	ButtonApp   Button = 2
	ButtonHome  Button = 3
)

func (b Button) String() string {
	switch b {
	case ButtonClick:
		return "click"
	case ButtonApp:
		return "app"
	case ButtonHome:
		return "home"
	}
	return "none"
}

func buttonFor(fingers int) Button {
	switch {
	case fingers <= 0:
		return ButtonNone
	case fingers >= int(ButtonHome):
		return ButtonHome
	}
	return Button(fingers)
}

// TouchProvider delivers touch events to a callback until cancelled.
type TouchProvider interface {
	SubscribeTouch(fn func(input.TouchEvent)) (cancel func())
}

// Classifier owns the locally derived controller state.
type Classifier struct {
	cfg   Config
	clock clockwork.Clock

	mu      sync.Mutex
	state   remote.State
	fingers int
	peak    int

	pressed    Button
	pressFired bool
	pulsed     Button
	// began is when the first finger of the current gesture touched down.
	began time.Time

	tracking bool
	anchorX  float64
	anchorY  float64
	base     remote.Trackpad

	press     *timerguard.Guard
	tapWindow *timerguard.Guard
	tapHold   *timerguard.Guard

	changes chan struct{}
}

// NewClassifier creates a classifier. A nil clock uses the real clock.
func NewClassifier(cfg Config, clock clockwork.Clock) *Classifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c := &Classifier{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		state:   remote.DefaultState(),
		changes: make(chan struct{}, 1),
	}
	c.press = timerguard.New(clock, &c.mu)
	c.tapWindow = timerguard.New(clock, &c.mu)
	c.tapHold = timerguard.New(clock, &c.mu)
	return c
}

// Attach subscribes the classifier to p and returns the detach func.
func (c *Classifier) Attach(p TouchProvider) func() {
	return p.SubscribeTouch(c.Handle)
}

// State returns a snapshot of the classified state. Orientation is always
// the identity; callers merge their own orientation source.
func (c *Classifier) State() remote.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Changes signals, coalesced, whenever the state may have changed. Timer
// driven transitions signal too.
func (c *Classifier) Changes() <-chan struct{} {
	return c.changes
}

// Handle applies one touch event.
func (c *Classifier) Handle(ev input.TouchEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Phase {
	case input.PhaseStart:
		c.touchStart(ev)
	case input.PhaseMove:
		c.touchMove(ev)
	case input.PhaseEnd:
		c.touchEnd(ev)
	default:
		return
	}
	c.notify()
}

// Reset cancels all timers and returns to the idle state.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.press.Stop()
	c.tapWindow.Stop()
	c.tapHold.Stop()
	c.state = remote.DefaultState()
	c.fingers, c.peak = 0, 0
	c.pressed, c.pulsed = ButtonNone, ButtonNone
	c.pressFired = false
	c.tracking = false
	c.notify()
}

func (c *Classifier) touchStart(ev input.TouchEvent) {
	prev := c.fingers
	c.fingers = max(ev.Fingers, 0)

	if prev == 0 && c.fingers > 0 {
		c.beginGesture()
	}
	if c.fingers > c.peak {
		c.peak = c.fingers
	}

	// Fingers added after the press fired move the press up.
	if c.pressed != ButtonNone && c.fingers > prev {
		if b := buttonFor(c.fingers); b != c.pressed {
			c.setButton(c.pressed, false)
			c.pressed = b
			c.setButton(b, true)
		}
	}

	if c.fingers == 1 {
		c.anchor(ev.X, ev.Y, remote.Trackpad{X: 0.5, Y: 0.5})
	} else {
		c.tracking = false
	}
}

// beginGesture cancels everything left from the previous gesture before
// starting the new gesture's timers.
func (c *Classifier) beginGesture() {
	c.tapWindow.Stop()
	c.press.Stop()
	if c.tapHold.Stop() {
		c.setButton(c.pulsed, false)
	}
	c.pulsed = ButtonNone
	c.pressed = ButtonNone
	c.pressFired = false
	c.peak = 0
	c.state.Touching = true
	c.began = c.clock.Now()

	c.tapWindow.Start(c.cfg.TapWindow, c.onTapWindowElapsed)
	c.press.Start(c.cfg.PressThreshold, c.onPressThreshold)
}

func (c *Classifier) touchMove(ev input.TouchEvent) {
	if ev.Fingers != 1 || c.fingers != 1 {
		return
	}
	if !c.tracking {
		c.anchor(ev.X, ev.Y, c.state.Trackpad)
		return
	}
	c.state.Trackpad = remote.Trackpad{
		X: c.clamp(c.base.X + (ev.X-c.anchorX)*c.cfg.Sensitivity),
		Y: c.clamp(c.base.Y + (ev.Y-c.anchorY)*c.cfg.Sensitivity),
	}
}

func (c *Classifier) touchEnd(ev input.TouchEvent) {
	c.fingers = max(ev.Fingers, 0)

	if c.pressed != ButtonNone && c.fingers < int(c.pressed) {
		c.setButton(c.pressed, false)
		c.pressed = ButtonNone
	}

	if c.fingers > 0 {
		if c.fingers == 1 {
			// Continue from where the pad is so the remaining finger does
			// not jump the position.
			c.anchor(ev.X, ev.Y, c.state.Trackpad)
		} else {
			c.tracking = false
		}
		return
	}

	// Decided from the clock: an expired tap window timer may not have run
	// its callback yet.
	tap := !c.pressFired && c.clock.Since(c.began) < c.cfg.TapWindow
	c.tapWindow.Stop()
	c.press.Stop()

	if tap {
		b := buttonFor(c.peak)
		c.setButton(b, true)
		c.pulsed = b
		c.tapHold.Start(c.cfg.TapHold, c.onTapHoldElapsed)
		log.Debug().Str("button", b.String()).Int("fingers", c.peak).Msg("tap")
	}

	c.state.Touching = false
	c.state.Trackpad = remote.NoTouch
	c.tracking = false
	c.peak = 0
}

func (c *Classifier) anchor(x, y float64, from remote.Trackpad) {
	if from == remote.NoTouch {
		from = remote.Trackpad{X: 0.5, Y: 0.5}
	}
	c.tracking = true
	c.anchorX, c.anchorY = x, y
	c.base = from
	c.state.Trackpad = from
}

func (c *Classifier) clamp(v float64) float64 {
	return min(max(v, c.cfg.Epsilon), 1)
}

func (c *Classifier) setButton(b Button, down bool) {
	switch b {
	case ButtonClick:
		c.state.Buttons.Click = down
	case ButtonApp:
		c.state.Buttons.App = down
	case ButtonHome:
		c.state.Buttons.Home = down
	}
}

// Timer callbacks run with c.mu held.

func (c *Classifier) onTapWindowElapsed() {}

func (c *Classifier) onPressThreshold() {
	if c.fingers == 0 {
		return
	}
	c.pressFired = true
	c.pressed = buttonFor(c.fingers)
	c.setButton(c.pressed, true)
	log.Debug().Str("button", c.pressed.String()).Int("fingers", c.fingers).Msg("press")
	c.notify()
}

func (c *Classifier) onTapHoldElapsed() {
	c.setButton(c.pulsed, false)
	c.pulsed = ButtonNone
	c.notify()
}

func (c *Classifier) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
