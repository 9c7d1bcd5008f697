// Package controls is the receiving side: it pairs with a phone, keeps the
// phone's latest state, falls back to local input while unpaired, and
// samples the merged controller state once per frame.
package controls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/vremote/go/internal/aggregator"
	"github.com/mcdev12/vremote/go/internal/broker"
	"github.com/mcdev12/vremote/go/internal/gesture"
	"github.com/mcdev12/vremote/go/internal/input"
	"github.com/mcdev12/vremote/go/internal/orientation"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/mcdev12/vremote/go/internal/router"
	"github.com/rs/zerolog/log"
)

// Config configures the receiver.
type Config struct {
	Broker   broker.Config
	PairCode string
	Enabled  bool
	Gesture  gesture.Config
	// TickInterval is the frame period used by Run.
	TickInterval time.Duration
}

// Frame is one per-tick sample.
type Frame struct {
	Seq       uint64            `json:"seq"`
	At        time.Time         `json:"at"`
	Connected bool              `json:"connected"`
	State     remote.State      `json:"state"`
	// Relative is State.Orientation relative to the home orientation: the
	// first sample seen, or the orientation at the last recenter.
	Relative  remote.Quaternion `json:"relative"`
}

// Option customizes Controls.
type Option func(*Controls)

// WithClock replaces the real clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controls) { c.clock = clock }
}

// WithListener receives the broker's lifecycle notifications.
func WithListener(l broker.Listener) Option {
	return func(c *Controls) { c.listener = l }
}

// WithBrokerOptions passes options through to the broker.
func WithBrokerOptions(opts ...broker.Option) Option {
	return func(c *Controls) { c.brokerOpts = append(c.brokerOpts, opts...) }
}

// Controls composes broker, router, local classifier and aggregator.
type Controls struct {
	config     Config
	clock      clockwork.Clock
	listener   broker.Listener
	brokerOpts []broker.Option

	broker      *broker.Broker
	router      *router.Router
	classifier  *gesture.Classifier
	orientation *orientation.Source
	aggregator  *aggregator.Aggregator
	local       *input.Mux
	detach      []func()

	mu             sync.Mutex
	home           remote.Quaternion
	homeSet        bool
	localDown      int
	remoteTouching bool
	seq            uint64
}

// New wires the receiver. Nothing touches the network until Start.
func New(config Config, opts ...Option) *Controls {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second / 60
	}

	c := &Controls{
		config:      config,
		clock:       clockwork.NewRealClock(),
		orientation: orientation.NewSource(),
		local:       input.NewMux(),
		home:        remote.IdentityQuaternion,
	}
	for _, opt := range opts {
		opt(c)
	}

	listener := &pairingListener{next: c.listener, disconnected: c.remoteReleased}
	c.broker = broker.New(config.Broker, listener, c.brokerOpts...)
	c.router = router.New(c.broker, router.Config{Enabled: config.Enabled, Debug: config.Broker.Debug})
	c.broker.OnMessage(func(msg remote.Message) {
		var perr *router.ProtocolError
		if err := c.router.OnMessage(msg); err != nil {
			if !errors.As(err, &perr) {
				log.Warn().Err(err).Str("type", msg.Type).Msg("failed to handle inbound message")
			}
			return
		}
		if msg.Type == remote.TypeRemotePhone {
			c.onRemoteState()
		}
	})

	c.classifier = gesture.NewClassifier(config.Gesture, c.clock)
	c.detach = append(c.detach,
		c.classifier.Attach(c.local),
		c.orientation.Attach(c.local),
		c.local.SubscribeTouch(c.onLocalTouch),
	)
	c.aggregator = aggregator.New(c.broker, c.router, c.classifier, c.orientation)
	return c
}

// Start pairs with a phone using the configured pair code, or a fetched one.
// It returns once the relay socket is open.
func (c *Controls) Start(ctx context.Context) error {
	_, err := c.broker.Establish(ctx, c.config.PairCode)
	return err
}

// RunLocal feeds a local input source into the fallback classifier until
// ctx is done or the source ends.
func (c *Controls) RunLocal(ctx context.Context, src input.Source) error {
	return c.local.Run(ctx, src)
}

// Sample returns the merged controller state.
func (c *Controls) Sample() remote.State {
	return c.aggregator.Sample()
}

// Frame samples once and stamps the result. The first frame with a real
// orientation fixes the home orientation.
func (c *Controls) Frame() Frame {
	r := c.aggregator.Read()

	c.mu.Lock()
	if !c.homeSet && r.Oriented {
		c.home, c.homeSet = r.State.Orientation, true
	}
	c.seq++
	seq, home := c.seq, c.home
	c.mu.Unlock()

	return Frame{
		Seq:       seq,
		At:        c.clock.Now(),
		Connected: r.Connected,
		State:     r.State,
		Relative:  orientation.Relative(home, r.State.Orientation),
	}
}

// Recenter makes the current orientation the reference for Frame.Relative.
// It does nothing until an orientation has been seen. A local touch going
// down and the phone starting a touch both recenter.
func (c *Controls) Recenter() {
	r := c.aggregator.Read()
	if !r.Oriented {
		log.Debug().Msg("no orientation to recenter on")
		return
	}
	c.setHome(r.State.Orientation)
}

func (c *Controls) setHome(q remote.Quaternion) {
	c.mu.Lock()
	c.home, c.homeSet = q, true
	c.mu.Unlock()
	log.Debug().Float64("x", q.X).Float64("y", q.Y).Float64("z", q.Z).Float64("w", q.W).Msg("recentered")
}

func (c *Controls) onLocalTouch(ev input.TouchEvent) {
	c.mu.Lock()
	pressed := ev.Phase == input.PhaseStart && c.localDown == 0
	c.localDown = ev.Fingers
	c.mu.Unlock()
	if pressed {
		c.Recenter()
	}
}

// onRemoteState runs after each applied remotephone message. The phone
// beginning a touch recenters on the orientation it sent with it.
func (c *Controls) onRemoteState() {
	s, ok := c.router.RemotePhone()
	if !ok {
		return
	}
	c.mu.Lock()
	pressed := s.Touching && !c.remoteTouching
	c.remoteTouching = s.Touching
	if !c.homeSet && !pressed {
		c.home, c.homeSet = s.Orientation, true
	}
	c.mu.Unlock()
	if pressed {
		c.setHome(s.Orientation)
	}
}

func (c *Controls) remoteReleased() {
	c.mu.Lock()
	c.remoteTouching = false
	c.mu.Unlock()
}

// Run calls fn with a fresh Frame every tick until ctx is done.
func (c *Controls) Run(ctx context.Context, fn func(Frame)) error {
	ticker := c.clock.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			fn(c.Frame())
		}
	}
}

// Close tears the session down and detaches local input. Safe to repeat.
func (c *Controls) Close() {
	c.broker.Teardown()
	c.mu.Lock()
	detach := c.detach
	c.detach = nil
	c.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
	c.classifier.Reset()
}

// Connected reports whether a phone is paired.
func (c *Controls) Connected() bool {
	return c.broker.Connected()
}

// PairCode returns the code in use.
func (c *Controls) PairCode() string {
	return c.broker.PairCode()
}

// SetEnabled toggles whether inbound phone events update state.
func (c *Controls) SetEnabled(enabled bool) {
	c.router.SetEnabled(enabled)
}

// Get returns the latest payload of any event type sent by the phone.
func (c *Controls) Get(eventType string) (json.RawMessage, bool) {
	return c.router.Get(eventType)
}

// Keyboard returns the keys held on the remote keyboard.
func (c *Controls) Keyboard() map[string]bool {
	return c.router.Keyboard()
}

// Gamepad returns the remote gamepad at index.
func (c *Controls) Gamepad(index int) (json.RawMessage, bool) {
	return c.router.Gamepad(index)
}

// pairingListener keeps the pair code in front of the operator: it is
// logged when first known and again after every disconnect.
type pairingListener struct {
	next         broker.Listener
	code         string
	disconnected func()
}

func (l *pairingListener) Paired(code string) {
	l.code = code
	log.Info().Str("pair_code", code).Msg("enter this pair code on the phone")
	if l.next != nil {
		l.next.Paired(code)
	}
}

func (l *pairingListener) Connected() {
	log.Info().Str("pair_code", l.code).Msg("phone connected")
	if l.next != nil {
		l.next.Connected()
	}
}

func (l *pairingListener) Disconnected() {
	log.Info().Str("pair_code", l.code).Msg("phone disconnected, enter this pair code to reconnect")
	if l.disconnected != nil {
		l.disconnected()
	}
	if l.next != nil {
		l.next.Disconnected()
	}
}
