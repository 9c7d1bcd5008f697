// Package phone is the sending side: it classifies local touch and
// orientation input into controller state and streams it to the paired
// receiver.
package phone

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
	"github.com/rs/zerolog/log"
)

// ErrNoPairCode is returned by Start when no code was configured. The phone
// joins a session the receiver created; it never allocates one.
var ErrNoPairCode = errors.New("pair code required")

type Config struct {
	Broker   broker.Config
	PairCode string
	Gesture  gesture.Config
	// PingInterval is how often round trip time is measured. Zero disables it.
	PingInterval time.Duration
}

type Option func(*Phone)

func WithClock(clock clockwork.Clock) Option {
	return func(p *Phone) { p.clock = clock }
}

func WithListener(l broker.Listener) Option {
	return func(p *Phone) { p.listener = l }
}

func WithBrokerOptions(opts ...broker.Option) Option {
	return func(p *Phone) { p.brokerOpts = append(p.brokerOpts, opts...) }
}

// pingPayload is the state of a ping message. The receiver echoes it
// unchanged. T is the send time in Unix nanoseconds.
type pingPayload struct {
	T int64 `json:"t"`
}

type Phone struct {
	config     Config
	clock      clockwork.Clock
	listener   broker.Listener
	brokerOpts []broker.Option

	broker      *broker.Broker
	mux         *input.Mux
	classifier  *gesture.Classifier
	orientation *orientation.Source
	state       *aggregator.Aggregator
	moved       chan struct{}
	connected   chan struct{}
	detach      []func()

	mu   sync.Mutex
	rtt  time.Duration
	sent uint64
}

func New(config Config, opts ...Option) *Phone {
	p := &Phone{
		config:      config,
		clock:       clockwork.NewRealClock(),
		mux:         input.NewMux(),
		orientation: orientation.NewSource(),
		moved:       make(chan struct{}, 1),
		connected:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.broker = broker.New(config.Broker, &publishListener{phone: p, next: p.listener}, p.brokerOpts...)
	p.broker.OnMessage(p.handleInbound)

	p.classifier = gesture.NewClassifier(config.Gesture, p.clock)
	p.detach = append(p.detach,
		p.classifier.Attach(p.mux),
		p.mux.SubscribeOrientation(p.onOrientation),
	)
	p.state = aggregator.New(nil, nil, p.classifier, p.orientation)
	return p
}

// Start joins the session named by the configured pair code.
func (p *Phone) Start(ctx context.Context) error {
	if p.config.PairCode == "" {
		return ErrNoPairCode
	}
	_, err := p.broker.Establish(ctx, p.config.PairCode)
	return err
}

// Run reads src and streams state until ctx is done or src ends.
func (p *Phone) Run(ctx context.Context, src input.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.publishLoop(ctx)
	}()
	if p.config.PingInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.pingLoop(ctx)
		}()
	}

	err := p.mux.Run(ctx, src)
	cancel()
	wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// State is the controller state the phone currently reports.
func (p *Phone) State() remote.State {
	return p.state.Sample()
}

// Publish sends the current state to the receiver.
func (p *Phone) Publish() error {
	if err := p.broker.Send(remote.StateMessage(p.State())); err != nil {
		return err
	}
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
	return nil
}

// Ping sends a ping stamped with the current time; the echo sets RTT.
func (p *Phone) Ping() error {
	msg, err := remote.NewMessage(remote.TypePing, pingPayload{T: p.clock.Now().UnixNano()})
	if err != nil {
		return err
	}
	return p.broker.Send(msg)
}

// RTT returns the last measured round trip time, or false before the first
// echo.
func (p *Phone) RTT() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rtt, p.rtt > 0
}

// Sent counts state messages delivered to the transport.
func (p *Phone) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

func (p *Phone) Connected() bool {
	return p.broker.Connected()
}

// Close leaves the session. Safe to repeat.
func (p *Phone) Close() {
	p.broker.Teardown()
	p.mu.Lock()
	detach := p.detach
	p.detach = nil
	p.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
	p.classifier.Reset()
}

func (p *Phone) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.classifier.Changes():
		case <-p.moved:
		case <-p.connected:
		}
		if !p.broker.Connected() {
			continue
		}
		if err := p.Publish(); err != nil && !errors.Is(err, broker.ErrNotConnected) {
			log.Warn().Err(err).Msg("failed to publish state")
		}
	}
}

func (p *Phone) pingLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(p.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !p.broker.Connected() {
				continue
			}
			if err := p.Ping(); err != nil {
				log.Debug().Err(err).Msg("ping failed")
			}
		}
	}
}

// onOrientation stores the sample before signalling, so the publish it
// triggers always carries it.
func (p *Phone) onOrientation(q remote.Quaternion) {
	p.orientation.Update(q)
	signal(p.moved)
}

func (p *Phone) handleInbound(msg remote.Message) {
	switch msg.Type {
	case remote.TypePing:
		var ping pingPayload
		if err := json.Unmarshal(msg.State, &ping); err != nil || ping.T == 0 {
			log.Debug().Err(err).Msg("ignoring malformed ping echo")
			return
		}
		rtt := p.clock.Since(time.Unix(0, ping.T))
		if rtt <= 0 {
			rtt = time.Millisecond
		}
		p.mu.Lock()
		p.rtt = rtt
		p.mu.Unlock()
		log.Debug().Dur("rtt", rtt).Msg("ping echo")
	default:
		if p.config.Broker.Debug {
			log.Debug().Str("type", msg.Type).Msg("ignoring message from receiver")
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// publishListener pushes the current state as soon as a receiver pairs.
type publishListener struct {
	phone *Phone
	next  broker.Listener
}

func (l *publishListener) Paired(code string) {
	log.Info().Str("pair_code", code).Msg("joining receiver")
	if l.next != nil {
		l.next.Paired(code)
	}
}

func (l *publishListener) Connected() {
	log.Info().Msg("paired with receiver")
	signal(l.phone.connected)
	if l.next != nil {
		l.next.Connected()
	}
}

func (l *publishListener) Disconnected() {
	log.Info().Msg("receiver disconnected")
	if l.next != nil {
		l.next.Disconnected()
	}
}
