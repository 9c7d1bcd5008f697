// Package broker pairs this device with a peer through the rendezvous
// service and owns the resulting connection.
package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mcdev12/vremote/go/clients"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/mcdev12/vremote/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// State is the connection state.
type State int

const (
	StateDisconnected State = iota
	// StateConnecting means the relay socket is open and no peer has joined.
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// DefaultProxyURL is the local rendezvous service.
const DefaultProxyURL = "http://localhost:3000"

// Config configures the broker.
type Config struct {
	ProxyURL string `yaml:"proxy_url"`
	Debug    bool   `yaml:"debug"`
	// Upgrade moves traffic to a direct WebRTC data channel once paired.
	Upgrade   bool                `yaml:"upgrade"`
	Transport transport.Config    `yaml:"-"`
	RTC       transport.RTCConfig `yaml:"rtc"`
}

// DefaultConfig returns a config pointing at the local rendezvous service.
func DefaultConfig() Config {
	return Config{
		ProxyURL:  DefaultProxyURL,
		Transport: transport.DefaultConfig(),
		RTC:       transport.DefaultRTCConfig(),
	}
}

// PairCodeFetcher allocates pair codes.
type PairCodeFetcher interface {
	FetchPairCode(ctx context.Context) (string, error)
}

// Handler receives application messages in arrival order.
type Handler func(msg remote.Message)

// Option customizes a Broker.
type Option func(*Broker)

// WithDialer replaces the websocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(b *Broker) { b.dialer = d }
}

// WithFetcher replaces the rendezvous HTTP client.
func WithFetcher(f PairCodeFetcher) Option {
	return func(b *Broker) { b.fetcher = f }
}

// Broker owns at most one connection. It never reconnects on its own.
type Broker struct {
	config   Config
	fetcher  PairCodeFetcher
	dialer   transport.Dialer
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	pairCode    string
	established bool
	tornDown    bool
	relay       transport.Conn
	direct      *transport.RTCConn
	directUp    bool
	handler     Handler

	dispatchMu sync.Mutex
	notifyMu   sync.Mutex
}

// New creates a broker. listener may be nil.
func New(config Config, listener Listener, opts ...Option) *Broker {
	if config.ProxyURL == "" {
		config.ProxyURL = DefaultProxyURL
	}
	if config.Transport == (transport.Config{}) {
		config.Transport = transport.DefaultConfig()
	}
	if listener == nil {
		listener = nopListener{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		config:   config,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.fetcher == nil {
		rc := clients.NewRendezvousClient(config.ProxyURL)
		rc.SetTimeout(config.Transport.HandshakeTimeout)
		b.fetcher = rc
	}
	if b.dialer == nil {
		b.dialer = transport.NewWebSocketDialer(config.Transport)
	}
	return b
}

// OnMessage registers the handler for application messages. Transport
// control messages never reach it.
func (b *Broker) OnMessage(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Establish opens the connection. With an empty pairCode a fresh code is
// requested from the rendezvous service first. It returns once the relay
// socket is open; Connected fires when the peer joins.
func (b *Broker) Establish(ctx context.Context, pairCode string) (*Connection, error) {
	b.mu.Lock()
	switch {
	case b.tornDown:
		b.mu.Unlock()
		return nil, ErrTornDown
	case b.established:
		b.mu.Unlock()
		return nil, ErrAlreadyEstablished
	}
	b.established = true
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	if pairCode == "" {
		if b.config.Debug {
			log.Debug().Str("proxy_url", b.config.ProxyURL).Msg("requesting pair code")
		}
		code, err := b.fetcher.FetchPairCode(ctx)
		if b.isTornDown() {
			return nil, ErrTornDown
		}
		if err != nil {
			return nil, &PairingError{Err: err}
		}
		pairCode = code
	}

	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		return nil, ErrTornDown
	}
	b.pairCode = pairCode
	b.state = StateConnecting
	b.mu.Unlock()

	log.Info().Str("pair_code", pairCode).Msg("pair code ready")
	b.notify(func(l Listener) { l.Paired(pairCode) })

	conn, err := b.dialer.Dial(ctx, b.config.ProxyURL, pairCode)
	if err != nil {
		b.mu.Lock()
		if b.tornDown {
			b.mu.Unlock()
			return nil, ErrTornDown
		}
		b.state = StateDisconnected
		b.mu.Unlock()

		log.Warn().Err(err).Str("pair_code", pairCode).Msg("relay connection failed")
		b.notify(func(l Listener) { l.Disconnected() })
		return nil, &ConnectionError{PairCode: pairCode, Err: err}
	}

	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		conn.Close()
		return nil, ErrTornDown
	}
	b.relay = conn
	b.mu.Unlock()

	if b.config.Debug {
		log.Debug().Str("pair_code", pairCode).Msg("relay socket open, awaiting peer")
	}
	go b.readRelay(conn, pairCode)

	return &Connection{broker: b, pairCode: pairCode}, nil
}

// Send writes a message to the peer, over the direct channel when it is up.
func (b *Broker) Send(msg remote.Message) error {
	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		return ErrTornDown
	}
	if b.state != StateConnected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	relay, direct, directUp := b.relay, b.direct, b.directUp
	b.mu.Unlock()

	if directUp {
		err := direct.Send(msg)
		if err == nil {
			return nil
		}
		if b.config.Debug {
			log.Debug().Err(err).Msg("direct send failed, using relay")
		}
	}
	if err := relay.Send(msg); err != nil {
		return &ConnectionError{PairCode: b.PairCode(), Err: err}
	}
	return nil
}

// Teardown releases the transport and cancels a pending rendezvous request.
// Repeated calls do nothing.
func (b *Broker) Teardown() {
	b.mu.Lock()
	if b.tornDown {
		b.mu.Unlock()
		return
	}
	b.tornDown = true
	relay, direct := b.relay, b.direct
	b.relay, b.direct, b.directUp = nil, nil, false
	was := b.state
	b.state = StateDisconnected
	code := b.pairCode
	b.mu.Unlock()

	b.cancel()
	if direct != nil {
		direct.Close()
	}
	if relay != nil {
		relay.Close()
	}

	log.Info().Str("pair_code", code).Msg("broker torn down")
	if was != StateDisconnected {
		b.notify(func(l Listener) { l.Disconnected() })
	}
}

// State returns the current connection state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Connected reports whether a peer is paired.
func (b *Broker) Connected() bool {
	return b.State() == StateConnected
}

// Upgraded reports whether traffic is on the direct channel.
func (b *Broker) Upgraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.directUp
}

// PairCode returns the pair code in use, empty before one is known.
func (b *Broker) PairCode() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pairCode
}

func (b *Broker) isTornDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tornDown
}

func (b *Broker) notify(fn func(Listener)) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	fn(b.listener)
}

func (b *Broker) readRelay(conn transport.Conn, pairCode string) {
	for msg := range conn.Recv() {
		b.handleInbound(msg)
	}

	b.mu.Lock()
	if b.tornDown || b.relay != conn {
		b.mu.Unlock()
		return
	}
	direct := b.direct
	b.relay, b.direct, b.directUp = nil, nil, false
	b.state = StateDisconnected
	b.mu.Unlock()

	if direct != nil {
		direct.Close()
	}
	log.Warn().Err(conn.Err()).Str("pair_code", pairCode).Msg("relay connection lost")
	b.notify(func(l Listener) { l.Disconnected() })
}

func (b *Broker) handleInbound(msg remote.Message) {
	switch msg.Type {
	case remote.TypePeerConnect:
		b.onPeerConnect(msg)
	case remote.TypePeerDisconnect:
		b.onPeerDisconnect()
	case remote.TypeRTCSignal:
		b.onSignal(msg)
	default:
		b.mu.Lock()
		h := b.handler
		b.mu.Unlock()
		if h == nil {
			return
		}
		b.dispatchMu.Lock()
		h(msg)
		b.dispatchMu.Unlock()
	}
}

func (b *Broker) onPeerConnect(msg remote.Message) {
	var p remote.PeerConnectPayload
	if len(msg.State) > 0 {
		if err := json.Unmarshal(msg.State, &p); err != nil {
			log.Warn().Err(err).Msg("malformed peer.connect payload")
		}
	}

	b.mu.Lock()
	if b.tornDown || b.state == StateConnected {
		b.mu.Unlock()
		return
	}
	b.state = StateConnected
	code := b.pairCode
	b.mu.Unlock()

	log.Info().Str("pair_code", code).Bool("initiator", p.Initiator).Msg("peer connected")
	b.notify(func(l Listener) { l.Connected() })

	if b.config.Upgrade {
		b.startUpgrade(p.Initiator)
	}
}

func (b *Broker) onPeerDisconnect() {
	b.mu.Lock()
	if b.tornDown || b.state != StateConnected {
		b.mu.Unlock()
		return
	}
	b.state = StateConnecting
	direct := b.direct
	b.direct, b.directUp = nil, false
	code := b.pairCode
	b.mu.Unlock()

	if direct != nil {
		direct.Close()
	}
	log.Info().Str("pair_code", code).Msg("peer disconnected, awaiting pairing")
	b.notify(func(l Listener) { l.Disconnected() })
}

func (b *Broker) startUpgrade(initiator bool) {
	rtc, err := transport.NewRTCConn(b.config.RTC, initiator, b.sendSignal)
	if err != nil {
		log.Warn().Err(err).Msg("direct upgrade unavailable")
		return
	}

	b.mu.Lock()
	if b.tornDown || b.state != StateConnected {
		b.mu.Unlock()
		rtc.Close()
		return
	}
	old := b.direct
	b.direct, b.directUp = rtc, false
	b.mu.Unlock()
	if old != nil {
		old.Close()
	}

	go b.readDirect(rtc)
	if initiator {
		go func() {
			if err := rtc.Start(); err != nil {
				log.Warn().Err(err).Msg("failed to start direct upgrade")
			}
		}()
	}
}

func (b *Broker) sendSignal(p remote.SignalPayload) error {
	msg, err := remote.NewMessage(remote.TypeRTCSignal, p)
	if err != nil {
		return err
	}
	b.mu.Lock()
	relay := b.relay
	b.mu.Unlock()
	if relay == nil {
		return ErrNotConnected
	}
	return relay.Send(msg)
}

func (b *Broker) onSignal(msg remote.Message) {
	var p remote.SignalPayload
	if err := json.Unmarshal(msg.State, &p); err != nil {
		log.Warn().Err(err).Msg("malformed rtc.signal payload")
		return
	}

	b.mu.Lock()
	rtc := b.direct
	b.mu.Unlock()
	if rtc == nil {
		if b.config.Debug {
			log.Debug().Str("sdp_type", p.SDPType).Msg("signal without a pending upgrade")
		}
		return
	}

	// Answering gathers candidates; keep it off the read loop.
	go func() {
		if err := rtc.HandleSignal(p); err != nil {
			log.Warn().Err(err).Str("sdp_type", p.SDPType).Msg("failed to apply signal")
		}
	}()
}

func (b *Broker) readDirect(rtc *transport.RTCConn) {
	select {
	case <-rtc.Opened():
	case <-rtc.Done():
		return
	}

	b.mu.Lock()
	if b.direct != rtc {
		b.mu.Unlock()
		return
	}
	b.directUp = true
	code := b.pairCode
	b.mu.Unlock()
	log.Info().Str("pair_code", code).Msg("upgraded to direct connection")

	for msg := range rtc.Recv() {
		b.handleInbound(msg)
	}

	b.mu.Lock()
	if b.direct == rtc {
		b.direct, b.directUp = nil, false
	}
	b.mu.Unlock()
	log.Info().Str("pair_code", code).Msg("direct connection closed, using relay")
}

// Connection is the caller's handle on an established session.
type Connection struct {
	broker   *Broker
	pairCode string
}

// PairCode returns the code the session was opened with.
func (c *Connection) PairCode() string {
	return c.pairCode
}

// State returns the broker's connection state.
func (c *Connection) State() State {
	return c.broker.State()
}

// Send writes msg to the peer.
func (c *Connection) Send(msg remote.Message) error {
	return c.broker.Send(msg)
}
