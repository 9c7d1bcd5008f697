package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const dataChannelLabel = "remote"

// RTCConfig configures the direct peer upgrade.
type RTCConfig struct {
	ICEServers []string `yaml:"ice_servers"`
	// IncludeLoopback gathers loopback candidates, for peers on one host.
	IncludeLoopback bool `yaml:"include_loopback"`
	RecvBuffer      int  `yaml:"recv_buffer"`
}

// DefaultRTCConfig uses a public STUN server.
func DefaultRTCConfig() RTCConfig {
	return RTCConfig{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		RecvBuffer: 256,
	}
}

// SignalFunc delivers a local session description to the other peer,
// normally as an rtc.signal message over the relay.
type SignalFunc func(remote.SignalPayload) error

// RTCConn is a Conn over a WebRTC data channel. Candidates are gathered
// before each description is signalled, so no trickle exchange is needed.
type RTCConn struct {
	pc        *webrtc.PeerConnection
	initiator bool
	signal    SignalFunc

	mu sync.Mutex
	dc *webrtc.DataChannel

	recv      chan remote.Message
	deliverMu sync.Mutex
	open      chan struct{}
	openOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// NewRTCConn creates the peer connection. The initiator must call Start; the
// other side waits for the offer through HandleSignal.
func NewRTCConn(config RTCConfig, initiator bool, signal SignalFunc) (*RTCConn, error) {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(config.IncludeLoopback)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pcConfig := webrtc.Configuration{}
	if len(config.ICEServers) > 0 {
		pcConfig.ICEServers = []webrtc.ICEServer{{URLs: config.ICEServers}}
	}

	pc, err := api.NewPeerConnection(pcConfig)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &RTCConn{
		pc:        pc,
		initiator: initiator,
		signal:    signal,
		recv:      make(chan remote.Message, config.RecvBuffer),
		open:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Bool("initiator", initiator).Msg("peer connection state changed")
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.fail(fmt.Errorf("peer connection %s", s))
		}
	})
	if !initiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != dataChannelLabel {
				log.Warn().Str("label", dc.Label()).Msg("ignoring unexpected data channel")
				return
			}
			c.attach(dc)
		})
	}
	return c, nil
}

// Start creates the data channel and signals the offer. Initiator only.
func (c *RTCConn) Start() error {
	if !c.initiator {
		return fmt.Errorf("start called on answering peer")
	}
	dc, err := c.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.attach(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return c.setLocalAndSignal(offer)
}

// HandleSignal applies a description received from the other peer. An offer
// is answered; an answer completes the exchange.
func (c *RTCConn) HandleSignal(p remote.SignalPayload) error {
	sdpType := webrtc.NewSDPType(p.SDPType)
	switch {
	case sdpType == webrtc.SDPTypeOffer && !c.initiator:
	case sdpType == webrtc.SDPTypeAnswer && c.initiator:
	default:
		return fmt.Errorf("unexpected %q description (initiator=%t)", p.SDPType, c.initiator)
	}

	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: p.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	if c.initiator {
		return nil
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	return c.setLocalAndSignal(answer)
}

func (c *RTCConn) setLocalAndSignal(desc webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-c.done:
		return ErrClosed
	}

	local := c.pc.LocalDescription()
	return c.signal(remote.SignalPayload{SDPType: local.Type.String(), SDP: local.SDP})
}

func (c *RTCConn) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		log.Info().Bool("initiator", c.initiator).Msg("direct data channel open")
		c.openOnce.Do(func() { close(c.open) })
	})
	dc.OnClose(func() {
		c.fail(ErrClosed)
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		var msg remote.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Warn().Err(err).Int("size", len(m.Data)).Msg("dropping undecodable frame")
			return
		}
		c.deliver(msg)
	})
}

func (c *RTCConn) deliver(msg remote.Message) {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.recv <- msg:
	case <-c.done:
	}
}

// Opened is closed once the data channel can carry messages.
func (c *RTCConn) Opened() <-chan struct{} {
	return c.open
}

// Done is closed when the connection is gone.
func (c *RTCConn) Done() <-chan struct{} {
	return c.done
}

// Send implements Conn.
func (c *RTCConn) Send(msg remote.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	case <-c.open:
	default:
		return fmt.Errorf("data channel not open")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if err := dc.SendText(string(data)); err != nil {
		return fmt.Errorf("send on data channel: %w", err)
	}
	return nil
}

// Recv implements Conn.
func (c *RTCConn) Recv() <-chan remote.Message {
	return c.recv
}

// Err implements Conn.
func (c *RTCConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements Conn.
func (c *RTCConn) Close() error {
	c.fail(nil)
	return nil
}

func (c *RTCConn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()

		close(c.done)
		// Wait out any in-flight delivery before closing recv.
		c.deliverMu.Lock()
		close(c.recv)
		c.deliverMu.Unlock()

		go func() {
			if cerr := c.pc.Close(); cerr != nil {
				log.Debug().Err(cerr).Msg("close peer connection")
			}
		}()
	})
}
