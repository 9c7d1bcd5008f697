// Package transport carries message envelopes between a peer and the
// rendezvous relay (websocket) or directly between peers (WebRTC data
// channel).
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/vremote/go/internal/remote"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("transport closed")

// Conn is one live channel to the peer side.
type Conn interface {
	// Send writes one envelope. Safe for concurrent use.
	Send(msg remote.Message) error
	// Recv delivers inbound envelopes in arrival order. It is closed when
	// the connection drops; Err then reports why.
	Recv() <-chan remote.Message
	Err() error
	Close() error
}

// Dialer opens a relay connection for a pair code.
type Dialer interface {
	Dial(ctx context.Context, proxyURL, pairCode string) (Conn, error)
}

// Config holds websocket connection tuning.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	RecvBuffer       int
}

// DefaultConfig returns the websocket settings used by both peers.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PongWait:         45 * time.Second,
		MaxMessageSize:   64 * 1024,
		RecvBuffer:       256,
	}
}
