package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

// SocketPath is where the rendezvous service accepts peer sockets.
const SocketPath = "/socketpeer/"

// WebSocketDialer dials the rendezvous relay.
type WebSocketDialer struct {
	Config Config
}

// NewWebSocketDialer creates a dialer with the given settings.
func NewWebSocketDialer(config Config) *WebSocketDialer {
	return &WebSocketDialer{Config: config}
}

// SocketURL derives the relay websocket URL from the rendezvous base URL.
func SocketURL(proxyURL, pairCode string) (string, error) {
	u, err := url.Parse(strings.TrimRight(proxyURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported proxy url scheme: %q", u.Scheme)
	}
	u.Path += SocketPath
	q := u.Query()
	q.Set("pairCode", pairCode)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context, proxyURL, pairCode string) (Conn, error) {
	wsURL, err := SocketURL(proxyURL, pairCode)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.Config.HandshakeTimeout,
		NetDialContext: (&net.Dialer{
			Timeout:   d.Config.HandshakeTimeout,
			KeepAlive: 15 * time.Second,
		}).DialContext,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	log.Debug().Str("url", wsURL).Msg("relay socket connected")
	return NewWebSocketConn(conn, d.Config), nil
}

// WebSocketConn is a Conn over a gorilla websocket, used by clients and by
// the relay for its side of each peer socket.
type WebSocketConn struct {
	conn   *websocket.Conn
	config Config

	writeMu sync.Mutex
	recv    chan remote.Message
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// NewWebSocketConn takes ownership of conn and starts its read and ping
// loops.
func NewWebSocketConn(conn *websocket.Conn, config Config) *WebSocketConn {
	c := &WebSocketConn{
		conn:   conn,
		config: config,
		recv:   make(chan remote.Message, config.RecvBuffer),
		done:   make(chan struct{}),
	}

	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.PongWait))
	})

	go c.readPump()
	go c.pingPump()
	return c
}

// Send implements Conn.
func (c *WebSocketConn) Send(msg remote.Message) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.fail(err)
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Recv implements Conn.
func (c *WebSocketConn) Recv() <-chan remote.Message {
	return c.recv
}

// Err implements Conn.
func (c *WebSocketConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close implements Conn. It sends a close frame and is safe to repeat.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *WebSocketConn) fail(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *WebSocketConn) readPump() {
	defer close(c.recv)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally.
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Msg("unexpected websocket close")
				}
				c.fail(err)
			}
			return
		}

		var msg remote.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Int("size", len(data)).Msg("dropping undecodable frame")
			continue
		}

		select {
		case c.recv <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *WebSocketConn) pingPump() {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.fail(err)
				return
			}
		}
	}
}
