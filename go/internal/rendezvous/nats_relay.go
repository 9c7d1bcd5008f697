package rendezvous

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS relay used when several rendezvous
// instances sit behind one load balancer.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// DefaultNATSConfig returns default NATS relay configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "vremote.pair",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

const (
	kindHello   = "hello"
	kindWelcome = "welcome"
	kindBye     = "bye"
	kindData    = "data"
	// kindFull answers a hello on a code that already has two members.
	kindFull    = "full"
)

// envelope is published on <prefix>.<pairCode>.
type envelope struct {
	Kind string          `json:"kind"`
	From string          `json:"from"`
	To   string          `json:"to,omitempty"`
	Msg  *remote.Message `json:"msg,omitempty"`
}

// NATSRelay pairs peers across rendezvous instances. Each socket gets a
// member id; members find each other with hello/welcome on the pair
// subject. The member with the lower id initiates. A third member is told
// the pair is full and its socket is closed.
type NATSRelay struct {
	nc     *nats.Conn
	config NATSConfig
}

// NewNATSRelay connects to NATS.
func NewNATSRelay(config NATSConfig) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name("vremote-rendezvous"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSRelay{nc: nc, config: config}, nil
}

// Close drains the NATS connection.
func (r *NATSRelay) Close() error {
	return r.nc.Drain()
}

// Join implements Relay.
func (r *NATSRelay) Join(code string, p Peer) (Session, error) {
	subject := r.config.SubjectPrefix + "." + code
	s := newNATSSession(uuid.New().String()[:8], code, subject, p, r.nc.Publish)

	sub, err := r.nc.Subscribe(subject, func(m *nats.Msg) {
		s.handle(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.unsubscribe = sub.Unsubscribe

	// Make sure the subscription is registered before announcing.
	if err := r.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}
	if err := s.send(envelope{Kind: kindHello}); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return s, nil
}

type natsSession struct {
	id      string
	code    string
	subject string
	peer    Peer
	publish func(subject string, data []byte) error

	unsubscribe func() error

	mu      sync.Mutex
	partner string
	left    bool
}

func newNATSSession(id, code, subject string, p Peer, publish func(string, []byte) error) *natsSession {
	return &natsSession{id: id, code: code, subject: subject, peer: p, publish: publish}
}

func (s *natsSession) send(env envelope) error {
	env.From = s.id
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Kind, err)
	}
	if err := s.publish(s.subject, data); err != nil {
		return fmt.Errorf("publish %s envelope: %w", env.Kind, err)
	}
	return nil
}

func (s *natsSession) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("pair_code", s.code).Msg("dropping malformed relay envelope")
		return
	}
	if env.From == s.id {
		return
	}

	switch env.Kind {
	case kindHello:
		if !s.pairWith(env.From) {
			if s.pairedWithOther(env.From) {
				if err := s.send(envelope{Kind: kindFull, To: env.From}); err != nil {
					log.Warn().Err(err).Str("pair_code", s.code).Msg("failed to refuse extra peer")
				}
			}
			return
		}
		if err := s.send(envelope{Kind: kindWelcome, To: env.From}); err != nil {
			log.Warn().Err(err).Str("pair_code", s.code).Msg("failed to welcome peer")
		}
		s.notifyConnected(env.From)

	case kindWelcome:
		if env.To != s.id || !s.pairWith(env.From) {
			return
		}
		s.notifyConnected(env.From)

	case kindFull:
		if env.To != s.id {
			return
		}
		s.refuse()

	case kindBye:
		s.mu.Lock()
		if s.partner != env.From {
			s.mu.Unlock()
			return
		}
		s.partner = ""
		s.mu.Unlock()
		if err := s.peer.Send(peerDisconnect()); err != nil {
			log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to notify peer of disconnect")
		}

	case kindData:
		s.mu.Lock()
		partner := s.partner
		s.mu.Unlock()
		if env.From != partner || env.To != s.id || env.Msg == nil {
			return
		}
		if err := s.peer.Send(*env.Msg); err != nil {
			log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to deliver relayed message")
		}
	}
}

func (s *natsSession) pairWith(member string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.left || s.partner != "" {
		return false
	}
	s.partner = member
	return true
}

func (s *natsSession) pairedWithOther(member string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.left && s.partner != "" && s.partner != member
}

// refuse gives up a membership that arrived after the pair was complete.
func (s *natsSession) refuse() {
	s.mu.Lock()
	if s.left || s.partner != "" {
		s.mu.Unlock()
		return
	}
	s.left = true
	s.mu.Unlock()

	log.Warn().Str("pair_code", s.code).Str("member", s.id).Msg("rejecting third peer")
	if s.unsubscribe != nil {
		if err := s.unsubscribe(); err != nil {
			log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to unsubscribe")
		}
	}
	if c, ok := s.peer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to close refused peer")
		}
	}
}

func (s *natsSession) notifyConnected(member string) {
	if err := s.peer.Send(peerConnect(s.id < member)); err != nil {
		log.Warn().Err(err).Str("pair_code", s.code).Msg("failed to notify peer")
	}
	log.Info().Str("pair_code", s.code).Str("member", s.id).Str("partner", member).Msg("peers paired")
}

func (s *natsSession) Forward(msg remote.Message) error {
	s.mu.Lock()
	partner := s.partner
	s.mu.Unlock()
	if partner == "" {
		return ErrNoPeer
	}
	return s.send(envelope{Kind: kindData, To: partner, Msg: &msg})
}

func (s *natsSession) Leave() {
	s.mu.Lock()
	if s.left {
		s.mu.Unlock()
		return
	}
	s.left = true
	s.partner = ""
	s.mu.Unlock()

	if err := s.send(envelope{Kind: kindBye}); err != nil {
		log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to announce leave")
	}
	if s.unsubscribe != nil {
		if err := s.unsubscribe(); err != nil {
			log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to unsubscribe")
		}
	}
}
