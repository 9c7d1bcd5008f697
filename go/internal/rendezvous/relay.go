// Package rendezvous allocates pair codes and relays messages between the
// two sockets that joined the same code.
package rendezvous

import (
	"errors"
	"sync"

	"github.com/mcdev12/vremote/go/internal/remote"
	"github.com/rs/zerolog/log"
)

var (
	// ErrPairFull is returned when a third socket joins a pair code.
	ErrPairFull = errors.New("pair code already has two peers")
	// ErrNoPeer is returned when forwarding before the other side joined.
	ErrNoPeer = errors.New("no peer paired")
)

// Peer is one socket attached to a pair code.
type Peer interface {
	Send(msg remote.Message) error
}

// Session is a peer's membership of a pair.
type Session interface {
	// Forward delivers msg to the other peer.
	Forward(msg remote.Message) error
	// Leave detaches the peer and tells the other side. Safe to repeat.
	Leave()
}

// Relay matches peers by pair code. When the second peer joins both sides
// receive peer.connect; exactly one of them is told to initiate.
type Relay interface {
	Join(code string, p Peer) (Session, error)
}

func peerConnect(initiator bool) remote.Message {
	msg, _ := remote.NewMessage(remote.TypePeerConnect, remote.PeerConnectPayload{Initiator: initiator})
	return msg
}

func peerDisconnect() remote.Message {
	return remote.Message{Type: remote.TypePeerDisconnect}
}

// MemoryRelay pairs peers connected to this process.
type MemoryRelay struct {
	mu    sync.Mutex
	rooms map[string][]*memorySession
}

// NewMemoryRelay creates an empty relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{rooms: make(map[string][]*memorySession)}
}

// Join implements Relay. The second peer to join is the initiator.
func (r *MemoryRelay) Join(code string, p Peer) (Session, error) {
	r.mu.Lock()
	members := r.rooms[code]
	if len(members) >= 2 {
		r.mu.Unlock()
		return nil, ErrPairFull
	}
	s := &memorySession{relay: r, code: code, peer: p}
	r.rooms[code] = append(members, s)
	var first *memorySession
	if len(members) == 1 {
		first = members[0]
	}
	r.mu.Unlock()

	if first != nil {
		if err := first.peer.Send(peerConnect(false)); err != nil {
			log.Warn().Err(err).Str("pair_code", code).Msg("failed to notify waiting peer")
		}
		if err := p.Send(peerConnect(true)); err != nil {
			log.Warn().Err(err).Str("pair_code", code).Msg("failed to notify joining peer")
		}
		log.Info().Str("pair_code", code).Msg("peers paired")
	}
	return s, nil
}

// Active reports whether any peer is waiting on or using code.
func (r *MemoryRelay) Active(code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[code]) > 0
}

// Pairs returns the number of codes with at least one peer.
func (r *MemoryRelay) Pairs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *MemoryRelay) partnerOf(s *memorySession) *memorySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rooms[s.code] {
		if m != s {
			return m
		}
	}
	return nil
}

func (r *MemoryRelay) remove(s *memorySession) (remaining *memorySession, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[s.code]
	kept := members[:0:0]
	for _, m := range members {
		if m == s {
			removed = true
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		delete(r.rooms, s.code)
	} else {
		r.rooms[s.code] = kept
		remaining = kept[0]
	}
	return remaining, removed
}

type memorySession struct {
	relay *MemoryRelay
	code  string
	peer  Peer
}

func (s *memorySession) Forward(msg remote.Message) error {
	partner := s.relay.partnerOf(s)
	if partner == nil {
		return ErrNoPeer
	}
	return partner.peer.Send(msg)
}

func (s *memorySession) Leave() {
	remaining, removed := s.relay.remove(s)
	if !removed || remaining == nil {
		return
	}
	if err := remaining.peer.Send(peerDisconnect()); err != nil {
		log.Debug().Err(err).Str("pair_code", s.code).Msg("failed to notify remaining peer")
	}
}
