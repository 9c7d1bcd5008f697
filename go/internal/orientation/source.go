// Package orientation exposes the latest device orientation sample behind a
// pull accessor.
package orientation

import (
	"sync"

	"github.com/mcdev12/vremote/go/internal/remote"
)

// Provider delivers screen-adjusted orientation samples to a callback until
// the returned cancel func is called.
type Provider interface {
	SubscribeOrientation(fn func(remote.Quaternion)) (cancel func())
}

// Source retains exactly one sample: the most recent.
type Source struct {
	mu      sync.RWMutex
	latest  remote.Quaternion
	sampled bool
}

// NewSource creates a source with no sample yet.
func NewSource() *Source {
	return &Source{}
}

// Attach subscribes the source to p. The returned func detaches it.
func (s *Source) Attach(p Provider) func() {
	return p.SubscribeOrientation(s.Update)
}

// Update replaces the retained sample.
func (s *Source) Update(q remote.Quaternion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = q
	s.sampled = true
}

// Latest returns the most recent sample, or false before the first one.
func (s *Source) Latest() (remote.Quaternion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.sampled
}
