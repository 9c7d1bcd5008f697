package input

import (
	"context"
	"errors"
	"sync"
)

// ErrFeedBound is returned when a Feed is bound twice.
var ErrFeedBound = errors.New("feed already bound")

// Feed is a Source driven programmatically, e.g. by a relay or a test.
type Feed struct {
	ch    chan Event
	mu    sync.Mutex
	bound bool
	done  chan struct{}
}

// NewFeed creates a feed buffering up to size undelivered events.
func NewFeed(size int) *Feed {
	return &Feed{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

// Bind implements Source.
func (f *Feed) Bind(ctx context.Context) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound {
		return nil, ErrFeedBound
	}
	f.bound = true

	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.done:
				return
			case ev := <-f.ch:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Push queues an event. It blocks while the buffer is full and returns false
// once the feed is closed.
func (f *Feed) Push(ev Event) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.ch <- ev:
		return true
	case <-f.done:
		return false
	}
}

// Close stops delivery. Safe to call more than once.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}
