//go:build !linux

package input

import (
	"context"
	"errors"
)

// Evdev reads a Linux multitouch device. It is unavailable on this platform.
type Evdev struct {
	Path   string
	Width  float64
	Height float64
	Grab   bool
}

// Bind implements Source.
func (e *Evdev) Bind(ctx context.Context) (<-chan Event, error) {
	return nil, errors.New("evdev input is only supported on linux")
}
