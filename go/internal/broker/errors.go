package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send while no peer is paired.
	ErrNotConnected = errors.New("not connected to a peer")
	// ErrTornDown is returned by any operation on a torn down broker.
	ErrTornDown = errors.New("broker torn down")
	// ErrAlreadyEstablished is returned when Establish is called twice.
	ErrAlreadyEstablished = errors.New("connection already established")
)

// PairingError means no usable pair code could be obtained. It is fatal to
// the setup attempt; the broker does not retry.
type PairingError struct {
	Err error
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("pairing failed: %v", e.Err)
}

func (e *PairingError) Unwrap() error {
	return e.Err
}

// ConnectionError is a transport failure.
type ConnectionError struct {
	PairCode string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection for pair code %s failed: %v", e.PairCode, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
