package core

import "errors"

// ErrBackpressure is returned by TrySend when the peer cannot keep up.
var ErrBackpressure = errors.New("backpressure")

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
