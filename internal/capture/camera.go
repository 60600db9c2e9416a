package capture

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrPermissionDenied  = errors.New("camera permission denied")
	ErrNoDevice          = errors.New("no camera device")
)

// Frame is one decoded video frame.
type Frame struct {
	// Timestamp identifies the frame and increases with every new one. Zero
	// means nothing decoded yet.
	Timestamp time.Duration
	Width     int
	Height    int
	// Data is packed RGB, owned by the frame and never mutated.
	Data []byte
}

type Track interface {
	ID() string
	// Stop ends capture on this track. Idempotent.
	Stop()
}

// Stream is an open camera. Current may return the same frame on
// consecutive calls when the camera has not produced a new one.
type Stream interface {
	Current() (Frame, bool)
	Tracks() []Track
	Close() error
}

type Camera interface {
	// Open acquires the device. ctx bounds acquisition only.
	Open(ctx context.Context) (Stream, error)
}
