// Package transport is the client's view of a real-time session transport:
// connect, publish with a delivery mode, and a stream of membership and
// data events. Implementations live under internal/adapters.
package transport

import (
	"context"
	"errors"

	"github.com/dkeye/Mimic/internal/domain"
)

var (
	ErrConnect          = errors.New("transport connect failed")
	ErrClosed           = errors.New("transport closed")
	ErrAudioUnsupported = errors.New("transport does not carry audio")
)

type Endpoint struct {
	URL   string
	Token string
	// Session and Participant scope topic-based transports; signalling
	// transports derive both from Token.
	Session     string
	Participant domain.ParticipantID
}

func (e Endpoint) Valid() bool { return e.URL != "" && e.Token != "" }

// PublishOptions selects the delivery mode. Unreliable is the zero value:
// unordered, no retransmission.
type PublishOptions struct {
	Reliable bool
}

// AudioSource yields encoded Opus packets until ctx is done or it is closed.
type AudioSource interface {
	ReadPacket(ctx context.Context) (AudioPacket, error)
	Close() error
}

type AudioPacket struct {
	Data       []byte
	DurationMS int
}

type AudioPublication interface {
	SetMuted(muted bool)
	Muted() bool
	Close() error
}

type Conn interface {
	LocalID() domain.ParticipantID
	// Publish hands payload to the transport. Unreliable sends never retry.
	Publish(payload []byte, opts PublishOptions) error
	SetMetadata(metadata string) error
	PublishAudio(ctx context.Context, src AudioSource) (AudioPublication, error)
	// Events is closed after Close or a Disconnected event.
	Events() <-chan Event
	// Close is idempotent.
	Close() error
}

type Dialer interface {
	Connect(ctx context.Context, ep Endpoint) (Conn, error)
}
