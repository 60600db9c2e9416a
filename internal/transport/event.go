package transport

import (
	"sync"

	"github.com/dkeye/Mimic/internal/domain"
)

type EventKind int

const (
	ParticipantJoined EventKind = iota + 1
	ParticipantLeft
	DataReceived
	SpeakingChanged
	MetadataChanged
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case ParticipantJoined:
		return "participant_joined"
	case ParticipantLeft:
		return "participant_left"
	case DataReceived:
		return "data_received"
	case SpeakingChanged:
		return "speaking_changed"
	case MetadataChanged:
		return "metadata_changed"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a tagged union; only the fields of Kind are set.
type Event struct {
	Kind        EventKind
	Participant domain.ParticipantID
	// Metadata for ParticipantJoined and MetadataChanged.
	Metadata string
	// Payload for DataReceived. Participant is the sender, empty when unknown.
	Payload  []byte
	Speaking bool
	// Err explains a Disconnected event; nil for a clean close.
	Err error
}

// Emit delivers ev unless done is closed first.
func Emit(ch chan<- Event, done <-chan struct{}, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-done:
		return false
	}
}

// EventStream is an event channel that tolerates concurrent emitters racing
// with Close.
type EventStream struct {
	ch   chan Event
	done chan struct{}
	mu   sync.RWMutex
	once sync.Once
}

func NewEventStream(buffer int) *EventStream {
	return &EventStream{ch: make(chan Event, buffer), done: make(chan struct{})}
}

func (s *EventStream) C() <-chan Event { return s.ch }

// Done is closed once the stream is closed.
func (s *EventStream) Done() <-chan struct{} { return s.done }

// Emit blocks until ev is queued or the stream is closed.
func (s *EventStream) Emit(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	return Emit(s.ch, s.done, ev)
}

// Fail delivers a Disconnected event carrying err, then closes the stream.
func (s *EventStream) Fail(err error) {
	s.Emit(Event{Kind: Disconnected, Err: err})
	s.Close()
}

// Close is idempotent.
func (s *EventStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}
