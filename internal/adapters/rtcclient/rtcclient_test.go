package rtcclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalURL(t *testing.T) {
	tests := []struct {
		base, want string
		wantErr    bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/ws/signal?token=tok", false},
		{"https://mimic.example/", "wss://mimic.example/api/ws/signal?token=tok", false},
		{"ws://h:1/base", "ws://h:1/base/api/ws/signal?token=tok", false},
		{"ftp://h", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := SignalURL(tt.base, "tok")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type chanSource struct {
	ch     chan transport.AudioPacket
	closed atomic.Int32
}

func (s *chanSource) ReadPacket(ctx context.Context) (transport.AudioPacket, error) {
	select {
	case p := <-s.ch:
		return p, nil
	case <-ctx.Done():
		return transport.AudioPacket{}, ctx.Err()
	}
}

func (s *chanSource) Close() error {
	s.closed.Add(1)
	return nil
}

type sampleSink struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (s *sampleSink) WriteSample(m media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, m)
	return nil
}

func (s *sampleSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestPublication_MuteDropsSamples(t *testing.T) {
	src := &chanSource{ch: make(chan transport.AudioPacket)}
	sink := &sampleSink{}
	p := newPublication(src, sink)
	go p.run(context.Background())

	src.ch <- transport.AudioPacket{Data: []byte{1}, DurationMS: 20}
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	p.SetMuted(true)
	assert.True(t, p.Muted())
	src.ch <- transport.AudioPacket{Data: []byte{2}, DurationMS: 20}
	src.ch <- transport.AudioPacket{Data: []byte{3}, DurationMS: 20}

	require.NoError(t, p.Close())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.samples, 1)
	assert.Equal(t, []byte{1}, sink.samples[0].Data)
	assert.Equal(t, 20*time.Millisecond, sink.samples[0].Duration)
}

func TestPublication_CloseIsIdempotent(t *testing.T) {
	src := &chanSource{ch: make(chan transport.AudioPacket)}
	p := newPublication(src, &sampleSink{})
	go p.run(context.Background())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.EqualValues(t, 1, src.closed.Load())
	assert.True(t, p.isClosed())
}

func TestConn_MembershipHeldUntilHandshake(t *testing.T) {
	c := newConn(nil, nil)
	c.dispatch([]byte(`{"type":"room_state","self":{"id":"ana-1","name":"Ana"},
		"members":[{"id":"bo-1","name":"Bo","metadata":"{\"displayName\":\"Bo\"}","speaking":true}]}`))
	c.dispatch([]byte(`{"type":"member_left","id":"bo-1"}`))

	select {
	case ev := <-c.Events():
		t.Fatalf("event before handshake: %v", ev.Kind)
	default:
	}
	self := <-c.roomState
	assert.Equal(t, domain.ParticipantID("ana-1"), self.ID)

	c.flush()
	c.dispatch([]byte(`{"type":"speaking","id":"cy-1","speaking":false}`))

	var kinds []transport.EventKind
	for i := 0; i < 4; i++ {
		ev := <-c.Events()
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []transport.EventKind{
		transport.ParticipantJoined,
		transport.SpeakingChanged,
		transport.ParticipantLeft,
		transport.SpeakingChanged,
	}, kinds)
}

func TestConn_DataCarriesSender(t *testing.T) {
	c := newConn(nil, nil)
	c.onData(webrtc.DataChannelMessage{Data: wire.EncodeEnvelope("bo-1", []byte("hi"))})
	c.onData(webrtc.DataChannelMessage{Data: []byte{0xff}})

	ev := <-c.Events()
	assert.Equal(t, transport.DataReceived, ev.Kind)
	assert.Equal(t, domain.ParticipantID("bo-1"), ev.Participant)
	assert.Equal(t, []byte("hi"), ev.Payload)

	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
}

func TestConn_ServerErrorRejectsHandshake(t *testing.T) {
	c := newConn(nil, nil)
	c.dispatch([]byte(`{"type":"error","error":"rate_limited"}`))
	err := <-c.rejected
	assert.ErrorIs(t, err, errRejected)
	assert.Contains(t, err.Error(), "rate_limited")
}
