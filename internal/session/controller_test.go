package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/reconcile"
	"github.com/dkeye/Mimic/internal/transport"
	"github.com/dkeye/Mimic/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePub struct {
	muted  atomic.Bool
	closed atomic.Int32
}

func (p *fakePub) SetMuted(m bool) { p.muted.Store(m) }
func (p *fakePub) Muted() bool     { return p.muted.Load() }
func (p *fakePub) Close() error {
	p.closed.Add(1)
	return nil
}

type fakeSource struct{ closed atomic.Int32 }

func (s *fakeSource) ReadPacket(ctx context.Context) (transport.AudioPacket, error) {
	<-ctx.Done()
	return transport.AudioPacket{}, ctx.Err()
}
func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeConn struct {
	id       domain.ParticipantID
	events   chan transport.Event
	metaErr  error
	audioErr error
	pub      *fakePub

	mu       sync.Mutex
	metadata string
	closed   int
	once     sync.Once
}

func newFakeConn(id domain.ParticipantID) *fakeConn {
	return &fakeConn{id: id, events: make(chan transport.Event, 16), pub: &fakePub{}}
}

func (c *fakeConn) LocalID() domain.ParticipantID                  { return c.id }
func (c *fakeConn) Publish([]byte, transport.PublishOptions) error { return nil }
func (c *fakeConn) SetMetadata(m string) error {
	if c.metaErr != nil {
		return c.metaErr
	}
	c.mu.Lock()
	c.metadata = m
	c.mu.Unlock()
	return nil
}
func (c *fakeConn) PublishAudio(context.Context, transport.AudioSource) (transport.AudioPublication, error) {
	if c.audioErr != nil {
		return nil, c.audioErr
	}
	return c.pub, nil
}
func (c *fakeConn) Events() <-chan transport.Event { return c.events }
func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	c.once.Do(func() { close(c.events) })
	return nil
}
func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	gate chan struct{}
	ep   transport.Endpoint
}

func (d *fakeDialer) Connect(ctx context.Context, ep transport.Endpoint) (transport.Conn, error) {
	d.ep = ep
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakeCapture struct {
	started, stopped atomic.Int32
	running          atomic.Bool
	err              error
	// entered and gate, when set, hold Start before it reports running.
	entered chan struct{}
	gate    chan struct{}
}

func (c *fakeCapture) Start(context.Context) error {
	c.started.Add(1)
	if c.entered != nil {
		close(c.entered)
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return c.err
	}
	c.running.Store(true)
	return nil
}

func (c *fakeCapture) Stop() {
	c.stopped.Add(1)
	c.running.Store(false)
}

var endpoint = transport.Endpoint{URL: "ws://localhost:8080/api/ws/signal", Token: "tok"}

func newController(d transport.Dialer, capture Capture, audio AudioOpener) *Controller {
	return NewController(Options{
		Dialer:         d,
		Endpoint:       endpoint,
		DisplayName:    "Ana",
		Reconciler:     reconcile.New(),
		Capture:        capture,
		Audio:          audio,
		ConnectTimeout: time.Second,
	})
}

func openAudio(src *fakeSource) AudioOpener {
	return func(context.Context) (transport.AudioSource, error) { return src, nil }
}

func TestJoin_Connected(t *testing.T) {
	conn := newFakeConn("ana-1")
	capt := &fakeCapture{}
	c := newController(&fakeDialer{conn: conn}, capt, openAudio(&fakeSource{}))

	require.NoError(t, c.Join(context.Background()))
	assert.Equal(t, StateConnected, c.State())

	out, self, ok := c.Outbound()
	require.True(t, ok)
	assert.Equal(t, conn, out)
	assert.Equal(t, domain.Identity{ID: "ana-1", DisplayName: "Ana"}, self)

	name, ok := wire.NameFromMetadata(conn.metadata)
	assert.True(t, ok)
	assert.Equal(t, "Ana", name)

	local, ok := c.Reconciler().Snapshot().Get("ana-1")
	require.True(t, ok)
	assert.True(t, local.IsLocal)

	assert.Eventually(t, func() bool { return capt.started.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.Join(context.Background()), ErrAlreadyJoined)
}

func TestJoin_MissingConfig(t *testing.T) {
	c := NewController(Options{Dialer: &fakeDialer{}, DisplayName: "Ana"})
	err := c.Join(context.Background())
	assert.ErrorIs(t, err, ErrMissingConfig)
	assert.Equal(t, domain.KindUserVisible, domain.KindOf(err))
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, err, c.Err())
}

func TestJoin_InvalidDisplayName(t *testing.T) {
	c := NewController(Options{Dialer: &fakeDialer{}, Endpoint: endpoint})
	err := c.Join(context.Background())
	assert.ErrorIs(t, err, ErrMissingConfig)
	assert.ErrorIs(t, err, domain.ErrDisplayNameEmpty)
}

func TestJoin_ConnectErrorFailsWithoutRetry(t *testing.T) {
	d := &fakeDialer{err: errors.New("dial tcp: refused")}
	c := newController(d, nil, nil)

	err := c.Join(context.Background())
	assert.ErrorIs(t, err, transport.ErrConnect)
	assert.Equal(t, domain.KindUserVisible, domain.KindOf(err))
	assert.Equal(t, StateFailed, c.State())

	// manual retry
	d.err = nil
	d.conn = newFakeConn("ana-1")
	require.NoError(t, c.Join(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.Nil(t, c.Err())
}

func TestJoin_MetadataFailureIsNonFatal(t *testing.T) {
	conn := newFakeConn("ana-1")
	conn.metaErr = errors.New("not permitted")
	c := newController(&fakeDialer{conn: conn}, nil, nil)

	require.NoError(t, c.Join(context.Background()))
	assert.Equal(t, StateConnected, c.State())
}

func TestJoin_AudioFailuresAreNonFatal(t *testing.T) {
	t.Run("microphone denied", func(t *testing.T) {
		c := newController(&fakeDialer{conn: newFakeConn("ana-1")}, nil, func(context.Context) (transport.AudioSource, error) {
			return nil, errors.New("permission denied")
		})
		require.NoError(t, c.Join(context.Background()))
		err := c.SetMuted(true)
		assert.ErrorIs(t, err, ErrNoAudio)
		assert.Equal(t, domain.KindDegraded, domain.KindOf(err))
	})
	t.Run("publish rejected", func(t *testing.T) {
		conn := newFakeConn("ana-1")
		conn.audioErr = transport.ErrAudioUnsupported
		src := &fakeSource{}
		c := newController(&fakeDialer{conn: conn}, nil, openAudio(src))
		require.NoError(t, c.Join(context.Background()))
		assert.Equal(t, StateConnected, c.State())
		assert.EqualValues(t, 1, src.closed.Load())
	})
}

func TestToggleMute(t *testing.T) {
	conn := newFakeConn("ana-1")
	c := newController(&fakeDialer{conn: conn}, nil, openAudio(&fakeSource{}))
	require.NoError(t, c.Join(context.Background()))

	muted, err := c.ToggleMute()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.True(t, conn.pub.Muted())

	muted, err = c.ToggleMute()
	require.NoError(t, err)
	assert.False(t, muted)

	require.NoError(t, c.SetMuted(true))
	assert.True(t, conn.pub.Muted())
}

func TestEvents_FeedReconciler(t *testing.T) {
	conn := newFakeConn("ana-1")
	c := newController(&fakeDialer{conn: conn}, nil, nil)
	require.NoError(t, c.Join(context.Background()))

	meta, _ := wire.EncodeMetadata("Bo")
	face, _ := wire.Encode("bo-1", "Bo", domain.NewFaceState([]domain.Blendshape{{Category: "eyeBlinkLeft", Score: 0.9}}, domain.Rotation{}))
	conn.events <- transport.Event{Kind: transport.ParticipantJoined, Participant: "bo-1", Metadata: meta}
	conn.events <- transport.Event{Kind: transport.DataReceived, Participant: "bo-1", Payload: face}
	conn.events <- transport.Event{Kind: transport.SpeakingChanged, Participant: "bo-1", Speaking: true}

	rec := c.Reconciler()
	require.Eventually(t, func() bool {
		bo, ok := rec.Snapshot().Get("bo-1")
		return ok && bo.IsSpeaking && bo.HasFaceData()
	}, time.Second, 5*time.Millisecond)
	bo, _ := rec.Snapshot().Get("bo-1")
	assert.Equal(t, "Bo", bo.DisplayName)
	assert.Equal(t, 0.9, bo.Face.Score("eyeBlinkLeft"))
}

func TestTransportDisconnect_ClearsMap(t *testing.T) {
	conn := newFakeConn("ana-1")
	capt := &fakeCapture{}
	var states []State
	var mu sync.Mutex
	c := NewController(Options{
		Dialer:      &fakeDialer{conn: conn},
		Endpoint:    endpoint,
		DisplayName: "Ana",
		Capture:     capt,
		OnStateChange: func(s State, _ error) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	require.NoError(t, c.Join(context.Background()))

	conn.events <- transport.Event{Kind: transport.ParticipantJoined, Participant: "bo-1"}
	conn.events <- transport.Event{Kind: transport.ParticipantJoined, Participant: "cy-1"}
	require.Eventually(t, func() bool { return c.Reconciler().Snapshot().Len() == 3 }, time.Second, 5*time.Millisecond)

	conn.events <- transport.Event{Kind: transport.Disconnected, Err: errors.New("ice failed")}
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, c.Reconciler().Snapshot().Len())
	assert.Nil(t, c.Err())
	assert.GreaterOrEqual(t, capt.stopped.Load(), int32(1))
	_, _, ok := c.Outbound()
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestLeave_IdempotentAndReleases(t *testing.T) {
	conn := newFakeConn("ana-1")
	capt := &fakeCapture{}
	c := newController(&fakeDialer{conn: conn}, capt, openAudio(&fakeSource{}))
	require.NoError(t, c.Join(context.Background()))

	c.Leave()
	c.Leave()

	assert.Equal(t, StateDisconnected, c.State())
	assert.GreaterOrEqual(t, conn.closeCount(), 1)
	assert.EqualValues(t, 1, conn.pub.closed.Load())
	assert.GreaterOrEqual(t, capt.stopped.Load(), int32(1))
	assert.Equal(t, 0, c.Reconciler().Snapshot().Len())
}

func TestLeave_FromIdle(t *testing.T) {
	c := newController(&fakeDialer{}, &fakeCapture{}, nil)
	c.Leave()
	assert.Equal(t, StateIdle, c.State())
}

func TestLeave_DuringConnect(t *testing.T) {
	conn := newFakeConn("ana-1")
	d := &fakeDialer{conn: conn, gate: make(chan struct{})}
	c := newController(d, nil, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.Join(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateConnecting }, time.Second, 5*time.Millisecond)

	c.Leave()
	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestJoin_ConnectTimeout(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	c := NewController(Options{Dialer: d, Endpoint: endpoint, DisplayName: "Ana", ConnectTimeout: 20 * time.Millisecond})

	err := c.Join(context.Background())
	assert.ErrorIs(t, err, transport.ErrConnect)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, c.State())
}
