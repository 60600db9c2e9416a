package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Mimic/internal/capture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// settleCapture waits out a capture start that is already in flight.
func settleCapture(c *Controller) {
	c.captureMu.Lock()
	c.captureMu.Unlock()
}

func TestLeave_ImmediatelyAfterJoinLeavesCaptureStopped(t *testing.T) {
	for i := 0; i < 100; i++ {
		capt := &fakeCapture{}
		c := newController(&fakeDialer{conn: newFakeConn("ana-1")}, capt, nil)
		require.NoError(t, c.Join(context.Background()))
		c.Leave()
		settleCapture(c)

		// a start goroutine scheduled after Leave must see the stale attempt
		time.Sleep(time.Millisecond)
		settleCapture(c)
		require.False(t, capt.running.Load(), "iteration %d", i)
	}
}

func TestLeave_DuringCaptureStartStopsIt(t *testing.T) {
	capt := &fakeCapture{entered: make(chan struct{}), gate: make(chan struct{})}
	c := newController(&fakeDialer{conn: newFakeConn("ana-1")}, capt, nil)
	require.NoError(t, c.Join(context.Background()))

	select {
	case <-capt.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("capture not started")
	}
	c.Leave()
	close(capt.gate)
	settleCapture(c)

	assert.False(t, capt.running.Load())
	assert.EqualValues(t, 2, capt.stopped.Load())
}

func TestTransportLoss_BeforeCaptureStartsLeavesItStopped(t *testing.T) {
	capt := &fakeCapture{entered: make(chan struct{}), gate: make(chan struct{})}
	conn := newFakeConn("ana-1")
	c := newController(&fakeDialer{conn: conn}, capt, nil)
	require.NoError(t, c.Join(context.Background()))
	<-capt.entered

	_ = conn.Close()
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	close(capt.gate)
	settleCapture(c)

	assert.False(t, capt.running.Load())
}

func TestRejoin_StaleCaptureDoesNotStopNewAttempt(t *testing.T) {
	capt := &fakeCapture{entered: make(chan struct{}), gate: make(chan struct{})}
	c := newController(&fakeDialer{conn: newFakeConn("ana-1")}, capt, nil)
	require.NoError(t, c.Join(context.Background()))
	<-capt.entered
	c.Leave()

	c.opts.Dialer = &fakeDialer{conn: newFakeConn("ana-1")}
	require.NoError(t, c.Join(context.Background()))
	capt.entered = nil
	close(capt.gate)

	require.Eventually(t, func() bool { return capt.started.Load() == 2 }, time.Second, 5*time.Millisecond)
	settleCapture(c)
	assert.True(t, capt.running.Load())
	c.Leave()
	assert.False(t, capt.running.Load())
}

type camTrack struct{ stopped atomic.Int32 }

func (t *camTrack) ID() string { return "video-0" }
func (t *camTrack) Stop()      { t.stopped.Add(1) }

type camStream struct {
	track  *camTrack
	closed atomic.Int32
}

func (s *camStream) Current() (capture.Frame, bool) {
	return capture.Frame{Timestamp: time.Millisecond, Width: 1, Height: 1, Data: make([]byte, 3)}, true
}
func (s *camStream) Tracks() []capture.Track { return []capture.Track{s.track} }
func (s *camStream) Close() error {
	s.closed.Add(1)
	return nil
}

type countingCamera struct {
	mu      sync.Mutex
	streams []*camStream
}

func (c *countingCamera) Open(context.Context) (capture.Stream, error) {
	s := &camStream{track: &camTrack{}}
	c.mu.Lock()
	c.streams = append(c.streams, s)
	c.mu.Unlock()
	return s, nil
}

// released reports whether every opened stream had its tracks stopped and
// was closed.
func (c *countingCamera) released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		if s.track.stopped.Load() == 0 || s.closed.Load() == 0 {
			return false
		}
	}
	return true
}

type noFaceEngine struct{}

func (noFaceEngine) Detect(context.Context, capture.Frame) (capture.Result, error) {
	return capture.Result{}, nil
}

func newCaptureLoop(cam capture.Camera, clock *capture.FrameClock) *capture.Loop {
	return capture.NewLoop(capture.Options{
		Engines: capture.NewEngineHandle(func(context.Context) (capture.Engine, error) {
			return noFaceEngine{}, nil
		}),
		Camera:    cam,
		Scheduler: clock,
	})
}

func TestLeave_ReleasesCaptureLoop(t *testing.T) {
	cam := &countingCamera{}
	clock := capture.NewFrameClock(60)
	loop := newCaptureLoop(cam, clock)
	c := newController(&fakeDialer{conn: newFakeConn("ana-1")}, loop, nil)

	require.NoError(t, c.Join(context.Background()))
	require.Eventually(t, func() bool { return loop.State() == capture.StateRunning }, time.Second, 5*time.Millisecond)

	c.Leave()
	c.Leave()
	settleCapture(c)

	assert.Equal(t, capture.StateStopped, loop.State())
	assert.True(t, cam.released())
	assert.Zero(t, clock.Pending())
}

func TestLeave_RacingCaptureLoopStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		cam := &countingCamera{}
		clock := capture.NewFrameClock(60)
		loop := newCaptureLoop(cam, clock)
		c := newController(&fakeDialer{conn: newFakeConn("ana-1")}, loop, nil)

		require.NoError(t, c.Join(context.Background()))
		c.Leave()
		time.Sleep(time.Millisecond)
		settleCapture(c)

		require.Equal(t, capture.StateStopped, loop.State(), "iteration %d", i)
		require.True(t, cam.released(), "iteration %d", i)
		require.Zero(t, clock.Pending(), "iteration %d", i)
	}
}
