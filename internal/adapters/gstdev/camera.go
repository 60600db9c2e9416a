package gstdev

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Mimic/internal/capture"
	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

type CameraConfig struct {
	Device    string
	Width     int
	Height    int
	FrameRate int
}

// Camera implements capture.Camera.
type Camera struct {
	cfg CameraConfig
}

func NewCamera(cfg CameraConfig) *Camera {
	return &Camera{cfg: cfg}
}

func (c *Camera) Open(ctx context.Context) (capture.Stream, error) {
	s := newMailbox(c.cfg.Width, c.cfg.Height, time.Now)
	desc := CameraPipeline(c.cfg.Device, c.cfg.Width, c.cfg.Height, c.cfg.FrameRate)
	pl, err := startPipeline(ctx, desc, func(sink *app.Sink) gst.FlowReturn {
		if data, ok := pullBytes(sink); ok {
			s.put(data)
		}
		return gst.FlowOK
	}, cameraError)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "gstdev").Str("device", c.cfg.Device).Int("width", c.cfg.Width).Int("height", c.cfg.Height).Msg("camera open")
	return &cameraStream{mailbox: s, track: &cameraTrack{id: "video-0", pl: pl}}, nil
}

// mailbox keeps only the most recent frame. Timestamps come from the arrival
// clock, measured from the first frame and strictly increasing, so a repeated
// Current returns an identical timestamp.
type mailbox struct {
	width, height int
	now           func() time.Time

	mu      sync.Mutex
	start   time.Time
	current capture.Frame
	has     bool
	frames  atomic.Uint64
	short   atomic.Uint64
}

func newMailbox(width, height int, now func() time.Time) *mailbox {
	return &mailbox{width: width, height: height, now: now}
}

func (m *mailbox) put(data []byte) {
	if len(data) < m.width*m.height*3 {
		m.short.Add(1)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.has {
		m.start = now
	}
	ts := now.Sub(m.start) + time.Millisecond
	if m.has && ts <= m.current.Timestamp {
		ts = m.current.Timestamp + time.Microsecond
	}
	m.current = capture.Frame{Timestamp: ts, Width: m.width, Height: m.height, Data: data}
	m.has = true
	m.frames.Add(1)
}

func (m *mailbox) Current() (capture.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.has
}

type cameraTrack struct {
	id   string
	pl   *pipeline
	once sync.Once
	err  error
}

func (t *cameraTrack) ID() string { return t.id }

func (t *cameraTrack) Stop() {
	t.once.Do(func() { t.err = t.pl.stop() })
}

type cameraStream struct {
	*mailbox
	track *cameraTrack
}

func (s *cameraStream) Tracks() []capture.Track { return []capture.Track{s.track} }

func (s *cameraStream) Close() error {
	s.track.Stop()
	log.Info().Str("module", "gstdev").Uint64("frames", s.frames.Load()).Uint64("short", s.short.Load()).Msg("camera closed")
	return s.track.err
}
